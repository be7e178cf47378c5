//go:build integration

package vectorindex

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQdrantIndex_Integration exercises a live Qdrant on QDRANT_HOST:QDRANT_PORT
// (default localhost:6334).
//
//	docker run -p 6334:6334 qdrant/qdrant
//	go test -tags=integration -run TestQdrantIndex_Integration ./internal/vectorindex/
func TestQdrantIndex_Integration(t *testing.T) {
	cfg := QdrantConfigFromEnv()
	cfg.Dimensions = 2
	cfg.UpsertBatch = 2
	cfg.CollectionPrefix = "cograg_it_"
	idx, err := NewQdrantIndex(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, idx.Ping(ctx))

	tenant := fmt.Sprintf("t%d", time.Now().UnixNano())
	require.NoError(t, idx.EnsureCollection(ctx, tenant))
	t.Cleanup(func() { _ = idx.client.DeleteCollection(context.Background(), idx.collection(tenant)) })

	points := []Point{
		point(tenant, "d1", LayerParent, 0, 1, 1),
		point(tenant, "d1", LayerChild, 0, 1, 0),
		point(tenant, "d1", LayerChild, 1, 0, 1),
	}
	points[1].Payload.ParentIndex = IntPtr(0)
	points[2].Payload.ParentIndex = IntPtr(0)
	require.NoError(t, idx.Upsert(ctx, tenant, points))

	hits, err := idx.Search(ctx, tenant, []float32{1, 0}, SearchOptions{Layer: LayerChild, DocID: "d1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Payload.ChunkIndex)
	require.NotNil(t, hits[0].Payload.ParentIndex)

	parents, err := idx.FetchAllByLayer(ctx, tenant, "d1", LayerParent)
	require.NoError(t, err)
	assert.Len(t, parents, 1)

	require.NoError(t, idx.DeleteByDocument(ctx, tenant, "d1"))
	hits, err = idx.Search(ctx, tenant, []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	missing, err := idx.Search(ctx, tenant+"_missing", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, missing)
}
