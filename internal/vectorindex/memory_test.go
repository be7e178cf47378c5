package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(tenant, doc string, layer Layer, idx int, vec ...float32) Point {
	return Point{
		ID:     PointID(tenant, doc, layer, idx),
		Vector: vec,
		Payload: Payload{
			DocID: doc, TenantID: tenant, Layer: layer, ChunkIndex: idx,
			Content: string(layer) + "-" + doc,
		},
	}
}

func seeded(t *testing.T) *MemoryIndex {
	t.Helper()
	ctx := context.Background()
	idx := NewMemoryIndex(2)
	require.NoError(t, idx.EnsureCollection(ctx, "acme"))
	require.NoError(t, idx.Upsert(ctx, "acme", []Point{
		point("acme", "d1", LayerDocument, 0, 1, 0),
		point("acme", "d1", LayerChild, 0, 1, 0),
		point("acme", "d1", LayerChild, 1, 0.6, 0.8),
		point("acme", "d1", LayerChild, 2, 0, 1),
		point("acme", "d2", LayerChild, 0, 0.8, 0.6),
		point("acme", "d2", LayerParent, 0, 1, 1),
	}))
	return idx
}

func TestMemoryIndex_SearchOrdersAndFilters(t *testing.T) {
	t.Parallel()
	idx := seeded(t)

	hits, err := idx.Search(context.Background(), "acme", []float32{1, 0}, SearchOptions{Layer: LayerChild, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, Key{"d1", LayerChild, 0}, hits[0].Key())
	assert.Equal(t, Key{"d2", LayerChild, 0}, hits[1].Key())
	assert.Equal(t, Key{"d1", LayerChild, 1}, hits[2].Key())
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.0, hits[3].Score, 1e-6)

	scoped, err := idx.Search(context.Background(), "acme", []float32{1, 0}, SearchOptions{Layer: LayerChild, DocID: "d2"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "d2", scoped[0].Payload.DocID)
}

func TestMemoryIndex_ScoreThresholdAndLimit(t *testing.T) {
	t.Parallel()
	idx := seeded(t)

	thr := float32(0.7)
	hits, err := idx.Search(context.Background(), "acme", []float32{1, 0},
		SearchOptions{Layer: LayerChild, Limit: 10, ScoreThreshold: &thr})
	require.NoError(t, err)
	assert.Len(t, hits, 2, "only 1.0 and 0.8 pass 0.7")

	hits, err = idx.Search(context.Background(), "acme", []float32{1, 0}, SearchOptions{Layer: LayerChild, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryIndex_MissingTenantIsEmpty(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex(2)

	hits, err := idx.Search(context.Background(), "nobody", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	all, err := idx.FetchAllByLayer(context.Background(), "nobody", "d1", LayerParent)
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.NoError(t, idx.DeleteByDocument(context.Background(), "nobody", "d1"))
}

func TestMemoryIndex_UpsertRequiresCollectionAndDimension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex(3)

	err := idx.Upsert(ctx, "acme", []Point{point("acme", "d", LayerChild, 0, 1, 2, 3)})
	require.ErrorIs(t, err, ErrVectorIndex)

	require.NoError(t, idx.EnsureCollection(ctx, "acme"))
	err = idx.Upsert(ctx, "acme", []Point{point("acme", "d", LayerChild, 0, 1, 2)})
	require.ErrorIs(t, err, ErrVectorIndex)
	assert.Zero(t, idx.Count("acme", "d", ""), "rejected batch writes nothing")
}

func TestMemoryIndex_UpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := seeded(t)

	p := point("acme", "d1", LayerChild, 1, 0, 1)
	p.Payload.Content = "rewritten"
	require.NoError(t, idx.Upsert(ctx, "acme", []Point{p}))
	require.NoError(t, idx.Upsert(ctx, "acme", []Point{p}))

	assert.Equal(t, 3, idx.Count("acme", "d1", LayerChild))
	children, err := idx.FetchAllByLayer(ctx, "acme", "d1", LayerChild)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{
		children[0].Payload.ChunkIndex, children[1].Payload.ChunkIndex, children[2].Payload.ChunkIndex,
	})
	assert.Equal(t, "rewritten", children[1].Payload.Content)
}

func TestMemoryIndex_DeleteByDocumentRemovesAllLayers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := seeded(t)

	require.NoError(t, idx.DeleteByDocument(ctx, "acme", "d1"))
	assert.Zero(t, idx.Count("acme", "d1", ""))
	assert.Equal(t, 2, idx.Count("acme", "d2", ""), "other documents untouched")
}

func TestMemoryIndex_TenantIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := seeded(t)
	require.NoError(t, idx.EnsureCollection(ctx, "globex"))

	hits, err := idx.Search(ctx, "globex", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryIndex_LookalikeTenantsAreIsolated(t *testing.T) {
	t.Parallel()
	pairs := [][2]string{{"知识", "研究"}, {"acme.corp", "acme_corp"}, {"a/b", "a.b"}}
	for _, pair := range pairs {
		owner, other := pair[0], pair[1]
		t.Run(owner+"|"+other, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			idx := NewMemoryIndex(2)
			for _, tenant := range pair {
				require.NoError(t, idx.EnsureCollection(ctx, tenant))
			}
			require.NoError(t, idx.Upsert(ctx, owner, []Point{
				point(owner, "d1", LayerChild, 0, 1, 0),
				point(owner, "d1", LayerParent, 0, 1, 0),
			}))

			hits, err := idx.Search(ctx, other, []float32{1, 0}, SearchOptions{})
			require.NoError(t, err)
			assert.Empty(t, hits, "search")
			parents, err := idx.FetchAllByLayer(ctx, other, "d1", LayerParent)
			require.NoError(t, err)
			assert.Empty(t, parents, "fetch")

			require.NoError(t, idx.DeleteByDocument(ctx, other, "d1"))
			assert.Equal(t, 2, idx.Count(owner, "d1", ""), "delete from another tenant")
		})
	}
}

func TestMemoryIndex_UpsertStampsTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex(2)
	require.NoError(t, idx.EnsureCollection(ctx, "acme"))

	p := point("acme", "d1", LayerChild, 0, 1, 0)
	p.Payload.TenantID = "globex"
	require.NoError(t, idx.Upsert(ctx, "acme", []Point{p}))

	hits, err := idx.Search(ctx, "acme", []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "acme", hits[0].Payload.TenantID)
}
