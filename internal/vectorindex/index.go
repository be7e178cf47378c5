// Package vectorindex stores and searches embedded chunks in per-tenant
// collections. Every point carries a layer tag so one collection holds the
// document, parent, and child granularities side by side.
package vectorindex

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrVectorIndex wraps every failure returned by an [Index].
var ErrVectorIndex = errors.New("vectorindex: operation failed")

// Layer is the granularity tier a point belongs to.
type Layer string

// Known layers.
const (
	LayerDocument Layer = "document"
	LayerParent   Layer = "parent"
	LayerChild    Layer = "child"
)

// Layers lists every layer, coarsest first.
var Layers = []Layer{LayerDocument, LayerParent, LayerChild}

// Payload is the metadata stored alongside each vector.
type Payload struct {
	DocID    string `json:"doc_id"`
	TenantID string `json:"tenant_id"`
	OwnerID  string `json:"owner_id,omitempty"`
	Layer    Layer  `json:"layer"`
	Content  string `json:"content"`
	// ChunkIndex is unique within (DocID, Layer).
	ChunkIndex int `json:"chunk_index"`
	// ParentIndex is set on child points only.
	ParentIndex *int              `json:"parent_index,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Point is one vector to upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a search or fetch result. Score is zero for fetches.
type Hit struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// Key identifies a chunk independently of its point ID.
type Key struct {
	DocID      string
	Layer      Layer
	ChunkIndex int
}

// Key returns the dedup key of h.
func (h Hit) Key() Key {
	return Key{DocID: h.Payload.DocID, Layer: h.Payload.Layer, ChunkIndex: h.Payload.ChunkIndex}
}

// SearchOptions narrows a similarity search.
type SearchOptions struct {
	Layer Layer
	// DocID scopes the search to one document when set.
	DocID string
	// OwnerID scopes the search to one owner when set.
	OwnerID string
	Limit   int
	// ScoreThreshold drops hits below the given cosine similarity when set.
	ScoreThreshold *float32
}

// Index is a tenant-isolated vector store. Implementations must be safe for
// concurrent use.
type Index interface {
	// EnsureCollection creates the tenant's collection if it does not exist.
	EnsureCollection(ctx context.Context, tenant string) error
	// Upsert writes points, overwriting any with the same ID.
	Upsert(ctx context.Context, tenant string, points []Point) error
	// Search returns hits ordered by descending score. A missing collection
	// yields no hits rather than an error.
	Search(ctx context.Context, tenant string, vector []float32, opts SearchOptions) ([]Hit, error)
	// FetchAllByLayer returns every point of docID in layer, ordered by
	// ChunkIndex.
	FetchAllByLayer(ctx context.Context, tenant, docID string, layer Layer) ([]Hit, error)
	// DeleteByDocument removes docID's points across all layers.
	DeleteByDocument(ctx context.Context, tenant, docID string) error
	Close() error
}

// pointNamespace seeds the deterministic point IDs.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/54b3r/cograg-go/points"))

// PointID returns the deterministic point ID for a chunk, so re-ingesting a
// document overwrites its points instead of duplicating them.
func PointID(tenant, docID string, layer Layer, chunkIndex int) string {
	name := fmt.Sprintf("%s/%s/%s/%d", tenant, docID, layer, chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// DefaultTenant names the collection used when the tenant is empty.
const DefaultTenant = "default"

// maxReadableName caps the sanitized tenant part of a collection name.
const maxReadableName = 64

var tenantNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/54b3r/cograg-go/tenants"))

func tenantKey(tenant string) string {
	if tenant == "" {
		return DefaultTenant
	}
	return tenant
}

// CollectionName maps a tenant to a collection name. Tenants made only of
// [A-Za-z0-9_-] without a "__" run map to prefix + tenant. Any other tenant
// maps to prefix + sanitized tenant + "__" + a hash of the raw tenant, so no
// two tenants share a collection.
func CollectionName(prefix, tenant string) string {
	tenant = tenantKey(tenant)
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, tenant)
	if clean == tenant && !strings.Contains(tenant, "__") && len(tenant) <= maxReadableName {
		return prefix + tenant
	}
	if len(clean) > maxReadableName {
		clean = clean[:maxReadableName]
	}
	sum := uuid.NewSHA1(tenantNamespace, []byte(tenant))
	return prefix + strings.Trim(clean, "_") + "__" + hex.EncodeToString(sum[:8])
}

// DefaultSearchLimit applies when SearchOptions.Limit is not positive.
const DefaultSearchLimit = 10

func searchLimit(n int) int {
	if n <= 0 {
		return DefaultSearchLimit
	}
	return n
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
