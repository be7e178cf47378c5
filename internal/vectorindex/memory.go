package vectorindex

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// MemoryIndex is an in-process [Index] using brute-force cosine similarity.
// It backs tests and single-node development runs.
type MemoryIndex struct {
	mu          sync.RWMutex
	dims        int
	collections map[string]*memCollection
}

type memCollection struct {
	dims   int
	points map[string]Point
}

// NewMemoryIndex returns an empty index. When dims is zero each collection
// fixes its dimension on the first upsert.
func NewMemoryIndex(dims int) *MemoryIndex {
	return &MemoryIndex{dims: dims, collections: make(map[string]*memCollection)}
}

// EnsureCollection implements [Index].
func (m *MemoryIndex) EnsureCollection(_ context.Context, tenant string) error {
	name := CollectionName("", tenant)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = &memCollection{dims: m.dims, points: make(map[string]Point)}
	}
	return nil
}

// Upsert implements [Index]. The collection must exist.
func (m *MemoryIndex) Upsert(_ context.Context, tenant string, points []Point) error {
	name := CollectionName("", tenant)
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("%w: memory: collection %q does not exist", ErrVectorIndex, name)
	}
	for _, p := range points {
		if c.dims == 0 {
			c.dims = len(p.Vector)
		}
		if len(p.Vector) != c.dims {
			return fmt.Errorf("%w: memory: point %s has dimension %d, want %d", ErrVectorIndex, p.ID, len(p.Vector), c.dims)
		}
	}
	for _, p := range points {
		p.Vector = slices.Clone(p.Vector)
		p.Payload.TenantID = tenantKey(tenant)
		c.points[p.ID] = p
	}
	return nil
}

// Search implements [Index]. Ties are broken by document then chunk index
// so results are deterministic.
func (m *MemoryIndex) Search(_ context.Context, tenant string, vector []float32, opts SearchOptions) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[CollectionName("", tenant)]
	if !ok {
		return nil, nil
	}
	if c.dims != 0 && len(vector) != c.dims {
		return nil, fmt.Errorf("%w: memory: query has dimension %d, want %d", ErrVectorIndex, len(vector), c.dims)
	}

	var hits []Hit
	for _, p := range c.points {
		if !matches(p.Payload, tenant, opts.Layer, opts.DocID, opts.OwnerID) {
			continue
		}
		score := cosine(vector, p.Vector)
		if opts.ScoreThreshold != nil && score < *opts.ScoreThreshold {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: score, Payload: p.Payload})
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Payload.DocID, b.Payload.DocID); c != 0 {
			return c
		}
		return cmp.Compare(a.Payload.ChunkIndex, b.Payload.ChunkIndex)
	})
	if limit := searchLimit(opts.Limit); len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// FetchAllByLayer implements [Index].
func (m *MemoryIndex) FetchAllByLayer(_ context.Context, tenant, docID string, layer Layer) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[CollectionName("", tenant)]
	if !ok {
		return nil, nil
	}
	var hits []Hit
	for _, p := range c.points {
		if matches(p.Payload, tenant, layer, docID, "") {
			hits = append(hits, Hit{ID: p.ID, Payload: p.Payload})
		}
	}
	sortByChunkIndex(hits)
	return hits, nil
}

// DeleteByDocument implements [Index].
func (m *MemoryIndex) DeleteByDocument(_ context.Context, tenant, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[CollectionName("", tenant)]
	if !ok {
		return nil
	}
	for id, p := range c.points {
		if matches(p.Payload, tenant, "", docID, "") {
			delete(c.points, id)
		}
	}
	return nil
}

// Count returns the number of points stored for docID in layer, or across
// all layers when layer is empty.
func (m *MemoryIndex) Count(tenant, docID string, layer Layer) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[CollectionName("", tenant)]
	if !ok {
		return 0
	}
	n := 0
	for _, p := range c.points {
		if matches(p.Payload, tenant, layer, docID, "") {
			n++
		}
	}
	return n
}

// Close implements [Index].
func (m *MemoryIndex) Close() error { return nil }

func matches(p Payload, tenant string, layer Layer, docID, ownerID string) bool {
	return p.TenantID == tenantKey(tenant) &&
		(layer == "" || p.Layer == layer) &&
		(docID == "" || p.DocID == docID) &&
		(ownerID == "" || p.OwnerID == ownerID)
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func sortByChunkIndex(hits []Hit) {
	slices.SortStableFunc(hits, func(a, b Hit) int {
		return cmp.Compare(a.Payload.ChunkIndex, b.Payload.ChunkIndex)
	})
}
