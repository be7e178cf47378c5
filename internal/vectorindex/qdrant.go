package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/54b3r/cograg-go/internal/config"
	"github.com/54b3r/cograg-go/internal/logging"
)

// Payload field names on the wire.
const (
	fieldDocID       = "doc_id"
	fieldTenantID    = "tenant_id"
	fieldOwnerID     = "owner_id"
	fieldLayer       = "layer"
	fieldContent     = "content"
	fieldChunkIndex  = "chunk_index"
	fieldParentIndex = "parent_index"
	fieldMetadata    = "metadata"
)

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
	// CollectionPrefix is prepended to every tenant collection name.
	CollectionPrefix string
	// Dimensions is the vector size collections are created with.
	Dimensions uint64
	// UpsertBatch caps the points sent per Upsert RPC (default: 256).
	UpsertBatch int
	// DeleteAttempts is the number of tries for DeleteByDocument (default: 3).
	DeleteAttempts int
	// RetryBackoff is the initial delay between delete attempts, doubled
	// after each failure (default: 200ms).
	RetryBackoff time.Duration
}

// QdrantConfigFromEnv reads QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY,
// QDRANT_TLS, QDRANT_COLLECTION_PREFIX, and QDRANT_UPSERT_BATCH. Dimensions
// must be filled in by the caller from the embedding configuration.
func QdrantConfigFromEnv() QdrantConfig {
	return QdrantConfig{
		Host:             config.String("QDRANT_HOST", "localhost"),
		Port:             config.Int("QDRANT_PORT", 6334),
		APIKey:           config.String("QDRANT_API_KEY", ""),
		UseTLS:           config.Bool("QDRANT_TLS", false),
		CollectionPrefix: config.String("QDRANT_COLLECTION_PREFIX", "cograg_"),
		UpsertBatch:      config.Int("QDRANT_UPSERT_BATCH", 256),
	}
}

// QdrantIndex implements [Index] backed by Qdrant over gRPC, one cosine
// collection per tenant.
type QdrantIndex struct {
	client *qdrant.Client
	cfg    QdrantConfig
	// ensured caches collection names known to exist.
	ensured sync.Map
}

// NewQdrantIndex connects to Qdrant. Collections are created lazily by
// [QdrantIndex.EnsureCollection].
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = 256
	}
	if cfg.DeleteAttempts <= 0 {
		cfg.DeleteAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Dimensions == 0 {
		return nil, fmt.Errorf("%w: qdrant: vector dimensions must be set", ErrVectorIndex)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: failed to create client: %w", ErrVectorIndex, err)
	}
	return &QdrantIndex{client: client, cfg: cfg}, nil
}

func (q *QdrantIndex) collection(tenant string) string {
	return CollectionName(q.cfg.CollectionPrefix, tenant)
}

// EnsureCollection implements [Index]. An existing collection whose vector
// size differs from the configured dimensions is an error.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, tenant string) error {
	name := q.collection(tenant)
	if _, ok := q.ensured.Load(name); ok {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: qdrant: failed to check collection %q: %w", ErrVectorIndex, name, err)
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: qdrant: failed to read collection %q: %w", ErrVectorIndex, name, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != q.cfg.Dimensions {
			return fmt.Errorf("%w: qdrant: collection %q has dimension %d, embedder produces %d",
				ErrVectorIndex, name, size, q.cfg.Dimensions)
		}
		q.ensured.Store(name, struct{}{})
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.Dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("%w: qdrant: failed to create collection %q: %w", ErrVectorIndex, name, err)
	}

	indexes := []struct {
		field string
		typ   qdrant.FieldType
	}{
		{fieldTenantID, qdrant.FieldType_FieldTypeKeyword},
		{fieldDocID, qdrant.FieldType_FieldTypeKeyword},
		{fieldLayer, qdrant.FieldType_FieldTypeKeyword},
		{fieldOwnerID, qdrant.FieldType_FieldTypeKeyword},
		{fieldChunkIndex, qdrant.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      idx.field,
			FieldType:      idx.typ.Enum(),
		})
		if err != nil {
			logging.FromContext(ctx).Warn("vectorindex: payload index not created",
				slog.String("collection", name),
				slog.String("field", idx.field),
				slog.String("error", err.Error()),
			)
		}
	}

	logging.FromContext(ctx).Info("vectorindex: created collection",
		slog.String("collection", name),
		slog.Uint64("dimensions", q.cfg.Dimensions),
	)
	q.ensured.Store(name, struct{}{})
	return nil
}

// Upsert implements [Index], sending at most UpsertBatch points per RPC.
func (q *QdrantIndex) Upsert(ctx context.Context, tenant string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	name := q.collection(tenant)
	for start := 0; start < len(points); start += q.cfg.UpsertBatch {
		end := min(start+q.cfg.UpsertBatch, len(points))
		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			if uint64(len(p.Vector)) != q.cfg.Dimensions {
				return fmt.Errorf("%w: qdrant: point %s has dimension %d, want %d",
					ErrVectorIndex, p.ID, len(p.Vector), q.cfg.Dimensions)
			}
			payload := p.Payload
			payload.TenantID = tenantKey(tenant)
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: encodePayload(payload),
			})
		}
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         batch,
		})
		if err != nil {
			return fmt.Errorf("%w: qdrant: upsert batch %d-%d into %q: %w", ErrVectorIndex, start, end, name, err)
		}
	}
	return nil
}

// Search implements [Index].
func (q *QdrantIndex) Search(ctx context.Context, tenant string, vector []float32, opts SearchOptions) ([]Hit, error) {
	limit := uint64(searchLimit(opts.Limit))
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection(tenant),
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(tenant, opts.Layer, opts.DocID, opts.OwnerID),
		Limit:          &limit,
		ScoreThreshold: opts.ScoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: qdrant: search failed: %w", ErrVectorIndex, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:      r.GetId().GetUuid(),
			Score:   r.GetScore(),
			Payload: decodePayload(r.GetPayload()),
		})
	}
	return hits, nil
}

// FetchAllByLayer implements [Index], paging through the scroll API.
func (q *QdrantIndex) FetchAllByLayer(ctx context.Context, tenant, docID string, layer Layer) ([]Hit, error) {
	var (
		hits   []Hit
		offset *qdrant.PointId
	)
	for {
		resp, err := q.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection(tenant),
			Filter:         buildFilter(tenant, layer, docID, ""),
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(256)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: qdrant: scroll failed: %w", ErrVectorIndex, err)
		}
		for _, p := range resp.GetResult() {
			hits = append(hits, Hit{ID: p.GetId().GetUuid(), Payload: decodePayload(p.GetPayload())})
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sortByChunkIndex(hits)
	return hits, nil
}

// DeleteByDocument implements [Index]. One filter delete removes every
// layer; it is retried with exponential backoff before failing.
func (q *QdrantIndex) DeleteByDocument(ctx context.Context, tenant, docID string) error {
	name := q.collection(tenant)
	log := logging.FromContext(ctx)
	backoff := q.cfg.RetryBackoff

	var lastErr error
	for attempt := 1; attempt <= q.cfg.DeleteAttempts; attempt++ {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(buildFilter(tenant, "", docID, "")),
		})
		if err == nil || status.Code(err) == codes.NotFound {
			return nil
		}
		lastErr = err
		log.Warn("vectorindex: delete attempt failed",
			slog.String("collection", name),
			slog.String("doc_id", docID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == q.cfg.DeleteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: qdrant: delete %q: %w", ErrVectorIndex, docID, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: qdrant: delete %q after %d attempts: %w", ErrVectorIndex, docID, q.cfg.DeleteAttempts, lastErr)
}

// Name returns the dependency label used in readiness responses.
func (q *QdrantIndex) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// buildFilter always scopes to the tenant's own points.
func buildFilter(tenant string, layer Layer, docID, ownerID string) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch(fieldTenantID, tenantKey(tenant))}
	if layer != "" {
		must = append(must, qdrant.NewMatch(fieldLayer, string(layer)))
	}
	if docID != "" {
		must = append(must, qdrant.NewMatch(fieldDocID, docID))
	}
	if ownerID != "" {
		must = append(must, qdrant.NewMatch(fieldOwnerID, ownerID))
	}
	return &qdrant.Filter{Must: must}
}

func encodePayload(p Payload) map[string]*qdrant.Value {
	m := map[string]any{
		fieldDocID:      p.DocID,
		fieldTenantID:   p.TenantID,
		fieldOwnerID:    p.OwnerID,
		fieldLayer:      string(p.Layer),
		fieldContent:    p.Content,
		fieldChunkIndex: int64(p.ChunkIndex),
	}
	if p.ParentIndex != nil {
		m[fieldParentIndex] = int64(*p.ParentIndex)
	}
	if len(p.Metadata) > 0 {
		md := make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		m[fieldMetadata] = md
	}
	return qdrant.NewValueMap(m)
}

func decodePayload(m map[string]*qdrant.Value) Payload {
	p := Payload{
		DocID:      m[fieldDocID].GetStringValue(),
		TenantID:   m[fieldTenantID].GetStringValue(),
		OwnerID:    m[fieldOwnerID].GetStringValue(),
		Layer:      Layer(m[fieldLayer].GetStringValue()),
		Content:    m[fieldContent].GetStringValue(),
		ChunkIndex: int(m[fieldChunkIndex].GetIntegerValue()),
	}
	if v, ok := m[fieldParentIndex]; ok && v != nil {
		if _, isNull := v.GetKind().(*qdrant.Value_NullValue); !isNull {
			p.ParentIndex = IntPtr(int(v.GetIntegerValue()))
		}
	}
	if fields := m[fieldMetadata].GetStructValue().GetFields(); len(fields) > 0 {
		p.Metadata = make(map[string]string, len(fields))
		for k, v := range fields {
			p.Metadata[k] = v.GetStringValue()
		}
	}
	return p
}
