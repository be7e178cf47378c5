package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/cograg-go/internal/config"
	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/retrieval"
	"github.com/54b3r/cograg-go/internal/store"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// Headers carrying the caller's identity. Authentication and sessions live
// in front of this server; it trusts these values.
const (
	headerTenant    = "X-Tenant-ID"
	headerOwner     = "X-Owner-ID"
	headerRequestID = "X-Request-ID"
)

// defaultMaxUploadBytes bounds POST /api/documents bodies when unset.
const defaultMaxUploadBytes = 32 << 20

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadBytes bounds uploaded documents. Defaults to 32 MiB.
	MaxUploadBytes int64
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// ConfigFromEnv reads SERVER_* and COGRAG_API_KEY.
func ConfigFromEnv() *Config {
	return &Config{
		Host:           config.String("SERVER_HOST", "127.0.0.1"),
		Port:           config.Int("SERVER_PORT", 8080),
		APIKey:         config.String("COGRAG_API_KEY", ""),
		RateLimit:      config.Float64("SERVER_RATE_LIMIT", defaultRateLimit),
		RateBurst:      config.Int("SERVER_RATE_BURST", defaultRateBurst),
		MaxUploadBytes: int64(config.Int("SERVER_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
	}
}

// intake is the document write path. *ingestion.Intake satisfies it.
type intake interface {
	Submit(ctx context.Context, u ingestion.Upload) (*store.Document, error)
	Reprocess(ctx context.Context, id string) (*store.Document, error)
	Delete(ctx context.Context, id string) error
}

// documents is the document read path. *store.SQLiteStore satisfies it.
type documents interface {
	Get(ctx context.Context, id string) (*store.Document, error)
	List(ctx context.Context, tenantID string) ([]store.Document, error)
}

// retriever assembles layered context. *retrieval.Orchestrator satisfies it.
type retriever interface {
	Retrieve(ctx context.Context, tenant, query string, opts retrieval.Options) (*retrieval.Context, error)
}

// Deps are the domain services the server exposes.
type Deps struct {
	Intake    intake
	Documents documents
	Retriever retriever
	// RetrievalDefaults seeds every /api/retrieve request before the body's
	// overrides are applied.
	RetrievalDefaults retrieval.Options
}

// Server is the HTTP API over ingestion and retrieval.
type Server struct {
	intake    intake
	docs      documents
	retriever retriever
	defaults  retrieval.Options
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// retrieveRequest is the JSON body for POST /api/retrieve. Zero-valued
// overrides keep the server defaults.
type retrieveRequest struct {
	Query   string `json:"query"`
	OwnerID string `json:"owner_id,omitempty"`
	// ScoreThreshold overrides the default threshold; a negative value
	// disables thresholding.
	ScoreThreshold *float32 `json:"score_threshold,omitempty"`
	DocTopK        int      `json:"doc_top_k,omitempty"`
	ChildTopK      int      `json:"child_top_k,omitempty"`
	DocRouting     *bool    `json:"doc_routing,omitempty"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	Documents []vectorindex.Hit `json:"documents"`
	Parents   []vectorindex.Hit `json:"parents"`
	Children  []vectorindex.Hit `json:"children"`
	// Context is the rendered layered context block for an LLM prompt.
	Context string `json:"context"`
}

// documentList is the JSON response for GET /api/documents.
type documentList struct {
	Documents []store.Document `json:"documents"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
