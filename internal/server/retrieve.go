package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/retrieval"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// maxRetrieveBody bounds the JSON body of POST /api/retrieve.
const maxRetrieveBody = 1 << 20

// handleRetrieve answers a query with the layered context of the caller's
// tenant: documents, parents, children, and the rendered prompt block.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	var req retrieveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRetrieveBody)).Decode(&req); err != nil {
		s.metrics.retrieveRequestsTotal.WithLabelValues("bad_request").Inc()
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.metrics.retrieveRequestsTotal.WithLabelValues("bad_request").Inc()
		writeError(ctx, w, http.StatusBadRequest, "query is required")
		return
	}

	opts := s.retrievalOptions(req)
	rc, err := s.retriever.Retrieve(ctx, tenantOf(r), req.Query, opts)
	if err != nil {
		s.metrics.retrieveRequestsTotal.WithLabelValues("error").Inc()
		log.Error("retrieve failed", slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusBadGateway, "retrieval failed")
		return
	}

	if rc == nil {
		rc = &retrieval.Context{}
	}
	outcome := "ok"
	if rc.Empty() {
		outcome = "empty"
	}
	s.metrics.retrieveRequestsTotal.WithLabelValues(outcome).Inc()
	log.Info("retrieve complete",
		slog.Int("documents", len(rc.Documents)),
		slog.Int("parents", len(rc.Parents)),
		slog.Int("children", len(rc.Children)),
	)

	resp := retrieveResponse{
		Documents: nonNil(rc.Documents),
		Parents:   nonNil(rc.Parents),
		Children:  nonNil(rc.Children),
		Context:   rc.Render(),
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// retrievalOptions applies the request's overrides to the server defaults.
func (s *Server) retrievalOptions(req retrieveRequest) retrieval.Options {
	opts := s.defaults
	opts.OwnerID = req.OwnerID
	if req.ScoreThreshold != nil {
		if *req.ScoreThreshold < 0 {
			opts.ScoreThreshold = nil
		} else {
			thr := *req.ScoreThreshold
			opts.ScoreThreshold = &thr
		}
	}
	if req.DocTopK > 0 {
		opts.DocTopK = req.DocTopK
	}
	if req.ChildTopK > 0 {
		opts.ChildTopK = req.ChildTopK
	}
	if req.DocRouting != nil {
		opts.DocRouting = *req.DocRouting
	}
	return opts
}

// nonNil keeps empty layers as [] rather than null in JSON.
func nonNil(hits []vectorindex.Hit) []vectorindex.Hit {
	if hits == nil {
		return []vectorindex.Hit{}
	}
	return hits
}
