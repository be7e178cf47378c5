package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/store"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// tenantOf returns the caller's tenant, defaulting like the index does.
func tenantOf(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(headerTenant)); t != "" {
		return t
	}
	return vectorindex.DefaultTenant
}

// handleDocumentCreate accepts a document either as multipart form field
// "file" or as the raw request body with ?filename=. An ?id= naming an
// existing document of the caller's tenant replaces its content.
func (s *Server) handleDocumentCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	filename, mime, data, err := readUpload(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(ctx, w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("document exceeds %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(ctx, w, http.StatusBadRequest, "document is empty")
		return
	}

	tenant := tenantOf(r)
	id := r.URL.Query().Get("id")
	if id != "" {
		existing, err := s.docs.Get(ctx, id)
		switch {
		case err == nil && existing.TenantID != tenant:
			writeError(ctx, w, http.StatusNotFound, "document not found")
			return
		case err != nil && !errors.Is(err, store.ErrNotFound):
			s.writeDomainError(w, r, err)
			return
		}
	}

	doc, err := s.intake.Submit(ctx, ingestion.Upload{
		ID:       id,
		TenantID: tenant,
		OwnerID:  r.Header.Get(headerOwner),
		Filename: filename,
		MimeType: mime,
		Data:     data,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))
	log.Info("document accepted",
		slog.String("doc_id", doc.ID),
		slog.String("filename", filename),
		slog.Int("bytes", len(data)),
	)
	writeJSON(ctx, w, http.StatusAccepted, doc)
}

// readUpload extracts the filename, declared content type, and bytes of an
// upload. An octet-stream or missing part content type is dropped so the
// intake infers one from the filename.
func readUpload(r *http.Request) (filename, mime string, data []byte, err error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			return "", "", nil, fmt.Errorf("multipart field %q: %w", "file", err)
		}
		defer file.Close() //nolint:errcheck // multipart temp file
		data, err = io.ReadAll(file)
		if err != nil {
			return "", "", nil, err
		}
		return path.Base(hdr.Filename), uploadMime(hdr.Header.Get("Content-Type")), data, nil
	}

	filename = r.URL.Query().Get("filename")
	if filename == "" {
		return "", "", nil, errors.New("filename query parameter is required for raw uploads")
	}
	data, err = io.ReadAll(r.Body)
	if err != nil {
		return "", "", nil, err
	}
	return filename, uploadMime(r.Header.Get("Content-Type")), data, nil
}

func uploadMime(ct string) string {
	ct, _, _ = strings.Cut(ct, ";")
	ct = strings.TrimSpace(ct)
	if ct == "application/octet-stream" {
		return ""
	}
	return ct
}

// handleDocumentList lists the caller's tenant's documents, newest first.
func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.List(r.Context(), tenantOf(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(r.Context(), w, http.StatusOK, documentList{Documents: docs})
}

func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, doc)
}

func (s *Server) handleDocumentReprocess(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	doc, err := s.intake.Reprocess(r.Context(), doc.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusAccepted, doc)
}

func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	if err := s.intake.Delete(r.Context(), doc.ID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedDocument loads {id} and hides documents of other tenants behind 404.
// It writes the error response itself and reports whether to continue.
func (s *Server) ownedDocument(w http.ResponseWriter, r *http.Request) (*store.Document, bool) {
	doc, err := s.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	if doc.TenantID != tenantOf(r) {
		writeError(r.Context(), w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}

// writeDomainError maps ingestion and store errors onto HTTP statuses.
// Unexpected errors are logged and answered with a generic 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "document not found")
	case errors.Is(err, ingestion.ErrDocumentBusy):
		writeError(ctx, w, http.StatusConflict, "document is processing")
	default:
		logging.FromContext(ctx).Error("request failed", slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}
