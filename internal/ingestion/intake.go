package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/parser"
	"github.com/54b3r/cograg-go/internal/queue"
	"github.com/54b3r/cograg-go/internal/store"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// ErrDocumentBusy is returned when a document cannot be changed because it
// is being processed.
var ErrDocumentBusy = errors.New("ingestion: document is processing")

// Upload is a new or changed document handed to [Intake.Submit].
type Upload struct {
	// ID is optional; a random ID is assigned when empty. Submitting an
	// existing ID replaces that document's content.
	ID       string
	TenantID string
	OwnerID  string
	Filename string
	// MimeType is inferred from Filename when empty.
	MimeType string
	Data     []byte
}

// Intake is the write side of the document lifecycle shared by the HTTP API,
// the CLI, and the directory watcher: create, reprocess, delete.
type Intake struct {
	docs  store.DocumentStore
	queue queue.Queue
	index vectorindex.Index
}

// NewIntake constructs an Intake.
func NewIntake(docs store.DocumentStore, q queue.Queue, idx vectorindex.Index) *Intake {
	return &Intake{docs: docs, queue: q, index: idx}
}

// Submit stores u as a queued document and enqueues it.
func (in *Intake) Submit(ctx context.Context, u Upload) (*store.Document, error) {
	if u.TenantID == "" {
		u.TenantID = vectorindex.DefaultTenant
	}
	if u.MimeType == "" {
		u.MimeType = parser.InferMetadata(u.Filename).MimeType
	}

	if u.ID != "" {
		_, err := in.docs.Get(ctx, u.ID)
		switch {
		case err == nil:
			if err := in.docs.Replace(ctx, u.ID, u.Data, u.MimeType); err != nil {
				if errors.Is(err, store.ErrInvalidTransition) {
					return nil, fmt.Errorf("%w: %s", ErrDocumentBusy, u.ID)
				}
				return nil, fmt.Errorf("ingestion: replace: %w", err)
			}
			return in.enqueue(ctx, u.ID)
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("ingestion: submit: %w", err)
		}
	} else {
		u.ID = uuid.NewString()
	}

	doc := &store.Document{
		ID:       u.ID,
		TenantID: u.TenantID,
		OwnerID:  u.OwnerID,
		Filename: u.Filename,
		MimeType: u.MimeType,
		Raw:      u.Data,
	}
	if err := in.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("ingestion: submit: %w", err)
	}
	return in.enqueue(ctx, doc.ID)
}

// Reprocess moves a completed or failed document back to queued and
// enqueues it. The pipeline overwrites its points by ID.
func (in *Intake) Reprocess(ctx context.Context, id string) (*store.Document, error) {
	if err := in.docs.Requeue(ctx, id); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %w", ErrDocumentBusy, err)
		}
		return nil, fmt.Errorf("ingestion: reprocess: %w", err)
	}
	return in.enqueue(ctx, id)
}

// Delete removes a document's points across all layers, then its metadata.
// A processing document is refused so the delete cannot race its upsert.
func (in *Intake) Delete(ctx context.Context, id string) error {
	doc, err := in.docs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("ingestion: delete: %w", err)
	}
	if doc.Status == store.StatusProcessing {
		return fmt.Errorf("%w: %s", ErrDocumentBusy, id)
	}
	if err := in.index.DeleteByDocument(ctx, doc.TenantID, id); err != nil {
		return fmt.Errorf("ingestion: delete points: %w", err)
	}
	if err := in.docs.Delete(ctx, id); err != nil {
		return fmt.Errorf("ingestion: delete: %w", err)
	}
	logging.FromContext(ctx).Info("document deleted",
		slog.String("tenant_id", doc.TenantID),
		slog.String("doc_id", id),
	)
	return nil
}

// enqueue adds a task for id. A document whose task cannot be enqueued is
// marked failed so it does not sit in queued forever.
func (in *Intake) enqueue(ctx context.Context, id string) (*store.Document, error) {
	if _, err := in.queue.Enqueue(ctx, id); err != nil {
		cause := fmt.Errorf("ingestion: enqueue: %w", err)
		if markErr := in.docs.MarkFailed(ctx, id, cause.Error()); markErr != nil {
			logging.FromContext(ctx).Error("could not mark document failed",
				slog.String("doc_id", id),
				slog.String("error", markErr.Error()),
			)
		}
		return nil, cause
	}
	doc, err := in.docs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	logging.FromContext(ctx).Info("document queued",
		slog.String("tenant_id", doc.TenantID),
		slog.String("doc_id", doc.ID),
	)
	return doc, nil
}
