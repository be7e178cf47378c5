// Package ingestion drives documents through the ingestion pipeline:
// parse → summarize → split → embed → clear stale points → upsert.
// [Orchestrator] processes one document; [Pool] feeds it from a queue with
// bounded concurrency.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/54b3r/cograg-go/internal/chunker"
	"github.com/54b3r/cograg-go/internal/embedder"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/metrics"
	"github.com/54b3r/cograg-go/internal/parser"
	"github.com/54b3r/cograg-go/internal/store"
	"github.com/54b3r/cograg-go/internal/summarizer"
	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// ErrInFlight is returned by Process when the document is already being
// processed by this orchestrator.
var ErrInFlight = errors.New("ingestion: document already in flight")

// Stage names reported to progress callbacks and the stage histogram.
const (
	StageParse     = "parse"
	StageSummarize = "summarize"
	StageSplit     = "split"
	StageEmbed     = "embed"
	StageClear     = "clear"
	StageUpsert    = "upsert"
	StageDone      = "done"
)

// stagePercent is the progress reported once a stage has finished.
var stagePercent = map[string]int{
	StageParse:     10,
	StageSummarize: 45,
	StageSplit:     55,
	StageEmbed:     80,
	StageClear:     85,
	StageUpsert:    95,
	StageDone:      100,
}

// documentPreviewRunes bounds the document-layer text when the report has
// neither distilled content nor a summary.
const documentPreviewRunes = 2000

// Progress is one progress notification.
type Progress struct {
	DocID   string
	Stage   string
	Percent int
}

// ProgressFunc observes pipeline progress. Its errors and panics are logged
// and otherwise ignored.
type ProgressFunc func(Progress) error

// Summarizer produces the cognitive report for a document's text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (*summarizer.Report, error)
}

// Result describes one finished ingestion run.
type Result struct {
	DocID       string
	TenantID    string
	Status      store.Status
	ChunkCount  int
	ParentCount int
	Report      *summarizer.Report
	Duration    time.Duration
}

// Orchestrator runs the ingestion pipeline for one document at a time per
// document ID. It is safe for concurrent use across different documents.
type Orchestrator struct {
	docs       store.DocumentStore
	parser     parser.Parser
	summarizer Summarizer
	chunking   chunker.HierarchyOptions
	embedder   embedder.Embedder
	index      vectorindex.Index
	progress   ProgressFunc
	metrics    *metrics.Metrics

	// inflight holds the IDs of documents currently in Process.
	inflight sync.Map
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithParser replaces the default [parser.TextParser].
func WithParser(p parser.Parser) Option {
	return func(o *Orchestrator) { o.parser = p }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithMetrics records stage durations and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New constructs an Orchestrator. The chunking options are validated here so
// a misconfiguration fails at startup rather than per document.
func New(docs store.DocumentStore, s Summarizer, chunking chunker.HierarchyOptions, e embedder.Embedder, idx vectorindex.Index, opts ...Option) (*Orchestrator, error) {
	switch {
	case docs == nil:
		return nil, fmt.Errorf("ingestion: document store must not be nil")
	case s == nil:
		return nil, fmt.Errorf("ingestion: summarizer must not be nil")
	case e == nil:
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	case idx == nil:
		return nil, fmt.Errorf("ingestion: vector index must not be nil")
	}
	if _, err := chunker.NewHierarchy(chunking); err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	o := &Orchestrator{
		docs:       docs,
		parser:     &parser.TextParser{},
		summarizer: s,
		chunking:   chunking,
		embedder:   e,
		index:      idx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Process ingests docID. The run is detached from ctx's cancellation: once
// started it always reaches completed or failed. A failed run leaves no
// points for the document and stores the error verbatim; the returned error
// is the same failure.
func (o *Orchestrator) Process(ctx context.Context, docID string) (*Result, error) {
	if _, loaded := o.inflight.LoadOrStore(docID, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: %s", ErrInFlight, docID)
	}
	defer o.inflight.Delete(docID)

	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	doc, err := o.docs.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("ingestion: load document: %w", err)
	}
	ctx, log := logging.ForDocument(ctx, doc.TenantID, doc.ID)

	if err := o.docs.MarkProcessing(ctx, docID); err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	log.Info("ingestion started", slog.String("filename", doc.Filename))

	res, err := o.run(ctx, doc)
	if err != nil {
		err = o.fail(ctx, doc, err)
		o.metrics.IngestFinished(string(store.StatusFailed))
		log.Error("ingestion failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return &Result{DocID: doc.ID, TenantID: doc.TenantID, Status: store.StatusFailed, Duration: time.Since(start)}, err
	}

	res.Duration = time.Since(start)
	o.metrics.IngestFinished(string(store.StatusCompleted))
	o.notify(ctx, doc.ID, StageDone)
	log.Info("ingestion completed",
		slog.Int("chunks", res.ChunkCount),
		slog.Int("parents", res.ParentCount),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, doc *store.Document) (*Result, error) {
	chunking := o.chunking

	var text string
	if err := o.stage(ctx, doc.ID, StageParse, func() error {
		if doc.Content != "" {
			text = doc.Content
			return nil
		}
		parsed, err := o.parser.Parse(ctx, doc.Raw, doc.MimeType)
		if err != nil {
			return err
		}
		text = parsed.Content
		chunking.Parent.NormalizeWhitespace = chunking.Parent.NormalizeWhitespace || parsed.NormalizeWhitespace
		chunking.Parent.StripURLs = chunking.Parent.StripURLs || parsed.StripURLs
		return o.docs.SaveContent(ctx, doc.ID, text)
	}); err != nil {
		return nil, err
	}

	var report *summarizer.Report
	if err := o.stage(ctx, doc.ID, StageSummarize, func() error {
		var err error
		report, err = o.summarizer.Summarize(ctx, text)
		return err
	}); err != nil {
		return nil, err
	}

	var tree chunker.Tree
	if err := o.stage(ctx, doc.ID, StageSplit, func() error {
		h, err := chunker.NewHierarchy(chunking)
		if err != nil {
			return err
		}
		tree = h.Split(text)
		return nil
	}); err != nil {
		return nil, err
	}

	texts := make([]string, 0, 1+len(tree.Parents)+len(tree.Children))
	texts = append(texts, documentText(report, text))
	for _, p := range tree.Parents {
		texts = append(texts, p.Content)
	}
	for _, c := range tree.Children {
		texts = append(texts, c.Content)
	}

	var vectors [][]float32
	if err := o.stage(ctx, doc.ID, StageEmbed, func() error {
		var err error
		vectors, err = o.embedder.Embed(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("%w: got %d vectors for %d texts", embedder.ErrEmbedding, len(vectors), len(texts))
		}
		return err
	}); err != nil {
		return nil, err
	}

	if err := o.stage(ctx, doc.ID, StageClear, func() error {
		if err := o.index.EnsureCollection(ctx, doc.TenantID); err != nil {
			return err
		}
		return o.index.DeleteByDocument(ctx, doc.TenantID, doc.ID)
	}); err != nil {
		return nil, err
	}

	points := buildPoints(doc, report, tree, texts, vectors)
	if err := o.stage(ctx, doc.ID, StageUpsert, func() error {
		return o.index.Upsert(ctx, doc.TenantID, points)
	}); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("ingestion: encode report: %w", err)
	}
	if err := o.docs.MarkCompleted(ctx, doc.ID, len(tree.Children), raw); err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	return &Result{
		DocID:       doc.ID,
		TenantID:    doc.TenantID,
		Status:      store.StatusCompleted,
		ChunkCount:  len(tree.Children),
		ParentCount: len(tree.Parents),
		Report:      report,
	}, nil
}

// stage times fn, wraps its error with the stage name, and reports progress
// on success.
func (o *Orchestrator) stage(ctx context.Context, docID, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	o.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	logging.FromContext(ctx).Debug("stage finished",
		slog.String("stage", name),
		slog.Duration("duration", time.Since(start)),
	)
	o.notify(ctx, docID, name)
	return nil
}

// fail removes any points written by this attempt and records the error.
// A cleanup failure is joined to the cause so the stored error shows that
// points may remain.
func (o *Orchestrator) fail(ctx context.Context, doc *store.Document, cause error) error {
	log := logging.FromContext(ctx)
	if err := o.index.DeleteByDocument(ctx, doc.TenantID, doc.ID); err != nil {
		log.Warn("could not remove points of failed document", slog.String("error", err.Error()))
		cause = errors.Join(cause, fmt.Errorf("cleanup: %w", err))
	}
	if err := o.docs.MarkFailed(ctx, doc.ID, cause.Error()); err != nil {
		log.Error("could not mark document failed", slog.String("error", err.Error()))
	}
	return cause
}

// notify invokes the progress callback, containing its errors and panics.
func (o *Orchestrator) notify(ctx context.Context, docID, stage string) {
	if o.progress == nil {
		return
	}
	log := logging.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Warn("progress callback panicked", slog.String("stage", stage), slog.Any("panic", r))
		}
	}()
	if err := o.progress(Progress{DocID: docID, Stage: stage, Percent: stagePercent[stage]}); err != nil {
		log.Warn("progress callback failed", slog.String("stage", stage), slog.String("error", err.Error()))
	}
}

// documentText is the text embedded for the document layer.
func documentText(r *summarizer.Report, text string) string {
	if s := strings.TrimSpace(r.DistilledContent); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.ExecutiveSummary); s != "" {
		return s
	}
	if utf8.RuneCountInString(text) <= documentPreviewRunes {
		return text
	}
	return string([]rune(text)[:documentPreviewRunes])
}

// buildPoints lays out one document point followed by every parent and
// child, in the order texts and vectors were produced.
func buildPoints(doc *store.Document, r *summarizer.Report, tree chunker.Tree, texts []string, vectors [][]float32) []vectorindex.Point {
	points := make([]vectorindex.Point, 0, len(texts))
	point := func(layer vectorindex.Layer, idx, at int, parent *int, meta map[string]string) vectorindex.Point {
		return vectorindex.Point{
			ID:     vectorindex.PointID(doc.TenantID, doc.ID, layer, idx),
			Vector: vectors[at],
			Payload: vectorindex.Payload{
				DocID:       doc.ID,
				TenantID:    doc.TenantID,
				OwnerID:     doc.OwnerID,
				Layer:       layer,
				Content:     texts[at],
				ChunkIndex:  idx,
				ParentIndex: parent,
				Metadata:    meta,
			},
		}
	}

	points = append(points, point(vectorindex.LayerDocument, 0, 0, nil, documentMetadata(doc, r)))
	at := 1
	for _, p := range tree.Parents {
		points = append(points, point(vectorindex.LayerParent, p.Index, at, nil, nil))
		at++
	}
	for _, c := range tree.Children {
		points = append(points, point(vectorindex.LayerChild, c.Index, at, vectorindex.IntPtr(c.ParentIndex), nil))
		at++
	}
	return points
}

func documentMetadata(doc *store.Document, r *summarizer.Report) map[string]string {
	meta := parser.InferMetadata(doc.Filename)
	m := map[string]string{
		"filename": doc.Filename,
		"title":    meta.Title,
		"doc_type": meta.DocType,
	}
	if doc.MimeType != "" {
		m["mime_type"] = doc.MimeType
	}
	if r.ExecutiveSummary != "" {
		m["summary"] = r.ExecutiveSummary
	}
	if len(r.RelatedTags) > 0 {
		m["tags"] = strings.Join(r.RelatedTags, ",")
	}
	if len(r.DominantTypes) > 0 {
		types := make([]string, len(r.DominantTypes))
		for i, t := range r.DominantTypes {
			types[i] = string(t)
		}
		m["dominant_types"] = strings.Join(types, ",")
	}
	return m
}
