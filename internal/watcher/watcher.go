// Package watcher submits text files from a directory for ingestion and
// resubmits them when they change.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/store"
)

// DefaultExtensions are the file types watched when none are configured.
var DefaultExtensions = []string{".md", ".markdown", ".txt", ".rst", ".json", ".yaml", ".yml", ".csv"}

// DefaultDebounce coalesces the burst of events an editor emits per save.
const DefaultDebounce = 500 * time.Millisecond

// busyRetry is the delay before resubmitting a file whose document is
// still processing.
const busyRetry = 10 * time.Second

// DefaultMaxFileSize skips files larger than this many bytes.
const DefaultMaxFileSize = 32 << 20

// Submitter accepts uploads. [*ingestion.Intake] implements it.
type Submitter interface {
	Submit(ctx context.Context, u ingestion.Upload) (*store.Document, error)
}

// Config configures a [Watcher].
type Config struct {
	Dir      string
	TenantID string
	OwnerID  string
	// Extensions filters files by suffix, case-insensitively.
	Extensions []string
	Debounce   time.Duration
	// InitialScan submits every matching file already present at start.
	InitialScan bool
	MaxFileSize int64
}

// Watcher maps each file to a stable document ID so a changed file replaces
// its document instead of creating a new one.
type Watcher struct {
	cfg    Config
	submit Submitter

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{}
}

// New validates cfg and returns a Watcher.
func New(cfg Config, s Submitter) (*Watcher, error) {
	if s == nil {
		return nil, fmt.Errorf("watcher: submitter must not be nil")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watcher: %s is not a directory", cfg.Dir)
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	cfg.Dir = abs
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	exts := make([]string, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	cfg.Extensions = exts
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	return &Watcher{
		cfg:     cfg,
		submit:  s,
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
		done:    make(chan struct{}),
	}, nil
}

// DocumentID returns the document ID used for path under tenant.
func DocumentID(tenant, path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+tenant+"/"+filepath.ToSlash(path))).String()
}

// Run watches the directory tree until ctx is cancelled. A Watcher runs
// once.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)
	log := logging.FromContext(ctx).With(slog.String("dir", w.cfg.Dir))

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck // best-effort on shutdown

	var initial []string
	err = filepath.WalkDir(w.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.cfg.Dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return fw.Add(path)
		}
		if w.cfg.InitialScan && w.matches(path) {
			initial = append(initial, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watcher: walk %s: %w", w.cfg.Dir, err)
	}
	log.Info("watching directory", slog.Int("initial_files", len(initial)))
	for _, path := range initial {
		w.handle(ctx, path)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.onEvent(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", slog.String("error", err.Error()))
		case path := <-w.ready:
			w.handle(ctx, path)
		}
	}
}

func (w *Watcher) onEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := fw.Add(ev.Name); err != nil {
				logging.FromContext(ctx).Warn("could not watch new directory",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
	if w.matches(ev.Name) {
		w.schedule(ev.Name, w.cfg.Debounce)
	}
}

// schedule (re)arms the timer for path.
func (w *Watcher) schedule(path string, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) matches(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return slices.Contains(w.cfg.Extensions, strings.ToLower(filepath.Ext(path)))
}

// handle submits one file. Failures are logged; the watcher keeps running.
func (w *Watcher) handle(ctx context.Context, path string) {
	log := logging.FromContext(ctx).With(slog.String("path", path))

	info, err := os.Stat(path)
	if err != nil {
		log.Debug("file vanished before submit", slog.String("error", err.Error()))
		return
	}
	if info.Size() > w.cfg.MaxFileSize {
		log.Warn("file too large; skipped", slog.Int64("size", info.Size()))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("could not read file", slog.String("error", err.Error()))
		return
	}
	rel, err := filepath.Rel(w.cfg.Dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	doc, err := w.submit.Submit(ctx, ingestion.Upload{
		ID:       DocumentID(w.cfg.TenantID, path),
		TenantID: w.cfg.TenantID,
		OwnerID:  w.cfg.OwnerID,
		Filename: filepath.ToSlash(rel),
		Data:     data,
	})
	switch {
	case errors.Is(err, ingestion.ErrDocumentBusy):
		// The running ingestion finishes first; resubmit after it.
		log.Info("document busy; retrying later", slog.Duration("delay", busyRetry))
		w.schedule(path, busyRetry)
	case err != nil:
		log.Error("submit failed", slog.String("error", err.Error()))
	default:
		log.Info("file submitted", slog.String("doc_id", doc.ID))
	}
}
