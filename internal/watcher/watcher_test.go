package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/cograg-go/internal/ingestion"
	"github.com/54b3r/cograg-go/internal/store"
)

type recorder struct {
	mu      sync.Mutex
	uploads []ingestion.Upload
	busy    int
}

func (r *recorder) Submit(_ context.Context, u ingestion.Upload) (*store.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy > 0 {
		r.busy--
		return nil, ingestion.ErrDocumentBusy
	}
	r.uploads = append(r.uploads, u)
	return &store.Document{ID: u.ID, TenantID: u.TenantID}, nil
}

func (r *recorder) snapshot() []ingestion.Upload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ingestion.Upload(nil), r.uploads...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, cfg Config, rec *recorder) {
	t.Helper()
	w, err := New(cfg, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
}

func TestWatcher_InitialScan(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "guides"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"guides/deploy.md": "# Deploy",
		"image.png":        "binary",
		".hidden.md":       "secret",
		".git/HEAD.md":     "ref",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rec := &recorder{}
	startWatcher(t, Config{Dir: dir, TenantID: "acme", InitialScan: true}, rec)

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	time.Sleep(50 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("want 1 upload, got %d", len(got))
	}
	u := got[0]
	if u.Filename != "guides/deploy.md" || u.TenantID != "acme" || string(u.Data) != "# Deploy" {
		t.Errorf("unexpected upload: %+v", u)
	}
	abs, _ := filepath.Abs(filepath.Join(dir, "guides/deploy.md"))
	if u.ID != DocumentID("acme", abs) {
		t.Errorf("document ID is not stable for the path")
	}
}

func TestWatcher_ChangedFileResubmittedWithSameID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, Config{Dir: dir, TenantID: "acme", Debounce: 20 * time.Millisecond}, rec)
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		got := rec.snapshot()
		return len(got) >= 2 && string(got[len(got)-1].Data) == "v2"
	})

	got := rec.snapshot()
	if got[0].ID != got[len(got)-1].ID {
		t.Errorf("changed file got a new document ID: %s vs %s", got[0].ID, got[len(got)-1].ID)
	}
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, Config{Dir: dir, TenantID: "acme", Debounce: 20 * time.Millisecond}, rec)
	time.Sleep(50 * time.Millisecond)

	sub := filepath.Join(dir, "new")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "a.md"), []byte("# a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	if got := rec.snapshot()[0].Filename; got != "new/a.md" {
		t.Errorf("Filename = %q, want new/a.md", got)
	}
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Dir: t.TempDir()}, nil); err == nil {
		t.Error("want error for nil submitter")
	}
	if _, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, &recorder{}); err == nil {
		t.Error("want error for missing directory")
	}
	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Dir: file}, &recorder{}); err == nil {
		t.Error("want error for a file path")
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()
	w := &Watcher{cfg: Config{Extensions: DefaultExtensions}}
	tests := []struct {
		path string
		want bool
	}{
		{"a.md", true},
		{"A.MD", true},
		{"dir/b.yaml", true},
		{"c.pdf", false},
		{".swp.md", false},
		{"noext", false},
	}
	for _, tc := range tests {
		if got := w.matches(tc.path); got != tc.want {
			t.Errorf("matches(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
