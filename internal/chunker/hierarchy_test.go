package chunker

import (
	"errors"
	"strings"
	"testing"
)

func mustHierarchy(t *testing.T, opts HierarchyOptions) *Hierarchy {
	t.Helper()
	h, err := NewHierarchy(opts)
	if err != nil {
		t.Fatalf("NewHierarchy: %v", err)
	}
	return h
}

func checkTree(t *testing.T, tree Tree) {
	t.Helper()
	parents := make(map[int]bool, len(tree.Parents))
	for i, p := range tree.Parents {
		if p.Index != i {
			t.Errorf("parent %d has index %d", i, p.Index)
		}
		parents[p.Index] = true
	}
	lastParent := 0
	for i, c := range tree.Children {
		if c.Index != i {
			t.Errorf("child %d has index %d", i, c.Index)
		}
		if !parents[c.ParentIndex] {
			t.Errorf("child %d references missing parent %d", i, c.ParentIndex)
		}
		if c.ParentIndex < lastParent {
			t.Errorf("child %d goes back to parent %d after %d", i, c.ParentIndex, lastParent)
		}
		lastParent = c.ParentIndex
	}
}

func TestHierarchy_Split(t *testing.T) {
	t.Parallel()
	h := mustHierarchy(t, HierarchyOptions{
		Parent: Options{ChunkSize: 120, Overlap: 10},
		Child:  Options{ChunkSize: 40, Overlap: 5},
	})
	tree := h.Split(sample)

	if len(tree.Parents) < 2 {
		t.Fatalf("expected multiple parents, got %d", len(tree.Parents))
	}
	if len(tree.Children) <= len(tree.Parents) {
		t.Fatalf("expected more children (%d) than parents (%d)", len(tree.Children), len(tree.Parents))
	}
	checkTree(t, tree)

	for _, c := range tree.Children {
		parent := tree.Parents[c.ParentIndex].Content
		// Child overlap may reach into the previous child, which is still
		// inside the same parent.
		body := []rune(c.Content)
		if c.Index > 0 && tree.Children[c.Index-1].ParentIndex == c.ParentIndex {
			body = body[min(5, len(body)):]
		}
		if !strings.Contains(parent, string(body)) {
			t.Errorf("child %d %q not found in parent %d", c.Index, c.Content, c.ParentIndex)
		}
	}
}

func TestHierarchy_SplitIsIdempotent(t *testing.T) {
	t.Parallel()
	h := mustHierarchy(t, HierarchyOptions{
		Parent: Options{ChunkSize: 100},
		Child:  Options{ChunkSize: 30},
	})
	a, b := h.Split(sample), h.Split(sample)
	if len(a.Parents) != len(b.Parents) || len(a.Children) != len(b.Children) {
		t.Fatalf("counts differ: %d/%d vs %d/%d", len(a.Parents), len(a.Children), len(b.Parents), len(b.Children))
	}
	for i := range a.Children {
		if a.Children[i] != b.Children[i] {
			t.Errorf("child %d differs", i)
		}
	}
}

func TestHierarchy_StreamRenumbersAcrossWindows(t *testing.T) {
	t.Parallel()
	text := strings.Repeat(sample+"\n\n", 6)
	h := mustHierarchy(t, HierarchyOptions{
		Parent:          Options{ChunkSize: 150},
		Child:           Options{ChunkSize: 50},
		StreamThreshold: 400,
		WindowSize:      300,
	})

	var windows int
	var streamed Tree
	err := h.Stream(text, func(tr Tree) error {
		windows++
		if len(streamed.Parents) > 0 && tr.Parents[0].Index != len(streamed.Parents) {
			t.Errorf("window %d starts at parent %d, want %d", windows, tr.Parents[0].Index, len(streamed.Parents))
		}
		streamed.Parents = append(streamed.Parents, tr.Parents...)
		streamed.Children = append(streamed.Children, tr.Children...)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if windows < 2 {
		t.Fatalf("expected multiple windows, got %d", windows)
	}
	checkTree(t, streamed)

	// Split above the threshold goes through the same windowed path.
	whole := h.Split(text)
	if len(whole.Children) != len(streamed.Children) {
		t.Errorf("Split children = %d, Stream children = %d", len(whole.Children), len(streamed.Children))
	}
}

func TestHierarchy_StreamStopsOnCallbackError(t *testing.T) {
	t.Parallel()
	h := mustHierarchy(t, HierarchyOptions{
		Parent:          Options{ChunkSize: 50},
		Child:           Options{ChunkSize: 20},
		StreamThreshold: 10,
		WindowSize:      100,
	})
	stop := errors.New("stop")
	calls := 0
	err := h.Stream(strings.Repeat("word ", 200), func(Tree) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}

func TestNewHierarchy_RejectsBadOptions(t *testing.T) {
	t.Parallel()
	_, err := NewHierarchy(HierarchyOptions{
		Parent: Options{ChunkSize: 100},
		Child:  Options{ChunkSize: 10, Overlap: 10},
	})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions, got %v", err)
	}
	_, err = NewHierarchy(HierarchyOptions{
		Parent:          Options{ChunkSize: 100},
		Child:           Options{ChunkSize: 10},
		StreamThreshold: 1000,
	})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions for zero window, got %v", err)
	}
}

func TestHierarchyOptionsFromEnv(t *testing.T) {
	t.Setenv("CHUNK_PARENT_SIZE", "3000")
	t.Setenv("CHUNK_CHILD_OVERLAP", "25")
	t.Setenv("CHUNK_STRIP_URLS", "true")

	opts := HierarchyOptionsFromEnv()
	if opts.Parent.ChunkSize != 3000 {
		t.Errorf("parent size = %d", opts.Parent.ChunkSize)
	}
	if opts.Child.Overlap != 25 {
		t.Errorf("child overlap = %d", opts.Child.Overlap)
	}
	if !opts.Parent.StripURLs {
		t.Error("strip urls not applied")
	}
	if opts.Child.ChunkSize != DefaultChildSize {
		t.Errorf("child size = %d, want default %d", opts.Child.ChunkSize, DefaultChildSize)
	}
}
