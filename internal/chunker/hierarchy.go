package chunker

import (
	"fmt"
	"unicode/utf8"

	"github.com/54b3r/cograg-go/internal/config"
)

// ParentChunk is a section-scale span of a document.
type ParentChunk struct {
	Index   int
	Content string
}

// ChildChunk is a passage-scale span. ParentIndex always names a
// ParentChunk from the same split.
type ChildChunk struct {
	Index       int
	ParentIndex int
	Content     string
}

// Tree is the parent/child split of one document. Parents and Children are
// in document order and indices are sequential from zero.
type Tree struct {
	Parents  []ParentChunk
	Children []ChildChunk
}

// HierarchyOptions configures a [Hierarchy].
type HierarchyOptions struct {
	Parent Options
	Child  Options
	// StreamThreshold is the rune length above which Split switches to
	// windowed mode. Zero disables windowing.
	StreamThreshold int
	// WindowSize is the raw window width in runes for windowed mode.
	WindowSize int
}

// Defaults used by [HierarchyOptionsFromEnv].
const (
	DefaultParentSize      = 2000
	DefaultParentOverlap   = 200
	DefaultChildSize       = 400
	DefaultChildOverlap    = 50
	DefaultStreamThreshold = 500_000
	DefaultWindowSize      = 100_000
)

// HierarchyOptionsFromEnv reads CHUNK_* env vars, falling back to defaults.
func HierarchyOptionsFromEnv() HierarchyOptions {
	normalize := config.Bool("CHUNK_NORMALIZE_WHITESPACE", false)
	strip := config.Bool("CHUNK_STRIP_URLS", false)
	return HierarchyOptions{
		Parent: Options{
			ChunkSize:           config.Int("CHUNK_PARENT_SIZE", DefaultParentSize),
			Overlap:             config.Int("CHUNK_PARENT_OVERLAP", DefaultParentOverlap),
			NormalizeWhitespace: normalize,
			StripURLs:           strip,
		},
		Child: Options{
			ChunkSize: config.Int("CHUNK_CHILD_SIZE", DefaultChildSize),
			Overlap:   config.Int("CHUNK_CHILD_OVERLAP", DefaultChildOverlap),
		},
		StreamThreshold: config.Int("CHUNK_STREAM_THRESHOLD", DefaultStreamThreshold),
		WindowSize:      config.Int("CHUNK_WINDOW_SIZE", DefaultWindowSize),
	}
}

// Hierarchy runs a parent splitter over the document and a child splitter
// over each parent.
type Hierarchy struct {
	parent    *Splitter
	child     *Splitter
	threshold int
	window    int
}

// NewHierarchy validates both splitter configurations.
func NewHierarchy(opts HierarchyOptions) (*Hierarchy, error) {
	parent, err := New(opts.Parent)
	if err != nil {
		return nil, fmt.Errorf("chunker: parent splitter: %w", err)
	}
	child, err := New(opts.Child)
	if err != nil {
		return nil, fmt.Errorf("chunker: child splitter: %w", err)
	}
	if opts.StreamThreshold > 0 && opts.WindowSize <= 0 {
		return nil, fmt.Errorf("%w: window size must be positive when streaming is enabled", ErrInvalidOptions)
	}
	return &Hierarchy{
		parent:    parent,
		child:     child,
		threshold: opts.StreamThreshold,
		window:    opts.WindowSize,
	}, nil
}

// Split returns the full tree for text. Documents longer than the stream
// threshold are processed window by window via [Hierarchy.Stream].
func (h *Hierarchy) Split(text string) Tree {
	if h.threshold <= 0 || utf8.RuneCountInString(text) <= h.threshold {
		return h.splitTree(text, 0, 0)
	}
	var all Tree
	// The callback never fails, so neither does Stream.
	_ = h.Stream(text, func(t Tree) error {
		all.Parents = append(all.Parents, t.Parents...)
		all.Children = append(all.Children, t.Children...)
		return nil
	})
	return all
}

// Stream slices text into fixed raw windows, splits each window on its own,
// and hands fn a tree whose indices continue from the previous window.
// Chunk boundaries at window joins can differ from a single-pass split;
// parent/child linkage stays consistent within the returned indices.
// Stream stops at the first error returned by fn.
func (h *Hierarchy) Stream(text string, fn func(Tree) error) error {
	r := []rune(text)
	width := h.window
	if width <= 0 {
		width = len(r)
	}
	parentOffset, childOffset := 0, 0
	for start := 0; start < len(r); start += width {
		end := min(start+width, len(r))
		t := h.splitTree(string(r[start:end]), parentOffset, childOffset)
		if len(t.Parents) == 0 {
			continue
		}
		parentOffset += len(t.Parents)
		childOffset += len(t.Children)
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hierarchy) splitTree(text string, parentOffset, childOffset int) Tree {
	var t Tree
	next := childOffset
	for i, pc := range h.parent.Split(text) {
		pIdx := parentOffset + i
		t.Parents = append(t.Parents, ParentChunk{Index: pIdx, Content: pc})
		for _, cc := range h.child.Split(pc) {
			t.Children = append(t.Children, ChildChunk{Index: next, ParentIndex: pIdx, Content: cc})
			next++
		}
	}
	return t
}
