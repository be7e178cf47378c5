// Package chunker splits plain text into retrieval-sized chunks.
//
// [Splitter] is a recursive separator splitter: it tries separators in
// priority order, greedily packs pieces up to ChunkSize, recurses into pieces
// that are still too large with the remaining separators, and falls back to a
// fixed-width cut when none are left. Overlap is applied afterwards from the
// tail of each previous output chunk. All lengths are measured in runes.
//
// [Hierarchy] composes two splitters into a parent/child [Tree].
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators is the separator priority used when Options.Separators
// is nil: paragraphs, lines, sentence punctuation (CJK and Latin), words,
// and finally single runes.
var DefaultSeparators = []string{"\n\n", "\n", "。", "！", "？", ". ", "! ", "? ", "；", "; ", " ", ""}

// ErrInvalidOptions is returned by [New] for a non-positive chunk size or an
// overlap that is negative or not smaller than the chunk size.
var ErrInvalidOptions = errors.New("chunker: invalid options")

// Options configures a [Splitter].
type Options struct {
	// ChunkSize is the maximum chunk length in runes before overlap.
	ChunkSize int
	// Overlap is the number of trailing runes of the previous chunk that
	// are prefixed to each following chunk.
	Overlap int
	// Separators in priority order. nil selects DefaultSeparators; an empty
	// non-nil slice forces fixed-width slicing.
	Separators []string
	// NormalizeWhitespace collapses runs of spaces and blank lines first.
	NormalizeWhitespace bool
	// StripURLs removes http(s) and www URLs first.
	StripURLs bool
}

// Splitter is a stateless recursive text splitter. Safe for concurrent use.
type Splitter struct {
	opts Options
}

// New validates opts and returns a Splitter.
func New(opts Options) (*Splitter, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidOptions, opts.ChunkSize)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidOptions, opts.Overlap, opts.ChunkSize)
	}
	if opts.Separators == nil {
		opts.Separators = DefaultSeparators
	}
	return &Splitter{opts: opts}, nil
}

// Options returns the effective options.
func (s *Splitter) Options() Options { return s.opts }

// Split returns the chunks of text in document order. It returns nil only
// for empty input; any non-empty input yields at least one chunk.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	prepared := s.prepare(text)

	var chunks []string
	for _, c := range s.split(prepared, s.opts.Separators) {
		if strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		if prepared == "" {
			prepared = text
		}
		return []string{prepared}
	}
	return applyOverlap(chunks, s.opts.Overlap)
}

// split is the recursive core. It never mutates state shared across calls;
// every level owns and returns its own slice.
func (s *Splitter) split(text string, seps []string) []string {
	size := s.opts.ChunkSize
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	if len(seps) == 0 {
		return forceSlice(text, size, size-s.opts.Overlap)
	}

	sep, rest := seps[0], seps[1:]
	pieces := splitKeepSeparator(text, sep)
	if len(pieces) < 2 {
		return s.split(text, rest)
	}

	var (
		out    []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen > 0 {
			out = append(out, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if n > size {
			flush()
			out = append(out, s.split(p, rest)...)
			continue
		}
		if bufLen+n > size {
			flush()
		}
		buf.WriteString(p)
		bufLen += n
	}
	flush()
	return out
}

// splitKeepSeparator splits text on sep and re-suffixes every piece but the
// last with sep, so concatenating the pieces reproduces text. The empty
// separator splits into single runes.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// forceSlice cuts text into windows of width runes advancing by step.
func forceSlice(text string, width, step int) []string {
	r := []rune(text)
	if step <= 0 {
		step = width
	}
	var out []string
	for start := 0; start < len(r); start += step {
		end := min(start+width, len(r))
		out = append(out, string(r[start:end]))
		if end == len(r) {
			break
		}
	}
	return out
}

// applyOverlap prefixes each chunk after the first with the trailing
// overlap runes of the previous output chunk.
func applyOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(out[i-1])
		tail := prev[max(0, len(prev)-overlap):]
		out[i] = string(tail) + chunks[i]
	}
	return out
}

var (
	urlPattern       = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"'）)]+`)
	inlineSpace      = regexp.MustCompile(`[ \t\f\v]+`)
	excessBlankLines = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// prepare applies the optional cleanup toggles.
func (s *Splitter) prepare(text string) string {
	if s.opts.StripURLs {
		text = urlPattern.ReplaceAllString(text, "")
	}
	if s.opts.NormalizeWhitespace {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = inlineSpace.ReplaceAllString(text, " ")
		text = excessBlankLines.ReplaceAllString(text, "\n\n")
		text = strings.TrimSpace(text)
	}
	return text
}
