// Package parser turns uploaded bytes into plain text for ingestion. Only
// UTF-8 text formats are handled here; anything else (PDF, Office, images)
// is reported as [ErrParseUnavailable] for an external converter to handle.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"
)

// ErrParseUnavailable means the input cannot be turned into text by this
// parser. It is not retried.
var ErrParseUnavailable = errors.New("parser: parse unavailable")

// Result is the extracted text of one document.
type Result struct {
	Content string
	// MimeType is the effective media type, without parameters.
	MimeType string
	// NormalizeWhitespace and StripURLs are cleanup hints for the splitter.
	NormalizeWhitespace bool
	StripURLs           bool
}

// Parser extracts text from raw document bytes.
type Parser interface {
	Parse(ctx context.Context, data []byte, mimeHint string) (*Result, error)
}

// TextParser handles UTF-8 text, markdown, and text-like structured formats.
type TextParser struct {
	// NormalizeWhitespace and StripURLs are forwarded on every Result.
	NormalizeWhitespace bool
	StripURLs           bool
}

var textLike = map[string]bool{
	"application/json":     true,
	"application/x-ndjson": true,
	"application/xml":      true,
	"application/yaml":     true,
	"application/x-yaml":   true,
	"application/toml":     true,
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Parse implements [Parser]. An empty mimeHint is sniffed from the content.
func (p *TextParser) Parse(_ context.Context, data []byte, mimeHint string) (*Result, error) {
	mt := mimeHint
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	base, _, err := mime.ParseMediaType(mt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid media type %q", ErrParseUnavailable, mt)
	}
	if !strings.HasPrefix(base, "text/") && !textLike[base] {
		return nil, fmt.Errorf("%w: unsupported media type %s", ErrParseUnavailable, base)
	}

	data = bytes.TrimPrefix(data, bom)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrParseUnavailable)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	return &Result{
		Content:             text,
		MimeType:            base,
		NormalizeWhitespace: p.NormalizeWhitespace,
		StripURLs:           p.StripURLs,
	}, nil
}
