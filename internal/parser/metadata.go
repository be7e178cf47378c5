package parser

import (
	"mime"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

// Metadata is best-effort information inferred from an upload's filename.
// Explicit values from the caller take precedence.
type Metadata struct {
	// Title is a human-readable name derived from the filename.
	Title string
	// MimeType is inferred from the extension; empty when unknown.
	MimeType string
	// DocType classifies the document (guide, tutorial, reference,
	// changelog, note, or document).
	DocType string
}

// extensionTypes covers text formats the system mime table often lacks.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".mdx":      "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".rst":      "text/x-rst",
	".adoc":     "text/asciidoc",
	".org":      "text/org",
	".csv":      "text/csv",
	".tsv":      "text/tab-separated-values",
	".json":     "application/json",
	".jsonl":    "application/x-ndjson",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".toml":     "application/toml",
	".xml":      "application/xml",
	".html":     "text/html",
	".htm":      "text/html",
}

// segmentDocTypes maps path segments and base names to a doc type. The
// first matching segment, scanning from the file upwards, wins.
var segmentDocTypes = map[string]string{
	"guide":           "guide",
	"guides":          "guide",
	"howto":           "guide",
	"how-to":          "guide",
	"tutorial":        "tutorial",
	"tutorials":       "tutorial",
	"quick-start":     "tutorial",
	"quickstart":      "tutorial",
	"getting-started": "tutorial",
	"reference":       "reference",
	"api":             "reference",
	"spec":            "reference",
	"specs":           "reference",
	"changelog":       "changelog",
	"changes":         "changelog",
	"release-notes":   "changelog",
	"notes":           "note",
	"journal":         "note",
}

// InferMetadata inspects a filename or relative path. Unknown patterns get
// the defaults: title from the base name, empty mime type, doc type
// "document".
func InferMetadata(name string) Metadata {
	name = filepath.ToSlash(strings.TrimSpace(name))
	base := path.Base(name)
	ext := strings.ToLower(path.Ext(base))

	m := Metadata{DocType: "document"}
	if t, ok := extensionTypes[ext]; ok {
		m.MimeType = t
	} else if t := mime.TypeByExtension(ext); t != "" {
		m.MimeType, _, _ = strings.Cut(t, ";")
	}

	stem := strings.TrimSuffix(base, path.Ext(base))
	m.Title = titleFromStem(stem)

	segments := trimSegments(strings.ToLower(name))
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSuffix(segments[i], path.Ext(segments[i]))
		if dt, ok := segmentDocTypes[seg]; ok {
			m.DocType = dt
			break
		}
	}
	return m
}

// titleFromStem turns "getting_started-guide" into "Getting Started Guide".
func titleFromStem(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return stem
	}
	return strings.Join(words, " ")
}

// trimSegments splits a path into non-empty segments.
func trimSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}
