package retrieval

import (
	"fmt"
	"strings"

	"github.com/54b3r/cograg-go/internal/vectorindex"
)

// Context is the layered retrieval result for one query.
type Context struct {
	Documents []vectorindex.Hit `json:"documents"`
	Parents   []vectorindex.Hit `json:"parents"`
	Children  []vectorindex.Hit `json:"children"`
}

// Empty reports whether no layer produced anything.
func (c *Context) Empty() bool {
	return c == nil || len(c.Documents)+len(c.Parents)+len(c.Children) == 0
}

// Render formats the context as a prompt block, coarsest layer first.
func (c *Context) Render() string {
	if c.Empty() {
		return ""
	}
	var b strings.Builder
	section := func(title string, hits []vectorindex.Hit, label func(vectorindex.Hit) string) {
		if len(hits) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		for _, h := range hits {
			fmt.Fprintf(&b, "### %s (score %.3f)\n%s\n\n", label(h), h.Score, strings.TrimSpace(h.Payload.Content))
		}
	}

	section("Documents", c.Documents, func(h vectorindex.Hit) string {
		if name := h.Payload.Metadata["filename"]; name != "" {
			return fmt.Sprintf("%s [%s]", name, h.Payload.DocID)
		}
		return h.Payload.DocID
	})
	section("Sections", c.Parents, func(h vectorindex.Hit) string {
		return fmt.Sprintf("%s section %d", h.Payload.DocID, h.Payload.ChunkIndex)
	})
	section("Passages", c.Children, func(h vectorindex.Hit) string {
		if h.Payload.ParentIndex != nil {
			return fmt.Sprintf("%s passage %d of section %d", h.Payload.DocID, h.Payload.ChunkIndex, *h.Payload.ParentIndex)
		}
		return fmt.Sprintf("%s passage %d", h.Payload.DocID, h.Payload.ChunkIndex)
	})
	return strings.TrimRight(b.String(), "\n") + "\n"
}
