package retrieval

import (
	"os"

	"github.com/54b3r/cograg-go/internal/config"
)

// Options tunes one [Orchestrator.Retrieve] call.
type Options struct {
	// OwnerID restricts every search to one owner when set.
	OwnerID string
	// ScoreThreshold is the minimum cosine similarity for the first search
	// at each layer. Nil disables thresholding and therefore fallback-widen.
	ScoreThreshold *float32
	// DocLimit is the number of document-layer candidates to collect.
	DocLimit int
	// DocTopK is the number of documents kept after reranking.
	DocTopK int
	// ChildLimitDocs is the child search limit per selected document.
	ChildLimitDocs int
	// ChildLimitGlobal is the limit of the one document-unscoped child search.
	ChildLimitGlobal int
	// ChildTopK is the number of children kept after reranking.
	ChildTopK int
	// DocRouting replaces vector ranking at the document layer with the
	// LLM router when one is configured.
	DocRouting bool
}

// Retrieval defaults.
const (
	DefaultScoreThreshold   = 0.5
	DefaultDocLimit         = 10
	DefaultDocTopK          = 3
	DefaultChildLimitDocs   = 8
	DefaultChildLimitGlobal = 8
	DefaultChildTopK        = 6
)

// DefaultOptions returns the built-in retrieval defaults.
func DefaultOptions() Options {
	thr := float32(DefaultScoreThreshold)
	return Options{
		ScoreThreshold:   &thr,
		DocLimit:         DefaultDocLimit,
		DocTopK:          DefaultDocTopK,
		ChildLimitDocs:   DefaultChildLimitDocs,
		ChildLimitGlobal: DefaultChildLimitGlobal,
		ChildTopK:        DefaultChildTopK,
	}
}

// OptionsFromEnv overlays RETRIEVAL_* env vars on [DefaultOptions].
// RETRIEVAL_SCORE_THRESHOLD=none disables the threshold.
func OptionsFromEnv() Options {
	o := DefaultOptions()
	if os.Getenv("RETRIEVAL_SCORE_THRESHOLD") == "none" {
		o.ScoreThreshold = nil
	} else {
		thr := config.Float32("RETRIEVAL_SCORE_THRESHOLD", DefaultScoreThreshold)
		o.ScoreThreshold = &thr
	}
	o.DocLimit = config.Int("RETRIEVAL_DOC_LIMIT", o.DocLimit)
	o.DocTopK = config.Int("RETRIEVAL_DOC_TOPK", o.DocTopK)
	o.ChildLimitDocs = config.Int("RETRIEVAL_CHILD_LIMIT_DOCS", o.ChildLimitDocs)
	o.ChildLimitGlobal = config.Int("RETRIEVAL_CHILD_LIMIT_GLOBAL", o.ChildLimitGlobal)
	o.ChildTopK = config.Int("RETRIEVAL_CHILD_TOPK", o.ChildTopK)
	o.DocRouting = config.Bool("RETRIEVAL_DOC_ROUTING", false)
	return o
}

// normalize fills non-positive limits with defaults and keeps each top-k
// within its candidate limit.
func (o Options) normalize() Options {
	if o.DocLimit <= 0 {
		o.DocLimit = DefaultDocLimit
	}
	if o.DocTopK <= 0 {
		o.DocTopK = DefaultDocTopK
	}
	o.DocTopK = min(o.DocTopK, o.DocLimit)
	if o.ChildLimitDocs <= 0 {
		o.ChildLimitDocs = DefaultChildLimitDocs
	}
	if o.ChildLimitGlobal <= 0 {
		o.ChildLimitGlobal = DefaultChildLimitGlobal
	}
	if o.ChildTopK <= 0 {
		o.ChildTopK = DefaultChildTopK
	}
	return o
}
