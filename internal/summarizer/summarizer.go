// Package summarizer produces the cognitive report for a document: one LLM
// call per window, a fallback sampling profile when the provider's safety
// layer intercepts, and a deterministic merge across windows.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/cograg-go/internal/config"
	"github.com/54b3r/cograg-go/internal/llm"
	"github.com/54b3r/cograg-go/internal/logging"
	"github.com/54b3r/cograg-go/internal/metrics"
	"github.com/54b3r/cograg-go/internal/safety"
)

var (
	// ErrSafetyBlocked is returned when both sampling profiles were
	// intercepted. It is terminal for the document.
	ErrSafetyBlocked = errors.New("summarizer: blocked by content safety under both sampling profiles")

	// ErrCompletion wraps any non-safety completion failure.
	ErrCompletion = errors.New("summarizer: completion failed")

	// ErrEmptyInput is returned for blank text.
	ErrEmptyInput = errors.New("summarizer: empty input")
)

// Profile is a sampling configuration.
type Profile struct {
	Name        string
	Temperature float32
	TopP        float32
}

var (
	// ProfilePrimary is used for every first attempt.
	ProfilePrimary = Profile{Name: "primary", Temperature: 0.3, TopP: 0.85}
	// ProfileConservative is the retry profile after an interception.
	ProfileConservative = Profile{Name: "conservative", Temperature: 0.1, TopP: 0.5}
)

// Config configures a [Summarizer].
type Config struct {
	// Model overrides the chat model's default model name. Optional.
	Model string
	// MaxWindow is the largest text, in runes, summarised in one call.
	MaxWindow int
	// MaxTokens caps each completion.
	MaxTokens int
	// Stream selects streaming completions.
	Stream   bool
	Primary  Profile
	Fallback Profile
	Merge    MergeOptions
}

// DefaultMaxWindow is the default window size in runes.
const DefaultMaxWindow = 24000

// ConfigFromEnv reads SUMMARY_* env vars.
func ConfigFromEnv() Config {
	return Config{
		Model:     config.String("SUMMARY_MODEL", ""),
		MaxWindow: config.Int("SUMMARY_MAX_WINDOW", DefaultMaxWindow),
		MaxTokens: config.Int("SUMMARY_MAX_TOKENS", 4096),
		Stream:    config.Bool("SUMMARY_STREAM", false),
		Primary:   ProfilePrimary,
		Fallback:  ProfileConservative,
		Merge:     DefaultMergeOptions(),
	}
}

// Summarizer turns document text into a [Report].
type Summarizer struct {
	llm      llm.Completer
	detector safety.Detector
	cfg      Config
	metrics  *metrics.Metrics
}

// Option configures a [Summarizer].
type Option func(*Summarizer)

// WithMetrics records safety retries and blocks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Summarizer) { s.metrics = m }
}

// New returns a Summarizer. A nil detector selects safety.NewDefaultDetector.
func New(c llm.Completer, d safety.Detector, cfg Config, opts ...Option) *Summarizer {
	if d == nil {
		d = safety.NewDefaultDetector()
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultMaxWindow
	}
	if cfg.Primary == (Profile{}) {
		cfg.Primary = ProfilePrimary
	}
	if cfg.Fallback == (Profile{}) {
		cfg.Fallback = ProfileConservative
	}
	if cfg.Merge == (MergeOptions{}) {
		cfg.Merge = DefaultMergeOptions()
	}
	s := &Summarizer{llm: c, detector: d, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarize returns the cognitive report for text. Text longer than
// MaxWindow is cut into sequential non-overlapping windows that are
// summarised one after another and merged.
func (s *Summarizer) Summarize(ctx context.Context, text string) (*Report, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	windows := Windows(text, s.cfg.MaxWindow)
	log := logging.FromContext(ctx)
	if len(windows) > 1 {
		log.Info("summarizer: multi-window document", slog.Int("windows", len(windows)))
	}

	reports := make([]*Report, 0, len(windows))
	for i, w := range windows {
		r, err := s.summarizeWindow(ctx, w, i, len(windows))
		if err != nil {
			return nil, fmt.Errorf("window %d/%d: %w", i+1, len(windows), err)
		}
		reports = append(reports, r)
	}
	return Merge(reports, s.cfg.Merge), nil
}

// summarizeWindow runs the primary profile and, on interception, the
// fallback profile once.
func (s *Summarizer) summarizeWindow(ctx context.Context, text string, idx, total int) (*Report, error) {
	log := logging.FromContext(ctx)

	content, err := s.attempt(ctx, text, idx, total, s.cfg.Primary)
	if err != nil {
		return nil, err
	}
	if content != "" {
		return Parse(content), nil
	}

	s.metrics.SafetyRetry()
	log.Warn("summarizer: safety interception, retrying with fallback profile",
		slog.Int("window", idx+1),
		slog.String("profile", s.cfg.Fallback.Name),
	)

	content, err = s.attempt(ctx, text, idx, total, s.cfg.Fallback)
	if err != nil {
		return nil, err
	}
	if content != "" {
		return Parse(content), nil
	}

	s.metrics.SafetyBlocked()
	log.Error("summarizer: blocked under both profiles", slog.Int("window", idx+1))
	return nil, ErrSafetyBlocked
}

// attempt issues one completion. It returns ("", nil) for a safety
// interception, the content on success, or an ErrCompletion-wrapped error.
func (s *Summarizer) attempt(ctx context.Context, text string, idx, total int, p Profile) (string, error) {
	resp, err := s.llm.Complete(ctx, &llm.Request{
		Model:       s.cfg.Model,
		Messages:    buildMessages(text, idx, total),
		Temperature: llm.Float32(p.Temperature),
		TopP:        llm.Float32(p.TopP),
		MaxTokens:   s.cfg.MaxTokens,
		Stream:      s.cfg.Stream,
	})
	if err != nil {
		if s.detector.IsSafetyError(err) {
			logging.FromContext(ctx).Warn("summarizer: provider safety error",
				slog.String("profile", p.Name),
				slog.Any("error", err),
			)
			return "", nil
		}
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	if s.detector.IsRefusal(resp.Content) {
		return "", nil
	}
	return resp.Content, nil
}

// Windows cuts text into sequential non-overlapping windows of at most size
// runes.
func Windows(text string, size int) []string {
	r := []rune(text)
	if size <= 0 || len(r) <= size {
		return []string{text}
	}
	out := make([]string, 0, len(r)/size+1)
	for start := 0; start < len(r); start += size {
		out = append(out, string(r[start:min(start+size, len(r))]))
	}
	return out
}
