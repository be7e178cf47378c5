// Package safety decides whether an LLM response or provider error is a
// content-safety interception. The summarizer consults a [Detector] and
// retries with a gentler sampling profile when one fires.
package safety

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Detector classifies completion output and provider errors.
type Detector interface {
	// IsRefusal reports whether text looks like a model refusal rather than
	// a real answer.
	IsRefusal(text string) bool
	// IsSafetyError reports whether err was raised by a provider's safety,
	// policy, or moderation layer.
	IsSafetyError(err error) bool
}

// Defaults for [KeywordDetector].
const (
	DefaultMaxRefusalLength = 1500
	DefaultMinSections      = 2
)

// KeywordDetector is a pattern-based [Detector]. A response counts as a
// refusal only when all three hold: it contains a refusal marker, it has
// fewer than MinSections of the expected section markers, and it is shorter
// than MaxRefusalLength runes. A long structured answer that happens to
// mention "I cannot" is therefore not a refusal.
type KeywordDetector struct {
	RefusalMarkers   []string
	SectionMarkers   []string
	ErrorPatterns    []*regexp.Regexp
	MinSections      int
	MaxRefusalLength int
}

var defaultRefusalMarkers = []string{
	"i cannot", "i can't", "i can not", "i am unable", "i'm unable",
	"i won't", "i will not", "i'm sorry", "i am sorry", "as an ai",
	"cannot assist", "cannot help with", "not able to help",
	"against my guidelines", "violates", "inappropriate",
	"无法", "不能", "抱歉", "对不起", "不便", "拒绝", "无法提供", "不予",
}

// DefaultSectionMarkers are the headings the summarizer prompt asks for.
var DefaultSectionMarkers = []string{
	"informative", "structural", "practical", "critical", "insight",
	"信息", "结构", "实践", "批判", "洞察",
	"```json",
}

var defaultErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)safety`),
	regexp.MustCompile(`(?i)content[_ -]?filter`),
	regexp.MustCompile(`(?i)content[_ -]?policy`),
	regexp.MustCompile(`(?i)\bpolicy\b`),
	regexp.MustCompile(`(?i)moderation`),
	regexp.MustCompile(`(?i)\bblocked\b`),
	regexp.MustCompile(`(?i)sensitive`),
	regexp.MustCompile(`安全|敏感|违规|审核|内容过滤`),
}

// NewDefaultDetector returns a KeywordDetector with English and Chinese
// markers.
func NewDefaultDetector() *KeywordDetector {
	return &KeywordDetector{
		RefusalMarkers:   defaultRefusalMarkers,
		SectionMarkers:   DefaultSectionMarkers,
		ErrorPatterns:    defaultErrorPatterns,
		MinSections:      DefaultMinSections,
		MaxRefusalLength: DefaultMaxRefusalLength,
	}
}

// IsRefusal implements [Detector].
func (d *KeywordDetector) IsRefusal(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if utf8.RuneCountInString(trimmed) >= d.MaxRefusalLength {
		return false
	}
	lower := strings.ToLower(trimmed)
	if !containsAny(lower, d.RefusalMarkers) {
		return false
	}
	return countContained(lower, d.SectionMarkers) < d.MinSections
}

// IsSafetyError implements [Detector].
func (d *KeywordDetector) IsSafetyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, re := range d.ErrorPatterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func countContained(s string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(s, m) {
			n++
		}
	}
	return n
}
