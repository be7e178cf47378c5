package summarizer

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Axis is one of the five knowledge-type dimensions a document is scored on.
type Axis string

const (
	AxisProcedural Axis = "procedural"
	AxisConceptual Axis = "conceptual"
	AxisReasoning  Axis = "reasoning"
	AxisSystemic   Axis = "systemic"
	AxisNarrative  Axis = "narrative"
)

// Axes lists every axis in canonical order.
var Axes = []Axis{AxisProcedural, AxisConceptual, AxisReasoning, AxisSystemic, AxisNarrative}

// DominantThreshold is the score an axis must exceed to be dominant.
const DominantThreshold = 7.0

const (
	maxScore        = 10.0
	maxEvidence     = 5
	previewRunes    = 160
	fallbackSummary = 500
)

// ScanTrace records how the model characterised the document.
type ScanTrace struct {
	DIKWLevel          string   `json:"dikw_level"`
	TacitExplicitRatio string   `json:"tacit_explicit_ratio"`
	LogicPattern       string   `json:"logic_pattern"`
	Evidence           []string `json:"evidence"`
}

// KnowledgeModule is one typed unit of knowledge extracted from the document.
type KnowledgeModule struct {
	Type          Axis     `json:"type"`
	Score         float64  `json:"score"`
	CoreValue     string   `json:"core_value"`
	Content       string   `json:"content"`
	Evidence      []string `json:"evidence"`
	SourcePreview string   `json:"source_preview"`
}

// Report is the cognitive report for a whole document. Every field is
// always populated (possibly with zero values); see [Parse].
type Report struct {
	Scores           map[Axis]float64  `json:"scores"`
	DominantTypes    []Axis            `json:"dominant_types"`
	ScanTrace        ScanTrace         `json:"scan_trace"`
	KnowledgeModules []KnowledgeModule `json:"knowledge_modules"`
	ExecutiveSummary string            `json:"executive_summary"`
	DistilledContent string            `json:"distilled_content"`
	RelatedTags      []string          `json:"related_tags"`
}

// Score returns the score for axis, zero when absent.
func (r *Report) Score(axis Axis) float64 { return r.Scores[axis] }

// dominant returns the axes scoring above DominantThreshold in canonical order.
func dominant(scores map[Axis]float64) []Axis {
	out := []Axis{}
	for _, a := range Axes {
		if scores[a] > DominantThreshold {
			out = append(out, a)
		}
	}
	return out
}

var (
	fencedJSON  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")
	numberRe    = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	headingRe   = regexp.MustCompile(`(?m)^#{1,4}\s*(.+?)\s*$`)
	tagSplitter = regexp.MustCompile(`[,，;；、]`)
)

// axisAliases maps lowercase names the model may use to an Axis.
var axisAliases = map[string]Axis{
	"procedural": AxisProcedural, "procedure": AxisProcedural, "程序性": AxisProcedural, "程序": AxisProcedural,
	"conceptual": AxisConceptual, "concept": AxisConceptual, "概念性": AxisConceptual, "概念": AxisConceptual,
	"reasoning": AxisReasoning, "logical": AxisReasoning, "推理": AxisReasoning, "逻辑": AxisReasoning,
	"systemic": AxisSystemic, "system": AxisSystemic, "系统性": AxisSystemic, "系统": AxisSystemic,
	"narrative": AxisNarrative, "story": AxisNarrative, "叙事性": AxisNarrative, "叙事": AxisNarrative,
}

// Parse turns raw model output into a fully populated Report. The output is
// expected to hold markdown sections followed by a JSON classification
// block, but any part may be missing or malformed. Defaults:
//
//   - scores: 0 for each missing axis, clamped to [0,10]; "8/10" and "7.5"
//     strings are accepted
//   - dominant_types: recomputed from scores, never trusted from the model
//   - scan_trace strings: ""; evidence: empty, at most 5 entries
//   - knowledge_modules: unknown types dropped; a missing score takes the
//     axis score; source_preview defaults to the start of content
//   - executive_summary: the informative section, else the start of the
//     markdown body
//   - distilled_content: the markdown body
//   - related_tags: empty; a comma-separated string is split
func Parse(raw string) *Report {
	obj, body := extractJSON(raw)
	sections := markdownSections(body)

	r := &Report{Scores: make(map[Axis]float64, len(Axes))}

	scoreSrc := asMap(obj["scores"])
	if scoreSrc == nil {
		scoreSrc = asMap(obj["classification"])
	}
	for _, a := range Axes {
		v, _ := asFloat(scoreSrc[string(a)])
		r.Scores[a] = clampScore(v)
	}
	r.DominantTypes = dominant(r.Scores)

	trace := asMap(obj["scan_trace"])
	r.ScanTrace = ScanTrace{
		DIKWLevel:          asString(trace["dikw_level"]),
		TacitExplicitRatio: asString(trace["tacit_explicit_ratio"]),
		LogicPattern:       asString(trace["logic_pattern"]),
		Evidence:           capList(asStrings(trace["evidence"]), maxEvidence),
	}

	r.KnowledgeModules = []KnowledgeModule{}
	if list, ok := obj["knowledge_modules"].([]any); ok {
		for _, item := range list {
			if km, ok := parseModule(asMap(item), r.Scores); ok {
				r.KnowledgeModules = append(r.KnowledgeModules, km)
			}
		}
	}

	r.ExecutiveSummary = strings.TrimSpace(asString(obj["executive_summary"]))
	if r.ExecutiveSummary == "" {
		r.ExecutiveSummary = sections["informative"]
	}
	if r.ExecutiveSummary == "" {
		r.ExecutiveSummary = truncateRunes(collapseSpace(body), fallbackSummary)
	}

	r.DistilledContent = strings.TrimSpace(asString(obj["distilled_content"]))
	if r.DistilledContent == "" {
		r.DistilledContent = body
	}

	r.RelatedTags = dedupe(asStrings(obj["related_tags"]))
	return r
}

func parseModule(m map[string]any, scores map[Axis]float64) (KnowledgeModule, bool) {
	if m == nil {
		return KnowledgeModule{}, false
	}
	axis, ok := axisAliases[strings.ToLower(strings.TrimSpace(asString(m["type"])))]
	if !ok {
		return KnowledgeModule{}, false
	}
	score, ok := asFloat(m["score"])
	if !ok {
		score = scores[axis]
	}
	content := strings.TrimSpace(asString(m["content"]))
	preview := strings.TrimSpace(asString(m["source_preview"]))
	if preview == "" {
		preview = truncateRunes(content, previewRunes)
	}
	return KnowledgeModule{
		Type:          axis,
		Score:         clampScore(score),
		CoreValue:     strings.TrimSpace(asString(m["core_value"])),
		Content:       content,
		Evidence:      capList(asStrings(m["evidence"]), maxEvidence),
		SourcePreview: preview,
	}, true
}

// extractJSON returns the decoded classification object and the markdown
// body with the JSON removed. A missing or invalid block yields an empty
// map. A fenced block is always cut from the body; bare braces only when
// they decode, since they may be part of the prose.
func extractJSON(raw string) (map[string]any, string) {
	var obj map[string]any
	if loc := fencedJSON.FindStringSubmatchIndex(raw); loc != nil {
		body := strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:])
		if err := json.Unmarshal([]byte(raw[loc[2]:loc[3]]), &obj); err != nil || obj == nil {
			return map[string]any{}, body
		}
		return obj, body
	}
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return map[string]any{}, strings.TrimSpace(raw)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil || obj == nil {
		return map[string]any{}, strings.TrimSpace(raw)
	}
	return obj, strings.TrimSpace(raw[:start] + raw[end+1:])
}

// sectionKeys maps heading words to canonical section names.
var sectionKeys = []struct {
	match string
	key   string
}{
	{"informative", "informative"}, {"信息", "informative"},
	{"structural", "structural"}, {"结构", "structural"},
	{"practical", "practical"}, {"实践", "practical"},
	{"critical", "critical"}, {"批判", "critical"},
	{"insight", "insight"}, {"洞察", "insight"},
}

// markdownSections splits body on headings and returns the text under each
// recognised heading.
func markdownSections(body string) map[string]string {
	out := map[string]string{}
	locs := headingRe.FindAllStringSubmatchIndex(body, -1)
	for i, loc := range locs {
		title := strings.ToLower(body[loc[2]:loc[3]])
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		text := strings.TrimSpace(body[loc[1]:end])
		for _, sk := range sectionKeys {
			if strings.Contains(title, sk.match) {
				if _, seen := out[sk.key]; !seen {
					out[sk.key] = text
				}
				break
			}
		}
	}
	return out
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		m := numberRe.FindString(t)
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asStrings(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(asString(item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range tagSplitter.Split(t, -1) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

func capList(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func dedupe(s []string) []string {
	seen := make(map[string]bool, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
