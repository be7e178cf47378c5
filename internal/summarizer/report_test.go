package summarizer

import (
	"slices"
	"testing"
)

func TestParse_WellFormed(t *testing.T) {
	t.Parallel()
	r := Parse(wellFormed)

	wantScores := map[Axis]float64{
		AxisProcedural: 8, AxisConceptual: 6, AxisReasoning: 5, AxisSystemic: 7.5, AxisNarrative: 1,
	}
	for a, want := range wantScores {
		if got := r.Score(a); got != want {
			t.Errorf("score[%s] = %v, want %v", a, got, want)
		}
	}
	if !slices.Equal(r.DominantTypes, []Axis{AxisProcedural, AxisSystemic}) {
		t.Errorf("dominant = %v", r.DominantTypes)
	}
	if r.ExecutiveSummary != "Caching cuts latency." {
		t.Errorf("summary = %q", r.ExecutiveSummary)
	}
	if !slices.Equal(r.RelatedTags, []string{"cache", "latency"}) {
		t.Errorf("tags = %v", r.RelatedTags)
	}
}

func TestParse_Coercion(t *testing.T) {
	t.Parallel()
	raw := "## Informative\nThe informative section.\n\n" +
		"```json\n" + `{
  "scores": {"procedural": "8/10", "conceptual": 14, "reasoning": -2, "systemic": "n/a"},
  "scan_trace": {"dikw_level": "knowledge", "tacit_explicit_ratio": "30%/70%", "evidence": "quote one, quote two"},
  "knowledge_modules": [
    {"type": "Procedural", "score": "9", "content": "Step one then step two.", "core_value": "how to do it"},
    {"type": "culinary", "score": 10, "content": "unknown type"},
    {"type": "推理", "content": "no score given"},
    "not an object"
  ],
  "related_tags": "cache，latency, cache"
}` + "\n```"

	r := Parse(raw)

	tests := []struct {
		axis Axis
		want float64
	}{
		{AxisProcedural, 8},
		{AxisConceptual, 10},
		{AxisReasoning, 0},
		{AxisSystemic, 0},
		{AxisNarrative, 0},
	}
	for _, tt := range tests {
		if got := r.Score(tt.axis); got != tt.want {
			t.Errorf("score[%s] = %v, want %v", tt.axis, got, tt.want)
		}
	}
	if !slices.Equal(r.DominantTypes, []Axis{AxisProcedural, AxisConceptual}) {
		t.Errorf("dominant = %v", r.DominantTypes)
	}
	if !slices.Equal(r.ScanTrace.Evidence, []string{"quote one", "quote two"}) {
		t.Errorf("evidence = %q", r.ScanTrace.Evidence)
	}
	if len(r.KnowledgeModules) != 2 {
		t.Fatalf("modules = %d, want 2 (unknown type and non-object dropped)", len(r.KnowledgeModules))
	}
	if m := r.KnowledgeModules[0]; m.Type != AxisProcedural || m.Score != 9 || m.SourcePreview != "Step one then step two." {
		t.Errorf("module 0 = %+v", m)
	}
	if m := r.KnowledgeModules[1]; m.Type != AxisReasoning || m.Score != 0 {
		t.Errorf("module 1 = %+v, want reasoning with axis score", m)
	}
	if r.ExecutiveSummary != "The informative section." {
		t.Errorf("summary fallback = %q", r.ExecutiveSummary)
	}
	if r.DistilledContent != "## Informative\nThe informative section." {
		t.Errorf("distilled fallback = %q", r.DistilledContent)
	}
	if !slices.Equal(r.RelatedTags, []string{"cache", "latency"}) {
		t.Errorf("tags = %v", r.RelatedTags)
	}
}

func TestParse_NoJSON(t *testing.T) {
	t.Parallel()
	r := Parse("Plain prose without any structure at all.")

	if len(r.Scores) != len(Axes) {
		t.Errorf("scores must hold every axis, got %v", r.Scores)
	}
	if r.DominantTypes == nil || r.KnowledgeModules == nil || r.RelatedTags == nil || r.ScanTrace.Evidence == nil {
		t.Error("slices must be non-nil")
	}
	if r.ExecutiveSummary != "Plain prose without any structure at all." {
		t.Errorf("summary = %q", r.ExecutiveSummary)
	}
	if r.DistilledContent != "Plain prose without any structure at all." {
		t.Errorf("distilled = %q", r.DistilledContent)
	}
}

func TestParse_BrokenJSONFallsBackToBody(t *testing.T) {
	t.Parallel()
	raw := "## Informative\nBody text.\n```json\n{\"scores\": {\"procedural\": 8,,}\n```"
	r := Parse(raw)
	if r.Score(AxisProcedural) != 0 {
		t.Errorf("broken json must not yield scores, got %v", r.Scores)
	}
	if r.ExecutiveSummary != "Body text." {
		t.Errorf("summary = %q", r.ExecutiveSummary)
	}
}
