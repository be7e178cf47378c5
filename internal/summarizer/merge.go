package summarizer

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MergeOptions bounds the merged report.
type MergeOptions struct {
	// MaxSummaryRunes truncates the merged executive summary.
	MaxSummaryRunes int
	// MinSummaryRunes is the floor below which the first window's summary
	// is preferred when it is longer.
	MinSummaryRunes int
	// MaxTags keeps the most frequent related tags.
	MaxTags int
}

// DefaultMergeOptions returns the defaults used by [ConfigFromEnv].
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{MaxSummaryRunes: 1200, MinSummaryRunes: 200, MaxTags: 12}
}

var ratioRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%\s*/\s*(\d+(?:\.\d+)?)\s*%`)

// Merge combines per-window reports into one. A single report is returned
// unchanged; an empty slice yields an empty report.
func Merge(reports []*Report, opts MergeOptions) *Report {
	switch len(reports) {
	case 0:
		return Parse("")
	case 1:
		return reports[0]
	}

	out := &Report{
		Scores:           mergeScores(reports),
		ExecutiveSummary: mergeSummary(reports, opts),
		DistilledContent: joinNonEmpty(reports, func(r *Report) string { return r.DistilledContent }, "\n\n"),
		RelatedTags:      mergeTags(reports, opts.MaxTags),
	}
	out.DominantTypes = dominant(out.Scores)
	out.ScanTrace = ScanTrace{
		DIKWLevel:          mode(reports, func(r *Report) string { return r.ScanTrace.DIKWLevel }),
		LogicPattern:       mode(reports, func(r *Report) string { return r.ScanTrace.LogicPattern }),
		TacitExplicitRatio: mergeRatio(reports),
		Evidence:           mergeEvidence(reports, func(r *Report) []string { return r.ScanTrace.Evidence }),
	}
	out.KnowledgeModules = mergeModules(reports, out.Scores)
	return out
}

// mergeScores averages each axis, rounds to one decimal, and clamps.
func mergeScores(reports []*Report) map[Axis]float64 {
	out := make(map[Axis]float64, len(Axes))
	for _, a := range Axes {
		sum := 0.0
		for _, r := range reports {
			sum += r.Scores[a]
		}
		out[a] = clampScore(round1(sum / float64(len(reports))))
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func mergeSummary(reports []*Report, opts MergeOptions) string {
	joined := collapseSpace(joinNonEmpty(reports, func(r *Report) string { return r.ExecutiveSummary }, " "))
	merged := joined
	if opts.MaxSummaryRunes > 0 {
		merged = truncateRunes(joined, opts.MaxSummaryRunes)
	}
	first := collapseSpace(reports[0].ExecutiveSummary)
	if utf8.RuneCountInString(merged) < opts.MinSummaryRunes &&
		utf8.RuneCountInString(first) > utf8.RuneCountInString(merged) {
		return first
	}
	return merged
}

func joinNonEmpty(reports []*Report, get func(*Report) string, sep string) string {
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		if s := strings.TrimSpace(get(r)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

// mergeTags ranks tags by frequency; ties keep first-seen order.
func mergeTags(reports []*Report, limit int) []string {
	counts := map[string]int{}
	var order []string
	for _, r := range reports {
		for _, t := range r.RelatedTags {
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	if order == nil {
		return []string{}
	}
	return order
}

// mode returns the most frequent non-empty value; ties go to the value seen
// first.
func mode(reports []*Report, get func(*Report) string) string {
	counts := map[string]int{}
	best, bestN := "", 0
	for _, r := range reports {
		v := strings.TrimSpace(get(r))
		if v == "" {
			continue
		}
		counts[v]++
	}
	for _, r := range reports {
		v := strings.TrimSpace(get(r))
		if v != "" && counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best
}

// mergeRatio averages parseable "X%/Y%" ratios, else keeps the first
// non-empty raw value.
func mergeRatio(reports []*Report) string {
	var sumX, sumY float64
	n := 0
	firstRaw := ""
	for _, r := range reports {
		raw := strings.TrimSpace(r.ScanTrace.TacitExplicitRatio)
		if raw == "" {
			continue
		}
		if firstRaw == "" {
			firstRaw = raw
		}
		m := ratioRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		x, errX := strconv.ParseFloat(m[1], 64)
		y, errY := strconv.ParseFloat(m[2], 64)
		if errX != nil || errY != nil {
			continue
		}
		sumX += x
		sumY += y
		n++
	}
	if n == 0 {
		return firstRaw
	}
	return fmt.Sprintf("%s%%/%s%%", formatPct(sumX/float64(n)), formatPct(sumY/float64(n)))
}

func formatPct(v float64) string {
	return strconv.FormatFloat(math.Round(v), 'f', -1, 64)
}

// mergeEvidence unions evidence in first-seen order, capped.
func mergeEvidence(reports []*Report, get func(*Report) []string) []string {
	var all []string
	for _, r := range reports {
		all = append(all, get(r)...)
	}
	return capList(dedupe(all), maxEvidence)
}

// mergeModules emits exactly one module per axis. The highest-scoring module
// of each type supplies content and preview; scores are averaged over the
// modules found; core values and evidence are unioned.
func mergeModules(reports []*Report, axisScores map[Axis]float64) []KnowledgeModule {
	groups := make(map[Axis][]KnowledgeModule, len(Axes))
	for _, r := range reports {
		for _, km := range r.KnowledgeModules {
			groups[km.Type] = append(groups[km.Type], km)
		}
	}

	out := make([]KnowledgeModule, 0, len(Axes))
	for _, a := range Axes {
		group := groups[a]
		if len(group) == 0 {
			out = append(out, KnowledgeModule{
				Type:     a,
				Score:    axisScores[a],
				Evidence: []string{},
			})
			continue
		}

		rep := group[0]
		sum := 0.0
		var cores, evidence []string
		for _, km := range group {
			if km.Score > rep.Score {
				rep = km
			}
			sum += km.Score
			if c := strings.TrimSpace(km.CoreValue); c != "" {
				cores = append(cores, c)
			}
			evidence = append(evidence, km.Evidence...)
		}
		out = append(out, KnowledgeModule{
			Type:          a,
			Score:         clampScore(round1(sum / float64(len(group)))),
			CoreValue:     strings.Join(dedupe(cores), "; "),
			Content:       rep.Content,
			Evidence:      capList(dedupe(evidence), maxEvidence),
			SourcePreview: rep.SourcePreview,
		})
	}
	return out
}
