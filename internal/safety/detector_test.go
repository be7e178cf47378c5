package safety

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsRefusal(t *testing.T) {
	t.Parallel()
	structured := "## Informative\nThe paper explains caching.\n## Structural\nThree parts.\n## Practical\nSteps.\n" +
		"I cannot stress enough how useful this is."

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"plain refusal", "I'm sorry, but I cannot help with this request.", true},
		{"chinese refusal", "抱歉，我无法处理该内容。", true},
		{"empty", "", false},
		{"normal answer", "## Informative\nCaching reduces latency.", false},
		{"refusal marker inside structured output", structured, false},
		{"long text with marker", "I cannot " + strings.Repeat("explain the details. ", 100), false},
		{"one section is not enough", "## Informative\nI cannot summarize this document.", true},
	}
	d := NewDefaultDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := d.IsRefusal(tt.text); got != tt.want {
				t.Errorf("IsRefusal(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsSafetyError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"content filter", errors.New(`status 400: {"code":"content_filter"}`), true},
		{"policy", errors.New("request rejected by usage Policy"), true},
		{"moderation", errors.New("Moderation flagged input"), true},
		{"wrapped", fmt.Errorf("llm: generate: %w", errors.New("SAFETY: blocked")), true},
		{"chinese", errors.New("输入内容包含敏感信息"), true},
		{"timeout", errors.New("context deadline exceeded"), false},
		{"rate limit", errors.New("429 too many requests"), false},
	}
	d := NewDefaultDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := d.IsSafetyError(tt.err); got != tt.want {
				t.Errorf("IsSafetyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
