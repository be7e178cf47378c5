package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
		{"知识管理系统", 1}, // 6 runes, not 18 bytes
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.input); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_Truncate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		tokens int
		want   string
	}{
		{"fits", "short", 10, "short"},
		{"cut", strings.Repeat("a", 20), 2, strings.Repeat("a", 8)},
		{"runes", "文档摘要很长很长", 1, "文档摘要"},
		{"zero budget", "anything", 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Truncate(tc.input, tc.tokens); got != tc.want {
				t.Errorf("Truncate = %q, want %q", got, tc.want)
			}
		})
	}
}

func Test_Share(t *testing.T) {
	t.Parallel()
	if got := Share(6000, 3, 100); got != 2000 {
		t.Errorf("Share = %d, want 2000", got)
	}
	if got := Share(300, 10, 100); got != 100 {
		t.Errorf("Share floor = %d, want 100", got)
	}
	if got := Share(500, 0, 100); got != 500 {
		t.Errorf("Share n=0 = %d, want 500", got)
	}
}
