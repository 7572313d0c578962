// ABOUTME: Tests for markdown-to-plain-text rendering and rune-safe truncation.

package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlain(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     string
	}{
		{
			name:     "emphasis markers dropped",
			markdown: "some **bold** and *italic* text",
			want:     "some bold and italic text",
		},
		{
			name:     "strikethrough markers dropped",
			markdown: "~~gone~~ kept",
			want:     "gone kept",
		},
		{
			name:     "heading becomes its own line",
			markdown: "# Title\n\nBody here.",
			want:     "Title\n\nBody here.",
		},
		{
			name:     "soft line break reflows to a space",
			markdown: "line one\nline two",
			want:     "line one line two",
		},
		{
			name:     "hard line break preserved",
			markdown: "line one  \nline two",
			want:     "line one\nline two",
		},
		{
			name:     "code span kept verbatim",
			markdown: "run `go test ./...` now",
			want:     "run go test ./... now",
		},
		{
			name:     "fenced code block kept verbatim",
			markdown: "before\n\n```go\nfmt.Println(\"hi\")\n```\n\nafter",
			want:     "before\n\nfmt.Println(\"hi\")\n\nafter",
		},
		{
			name:     "list items get bullets",
			markdown: "- one\n- two",
			want:     "• one\n• two",
		},
		{
			name:     "nested list indents",
			markdown: "- a\n  - b",
			want:     "• a\n  • b",
		},
		{
			name:     "task checkboxes survive",
			markdown: "- [x] done\n- [ ] todo",
			want:     "• [x] done\n• [ ] todo",
		},
		{
			name:     "link target appended",
			markdown: "see [the docs](https://example.com)",
			want:     "see the docs (https://example.com)",
		},
		{
			name:     "link target skipped when text is the url",
			markdown: "[https://example.com](https://example.com)",
			want:     "https://example.com",
		},
		{
			name:     "autolink kept",
			markdown: "visit https://example.com today",
			want:     "visit https://example.com today",
		},
		{
			name:     "image becomes a placeholder",
			markdown: "![build graph](graph.png)",
			want:     "[image: build graph]",
		},
		{
			name:     "blockquote flattened",
			markdown: "> quoted words",
			want:     "quoted words",
		},
		{
			name:     "thematic break",
			markdown: "a\n\n---\n\nb",
			want:     "a\n\n---\n\nb",
		},
		{
			name:     "empty input",
			markdown: "   \n\t",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plain(tt.markdown))
		})
	}
}

func TestPlain_Table(t *testing.T) {
	out := Plain("| name | state |\n|------|-------|\n| s1 | idle |")

	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "name")
	assert.Contains(t, lines[0], "state")
	assert.Contains(t, lines[1], "s1")
	assert.Contains(t, lines[1], "idle")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "under limit unchanged", in: "short", limit: 10, want: "short"},
		{name: "at limit unchanged", in: "exact", limit: 5, want: "exact"},
		{name: "over limit clipped with marker", in: "abcdef", limit: 4, want: "abc…"},
		{name: "zero limit disables truncation", in: "anything", limit: 0, want: "anything"},
		{name: "limit one keeps first rune", in: "abc", limit: 1, want: "a"},
		{name: "multibyte runes counted as one", in: "日本語のテキスト", limit: 4, want: "日本語…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.limit)
			assert.Equal(t, tt.want, got)
			if tt.limit > 0 {
				assert.LessOrEqual(t, len([]rune(got)), tt.limit)
			}
		})
	}
}
