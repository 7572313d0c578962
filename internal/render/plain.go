// ABOUTME: Renders agent markdown output as plain text for chat platforms
// ABOUTME: Walks the goldmark AST; no HTML, no ANSI, just readable text

// Package render flattens the agent's markdown responses into plain text.
// Chat platforms each have their own markup dialect and all of them choke
// on raw markdown, so the lowest common denominator is plain text with
// structure preserved by spacing and simple markers.
package render

import (
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// The parser configuration never changes and a goldmark parser is safe to
// share, so build it once.
var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func parser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return parserInstance
}

// Plain renders markdown as plain text. Emphasis markers are dropped,
// headings become their own lines, list items get a bullet, and fenced
// code blocks keep their content verbatim.
func Plain(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	source := []byte(markdown)
	doc := parser().Parser().Parse(text.NewReader(source))

	w := &plainWriter{source: source}
	_ = ast.Walk(doc, w.walk)

	return strings.TrimSpace(w.out.String())
}

// plainWriter accumulates plain text while walking the AST.
type plainWriter struct {
	source    []byte
	out       strings.Builder
	listDepth int
}

func (w *plainWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			w.blankLine()
		} else {
			w.out.WriteString("\n")
		}

	case *ast.Paragraph:
		if entering && w.listDepth == 0 {
			w.blankLine()
		}
		if !entering {
			w.out.WriteString("\n")
		}

	case *ast.TextBlock:
		if !entering {
			w.out.WriteString("\n")
		}

	case *ast.Text:
		if entering {
			w.out.Write(node.Segment.Value(w.source))
			if node.SoftLineBreak() {
				w.out.WriteString(" ")
			}
			if node.HardLineBreak() {
				w.out.WriteString("\n")
			}
		}

	case *ast.CodeSpan:
		if entering {
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					w.out.Write(t.Segment.Value(w.source))
				}
			}
			return ast.WalkSkipChildren, nil
		}

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			w.blankLine()
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				w.out.Write(seg.Value(w.source))
			}
			return ast.WalkSkipChildren, nil
		}

	case *ast.List:
		if entering {
			w.listDepth++
			if w.listDepth == 1 {
				w.blankLine()
			}
		} else {
			w.listDepth--
		}

	case *ast.ListItem:
		if entering {
			w.out.WriteString(strings.Repeat("  ", w.listDepth-1))
			w.out.WriteString("• ")
		}

	case *ast.Blockquote:
		if entering {
			w.blankLine()
		}

	case *ast.ThematicBreak:
		if entering {
			w.blankLine()
			w.out.WriteString("---\n")
		}

	case *ast.AutoLink:
		if entering {
			w.out.Write(node.URL(w.source))
		}

	case *ast.Link:
		// Children render the link text; append the target if it adds
		// information
		if !entering {
			url := string(node.Destination)
			if url != "" && !strings.Contains(w.tailLine(), url) {
				w.out.WriteString(" (")
				w.out.WriteString(url)
				w.out.WriteString(")")
			}
		}

	case *ast.Image:
		if entering {
			w.out.WriteString("[image: ")
			w.out.Write(node.Text(w.source))
			w.out.WriteString("]")
			return ast.WalkSkipChildren, nil
		}

	case *extast.Strikethrough, *ast.Emphasis:
		// Markers dropped, children render as-is

	case *extast.TaskCheckBox:
		if entering {
			if node.IsChecked {
				w.out.WriteString("[x] ")
			} else {
				w.out.WriteString("[ ] ")
			}
		}

	case *extast.Table:
		if entering {
			w.blankLine()
		}

	case *extast.TableRow, *extast.TableHeader:
		if !entering {
			w.out.WriteString("\n")
		}

	case *extast.TableCell:
		if !entering {
			w.out.WriteString("  ")
		}
	}

	return ast.WalkContinue, nil
}

// blankLine ensures the output ends with exactly one empty line.
func (w *plainWriter) blankLine() {
	s := w.out.String()
	if s == "" || strings.HasSuffix(s, "\n\n") {
		return
	}
	if strings.HasSuffix(s, "\n") {
		w.out.WriteString("\n")
		return
	}
	w.out.WriteString("\n\n")
}

// tailLine returns the current last line of output.
func (w *plainWriter) tailLine() string {
	s := w.out.String()
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Truncate cuts s to at most limit runes, appending an ellipsis marker
// when anything was dropped. Platforms cap message sizes (Telegram at
// 4096 characters) and a clipped reply beats a delivery error.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	const marker = "…"
	if limit <= len([]rune(marker)) {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + marker
}
