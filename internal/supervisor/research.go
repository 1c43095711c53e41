package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
)

const (
	maxFacts   = 20
	maxFactLen = 200
)

const researchSchema = `{
  "type": "object",
  "properties": {"notes": {"type": "string", "description": "markdown notes: headings and bullet facts"}},
  "required": ["notes"]
}`

// research asks the backend for markdown notes about the task.
func (o *Orchestrator) research(ctx context.Context, focus string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research the following task before it is planned.\n\nTask: %s\n", o.agent.Task)
	if ws, ok := o.state.Context["workspace"].(string); ok && ws != "" {
		fmt.Fprintf(&b, "\nWorkspace listing:\n%s\n", ws)
	}
	if focus != "" {
		fmt.Fprintf(&b, "\nFocus on: %s\n", focus)
	}
	b.WriteString("\nWrite concise markdown notes: short headings and one bullet per fact, constraint or risk that matters for the task.")

	var out struct {
		Notes string `json:"notes"`
	}
	if err := o.backend.CompleteJSON(ctx, b.String(), researchSchema, &out); err != nil {
		return "", fmt.Errorf("research: %w", err)
	}
	return out.Notes, nil
}

// ExtractFacts returns the list items of markdown notes, plus top-level
// paragraphs, as single-line facts.
func ExtractFacts(notes string) []string {
	src := []byte(notes)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var facts []string
	add := func(s string) {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" || len(facts) >= maxFacts {
			return
		}
		if len(s) > maxFactLen {
			s = models.Clip(s, maxFactLen) + "..."
		}
		facts = append(facts, s)
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindListItem:
			// Nested items are visited on their own.
			if fc := n.FirstChild(); fc != nil {
				add(nodeText(fc, src))
			}
		case ast.KindParagraph:
			if p := n.Parent(); p != nil && p.Kind() == ast.KindDocument {
				add(nodeText(n, src))
			}
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return facts
}

func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.List:
			if c != n {
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
