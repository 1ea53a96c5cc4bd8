package extractor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// extractMarkdown strips markdown syntax and returns the text of each block on
// its own line. Table cells are joined with " | ".
func extractMarkdown(_ context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read markdown: %w", err)
	}

	doc := markdownParser.Parser().Parse(text.NewReader(content))

	var sb strings.Builder
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				newline()
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			newline()
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				sb.Write(line.Value(content))
			}
			return ast.WalkSkipChildren, nil
		default:
			kind := n.Kind().String()
			if kind == "TableRow" || kind == "TableHeader" {
				newline()
				sb.WriteString(tableRowText(n, content))
				sb.WriteString("\n")
				return ast.WalkSkipChildren, nil
			}
			if n.Type() == ast.TypeBlock {
				newline()
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(sb.String()), nil
}

func tableRowText(row ast.Node, content []byte) string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		cells = append(cells, strings.TrimSpace(inlineText(cell, content)))
	}
	return strings.Join(cells, " | ")
}

func inlineText(n ast.Node, content []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := child.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(content))
		case *ast.String:
			sb.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
