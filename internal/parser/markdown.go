// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// parseMarkdown renders the block structure of a CommonMark document as
// plain text. The first heading becomes the title.
func parseMarkdown(src []byte) (string, string) {
	root := markdown.Parser().Parse(text.NewReader(src))

	var (
		title  string
		blocks []string
	)
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			h := inlineText(node, src)
			if title == "" {
				title = h
			}
			blocks = append(blocks, h)
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			blocks = append(blocks, inlineText(node, src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			blocks = append(blocks, codeLines(node, src))
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return title, joinBlocks(blocks)
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *ast.Text:
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			case *ast.String:
				b.Write(node.Value)
			case *ast.AutoLink:
				b.Write(node.Label(src))
			case *ast.RawHTML:
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func codeLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}
