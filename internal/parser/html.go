// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package parser

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

var blockLevel = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Tr: true, atom.Table: true,
	atom.Blockquote: true, atom.Pre: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Main: true, atom.Nav: true, atom.Aside: true,
	atom.Dt: true, atom.Dd: true, atom.Figcaption: true,
}

// parseHTML extracts the visible text of an HTML document, one line per
// block element. The <title> element becomes the title.
func parseHTML(raw []byte) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}

	var (
		title string
		b     strings.Builder
	)
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inHead bool) {
		switch n.Type {
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Title {
				if title == "" {
					title = collapse(textOf(n))
				}
				return
			}
			if n.DataAtom == atom.Head {
				inHead = true
			}
			if blockLevel[n.DataAtom] {
				b.WriteByte('\n')
				defer b.WriteByte('\n')
			}
		case html.TextNode:
			if !inHead {
				b.WriteString(n.Data)
			}
			return
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inHead)
		}
	}
	walk(doc, false)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	return title, strings.Join(lines, "\n"), nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
