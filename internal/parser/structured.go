// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseStructured flattens YAML or JSON into one "path: value" line per
// scalar, keeping document order. Multi-document YAML streams are joined.
func parseStructured(raw []byte) (string, error) {
	var lines []string

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Some valid JSON (tab indentation) is not valid YAML.
			return flattenJSON(raw)
		}
		flatten(&node, "", &lines)
	}
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return "", err
	}
	var lines []string
	flatten(&node, "", &lines)
	return strings.Join(lines, "\n"), nil
}

func flatten(n *yaml.Node, prefix string, lines *[]string) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			flatten(c, prefix, lines)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			flatten(n.Content[i+1], join(prefix, n.Content[i].Value), lines)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			flatten(c, prefix+"["+strconv.Itoa(i)+"]", lines)
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			flatten(n.Alias, prefix, lines)
		}
	case yaml.ScalarNode:
		if n.Tag == "!!null" || n.Value == "" {
			return
		}
		if prefix == "" {
			*lines = append(*lines, n.Value)
			return
		}
		*lines = append(*lines, prefix+": "+n.Value)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
