// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package scanner

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// dbFile is the layout of a secrets-patterns-db rules file.
type dbFile struct {
	Patterns []dbEntry `yaml:"patterns"`
}

type dbEntry struct {
	Pattern dbPattern `yaml:"pattern"`
}

type dbPattern struct {
	Name       string `yaml:"name"`
	Regex      string `yaml:"regex"`
	Confidence string `yaml:"confidence"`
}

// LoadRules reads additional rules from a secrets-patterns-db style YAML
// file. Only high-confidence patterns are loaded; lower levels match too
// much ordinary prose. The first pattern of a given name wins.
//
// Any high-confidence pattern that fails to compile fails the load, so a
// partially applied rules file never goes unnoticed.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vikingerr.Errorf(vikingerr.CodeSecurityScannerRuleInvalid, "reading rules file %s: %w", path, err)
	}
	return parseRules(data)
}

func parseRules(data []byte) ([]Rule, error) {
	var f dbFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, vikingerr.Errorf(vikingerr.CodeSecurityScannerRuleInvalid, "parsing rules file: %w", err)
	}

	seen := make(map[string]bool, len(f.Patterns))
	var (
		rules  []Rule
		failed []string
	)
	for _, entry := range f.Patterns {
		p := entry.Pattern
		if p.Confidence != "high" {
			continue
		}

		name := toSnakeCase(p.Name)
		if name == "" || seen[name] {
			slog.Debug("skipping rules file entry", "name", p.Name)
			continue
		}
		seen[name] = true

		re, err := regexp.Compile(p.Regex)
		if err != nil {
			slog.Error("rules file pattern failed to compile", "name", name, "error", err)
			failed = append(failed, name)
			continue
		}
		rules = append(rules, Rule{Name: name, Pattern: re, Severity: SeverityHigh})
	}

	if len(failed) > 0 {
		return nil, vikingerr.Errorf(vikingerr.CodeSecurityScannerRuleInvalid,
			"%d pattern(s) failed to compile: %v", len(failed), failed)
	}
	return rules, nil
}

// toSnakeCase converts a display name like "AWS API Key" to "aws_api_key".
func toSnakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	prevWasUnderscore := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			prevWasUnderscore = false
		default:
			if !prevWasUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevWasUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
