// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apply

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// soundCalls are the functions and methods whose string arguments name sounds.
var soundCalls = map[string]bool{
	"s":     true,
	"sound": true,
}

// miniStructure are mini-notation characters that separate tokens.
const miniStructure = "[]<>{}(),|"

var (
	soundNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)
	numberPattern    = regexp.MustCompile(`^-?[0-9]*\.?[0-9]+$`)
)

// miniTokens splits a mini-notation string into raw tokens.
func miniTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || strings.ContainsRune(miniStructure, r)
	})
}

// stripDecorations removes repeat, speed, weight, degrade and sample-index
// modifiers: "bd*2" "hh!3" "sd@2" "oh?" "bd:3" all become the bare name.
func stripDecorations(tok string, cut string) string {
	if i := strings.IndexAny(tok, cut); i >= 0 {
		return tok[:i]
	}
	return tok
}

// soundNamesIn returns the sound names referenced by a mini-notation string.
func soundNamesIn(pattern string) []string {
	var names []string
	for _, tok := range miniTokens(pattern) {
		name := stripDecorations(tok, "*/!@?:%")
		switch name {
		case "", "~", "-", "_", ".":
			continue
		}
		if numberPattern.MatchString(name) || !soundNamePattern.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// soundNames extracts literal sound names from sound-selection calls,
// deduplicated case-insensitively in first-seen order.
func (p *program) soundNames() []string {
	var names []string
	seen := make(map[string]bool)
	walk(p.root, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		if name, _ := p.calleeName(n); !soundCalls[name] {
			return true
		}
		for _, arg := range arguments(n) {
			lit, ok := p.stringLiteral(arg)
			if !ok {
				continue
			}
			for _, s := range soundNamesIn(lit) {
				key := strings.ToLower(s)
				if !seen[key] {
					seen[key] = true
					names = append(names, s)
				}
			}
		}
		return true
	})
	return names
}

// ExtractSoundNames parses code and returns the sound names it references.
//
// Names inside template strings with substitutions or computed arguments
// cannot be known statically and are skipped.
func ExtractSoundNames(ctx context.Context, code string) ([]string, error) {
	p, err := parseProgram(ctx, code)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.soundNames(), nil
}
