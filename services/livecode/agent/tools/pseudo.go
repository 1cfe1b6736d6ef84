// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// PseudoCall is a tool call recovered from markup in model text.
type PseudoCall struct {
	Call    Call
	Dialect string
	Raw     string
}

// argFormat says how a dialect encodes arguments.
type argFormat int

const (
	// argsParameterTags is <parameter name="k">v</parameter> pairs, or a
	// bare JSON object when there are no tags.
	argsParameterTags argFormat = iota

	// argsJSON is a JSON object, possibly malformed.
	argsJSON
)

// dialect describes one markup shape. Pattern group 1 is the tool name and
// group 2 the argument body. Residue matches leftover wrapper tokens that
// are stripped from the shown text.
type dialect struct {
	name    string
	pattern *regexp.Regexp
	args    argFormat
	residue *regexp.Regexp
}

var dialects = []dialect{
	{
		name:    "invoke_xml",
		pattern: regexp.MustCompile(`(?s)<(?:\w+:)?invoke\s+name\s*=\s*["']([^"']+)["']\s*>(.*?)</(?:\w+:)?invoke>`),
		args:    argsParameterTags,
		residue: regexp.MustCompile(`</?(?:\w+:)?function_calls>`),
	},
	{
		name:    "pipe_tokens",
		pattern: regexp.MustCompile(`(?s)<\|tool_call_begin\|>\s*(.*?)\s*<\|tool_call_argument_begin\|>(.*?)<\|tool_call_end\|>`),
		args:    argsJSON,
		residue: regexp.MustCompile(`<\|tool_calls_section_(?:begin|end)\|>`),
	},
}

var (
	parameterTag    = regexp.MustCompile(`(?s)<(?:\w+:)?parameter\s+name\s*=\s*["']([^"']+)["']\s*>(.*?)</(?:\w+:)?parameter>`)
	callIndexSuffix = regexp.MustCompile(`:\d+$`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// HasPseudoMarkup reports whether text contains any recognized markup.
func HasPseudoMarkup(text string) bool {
	for _, d := range dialects {
		if d.pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// ParsePseudoCalls extracts tool calls written as text.
//
// Description:
//
//	Runs every dialect in the table over text, returns the calls in the
//	order they appear, and returns text with the markup removed. Names are
//	normalized: a "functions." prefix and a ":N" index suffix are dropped.
//	Calls are not validated against the tool set; dispatch does that.
//
// Inputs:
//
//	text - Final model output.
//
// Outputs:
//
//	[]PseudoCall - Recovered calls, possibly empty.
//	string - Text with markup stripped and trimmed.
func ParsePseudoCalls(text string) ([]PseudoCall, string) {
	type span struct {
		start, end int
		call       PseudoCall
	}
	var spans []span
	for _, d := range dialects {
		for _, m := range d.pattern.FindAllStringSubmatchIndex(text, -1) {
			name := normalizeToolName(text[m[2]:m[3]])
			body := text[m[4]:m[5]]
			spans = append(spans, span{
				start: m[0],
				end:   m[1],
				call: PseudoCall{
					Call:    Call{ID: "pseudo_" + uuid.NewString(), Name: name, Input: d.parseArgs(body)},
					Dialect: d.name,
					Raw:     text[m[0]:m[1]],
				},
			})
		}
	}
	if len(spans) == 0 {
		return nil, text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	calls := make([]PseudoCall, 0, len(spans))
	last := 0
	for _, s := range spans {
		if s.start < last {
			continue
		}
		b.WriteString(text[last:s.start])
		last = s.end
		calls = append(calls, s.call)
	}
	b.WriteString(text[last:])

	cleaned := b.String()
	for _, d := range dialects {
		cleaned = d.residue.ReplaceAllString(cleaned, "")
	}
	cleaned = blankLines.ReplaceAllString(cleaned, "\n\n")
	return calls, strings.TrimSpace(cleaned)
}

func normalizeToolName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "functions.")
	return callIndexSuffix.ReplaceAllString(name, "")
}

func (d dialect) parseArgs(body string) json.RawMessage {
	body = strings.TrimSpace(body)
	if d.args == argsParameterTags {
		params := parameterTag.FindAllStringSubmatch(body, -1)
		if len(params) > 0 {
			args := make(map[string]any, len(params))
			for _, p := range params {
				raw := strings.TrimSpace(p[2])
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					v = raw
				}
				args[p[1]] = v
			}
			if b, err := json.Marshal(args); err == nil {
				return b
			}
		}
	}
	if body == "" {
		return json.RawMessage("{}")
	}
	if repaired, ok := RepairJSON(body); ok {
		return repaired
	}
	// A JSON string keeps the call encodable; dispatch rejects it as
	// invalid arguments.
	b, _ := json.Marshal(body)
	return b
}
