// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
)

// Completion reasons.
const (
	ReasonStop      = "stop"
	ReasonFallback  = "fallback"
	ReasonMaxRounds = "max_rounds"
	ReasonMaxTokens = "max_tokens"
)

const maxIntentLength = 280

var (
	intentOpener = regexp.MustCompile(`^(?:(?:ok(?:ay)?|sure|alright|got it)[,.!]?\s+)?(?:i(?:'ll| will| am going to|'m going to| need to)|let me|now i(?:'ll| will)|going to|first,? i(?:'ll| will))\b`)
	intentVerb   = regexp.MustCompile(`\b(?:check|read|look|apply|call|use|try|fetch|update|change|add|fix|make|search|query|find|inspect|run)\b`)
)

// restatesIntent reports whether text only announces a tool action instead
// of answering, such as "Let me check the current code."
func restatesIntent(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	if len(t) > maxIntentLength || strings.Contains(t, "```") {
		return false
	}
	return intentOpener.MatchString(t) && intentVerb.MatchString(t)
}

// fallbackText is the deterministic reply used when the model produced no
// usable text.
func fallbackText(lastApply *apply.Outcome, lastFailure string) string {
	switch {
	case lastApply != nil:
		return lastApply.Summary()
	case lastFailure != "":
		return "I couldn't finish that: " + lastFailure
	}
	return "I don't have anything to add."
}

// withCodeBlock appends code as a fenced block unless text already
// contains it.
func withCodeBlock(text, code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.Contains(text, code) {
		return text
	}
	block := "```javascript\n" + code + "\n```"
	if strings.TrimSpace(text) == "" {
		return block
	}
	return strings.TrimRight(text, "\n") + "\n\n" + block
}
