// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fuzzy scores free-text queries against candidate names.
//
// Scores combine four signals, and the strongest one wins:
//
//   - exact match after normalization (1.0)
//   - substring containment
//   - token overlap
//   - edit-distance similarity
//
// Rank additionally consults a subsequence matcher so abbreviations such as
// "tr909" still find "RolandTR909".
package fuzzy

import (
	"sort"
	"strings"
	"unicode"

	sfuzzy "github.com/sahilm/fuzzy"
)

// DefaultMinScore is the score below which Rank drops a candidate.
const DefaultMinScore = 0.35

// Match is one ranked candidate.
type Match struct {
	// Index is the position of the candidate in the input slice.
	Index int `json:"index"`

	// Candidate is the original candidate text.
	Candidate string `json:"candidate"`

	// Score is in [0, 1]; higher is better.
	Score float64 `json:"score"`
}

// Matcher ranks candidates for a query.
//
// The zero value is usable and applies DefaultMinScore.
type Matcher struct {
	// MinScore drops candidates scoring below it. Zero means DefaultMinScore.
	MinScore float64
}

// Score returns the similarity of query and candidate in [0, 1].
//
// Description:
//
//	Both strings are normalized (lowercased, separators collapsed to single
//	spaces). An empty query or candidate scores 0.
//
// Inputs:
//
//	query - Free text typed by the user or model.
//	candidate - A name or title to compare against.
//
// Outputs:
//
//	float64 - The best of the exact, containment, token and edit signals.
func Score(query, candidate string) float64 {
	q := normalize(query)
	c := normalize(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 1
	}

	best := 0.0
	if strings.Contains(c, q) {
		best = max(best, 0.8+0.15*float64(len(q))/float64(len(c)))
	} else if strings.Contains(q, c) {
		best = max(best, 0.5+0.25*float64(len(c))/float64(len(q)))
	}

	best = max(best, 0.8*tokenOverlap(q, c))

	// Compare without separators so "tr 909" and "tr909" are equal.
	qc := strings.ReplaceAll(q, " ", "")
	cc := strings.ReplaceAll(c, " ", "")
	if qc == cc {
		best = max(best, 0.95)
	}
	longest := max(len(qc), len(cc))
	if longest > 0 {
		sim := 1 - float64(levenshteinDistance(qc, cc))/float64(longest)
		best = max(best, 0.75*sim)
	}

	return best
}

// Rank scores every candidate and returns the matches above the threshold.
//
// Description:
//
//	Matches are sorted by descending score; ties keep input order. A
//	subsequence match from the sahilm/fuzzy matcher lifts candidates that
//	the other signals miss.
//
// Inputs:
//
//	query - Free text to match.
//	candidates - Names to rank.
//	limit - Maximum results. Zero or negative means no limit.
//
// Outputs:
//
//	[]Match - Ranked matches. Empty, never nil, when nothing qualifies.
func (m Matcher) Rank(query string, candidates []string, limit int) []Match {
	minScore := m.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = Score(query, c)
	}

	q := strings.ReplaceAll(normalize(query), " ", "")
	if q != "" {
		for _, sm := range sfuzzy.Find(q, candidates) {
			ratio := float64(len(sm.MatchedIndexes)) / float64(max(1, len(candidates[sm.Index])))
			scores[sm.Index] = max(scores[sm.Index], 0.4+0.4*ratio)
		}
	}

	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		if scores[i] >= minScore {
			matches = append(matches, Match{Index: i, Candidate: c, Score: scores[i]})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Rank ranks candidates with the default Matcher.
func Rank(query string, candidates []string, limit int) []Match {
	return Matcher{}.Rank(query, candidates, limit)
}

// normalize lowercases s and collapses runs of non-alphanumerics to one space.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// tokenOverlap returns the Jaccard index of the space-separated tokens.
func tokenOverlap(a, b string) float64 {
	at := strings.Fields(a)
	bt := strings.Fields(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(at))
	for _, t := range at {
		set[t] = struct{}{}
	}

	shared := 0
	union := len(set)
	seen := make(map[string]struct{}, len(bt))
	for _, t := range bt {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			shared++
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
}

// levenshteinDistance computes the edit distance between two strings
// using two rows instead of the full matrix.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	if len(a) < len(b) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
