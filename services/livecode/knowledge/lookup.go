// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/fuzzy"
)

const (
	// DefaultLookupLimit is the number of hits per kind when none is given.
	DefaultLookupLimit = 5

	// MaxLookupLimit caps hits per kind.
	MaxLookupLimit = 25
)

// Scope restricts what a lookup searches.
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeDocs   Scope = "docs"
	ScopeSounds Scope = "sounds"
)

// Query is a knowledge lookup request.
type Query struct {
	Query string `json:"query"`
	Scope Scope  `json:"scope,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// DocHit is a ranked reference document.
type DocHit struct {
	ReferenceDoc
	Score float64 `json:"score"`
}

// SoundHit is a ranked sound entry.
type SoundHit struct {
	SoundEntry
	Score float64 `json:"score"`
}

// Answer is the result of a lookup.
type Answer struct {
	Query     string     `json:"query"`
	Available bool       `json:"available"`
	Docs      []DocHit   `json:"docs,omitempty"`
	Sounds    []SoundHit `json:"sounds,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// Unavailable is the answer given when no sources are configured.
func Unavailable(query string) Answer {
	return Answer{
		Query:     query,
		Available: false,
		Message:   "Knowledge lookup is unavailable in this session; continue with the sounds and functions you already know are loaded.",
	}
}

// Lookup ranks src against q.
//
// Description:
//
//	Every document is matched on its id, title and tags; every sound on its
//	name, aliases and category. An item's score is its best key. An empty
//	query lists the first items of each kind in source order.
//
// Inputs:
//
//	src - The sources to search. Nil yields an unavailable answer.
//	q - The query.
//
// Outputs:
//
//	Answer - The ranked hits.
func Lookup(src *Sources, q Query) Answer {
	if src == nil {
		return Unavailable(q.Query)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLookupLimit
	}
	limit = min(limit, MaxLookupLimit)
	scope := q.Scope
	if scope == "" {
		scope = ScopeAll
	}

	ans := Answer{Query: q.Query, Available: true}
	if scope == ScopeAll || scope == ScopeDocs {
		keys := make([][]string, len(src.ReferenceDocs))
		for i, d := range src.ReferenceDocs {
			keys[i] = append([]string{d.ID, d.Title}, d.Tags...)
		}
		for _, r := range rankItems(q.Query, keys, limit) {
			ans.Docs = append(ans.Docs, DocHit{ReferenceDoc: src.ReferenceDocs[r.index], Score: r.score})
		}
	}
	if scope == ScopeAll || scope == ScopeSounds {
		keys := make([][]string, len(src.SoundEntries))
		for i, s := range src.SoundEntries {
			keys[i] = append([]string{s.Name, s.Category}, s.Aliases...)
		}
		for _, r := range rankItems(q.Query, keys, limit) {
			ans.Sounds = append(ans.Sounds, SoundHit{SoundEntry: src.SoundEntries[r.index], Score: r.score})
		}
	}
	if len(ans.Docs) == 0 && len(ans.Sounds) == 0 {
		ans.Message = "No matches. Try a shorter query or a category such as drums, bass, synth or keys."
	}
	return ans
}

type rankedItem struct {
	index int
	score float64
}

func rankItems(query string, keys [][]string, limit int) []rankedItem {
	if strings.TrimSpace(query) == "" {
		out := make([]rankedItem, 0, min(limit, len(keys)))
		for i := 0; i < len(keys) && i < limit; i++ {
			out = append(out, rankedItem{index: i})
		}
		return out
	}

	var flat []string
	var owner []int
	for i, ks := range keys {
		for _, k := range ks {
			if k != "" {
				flat = append(flat, k)
				owner = append(owner, i)
			}
		}
	}

	best := make(map[int]float64)
	for _, m := range fuzzy.Rank(query, flat, 0) {
		item := owner[m.Index]
		if m.Score > best[item] {
			best[item] = m.Score
		}
	}

	out := make([]rankedItem, 0, len(best))
	for i, s := range best {
		out = append(out, rankedItem{index: i, score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].index < out[j].index
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
