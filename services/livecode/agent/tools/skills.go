// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
)

const (
	defaultSkillLimit = 20
	maxSkillLimit     = 50
)

// SkillList is the output of skill_lookup list.
type SkillList struct {
	Skills []knowledge.Skill `json:"skills"`
	Total  int               `json:"total"`
}

// SkillGet is the output of skill_lookup get.
type SkillGet struct {
	Found        bool             `json:"found"`
	ID           string           `json:"id"`
	Skill        *knowledge.Skill `json:"skill,omitempty"`
	AvailableIDs []string         `json:"available_ids,omitempty"`
}

// normalizeAlias lowercases s and drops whitespace, hyphens and underscores.
func normalizeAlias(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// listSkills filters by a case-insensitive substring over id, name,
// description and tags. Id and name matches rank ahead of tag matches,
// which rank ahead of description matches; ties keep catalog order.
func listSkills(skills []knowledge.Skill, query string, limit int) SkillList {
	if limit <= 0 {
		limit = defaultSkillLimit
	}
	limit = min(limit, maxSkillLimit)
	q := strings.ToLower(strings.TrimSpace(query))

	type ranked struct {
		skill knowledge.Skill
		rank  int
	}
	var hits []ranked
	for _, s := range skills {
		rank := skillRank(s, q)
		if rank < 0 {
			continue
		}
		hits = append(hits, ranked{skill: s.Summary(), rank: rank})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })

	out := SkillList{Skills: make([]knowledge.Skill, 0, min(limit, len(hits))), Total: len(hits)}
	for i := 0; i < len(hits) && i < limit; i++ {
		out.Skills = append(out.Skills, hits[i].skill)
	}
	return out
}

func skillRank(s knowledge.Skill, q string) int {
	if q == "" {
		return 0
	}
	id, name := strings.ToLower(s.ID), strings.ToLower(s.Name)
	switch {
	case id == q || name == q:
		return 0
	case strings.Contains(id, q) || strings.Contains(name, q):
		return 1
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return 2
		}
	}
	if strings.Contains(strings.ToLower(s.Description), q) {
		return 3
	}
	return -1
}

// getSkill resolves id exactly, then by normalized alias over id or name.
func getSkill(skills []knowledge.Skill, id string) SkillGet {
	for i := range skills {
		if skills[i].ID == id {
			s := skills[i]
			return SkillGet{Found: true, ID: s.ID, Skill: &s}
		}
	}

	alias := normalizeAlias(id)
	if alias != "" {
		for i := range skills {
			if normalizeAlias(skills[i].ID) == alias || normalizeAlias(skills[i].Name) == alias {
				s := skills[i]
				return SkillGet{Found: true, ID: s.ID, Skill: &s}
			}
		}
	}

	ids := make([]string, 0, len(skills))
	for _, s := range skills {
		ids = append(ids, s.ID)
	}
	return SkillGet{Found: false, ID: id, AvailableIDs: ids}
}
