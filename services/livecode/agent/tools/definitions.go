// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

// Definition advertises a tool to the model.
type Definition struct {
	Name        Name           `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// Definitions returns the definitions of the closed tool set.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        ReadCode,
			Description: "Read the live pattern code and its hash. Call this before apply_change when you do not know the current hash.",
			Parameters: object(nil, map[string]any{
				"selector": str(`Code region. Only "active" is supported.`),
			}),
		},
		{
			Name: ApplyChange,
			Description: "Propose a change to the live code. The change is validated and scheduled for the next cycle boundary; " +
				"it is rejected with an error code when the base hash is stale, the code does not parse, or it uses unknown sounds.",
			Parameters: object([]string{"expected_base_version", "change"}, map[string]any{
				"expected_base_version": str("Hash returned by read_code for the code this change was written against."),
				"change": object([]string{"kind"}, map[string]any{
					"kind":       enum("full_code replaces everything; search_replace edits a literal snippet.", "full_code", "search_replace"),
					"content":    str("Complete new code for full_code."),
					"search":     str("Literal text to find for search_replace. Include enough context to match once."),
					"replace":    str("Replacement text for search_replace."),
					"occurrence": enum("Which matches to replace. Defaults to single.", "single", "all"),
				}),
			}),
		},
		{
			Name:        KnowledgeLookup,
			Description: "Search function documentation and the loaded sound bank. Use it after an UNKNOWN_SOUND rejection to find real sound names.",
			Parameters: object([]string{"query"}, map[string]any{
				"query": str("What to look for, such as \"snare\" or \"lowpass filter\"."),
				"scope": enum("Restrict the search.", "all", "docs", "sounds"),
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 25},
			}),
		},
		{
			Name:        SkillLookup,
			Description: "List or fetch authoring skills such as genre recipes and techniques.",
			Parameters: object(nil, map[string]any{
				"action": enum("list skills or get one by id.", "list", "get"),
				"query":  str("Filter for list."),
				"id":     str("Skill id or name for get."),
				"limit":  map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
			}),
		},
	}
}
