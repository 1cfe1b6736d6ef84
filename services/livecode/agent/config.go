// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "time"

// Config bounds a turn.
type Config struct {
	// TurnTimeout aborts a turn through the stop path.
	TurnTimeout time.Duration

	// ToolBudget is the number of tool calls executed per turn. Calls past
	// it receive a budget-exhausted result.
	ToolBudget int

	// RepairBudget is the number of apply_change retries allowed after an
	// UNKNOWN_SOUND rejection.
	RepairBudget int

	// KnowledgeLookupsPerTurn caps knowledge_lookup executions per turn.
	KnowledgeLookupsPerTurn int

	// ForcedFollowUps is the number of extra model rounds forced when the
	// reply after pseudo tool calls is empty or only restates intent.
	ForcedFollowUps int

	// MaxModelRounds caps completion calls per turn.
	MaxModelRounds int

	Temperature     float64
	ReasoningEffort string
	MaxTokens       int
}

// DefaultConfig returns the default turn bounds.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:             120 * time.Second,
		ToolBudget:              8,
		RepairBudget:            1,
		KnowledgeLookupsPerTurn: 1,
		ForcedFollowUps:         1,
		MaxModelRounds:          12,
		Temperature:             0.4,
	}
}

// withDefaults fills zero fields from DefaultConfig. Negative budgets mean
// none.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.ToolBudget == 0 {
		c.ToolBudget = d.ToolBudget
	}
	if c.RepairBudget == 0 {
		c.RepairBudget = d.RepairBudget
	}
	if c.KnowledgeLookupsPerTurn == 0 {
		c.KnowledgeLookupsPerTurn = d.KnowledgeLookupsPerTurn
	}
	if c.ForcedFollowUps == 0 {
		c.ForcedFollowUps = d.ForcedFollowUps
	}
	if c.MaxModelRounds <= 0 {
		c.MaxModelRounds = d.MaxModelRounds
	}
	c.ToolBudget = max(c.ToolBudget, 0)
	c.RepairBudget = max(c.RepairBudget, 0)
	c.KnowledgeLookupsPerTurn = max(c.KnowledgeLookupsPerTurn, 0)
	c.ForcedFollowUps = max(c.ForcedFollowUps, 0)
	return c
}
