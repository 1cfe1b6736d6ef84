// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
)

// Envelope is the runtime context sent with a user message.
type Envelope struct {
	// Available is false when the host could not be read.
	Available bool

	CodeHash        string
	Running         bool
	CyclesPerSecond float64

	ToolBudgetRemaining   int
	RepairBudgetRemaining int

	// Code is set only when CodeHash differs from the hash last shown.
	Code *string
}

// buildEnvelope snapshots h. The code is included only when its hash
// differs from lastShown.
func buildEnvelope(ctx context.Context, h host.Host, lastShown string, cfg Config) Envelope {
	env := Envelope{
		ToolBudgetRemaining:   cfg.ToolBudget,
		RepairBudgetRemaining: cfg.RepairBudget,
	}
	if h == nil {
		return env
	}
	snap, err := h.ReadCode(ctx, host.SelectorActive)
	if err != nil {
		return env
	}
	env.Available = true
	env.CodeHash = snap.Hash
	if st, err := h.State(ctx); err == nil {
		env.Running = st.Running
		env.CyclesPerSecond = st.CyclesPerSecond
	}
	if snap.Hash != lastShown {
		code := snap.Code
		env.Code = &code
	}
	return env
}

// Render formats the envelope as the block prefixed to the user message.
func (e Envelope) Render() string {
	var b strings.Builder
	b.WriteString("<runtime_context>\n")
	if !e.Available {
		b.WriteString("live_code: unavailable\n")
	} else {
		fmt.Fprintf(&b, "code_hash: %s\n", e.CodeHash)
		fmt.Fprintf(&b, "playing: %t\n", e.Running)
		if e.CyclesPerSecond > 0 {
			fmt.Fprintf(&b, "tempo_cps: %s\n", strconv.FormatFloat(e.CyclesPerSecond, 'f', -1, 64))
		} else {
			b.WriteString("tempo_cps: unknown\n")
		}
	}
	fmt.Fprintf(&b, "tool_calls_remaining: %d\n", e.ToolBudgetRemaining)
	fmt.Fprintf(&b, "repair_attempts_remaining: %d\n", e.RepairBudgetRemaining)
	if e.Available {
		switch {
		case e.Code == nil:
			b.WriteString("code: unchanged since last shown\n")
		case strings.TrimSpace(*e.Code) == "":
			b.WriteString("code: (empty)\n")
		default:
			b.WriteString("code:\n```javascript\n")
			b.WriteString(strings.TrimRight(*e.Code, "\n"))
			b.WriteString("\n```\n")
		}
	}
	b.WriteString("</runtime_context>")
	return b.String()
}
