// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools routes the assistant's tool calls to their handlers.
//
// The tool set is closed: read_code, apply_change, knowledge_lookup and
// skill_lookup. Every call yields exactly one Result, whatever the handler
// does, including panicking.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
)

// Name is a tool name from the closed set.
type Name string

const (
	ReadCode        Name = "read_code"
	ApplyChange     Name = "apply_change"
	KnowledgeLookup Name = "knowledge_lookup"
	SkillLookup     Name = "skill_lookup"
)

// Sentinel errors for dispatch.
var (
	// ErrUnknownTool means the call named a tool outside the closed set.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments means the arguments could not be decoded, even
	// after repair.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrHandlerPanic means a handler panicked.
	ErrHandlerPanic = errors.New("tool handler panicked")
)

// AllNames returns the closed tool set in advertisement order.
func AllNames() []Name {
	return []Name{ReadCode, ApplyChange, KnowledgeLookup, SkillLookup}
}

// ParseName validates s against the closed set.
func ParseName(s string) (Name, error) {
	switch n := Name(s); n {
	case ReadCode, ApplyChange, KnowledgeLookup, SkillLookup:
		return n, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, s)
}

// Call is one tool invocation requested by the model.
type Call struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Status is the outcome of a call.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Timing records when a call ran.
type Timing struct {
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Result is the single result of a call.
type Result struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status Status          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Timing Timing          `json:"timing"`

	// Err is the underlying error of a failed call.
	Err error `json:"-"`
}

// Succeeded reports whether the call succeeded.
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// ApplyOutcome decodes the apply outcome carried by an apply_change result.
func (r Result) ApplyOutcome() (apply.Outcome, bool) {
	if r.Name != string(ApplyChange) || len(r.Output) == 0 {
		return apply.Outcome{}, false
	}
	var out apply.Outcome
	if err := json.Unmarshal(r.Output, &out); err != nil || out.Status == "" {
		return apply.Outcome{}, false
	}
	return out, true
}

// ModelContent renders the result as the text fed back to the model.
func (r Result) ModelContent() string {
	payload := struct {
		Status Status          `json:"status"`
		Output json.RawMessage `json:"output,omitempty"`
		Error  string          `json:"error,omitempty"`
	}{r.Status, r.Output, r.Error}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"error":"unencodable result"}`, r.Status)
	}
	return string(b)
}

// CodeReader reads the live code. host.Host satisfies it.
type CodeReader interface {
	ReadCode(ctx context.Context, selector string) (host.Snapshot, error)
}

// ChangeApplier validates and schedules changes. *apply.Gate satisfies it.
type ChangeApplier interface {
	Apply(ctx context.Context, req apply.Request) (apply.Outcome, error)
}

// Handlers are the optional capabilities a dispatcher routes to. Any nil
// handler makes its tool answer with a structured unavailable payload.
type Handlers struct {
	Reader    CodeReader
	Applier   ChangeApplier
	Knowledge knowledge.Provider
	Skills    []knowledge.Skill
}
