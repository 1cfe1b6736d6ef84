// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events provides the events a turn emits to observers.
//
// Events are delivered synchronously, in emission order, on the goroutine
// running the turn. Handlers that need to do slow work should hand the
// event off to their own goroutine.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeTurnState is emitted on every turn state transition.
	TypeTurnState Type = "turn_state"

	// TypeTextDelta carries streamed answer text.
	TypeTextDelta Type = "text_delta"

	// TypeReasoningDelta carries streamed reasoning text.
	TypeReasoningDelta Type = "reasoning_delta"

	// TypeToolStarted is emitted before a tool call is dispatched.
	TypeToolStarted Type = "tool_started"

	// TypeToolCompleted is emitted after a tool call returns.
	TypeToolCompleted Type = "tool_completed"

	// TypeApplyStatus projects apply outcomes and activations.
	TypeApplyStatus Type = "apply_status"

	// TypeTurnCompleted is emitted once when a turn finishes with content.
	TypeTurnCompleted Type = "turn_completed"

	// TypeTurnCanceled is emitted once when a turn is stopped or times out.
	TypeTurnCanceled Type = "turn_canceled"

	// TypeTurnFailed is emitted once when a turn fails.
	TypeTurnFailed Type = "turn_failed"
)

// Event is one observable occurrence in a turn.
//
// Thread Safety:
//
//	Event structs should be treated as immutable after creation.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id,omitempty"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// Data is one of the typed data structs in this file.
	Data any `json:"data,omitempty"`
}

// TurnStateData is the data for TypeTurnState.
type TurnStateData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// DeltaData is the data for TypeTextDelta and TypeReasoningDelta.
type DeltaData struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// ToolStartedData is the data for TypeToolStarted.
type ToolStartedData struct {
	CallID string          `json:"call_id"`
	Tool   string          `json:"tool"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// ToolCompletedData is the data for TypeToolCompleted.
type ToolCompletedData struct {
	CallID     string          `json:"call_id"`
	Tool       string          `json:"tool"`
	Status     string          `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// ApplyStatus is the coarse mutation state.
type ApplyStatus string

const (
	ApplyScheduled ApplyStatus = "scheduled"
	ApplyApplied   ApplyStatus = "applied"
	ApplyRejected  ApplyStatus = "rejected"
)

// ApplyStatusData is the data for TypeApplyStatus.
type ApplyStatusData struct {
	Status       ApplyStatus `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	ErrorCode    string      `json:"error_code,omitempty"`
	ActivationID string      `json:"activation_id,omitempty"`
}

// TurnCompletedData is the data for TypeTurnCompleted.
type TurnCompletedData struct {
	MessageID  string    `json:"message_id"`
	Content    string    `json:"content"`
	Reason     string    `json:"reason"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
}

// TurnCanceledData is the data for TypeTurnCanceled.
type TurnCanceledData struct {
	MessageID  string    `json:"message_id"`
	Reason     string    `json:"reason"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
}

// TurnFailedData is the data for TypeTurnFailed.
type TurnFailedData struct {
	MessageID  string    `json:"message_id"`
	Error      string    `json:"error"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
}
