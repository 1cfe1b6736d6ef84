// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"time"
)

// TurnState is the runner's per-session state.
type TurnState string

const (
	StateIdle      TurnState = "idle"
	StateRunning   TurnState = "running"
	StateCompleted TurnState = "completed"
	StateCanceled  TurnState = "canceled"
	StateFailed    TurnState = "failed"
)

// transitions is the turn graph:
//
//	idle → running                   : message accepted
//	running → completed              : model finished or fallback used
//	running → canceled               : stop, timeout or superseded
//	running → failed                 : transport or internal error
//	completed|canceled|failed → idle : turn record released
var transitions = map[TurnState]map[TurnState]bool{
	StateIdle:      {StateRunning: true},
	StateRunning:   {StateCompleted: true, StateCanceled: true, StateFailed: true},
	StateCompleted: {StateIdle: true},
	StateCanceled:  {StateIdle: true},
	StateFailed:    {StateIdle: true},
}

// CanTransition reports whether from → to is a valid transition.
func CanTransition(from, to TurnState) bool {
	return transitions[from][to]
}

func checkTransition(from, to TurnState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether a turn in s has finished.
func (s TurnState) IsTerminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

// Turn is one user-message-to-response cycle.
type Turn struct {
	ID string `json:"id"`

	// MessageID is the assistant message this turn produces.
	MessageID string `json:"message_id"`

	// UserMessageID is the user message that started the turn.
	UserMessageID string `json:"user_message_id"`

	Status    TurnState `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Duration is the turn's wall time, zero while running.
func (t Turn) Duration() time.Duration {
	if t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}
