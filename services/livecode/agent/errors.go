// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "errors"

// Sentinel errors for the agent package.
var (
	// ErrInvalidTransition indicates an invalid turn state transition.
	ErrInvalidTransition = errors.New("invalid turn state transition")

	// ErrEmptyMessage indicates a blank user message.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrNothingToRetry indicates no recorded user text for a message ID.
	ErrNothingToRetry = errors.New("no recorded message to retry")

	// ErrMessageNotEditable indicates the message is missing or not a user message.
	ErrMessageNotEditable = errors.New("message not found or not a user message")

	// ErrRevisionNotFound indicates an unknown revision variant.
	ErrRevisionNotFound = errors.New("revision variant not found")

	// ErrRunnerClosed indicates the runner was closed.
	ErrRunnerClosed = errors.New("runner closed")

	// ErrStopped is the cancellation cause of an explicit stop.
	ErrStopped = errors.New("turn stopped")

	// ErrSuperseded is the cancellation cause when a newer turn starts.
	ErrSuperseded = errors.New("turn superseded by a newer message")

	// ErrTurnTimeout is the cancellation cause when the turn deadline passes.
	ErrTurnTimeout = errors.New("turn timed out")
)
