// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the completion client interface for the turn runner.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/tools"
)

// ErrEmptyRequest is returned when a request carries no messages.
var ErrEmptyRequest = errors.New("completion request has no messages")

// Client defines the interface for completion calls.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Complete sends the request and returns the full response.
	//
	// Inputs:
	//   ctx - Cancellation. A canceled context aborts the stream.
	//   request - The completion request.
	//   stream - Receives text and reasoning deltas in order. May be nil.
	//
	// Outputs:
	//   *Response - The assembled response.
	//   error - Non-nil if the request failed.
	Complete(ctx context.Context, request *Request, stream StreamHandler) (*Response, error)

	// Name returns the provider name.
	Name() string

	// Model returns the model being used.
	Model() string
}

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Request represents a completion request.
type Request struct {
	// SystemPrompt is sent as the leading system message.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Tools defines the tools the model may call.
	Tools []tools.Definition `json:"tools,omitempty"`

	// Temperature controls randomness. Zero uses the provider default.
	Temperature float64 `json:"temperature,omitempty"`

	// ReasoningEffort is "low", "medium" or "high" for reasoning models.
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// MaxTokens limits the response length. Zero means no limit.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls are the calls an assistant message made.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message to its call.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Stop reasons.
const (
	StopEnd       = "end"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopFiltered  = "content_filter"
)

// Response represents a completion response.
type Response struct {
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// StopReason is one of the Stop constants.
	StopReason string `json:"stop_reason"`

	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
	Model        string        `json:"model,omitempty"`
}

// HasToolCalls returns true if the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// DeltaKind distinguishes streamed text from streamed reasoning.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text"
	DeltaReasoning DeltaKind = "reasoning"
)

// Delta is one streamed chunk.
type Delta struct {
	Kind DeltaKind
	Text string
}

// StreamHandler receives deltas in emission order. It runs on the
// goroutine calling Complete and must not block for long.
type StreamHandler func(Delta)

func (h StreamHandler) emit(kind DeltaKind, text string) {
	if h == nil || text == "" {
		return
	}
	h(Delta{Kind: kind, Text: text})
}
