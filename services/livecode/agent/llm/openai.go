// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrMissingAPIKey is returned when no key is configured for a remote
// endpoint.
var ErrMissingAPIKey = errors.New("openai: api key is required")

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	// Model is the model name sent with every request.
	Model string

	// BaseURL overrides the API endpoint for compatible servers.
	BaseURL string

	// APIKey is moved into a locked enclave and the source slice is wiped.
	APIKey []byte

	// RequestsPerSecond and Burst pace outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	Logger *slog.Logger
}

// OpenAIClient streams chat completions from an OpenAI-compatible API.
//
// Thread Safety:
//
//	Safe for concurrent use.
type OpenAIClient struct {
	model   string
	baseURL string
	key     *memguard.Enclave
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIClient creates a client.
//
// Description:
//
//	The API key is sealed in a memguard enclave and opened only for the
//	duration of each request. A BaseURL with no key is allowed for local
//	compatible servers.
//
// Inputs:
//
//	cfg - Client configuration. cfg.APIKey is wiped.
//
// Outputs:
//
//	*OpenAIClient - The client.
//	error - ErrMissingAPIKey when neither a key nor a BaseURL is set.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	if len(cfg.APIKey) == 0 && cfg.BaseURL == "" {
		return nil, ErrMissingAPIKey
	}
	c := &OpenAIClient{
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		logger:  cfg.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if len(cfg.APIKey) > 0 {
		c.key = memguard.NewEnclave(cfg.APIKey)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return "openai" }

// Model implements Client.
func (c *OpenAIClient) Model() string { return c.model }

// client builds a go-openai client with the key opened from the enclave.
func (c *OpenAIClient) client() (*openai.Client, error) {
	token := ""
	if c.key != nil {
		buf, err := c.key.Open()
		if err != nil {
			return nil, fmt.Errorf("open api key: %w", err)
		}
		token = buf.String()
		buf.Destroy()
	}
	cfg := openai.DefaultConfig(token)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

// Complete implements Client by streaming a chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, request *Request, stream StreamHandler) (*Response, error) {
	if request == nil || len(request.Messages) == 0 {
		return nil, ErrEmptyRequest
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	api, err := c.client()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s, err := api.CreateChatCompletionStream(ctx, c.buildRequest(request))
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	defer s.Close()

	var (
		content   strings.Builder
		reasoning strings.Builder
		acc       = newToolCallAccumulator()
		finish    openai.FinishReason
		resp      = &Response{Model: c.model}
	)
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("openai stream recv: %w", err)
		}
		if chunk.Usage != nil {
			resp.InputTokens = chunk.Usage.PromptTokens
			resp.OutputTokens = chunk.Usage.CompletionTokens
		}
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		for _, choice := range chunk.Choices {
			if d := choice.Delta.ReasoningContent; d != "" {
				reasoning.WriteString(d)
				stream.emit(DeltaReasoning, d)
			}
			if d := choice.Delta.Content; d != "" {
				content.WriteString(d)
				stream.emit(DeltaText, d)
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc)
			}
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
	}

	resp.Content = content.String()
	resp.Reasoning = reasoning.String()
	resp.ToolCalls = acc.calls()
	resp.StopReason = stopReason(finish, len(resp.ToolCalls) > 0)
	resp.Duration = time.Since(start)
	c.logger.Debug("completion finished",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"tool_calls", len(resp.ToolCalls),
		"duration_ms", resp.Duration.Milliseconds())
	return resp, nil
}

func (c *OpenAIClient) buildRequest(r *Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(r.Messages)+1)
	if r.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: r.SystemPrompt})
	}
	for _, m := range r.Messages {
		msgs = append(msgs, toOpenAIMessage(m))
	}

	req := openai.ChatCompletionRequest{
		Model:           c.model,
		Messages:        msgs,
		Stream:          true,
		StreamOptions:   &openai.StreamOptions{IncludeUsage: true},
		Temperature:     float32(r.Temperature),
		ReasoningEffort: r.ReasoningEffort,
	}
	if r.MaxTokens > 0 {
		req.MaxCompletionTokens = r.MaxTokens
	}
	for _, def := range r.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(def.Name),
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return req
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return out
}

func stopReason(finish openai.FinishReason, hasTools bool) string {
	switch finish {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopToolUse
	case openai.FinishReasonLength:
		return StopMaxTokens
	case openai.FinishReasonContentFilter:
		return StopFiltered
	}
	if hasTools {
		return StopToolUse
	}
	return StopEnd
}

// toolCallAccumulator joins streamed tool call fragments by index.
type toolCallAccumulator struct {
	byIndex map[int]*ToolCall
	next    int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*ToolCall)}
}

func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	idx := a.next
	if tc.Index != nil {
		idx = *tc.Index
	} else if tc.ID == "" && len(a.byIndex) > 0 {
		// Continuation without an index belongs to the latest call.
		idx = a.next - 1
	}
	call, ok := a.byIndex[idx]
	if !ok {
		call = &ToolCall{}
		a.byIndex[idx] = call
		if idx >= a.next {
			a.next = idx + 1
		}
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	call.Name += tc.Function.Name
	call.Arguments += tc.Function.Arguments
}

func (a *toolCallAccumulator) calls() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	idx := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, *a.byIndex[i])
	}
	return out
}
