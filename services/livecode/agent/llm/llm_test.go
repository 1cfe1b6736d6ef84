// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/tools"
)

func userRequest(text string) *Request {
	return &Request{Messages: []Message{{Role: RoleUser, Content: text}}}
}

func TestMockClient_QueueOrderAndDefault(t *testing.T) {
	m := NewMockClient().
		QueueToolCall("read_code", map[string]any{"selector": "active"}).
		QueueFinalResponse("done")

	ctx := context.Background()
	r1, err := m.Complete(ctx, userRequest("a"), nil)
	require.NoError(t, err)
	require.True(t, r1.HasToolCalls())
	assert.Equal(t, "read_code", r1.ToolCalls[0].Name)
	assert.JSONEq(t, `{"selector":"active"}`, r1.ToolCalls[0].Arguments)
	assert.Equal(t, StopToolUse, r1.StopReason)

	r2, err := m.Complete(ctx, userRequest("b"), nil)
	require.NoError(t, err)
	assert.Equal(t, "done", r2.Content)
	assert.False(t, r2.HasToolCalls())

	r3, err := m.Complete(ctx, userRequest("c"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Mock response", r3.Content)

	assert.Equal(t, 3, m.CallCount())
	assert.Equal(t, "c", m.LastRequest().Messages[0].Content)
	assert.Equal(t, 0, m.Pending())
}

func TestMockClient_RecordsRequestCopy(t *testing.T) {
	m := NewMockClient()
	req := userRequest("first")
	_, err := m.Complete(context.Background(), req, nil)
	require.NoError(t, err)

	req.Messages[0].Content = "mutated"
	req.Messages = append(req.Messages, Message{Role: RoleAssistant, Content: "x"})

	calls := m.GetCalls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Request.Messages, 1)
	assert.Equal(t, "first", calls[0].Request.Messages[0].Content)
}

func TestMockClient_StreamsReasoningThenText(t *testing.T) {
	m := NewMockClient().QueueResponse(&Response{Content: "beat", Reasoning: "think", StopReason: StopEnd})

	var got []Delta
	_, err := m.Complete(context.Background(), userRequest("x"), func(d Delta) { got = append(got, d) })
	require.NoError(t, err)
	assert.Equal(t, []Delta{{Kind: DeltaReasoning, Text: "think"}, {Kind: DeltaText, Text: "beat"}}, got)
}

func TestMockClient_ErrorsAndCancellation(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewMockClient().WithError(boom).Complete(context.Background(), userRequest("x"), nil)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	m := NewMockClient().WithDelay(time.Minute)
	done := make(chan error, 1)
	go func() {
		_, err := m.Complete(ctx, userRequest("x"), nil)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Complete did not honor cancellation")
	}
}

func TestMockClient_BlockUntilCanceled(t *testing.T) {
	m := NewMockClient().WithResponseFunc(BlockUntilCanceled)
	cause := errors.New("stopped by user")
	ctx, cancel := context.WithCancelCause(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = m.Complete(ctx, userRequest("x"), nil)
	}()
	require.Eventually(t, func() bool { return m.CallCount() == 1 }, 5*time.Second, time.Millisecond)
	cancel(cause)
	wg.Wait()
	assert.ErrorIs(t, err, cause)
}

func TestToolCallAccumulator(t *testing.T) {
	zero, one := 0, 1
	acc := newToolCallAccumulator()
	acc.add(openai.ToolCall{Index: &zero, ID: "call_a", Function: openai.FunctionCall{Name: "read_code"}})
	acc.add(openai.ToolCall{Index: &one, ID: "call_b", Function: openai.FunctionCall{Name: "apply_change", Arguments: `{"expected_`}})
	acc.add(openai.ToolCall{Index: &zero, Function: openai.FunctionCall{Arguments: `{}`}})
	acc.add(openai.ToolCall{Index: &one, Function: openai.FunctionCall{Arguments: `base_version":"h"}`}})

	assert.Equal(t, []ToolCall{
		{ID: "call_a", Name: "read_code", Arguments: `{}`},
		{ID: "call_b", Name: "apply_change", Arguments: `{"expected_base_version":"h"}`},
	}, acc.calls())
	assert.Nil(t, newToolCallAccumulator().calls())
}

func TestStopReason(t *testing.T) {
	tests := []struct {
		finish   openai.FinishReason
		hasTools bool
		want     string
	}{
		{openai.FinishReasonStop, false, StopEnd},
		{openai.FinishReasonStop, true, StopToolUse},
		{openai.FinishReasonToolCalls, true, StopToolUse},
		{openai.FinishReasonLength, false, StopMaxTokens},
		{openai.FinishReasonContentFilter, false, StopFiltered},
		{"", false, StopEnd},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.finish, tt.hasTools), func(t *testing.T) {
			assert.Equal(t, tt.want, stopReason(tt.finish, tt.hasTools))
		})
	}
}

func TestNewOpenAIClient_Validation(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.Error(t, err)

	_, err = NewOpenAIClient(OpenAIConfig{Model: "gpt-4o-mini"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	key := []byte("sk-test")
	c, err := NewOpenAIClient(OpenAIConfig{Model: "gpt-4o-mini", APIKey: key})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
	assert.Equal(t, "gpt-4o-mini", c.Model())

	_, err = c.Complete(context.Background(), &Request{}, nil)
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestOpenAIClient_BuildRequest(t *testing.T) {
	c, err := NewOpenAIClient(OpenAIConfig{Model: "gpt-4o-mini", BaseURL: "http://localhost:1/v1"})
	require.NoError(t, err)

	req := c.buildRequest(&Request{
		SystemPrompt: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "make techno"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "read_code", Arguments: "{}"}}},
			{Role: RoleTool, ToolCallID: "c1", Content: `{"status":"succeeded"}`},
		},
		Tools:           tools.Definitions(),
		Temperature:     0.3,
		ReasoningEffort: "low",
		MaxTokens:       512,
	})

	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "c1", req.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "read_code", req.Messages[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "c1", req.Messages[3].ToolCallID)
	require.Len(t, req.Tools, len(tools.AllNames()))
	assert.Equal(t, "apply_change", req.Tools[1].Function.Name)
	assert.Equal(t, "low", req.ReasoningEffort)
	assert.Equal(t, 512, req.MaxCompletionTokens)
}

func sseChunk(t *testing.T, w io.Writer, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	assert.NoError(t, err)
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	assert.NoError(t, err)
}

func TestOpenAIClient_CompleteStreams(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		idx := 0
		sseChunk(t, w, map[string]any{"model": "gpt-4o-mini", "choices": []any{
			map[string]any{"index": 0, "delta": map[string]any{"content": "Here "}},
		}})
		sseChunk(t, w, map[string]any{"choices": []any{
			map[string]any{"index": 0, "delta": map[string]any{"content": "you go."}},
		}})
		sseChunk(t, w, map[string]any{"choices": []any{
			map[string]any{"index": 0, "delta": map[string]any{"tool_calls": []any{
				map[string]any{"index": idx, "id": "call_1", "type": "function", "function": map[string]any{"name": "read_code", "arguments": ""}},
			}}},
		}})
		sseChunk(t, w, map[string]any{"choices": []any{
			map[string]any{"index": 0, "delta": map[string]any{"tool_calls": []any{
				map[string]any{"index": idx, "function": map[string]any{"arguments": "{}"}},
			}}, "finish_reason": "tool_calls"},
		}})
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{
		Model:             "gpt-4o-mini",
		BaseURL:           srv.URL + "/v1",
		APIKey:            []byte("sk-test"),
		RequestsPerSecond: 100,
		Burst:             1,
	})
	require.NoError(t, err)

	var text strings.Builder
	resp, err := c.Complete(context.Background(), userRequest("hi"), func(d Delta) {
		if d.Kind == DeltaText {
			text.WriteString(d.Text)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "Here you go.", resp.Content)
	assert.Equal(t, "Here you go.", text.String())
	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, []ToolCall{{ID: "call_1", Name: "read_code", Arguments: "{}"}}, resp.ToolCalls)
}
