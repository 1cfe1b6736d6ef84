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
	"fmt"
	"sync"
	"time"
)

// MockClient is a scripted Client for tests.
//
// Thread Safety:
//
//	MockClient is safe for concurrent use. The lock is not held while a
//	response function or delay runs, so a blocked call does not stall
//	inspection methods.
type MockClient struct {
	mu sync.Mutex

	name  string
	model string

	// responses are returned in order; defaultResponse after they run out.
	responses       []*Response
	defaultResponse *Response

	calls []CompletionCall

	// responseFunc, when set, replaces the queue.
	responseFunc func(context.Context, *Request) (*Response, error)

	delay         time.Duration
	errorToReturn error
}

// CompletionCall records a call to Complete.
type CompletionCall struct {
	Request   Request
	Timestamp time.Time
}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		name:  "mock",
		model: "mock-model",
		defaultResponse: &Response{
			Content:      "Mock response",
			StopReason:   StopEnd,
			InputTokens:  50,
			OutputTokens: 50,
		},
	}
}

// WithDelay adds artificial latency that honors cancellation.
func (c *MockClient) WithDelay(d time.Duration) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
	return c
}

// WithError configures the client to return an error.
func (c *MockClient) WithError(err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorToReturn = err
	return c
}

// WithResponseFunc sets a dynamic response function.
func (c *MockClient) WithResponseFunc(f func(context.Context, *Request) (*Response, error)) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseFunc = f
	return c
}

// QueueResponse adds a response to the queue.
func (c *MockClient) QueueResponse(response *Response) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, response)
	return c
}

// QueueToolCall queues a response that invokes one tool.
func (c *MockClient) QueueToolCall(toolName string, arguments map[string]any) *MockClient {
	argsJSON, _ := json.Marshal(arguments)

	c.mu.Lock()
	id := fmt.Sprintf("call_%d", len(c.responses)+len(c.calls))
	c.mu.Unlock()

	return c.QueueResponse(&Response{
		StopReason: StopToolUse,
		ToolCalls: []ToolCall{{
			ID:        id,
			Name:      toolName,
			Arguments: string(argsJSON),
		}},
		InputTokens:  50,
		OutputTokens: 50,
	})
}

// QueueFinalResponse queues a text response with no tool calls.
func (c *MockClient) QueueFinalResponse(content string) *MockClient {
	return c.QueueResponse(&Response{
		Content:      content,
		StopReason:   StopEnd,
		InputTokens:  50,
		OutputTokens: 50 + len(content)/4,
	})
}

// SetDefaultResponse sets the response returned when the queue is empty.
func (c *MockClient) SetDefaultResponse(response *Response) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultResponse = response
	return c
}

// Complete implements Client. Reasoning then content are streamed as one
// delta each before returning.
func (c *MockClient) Complete(ctx context.Context, request *Request, stream StreamHandler) (*Response, error) {
	c.mu.Lock()
	recorded := CompletionCall{Timestamp: time.Now()}
	if request != nil {
		recorded.Request = *request
		recorded.Request.Messages = append([]Message(nil), request.Messages...)
	}
	c.calls = append(c.calls, recorded)
	delay, errToReturn, responseFunc := c.delay, c.errorToReturn, c.responseFunc

	var response *Response
	if responseFunc == nil {
		if len(c.responses) > 0 {
			response = c.responses[0]
			c.responses = c.responses[1:]
		} else if c.defaultResponse != nil {
			copied := *c.defaultResponse
			response = &copied
		}
	}
	model := c.model
	c.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errToReturn != nil {
		return nil, errToReturn
	}

	if responseFunc != nil {
		var err error
		response, err = responseFunc(ctx, request)
		if err != nil {
			return nil, err
		}
	}
	if response == nil {
		return nil, fmt.Errorf("mock client: no response configured")
	}

	stream.emit(DeltaReasoning, response.Reasoning)
	stream.emit(DeltaText, response.Content)

	out := *response
	out.Duration = delay
	out.Model = model
	return &out, nil
}

// Name implements Client.
func (c *MockClient) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Model implements Client.
func (c *MockClient) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// GetCalls returns all recorded calls.
func (c *MockClient) GetCalls() []CompletionCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make([]CompletionCall, len(c.calls))
	copy(calls, c.calls)
	return calls
}

// CallCount returns the number of calls made.
func (c *MockClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// LastRequest returns the most recent request, or nil.
func (c *MockClient) LastRequest() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	req := c.calls[len(c.calls)-1].Request
	return &req
}

// Pending returns the number of queued responses not yet consumed.
func (c *MockClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses)
}

// Reset clears queued responses, recorded calls and configured failures.
func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = nil
	c.calls = nil
	c.errorToReturn = nil
	c.responseFunc = nil
	c.delay = 0
}

// BlockUntilCanceled is a response function that waits for cancellation.
func BlockUntilCanceled(ctx context.Context, _ *Request) (*Response, error) {
	<-ctx.Done()
	return nil, context.Cause(ctx)
}
