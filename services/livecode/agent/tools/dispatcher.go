// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/telemetry"
)

// Dispatcher routes calls to handlers.
//
// Thread Safety:
//
//	Safe for concurrent use. The runner still dispatches one call at a time
//	so later calls observe the effects of earlier ones.
type Dispatcher struct {
	handlers Handlers
	logger   *slog.Logger
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithNow replaces the time source for timings.
func WithNow(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher over h.
func NewDispatcher(h Handlers, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{handlers: h, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs call against h with a default dispatcher.
func Dispatch(ctx context.Context, call Call, h Handlers) Result {
	return NewDispatcher(h).Dispatch(ctx, call)
}

// handlerOutput is what a tool handler returns: a payload, and whether the
// payload itself reports failure.
type handlerOutput struct {
	payload any
	failed  bool
	message string
}

// Dispatch executes one call and returns exactly one result.
//
// Description:
//
//	Times the call, routes it by name over the closed tool set, and converts
//	handler errors and panics into failed results. Unknown tool names fail
//	with ErrUnknownTool.
//
// Inputs:
//
//	ctx - Passed to handlers.
//	call - The call. A missing ID is filled in.
//
// Outputs:
//
//	Result - Never a zero value; Status is always set.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (res Result) {
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	ctx, span := telemetry.Tracer.Start(ctx, "tools.Dispatch",
		trace.WithAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.ID)))
	defer span.End()

	started := d.now()
	res = Result{ID: call.ID, Name: call.Name}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "tool", call.Name, "call_id", call.ID, "panic", r)
			res.Status = StatusFailed
			res.Output = nil
			res.Err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			res.Error = res.Err.Error()
		}
		ended := d.now()
		res.Timing = Timing{StartedAt: started, EndedAt: ended, DurationMs: ended.Sub(started).Milliseconds()}
		if res.Status == StatusFailed {
			span.SetStatus(codes.Error, res.Error)
		}
		span.SetAttributes(attribute.String("tool.status", string(res.Status)))
		telemetry.RecordToolCall(call.Name, string(res.Status), ended.Sub(started))
	}()

	name, err := ParseName(call.Name)
	if err != nil {
		d.logger.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return d.fail(res, err)
	}

	var out handlerOutput
	switch name {
	case ReadCode:
		out, err = d.readCode(ctx, call.Input)
	case ApplyChange:
		out, err = d.applyChange(ctx, call.Input)
	case KnowledgeLookup:
		out, err = d.knowledgeLookup(ctx, call.Input)
	case SkillLookup:
		out, err = d.skillLookup(call.Input)
	}
	if err != nil {
		d.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return d.fail(res, err)
	}

	payload, err := json.Marshal(out.payload)
	if err != nil {
		return d.fail(res, fmt.Errorf("encode %s output: %w", name, err))
	}
	res.Output = payload
	res.Status = StatusSucceeded
	if out.failed {
		res.Status = StatusFailed
		res.Error = out.message
	}
	return res
}

func (d *Dispatcher) fail(res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	res.Error = err.Error()
	if res.Error == "" {
		res.Error = "tool failed"
	}
	return res
}

type unavailable struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// ReadCodeOutput is the output of read_code.
type ReadCodeOutput struct {
	Selector string `json:"selector"`
	Code     string `json:"code"`
	Hash     string `json:"hash"`
}

func (d *Dispatcher) readCode(ctx context.Context, input json.RawMessage) (handlerOutput, error) {
	if d.handlers.Reader == nil {
		return handlerOutput{payload: unavailable{
			Available: false,
			Message:   "Live code is not readable in this session. Write complete code with full_code and an empty-code base hash, or ask the user to paste the code.",
		}}, nil
	}
	var args readCodeArgs
	if err := decodeArgs(input, &args); err != nil {
		return handlerOutput{}, err
	}
	selector := args.Selector
	if selector == "" {
		selector = host.SelectorActive
	}
	snap, err := d.handlers.Reader.ReadCode(ctx, selector)
	if err != nil {
		return handlerOutput{}, fmt.Errorf("read code: %w", err)
	}
	return handlerOutput{payload: ReadCodeOutput{Selector: selector, Code: snap.Code, Hash: snap.Hash}}, nil
}

func (d *Dispatcher) applyChange(ctx context.Context, input json.RawMessage) (handlerOutput, error) {
	var args applyChangeArgs
	if err := decodeArgs(input, &args); err != nil {
		return rejectedOutput(apply.ValidationRejection(err.Error())), nil
	}
	req := args.request()

	// Short-circuit staleness without touching the applier.
	if d.handlers.Reader != nil && strings.TrimSpace(req.ExpectedBaseVersion) != "" {
		snap, err := d.handlers.Reader.ReadCode(ctx, host.SelectorActive)
		if err == nil && snap.Hash != req.ExpectedBaseVersion {
			return rejectedOutput(apply.StaleRejection(req.ExpectedBaseVersion, snap.Code, snap.Hash)), nil
		}
		if err != nil {
			d.logger.Debug("stale pre-check skipped", "error", err)
		}
	}

	if d.handlers.Applier == nil {
		return handlerOutput{}, errors.New("apply_change is unavailable: no change applier configured")
	}
	out, err := d.handlers.Applier.Apply(ctx, req)
	if err != nil {
		return handlerOutput{}, fmt.Errorf("apply change: %w", err)
	}
	if !out.IsScheduled() {
		return rejectedOutput(out), nil
	}
	return handlerOutput{payload: out}, nil
}

func rejectedOutput(out apply.Outcome) handlerOutput {
	return handlerOutput{payload: out, failed: true, message: out.Summary()}
}

func (d *Dispatcher) knowledgeLookup(ctx context.Context, input json.RawMessage) (handlerOutput, error) {
	var q knowledgeArgs
	if err := decodeArgs(input, &q); err != nil {
		return handlerOutput{}, err
	}
	if d.handlers.Knowledge == nil {
		return handlerOutput{payload: knowledge.Unavailable(q.Query)}, nil
	}
	src, err := d.handlers.Knowledge.Sources(ctx)
	if err != nil {
		d.logger.Warn("knowledge sources unavailable", "error", err)
		return handlerOutput{payload: knowledge.Unavailable(q.Query)}, nil
	}
	return handlerOutput{payload: knowledge.Lookup(src, q)}, nil
}

func (d *Dispatcher) skillLookup(input json.RawMessage) (handlerOutput, error) {
	var args skillArgs
	if err := decodeArgs(input, &args); err != nil {
		return handlerOutput{}, err
	}
	action := strings.ToLower(strings.TrimSpace(args.Action))
	if action == "" {
		action = "list"
		if args.ID != "" {
			action = "get"
		}
	}
	switch action {
	case "list":
		return handlerOutput{payload: listSkills(d.handlers.Skills, args.Query, args.Limit)}, nil
	case "get":
		id := args.ID
		if id == "" {
			id = args.Query
		}
		return handlerOutput{payload: getSkill(d.handlers.Skills, id)}, nil
	}
	return handlerOutput{}, fmt.Errorf("%w: action must be list or get, got %q", ErrInvalidArguments, args.Action)
}
