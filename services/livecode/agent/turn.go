// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/events"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/llm"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/tools"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/telemetry"
)

// Metadata keys written on recorded messages.
const (
	MetaContextEnvelope  = "context_envelope"
	MetaCompletionReason = "completion_reason"
	MetaApplyStatus      = "apply_status"
	MetaApplyErrorCode   = "apply_error_code"
)

// turnRun is the mutable state of one turn. It is owned by the turn
// goroutine.
type turnRun struct {
	turn Turn
	req  *llm.Request

	toolsLeft   int
	repairsLeft int
	lookupsLeft int
	forcedLeft  int

	// awaitingRepair is set after an UNKNOWN_SOUND rejection.
	awaitingRepair bool
	usedPseudo     bool

	lastApply     *apply.Outcome
	lastFailure   string
	scheduledCode string
	results       []tools.Result
}

// execute runs one turn to a terminal state. It never panics.
func (r *Runner) execute(ctx context.Context, at *activeTurn, text string, snap turnSnapshot) (res TurnResult) {
	turn := at.turn
	ctx, span := telemetry.Tracer.Start(ctx, "agent.Turn",
		trace.WithAttributes(attribute.String("session.id", r.sessionID), attribute.String("turn.id", turn.ID)))
	defer span.End()
	logger := r.logger.With("turn_id", turn.ID)

	tr := &turnRun{
		turn:        turn,
		toolsLeft:   r.cfg.ToolBudget,
		repairsLeft: r.cfg.RepairBudget,
		lookupsLeft: r.cfg.KnowledgeLookupsPerTurn,
		forcedLeft:  r.cfg.ForcedFollowUps,
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("turn panicked", "panic", p)
			res = r.ended(tr, StateFailed, "", fmt.Errorf("internal error: %v", p))
		}
		span.SetAttributes(attribute.String("turn.status", string(res.Turn.Status)))
		if res.Turn.Status == StateFailed && res.Err != nil {
			span.SetStatus(codes.Error, res.Err.Error())
		}
		telemetry.RecordTurn(string(res.Turn.Status), res.Turn.Duration())
	}()

	ctx, cancelTimeout := context.WithTimeoutCause(ctx, r.cfg.TurnTimeout, ErrTurnTimeout)
	defer cancelTimeout()

	var envText, shownHash string
	if !snap.suppressEnvelope {
		env := buildEnvelope(ctx, r.host, snap.lastShownHash, r.cfg)
		envText = env.Render()
		if env.Available {
			shownHash = env.CodeHash
		}
	}

	messages := historyMessages(snap.history)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: withEnvelope(envText, text)})
	tr.req = &llm.Request{
		SystemPrompt:    r.systemPrompt,
		Messages:        messages,
		Tools:           tools.Definitions(),
		Temperature:     r.cfg.Temperature,
		ReasoningEffort: r.cfg.ReasoningEffort,
		MaxTokens:       r.cfg.MaxTokens,
	}

	reply, reason, err := r.drive(ctx, tr)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			logger.Info("turn canceled", "reason", cancelReason(cause))
			return r.ended(tr, StateCanceled, cancelReason(cause), cause)
		}
		logger.Error("turn failed", "error", err)
		return r.ended(tr, StateFailed, "", err)
	}
	// A stop that lands after the last chunk still wins over recording.
	if cause := context.Cause(ctx); cause != nil {
		logger.Info("turn canceled", "reason", cancelReason(cause))
		return r.ended(tr, StateCanceled, cancelReason(cause), cause)
	}

	final := strings.TrimSpace(reply)
	if final == "" || (tr.usedPseudo && restatesIntent(final) && (tr.lastApply != nil || tr.lastFailure != "")) {
		final = fallbackText(tr.lastApply, tr.lastFailure)
		if reason == ReasonStop {
			reason = ReasonFallback
		}
	}
	if tr.lastApply != nil && tr.lastApply.IsScheduled() {
		final = withCodeBlock(final, tr.scheduledCode)
	}

	r.record(ctx, tr, text, envText, shownHash, final, reason)
	res = r.ended(tr, StateCompleted, reason, nil)
	res.Content = final
	logger.Info("turn completed", "reason", reason, "tool_calls", len(tr.results))
	return res
}

func (r *Runner) ended(tr *turnRun, status TurnState, reason string, err error) TurnResult {
	turn := tr.turn
	turn.Status = status
	turn.EndedAt = r.now()
	return TurnResult{
		Turn:        turn,
		Reason:      reason,
		Err:         err,
		LastApply:   tr.lastApply,
		ToolResults: tr.results,
	}
}

func cancelReason(cause error) string {
	switch {
	case errors.Is(cause, ErrStopped):
		return "stopped"
	case errors.Is(cause, ErrSuperseded):
		return "superseded"
	case errors.Is(cause, ErrTurnTimeout):
		return "timeout"
	case errors.Is(cause, ErrRunnerClosed):
		return "closed"
	}
	return "canceled"
}

// drive runs model rounds until the model answers without tool calls.
func (r *Runner) drive(ctx context.Context, tr *turnRun) (string, string, error) {
	pseudoPending := false
	for round := 0; round < r.cfg.MaxModelRounds; round++ {
		if cause := context.Cause(ctx); cause != nil {
			return "", "", cause
		}
		resp, err := r.client.Complete(ctx, tr.req, r.streamTo(tr.turn))
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return "", "", cause
			}
			return "", "", fmt.Errorf("completion: %w", err)
		}

		if resp.HasToolCalls() {
			tr.req.Messages = append(tr.req.Messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, tc := range resp.ToolCalls {
				res, err := r.executeCall(ctx, tr, tools.Call{ID: tc.ID, Name: tc.Name, Input: json.RawMessage(tc.Arguments)})
				if err != nil {
					return "", "", err
				}
				tr.req.Messages = append(tr.req.Messages, llm.Message{
					Role:       llm.RoleTool,
					ToolCallID: res.ID,
					Content:    res.ModelContent(),
				})
			}
			pseudoPending = false
			continue
		}

		text := resp.Content
		if calls, cleaned := tools.ParsePseudoCalls(text); len(calls) > 0 {
			tr.usedPseudo = true
			var b strings.Builder
			b.WriteString(followUpAfterPseudoCalls)
			for _, pc := range calls {
				telemetry.RecordPseudoCall(pc.Dialect)
				res, err := r.executeCall(ctx, tr, pc.Call)
				if err != nil {
					return "", "", err
				}
				fmt.Fprintf(&b, "\n\n[%s %s]\n%s", res.Name, res.ID, res.ModelContent())
			}
			tr.req.Messages = append(tr.req.Messages,
				llm.Message{Role: llm.RoleAssistant, Content: cleaned},
				llm.Message{Role: llm.RoleUser, Content: b.String()},
			)
			pseudoPending = true
			continue
		}

		if pseudoPending && restatesIntent(text) && tr.forcedLeft > 0 {
			tr.forcedLeft--
			if strings.TrimSpace(text) != "" {
				tr.req.Messages = append(tr.req.Messages, llm.Message{Role: llm.RoleAssistant, Content: text})
			}
			tr.req.Messages = append(tr.req.Messages, llm.Message{Role: llm.RoleUser, Content: forceAnswerPrompt})
			continue
		}

		reason := ReasonStop
		if resp.StopReason == llm.StopMaxTokens {
			reason = ReasonMaxTokens
		}
		return text, reason, nil
	}
	return "", ReasonMaxRounds, nil
}

func (r *Runner) streamTo(turn Turn) llm.StreamHandler {
	return func(d llm.Delta) {
		typ := events.TypeTextDelta
		if d.Kind == llm.DeltaReasoning {
			typ = events.TypeReasoningDelta
		}
		r.emitter.Emit(typ, turn.ID, events.DeltaData{MessageID: turn.MessageID, Text: d.Text})
	}
}

// executeCall enforces per-turn limits, dispatches one call and publishes
// its events. The error is non-nil only when the turn was canceled while
// the call ran; the call's result is then discarded.
func (r *Runner) executeCall(ctx context.Context, tr *turnRun, call tools.Call) (tools.Result, error) {
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	var input json.RawMessage
	if len(call.Input) > 0 {
		input, _ = tools.RepairJSON(string(call.Input))
	}
	r.emitter.Emit(events.TypeToolStarted, tr.turn.ID, events.ToolStartedData{CallID: call.ID, Tool: call.Name, Input: input})

	var res tools.Result
	switch {
	case tr.toolsLeft <= 0:
		res = r.refuse(call, "budget_exhausted", "Tool budget exhausted for this turn. Answer the user with what you have.")
	case call.Name == string(tools.KnowledgeLookup) && tr.lookupsLeft <= 0:
		res = r.refuse(call, "lookup_limit", "knowledge_lookup was already used this turn. Use the sound names you already have or ask the user.")
	case call.Name == string(tools.ApplyChange) && tr.awaitingRepair && tr.repairsLeft <= 0:
		res = r.refuse(call, "repair_budget_exhausted", "Repair budget exhausted. Tell the user which sounds are unavailable.")
	default:
		tr.toolsLeft--
		if call.Name == string(tools.KnowledgeLookup) {
			tr.lookupsLeft--
		}
		if call.Name == string(tools.ApplyChange) && tr.awaitingRepair {
			tr.repairsLeft--
		}
		var err error
		res, err = r.dispatch(ctx, call)
		if err != nil {
			return tools.Result{}, err
		}
	}

	tr.results = append(tr.results, res)
	r.emitter.Emit(events.TypeToolCompleted, tr.turn.ID, events.ToolCompletedData{
		CallID:     res.ID,
		Tool:       res.Name,
		Status:     string(res.Status),
		Output:     res.Output,
		Error:      res.Error,
		DurationMs: res.Timing.DurationMs,
	})
	r.observe(tr, res)
	return res, nil
}

// dispatch runs the call on a detached context so a canceled turn does not
// interrupt a handler that may already have committed side effects.
func (r *Runner) dispatch(ctx context.Context, call tools.Call) (tools.Result, error) {
	ch := make(chan tools.Result, 1)
	go func() {
		ch <- r.dispatcher.Dispatch(context.WithoutCancel(ctx), call)
	}()
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		r.logger.Info("turn canceled during tool call; result will be discarded", "tool", call.Name, "call_id", call.ID)
		return tools.Result{}, context.Cause(ctx)
	}
}

func (r *Runner) refuse(call tools.Call, code, msg string) tools.Result {
	now := r.now()
	out, _ := json.Marshal(map[string]any{"refused": true, "code": code, "message": msg})
	return tools.Result{
		ID:     call.ID,
		Name:   call.Name,
		Status: tools.StatusFailed,
		Output: out,
		Error:  msg,
		Timing: tools.Timing{StartedAt: now, EndedAt: now},
	}
}

// observe tracks apply outcomes and projects them onto status events.
func (r *Runner) observe(tr *turnRun, res tools.Result) {
	if !res.Succeeded() {
		tr.lastFailure = res.Error
	}
	out, ok := res.ApplyOutcome()
	if !ok {
		return
	}
	tr.lastApply = &out

	data := events.ApplyStatusData{Reason: out.Summary()}
	if out.IsScheduled() {
		tr.awaitingRepair = false
		id := out.Scheduled.ActivationID
		data.Status = events.ApplyScheduled
		data.ActivationID = id
		if r.gate != nil {
			if act, ok := r.gate.Scheduler().Lookup(id); ok {
				tr.scheduledCode = act.Code
			}
		}
		r.mu.Lock()
		r.activationTurns[id] = tr.turn.ID
		r.mu.Unlock()
	} else {
		tr.awaitingRepair = out.ErrorCode() == apply.CodeUnknownSound
		data.Status = events.ApplyRejected
		data.ErrorCode = string(out.ErrorCode())
	}
	r.emitter.Emit(events.TypeApplyStatus, tr.turn.ID, data)
}

// record appends the user and assistant messages to the active branch and
// persists the session.
func (r *Runner) record(ctx context.Context, tr *turnRun, text, envText, shownHash, final, reason string) {
	user := conversation.NewTextMessage(tr.turn.UserMessageID, conversation.RoleUser, text)
	user.Metadata.TurnID = tr.turn.ID
	if envText != "" {
		user.Metadata.Extra = map[string]string{MetaContextEnvelope: envText}
	}

	assistant := conversation.NewTextMessage(tr.turn.MessageID, conversation.RoleAssistant, final)
	assistant.Metadata.TurnID = tr.turn.ID
	assistant.Metadata.Extra = map[string]string{MetaCompletionReason: reason}
	if tr.lastApply != nil {
		assistant.Metadata.Extra[MetaApplyStatus] = string(tr.lastApply.Status)
		if code := tr.lastApply.ErrorCode(); code != "" {
			assistant.Metadata.Extra[MetaApplyErrorCode] = string(code)
		}
	}

	r.mu.Lock()
	msgs := append(conversation.ActiveMessages(r.session), user, assistant)
	r.session = conversation.UpdateActiveBranchMessages(r.session, msgs)
	r.retryTexts[user.ID] = text
	if shownHash != "" {
		r.lastShownHash = shownHash
	}
	s := r.session
	r.mu.Unlock()

	r.persist(ctx, s)
}

// historyMessages converts recorded messages to model input. User messages
// carry the envelope they were sent with.
func historyMessages(msgs []conversation.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: withEnvelope(m.Metadata.Extra[MetaContextEnvelope], m.Text())})
		case conversation.RoleAssistant:
			if text := m.Text(); text != "" {
				out = append(out, llm.Message{Role: llm.RoleAssistant, Content: text})
			}
		case conversation.RoleSystem:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.Text()})
		}
	}
	return out
}

func withEnvelope(envText, text string) string {
	if envText == "" {
		return text
	}
	return envText + "\n\n" + text
}
