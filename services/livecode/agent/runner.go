// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent runs conversational turns against the live program.
//
// A Runner owns one session. Each user message becomes a turn that drives
// the model through reasoning, tool calls and text until it finishes, is
// stopped, times out, or fails. At most one turn runs at a time; a new
// message cancels the running turn and waits for it before starting.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/events"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/llm"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/tools"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
)

// SessionStore persists sessions. *store.SessionStore satisfies it.
type SessionStore interface {
	Save(ctx context.Context, id string, s *conversation.Session) error
}

// Deps are the collaborators of a Runner. Only Client is required.
type Deps struct {
	Client llm.Client

	// Host backs read_code and the runtime envelope.
	Host host.Host

	// Gate validates and schedules apply_change calls.
	Gate *apply.Gate

	Knowledge knowledge.Provider

	// Skills defaults to knowledge.BuiltinSkills.
	Skills []knowledge.Skill

	Store   SessionStore
	Emitter *events.Emitter
	Logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig sets the turn bounds. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(r *Runner) { r.cfg = cfg.withDefaults() }
}

// WithSessionID sets the ID used for persistence and events.
func WithSessionID(id string) Option {
	return func(r *Runner) { r.sessionID = id }
}

// WithSession resumes an existing session.
func WithSession(s *conversation.Session) Option {
	return func(r *Runner) {
		if s != nil {
			r.session = s
		}
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(r *Runner) { r.systemPrompt = prompt }
}

// WithNow replaces the time source for turn timings.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Turn Turn

	// Content is the final assistant text. Empty unless completed.
	Content string

	// Reason is the completion reason, or the cancellation reason.
	Reason string

	// Err is the failure or cancellation cause.
	Err error

	// LastApply is the last apply_change outcome of the turn, if any.
	LastApply *apply.Outcome

	ToolResults []tools.Result
}

type activeTurn struct {
	turn   Turn
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Runner drives turns for one session.
//
// Thread Safety:
//
//	Safe for concurrent use. Event handlers run on the turn goroutine and
//	must not synchronously call ResetContext, Close, SwitchRevision or any
//	turn-starting method; those wait for the running turn. Stop does not
//	wait and is safe to call from a handler.
type Runner struct {
	cfg          Config
	client       llm.Client
	host         host.Host
	gate         *apply.Gate
	dispatcher   *tools.Dispatcher
	store        SessionStore
	emitter      *events.Emitter
	logger       *slog.Logger
	sessionID    string
	systemPrompt string
	now          func() time.Time

	mu               sync.Mutex
	session          *conversation.Session
	state            TurnState
	active           *activeTurn
	lastShownHash    string
	suppressEnvelope bool
	retryTexts       map[string]string
	activationTurns  map[string]string
	closed           bool
}

// NewRunner creates a runner.
//
// Description:
//
//	Wires the dispatcher over the host, gate, knowledge provider and
//	skills, and subscribes to the gate's activations so "applied" status
//	events follow "scheduled" ones.
//
// Inputs:
//
//	deps - Collaborators. Client is required.
//	opts - Options.
//
// Outputs:
//
//	*Runner - The runner, idle.
//	error - Non-nil if Client is missing.
func NewRunner(deps Deps, opts ...Option) (*Runner, error) {
	if deps.Client == nil {
		return nil, errors.New("agent: completion client is required")
	}
	r := &Runner{
		cfg:             DefaultConfig(),
		client:          deps.Client,
		host:            deps.Host,
		gate:            deps.Gate,
		store:           deps.Store,
		logger:          deps.Logger,
		systemPrompt:    DefaultSystemPrompt,
		now:             time.Now,
		state:           StateIdle,
		retryTexts:      make(map[string]string),
		activationTurns: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.sessionID == "" {
		r.sessionID = uuid.NewString()
	}
	if r.session == nil {
		r.session = conversation.CreateSessionFromMessages(nil)
	}
	r.emitter = deps.Emitter
	if r.emitter == nil {
		r.emitter = events.NewEmitter(events.WithSessionID(r.sessionID), events.WithEmitterLogger(r.logger))
	}
	r.logger = r.logger.With("session_id", r.sessionID)

	handlers := tools.Handlers{Knowledge: deps.Knowledge, Skills: deps.Skills}
	if handlers.Skills == nil {
		handlers.Skills = knowledge.BuiltinSkills()
	}
	if deps.Host != nil {
		handlers.Reader = deps.Host
	}
	if deps.Gate != nil {
		handlers.Applier = deps.Gate
		deps.Gate.Scheduler().OnActivation(r.onActivation)
	}
	r.dispatcher = tools.NewDispatcher(handlers, tools.WithDispatcherLogger(r.logger))
	return r, nil
}

// Emitter returns the event emitter.
func (r *Runner) Emitter() *events.Emitter { return r.emitter }

// SessionID returns the session ID.
func (r *Runner) SessionID() string { return r.sessionID }

// Session returns the current session. Sessions are immutable values.
func (r *Runner) Session() *conversation.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Messages returns the active branch's messages.
func (r *Runner) Messages() []conversation.Message {
	return conversation.ActiveMessages(r.Session())
}

// State returns the turn state.
func (r *Runner) State() TurnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ActiveTurn returns the running turn, if any.
func (r *Runner) ActiveTurn() (Turn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Turn{}, false
	}
	return r.active.turn, true
}

// SendUserMessage runs a turn for text and blocks until it ends.
//
// Description:
//
//	Cancels any running turn (last writer wins), waits for it to finish,
//	then runs the new turn. Turn failures and cancellations are reported in
//	the result, not as errors.
//
// Inputs:
//
//	ctx - Parent context. Canceling it cancels the turn.
//	text - The user message.
//
// Outputs:
//
//	TurnResult - The turn outcome.
//	error - ErrEmptyMessage or ErrRunnerClosed.
func (r *Runner) SendUserMessage(ctx context.Context, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	return r.run(ctx, text)
}

// RetryMessage resubmits the recorded text of a completed user message as
// a new turn.
func (r *Runner) RetryMessage(ctx context.Context, messageID string) (TurnResult, error) {
	r.mu.Lock()
	text, ok := r.retryTexts[messageID]
	r.mu.Unlock()
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %s", ErrNothingToRetry, messageID)
	}
	return r.run(ctx, text)
}

// EditMessage forks the conversation at a user message and runs the
// edited text as a new turn on the new branch.
func (r *Runner) EditMessage(ctx context.Context, messageID, newText string) (TurnResult, error) {
	if strings.TrimSpace(newText) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	r.abortActive(ErrSuperseded)

	r.mu.Lock()
	ns, prompt, ok := conversation.CreateEditedBranch(r.session, conversation.EditRequest{MessageID: messageID, NewText: newText})
	if !ok {
		r.mu.Unlock()
		return TurnResult{}, fmt.Errorf("%w: %s", ErrMessageNotEditable, messageID)
	}
	r.session = ns
	r.lastShownHash = ""
	r.mu.Unlock()

	r.persist(ctx, ns)
	return r.run(ctx, prompt)
}

// SwitchRevision shows another variant of an edited user message by
// activating the branch that owns it.
func (r *Runner) SwitchRevision(ctx context.Context, revisionKey, variantID string) error {
	r.abortActive(ErrSuperseded)

	r.mu.Lock()
	known := slices.ContainsFunc(r.session.Revisions[revisionKey], func(v conversation.RevisionVariant) bool {
		return v.ID == variantID
	})
	if !known {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrRevisionNotFound, revisionKey, variantID)
	}
	ns := conversation.SwitchRevisionVariant(r.session, conversation.SwitchRequest{RevisionKey: revisionKey, VariantID: variantID})
	changed := ns != r.session
	r.session = ns
	if changed {
		r.lastShownHash = ""
	}
	r.mu.Unlock()

	if changed {
		r.persist(ctx, ns)
	}
	return nil
}

// Stop cancels the running turn. It reports whether a turn was running.
// The turn ends as canceled; Stop does not wait for it.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	at := r.active
	r.mu.Unlock()
	if at == nil {
		return false
	}
	at.cancel(ErrStopped)
	return true
}

// ResetContext aborts any running turn, forgets retry texts and the last
// code hash shown to the model, and when suppressEnvelope is true omits the
// runtime envelope from the next turn only.
func (r *Runner) ResetContext(suppressEnvelope bool) {
	r.abortActive(ErrStopped)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryTexts = make(map[string]string)
	r.lastShownHash = ""
	r.suppressEnvelope = suppressEnvelope
	r.logger.Info("context reset", "suppress_envelope", suppressEnvelope)
}

// Close aborts any running turn and rejects further turns.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.abortActive(ErrRunnerClosed)
}

// abortActive cancels the running turn and waits until none is running.
func (r *Runner) abortActive(cause error) {
	for {
		r.mu.Lock()
		at := r.active
		r.mu.Unlock()
		if at == nil {
			return
		}
		at.cancel(cause)
		<-at.done
	}
}

// turnSnapshot is the session state a turn starts from.
type turnSnapshot struct {
	history          []conversation.Message
	lastShownHash    string
	suppressEnvelope bool
}

func (r *Runner) run(ctx context.Context, text string) (TurnResult, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return TurnResult{}, ErrRunnerClosed
		}
		prev := r.active
		if prev == nil {
			break
		}
		r.mu.Unlock()
		prev.cancel(ErrSuperseded)
		<-prev.done
	}

	turnCtx, cancel := context.WithCancelCause(ctx)
	at := &activeTurn{
		turn: Turn{
			ID:            uuid.NewString(),
			MessageID:     uuid.NewString(),
			UserMessageID: uuid.NewString(),
			Status:        StateRunning,
			StartedAt:     r.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	from := r.state
	if err := checkTransition(from, StateRunning); err != nil {
		r.logger.Warn("unexpected turn state", "error", err)
	}
	r.active = at
	r.state = StateRunning
	snap := turnSnapshot{
		history:          conversation.ActiveMessages(r.session),
		lastShownHash:    r.lastShownHash,
		suppressEnvelope: r.suppressEnvelope,
	}
	r.suppressEnvelope = false
	r.mu.Unlock()

	r.emitState(at.turn.ID, from, StateRunning, "user message")
	res := r.execute(turnCtx, at, text, snap)
	r.finish(at, res)
	return res, nil
}

// finish publishes the terminal state and releases the turn.
func (r *Runner) finish(at *activeTurn, res TurnResult) {
	turn := res.Turn
	r.mu.Lock()
	r.state = turn.Status
	r.mu.Unlock()

	r.emitState(turn.ID, StateRunning, turn.Status, res.Reason)
	switch turn.Status {
	case StateCompleted:
		r.emitter.Emit(events.TypeTurnCompleted, turn.ID, events.TurnCompletedData{
			MessageID:  turn.MessageID,
			Content:    res.Content,
			Reason:     res.Reason,
			StartedAt:  turn.StartedAt,
			EndedAt:    turn.EndedAt,
			DurationMs: turn.Duration().Milliseconds(),
		})
	case StateCanceled:
		r.emitter.Emit(events.TypeTurnCanceled, turn.ID, events.TurnCanceledData{
			MessageID:  turn.MessageID,
			Reason:     res.Reason,
			StartedAt:  turn.StartedAt,
			EndedAt:    turn.EndedAt,
			DurationMs: turn.Duration().Milliseconds(),
		})
	case StateFailed:
		msg := "turn failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		r.emitter.Emit(events.TypeTurnFailed, turn.ID, events.TurnFailedData{
			MessageID:  turn.MessageID,
			Error:      msg,
			StartedAt:  turn.StartedAt,
			EndedAt:    turn.EndedAt,
			DurationMs: turn.Duration().Milliseconds(),
		})
	}

	r.mu.Lock()
	if r.active == at {
		r.active = nil
	}
	r.state = StateIdle
	r.mu.Unlock()
	at.cancel(nil)

	r.emitState(turn.ID, turn.Status, StateIdle, "")
	close(at.done)
}

func (r *Runner) emitState(turnID string, from, to TurnState, reason string) {
	r.emitter.Emit(events.TypeTurnState, turnID, events.TurnStateData{From: string(from), To: string(to), Reason: reason})
}

func (r *Runner) persist(ctx context.Context, s *conversation.Session) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.WithoutCancel(ctx), r.sessionID, s); err != nil {
		r.logger.Warn("session save failed", "error", err)
	}
}

// onActivation projects scheduler results onto apply status events.
func (r *Runner) onActivation(res apply.ActivationResult) {
	r.mu.Lock()
	turnID := r.activationTurns[res.Activation.ID]
	delete(r.activationTurns, res.Activation.ID)
	r.mu.Unlock()

	data := events.ApplyStatusData{ActivationID: res.Activation.ID}
	switch {
	case res.Applied:
		data.Status = events.ApplyApplied
		data.Reason = "Change is live."
		if res.StartedPlayback {
			data.Reason = "Change is live; playback started."
		}
	case res.Superseded:
		data.Status = events.ApplyRejected
		data.Reason = "Superseded by a newer change."
	default:
		data.Status = events.ApplyRejected
		data.ErrorCode = string(apply.CodeRuntimeExecute)
		if res.Err != nil {
			data.Reason = res.Err.Error()
		}
	}
	r.emitter.Emit(events.TypeApplyStatus, turnID, data)
}
