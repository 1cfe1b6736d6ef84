// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apply

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/telemetry"
)

// Clock abstracts time for the scheduler.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// ActivationPolicy decides what happens to pending activations when a new
// change is scheduled.
type ActivationPolicy string

const (
	// PolicyReplace keeps a single pending slot. Scheduling a change cancels
	// any activation that has not fired yet.
	PolicyReplace ActivationPolicy = "replace"

	// PolicyIndependent lets every activation fire on its own timer. The
	// buffer reflects whichever fires last.
	PolicyIndependent ActivationPolicy = "independent"
)

// ParseActivationPolicy parses a policy name. Empty means PolicyReplace.
func ParseActivationPolicy(s string) (ActivationPolicy, error) {
	switch ActivationPolicy(s) {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyIndependent:
		return PolicyIndependent, nil
	}
	return "", fmt.Errorf("unknown activation policy %q", s)
}

// Activation is a change waiting to be written to the live buffer.
type Activation struct {
	ID          string
	Code        string
	Hash        string
	ScheduledAt time.Time
	ActivateAt  time.Time
}

// ActivationResult reports what happened to an activation.
type ActivationResult struct {
	Activation Activation

	// Applied is true when the code was written and evaluated.
	Applied bool

	// Superseded is true when a newer change replaced this one before it fired.
	Superseded bool

	// StartedPlayback is true when the activation started a stopped program.
	StartedPlayback bool

	// Err is the host error that prevented or followed the write.
	Err error
}

type pendingActivation struct {
	activation Activation
	timer      Timer
}

// Scheduler arms deferred activations and fires each exactly once.
//
// Thread Safety:
//
//	Safe for concurrent use. Hooks run on the timer goroutine and must not
//	block for long.
type Scheduler struct {
	host   host.Host
	clock  Clock
	policy ActivationPolicy
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingActivation
	hooks   []func(ActivationResult)
}

// NewScheduler creates a scheduler writing to h.
func NewScheduler(h host.Host, clock Clock, policy ActivationPolicy, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	if policy == "" {
		policy = PolicyReplace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		host:    h,
		clock:   clock,
		policy:  policy,
		logger:  logger,
		pending: make(map[string]*pendingActivation),
	}
}

// OnActivation registers a hook called once per activation with its result.
func (s *Scheduler) OnActivation(hook func(ActivationResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Schedule arms an activation of code at the given time.
//
// Description:
//
//	Under PolicyReplace every activation that has not fired yet is stopped
//	and reported as superseded before the new one is armed.
//
// Inputs:
//
//	code - The full code to write when the activation fires.
//	hash - The content hash of code.
//	at - When to fire. Times in the past fire immediately.
//
// Outputs:
//
//	Activation - The armed activation.
func (s *Scheduler) Schedule(code, hash string, at time.Time) Activation {
	now := s.clock.Now()
	act := Activation{
		ID:          uuid.NewString(),
		Code:        code,
		Hash:        hash,
		ScheduledAt: now,
		ActivateAt:  at,
	}

	var superseded []Activation
	s.mu.Lock()
	if s.policy == PolicyReplace {
		for id, p := range s.pending {
			if p.timer.Stop() {
				superseded = append(superseded, p.activation)
			}
			delete(s.pending, id)
		}
	}
	p := &pendingActivation{activation: act}
	s.pending[act.ID] = p
	p.timer = s.clock.AfterFunc(at.Sub(now), func() { s.fire(act.ID) })
	s.mu.Unlock()

	for _, old := range superseded {
		s.logger.Info("pending activation superseded", "activation_id", old.ID, "by", act.ID)
		s.notify(ActivationResult{Activation: old, Superseded: true})
	}
	return act
}

// Pending returns the activations that have not fired yet.
func (s *Scheduler) Pending() []Activation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Activation, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.activation)
	}
	return out
}

// Lookup returns a pending activation by ID.
func (s *Scheduler) Lookup(id string) (Activation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return Activation{}, false
	}
	return p.activation, true
}

// CancelAll stops every pending activation without notifying hooks and
// returns how many were stopped.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.pending {
		if p.timer.Stop() {
			n++
		}
		delete(s.pending, id)
	}
	return n
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	act := p.activation
	result := ActivationResult{Activation: act}

	state, stateErr := s.host.State(ctx)
	if err := s.host.WriteCode(ctx, act.Code); err != nil {
		result.Err = fmt.Errorf("write code: %w", err)
	} else if err := s.host.Evaluate(ctx); err != nil {
		result.Err = fmt.Errorf("evaluate: %w", err)
	} else {
		result.Applied = true
		if stateErr == nil && !state.Running {
			if err := s.host.Start(ctx); err != nil {
				s.logger.Warn("start playback failed", "activation_id", act.ID, "error", err)
			} else {
				result.StartedPlayback = true
			}
		}
	}

	telemetry.RecordActivation(ctx, s.clock.Now().Sub(act.ScheduledAt), result.Applied)
	if result.Err != nil {
		s.logger.Error("activation failed", "activation_id", act.ID, "error", result.Err)
	} else {
		s.logger.Debug("activation applied", "activation_id", act.ID, "hash", act.Hash)
	}
	s.notify(result)
}

func (s *Scheduler) notify(result ActivationResult) {
	s.mu.Lock()
	hooks := append([]func(ActivationResult){}, s.hooks...)
	s.mu.Unlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("activation hook panicked", "activation_id", result.Activation.ID, "panic", r)
				}
			}()
			hook(result)
		}()
	}
}
