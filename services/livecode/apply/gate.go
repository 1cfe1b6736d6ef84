// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/telemetry"
)

const (
	// DefaultCyclesPerSecond is assumed when the live tempo is unknown.
	DefaultCyclesPerSecond = 0.5

	// MinCycleDuration is the floor on the activation delay.
	MinCycleDuration = 250 * time.Millisecond

	minCyclesPerSecond = 0.1
)

// CycleDuration returns one cycle at cps, rounded to the millisecond and
// never shorter than MinCycleDuration. Non-positive or non-finite cps uses
// DefaultCyclesPerSecond.
func CycleDuration(cps float64) time.Duration {
	return cycleDuration(cps, DefaultCyclesPerSecond, MinCycleDuration)
}

func cycleDuration(cps, fallback float64, floor time.Duration) time.Duration {
	if cps <= 0 || math.IsNaN(cps) || math.IsInf(cps, 0) {
		cps = fallback
	}
	ms := math.Round(1000 / math.Max(minCyclesPerSecond, cps))
	d := time.Duration(ms) * time.Millisecond
	if d < floor {
		return floor
	}
	return d
}

// Gate validates apply requests against a live host and schedules the
// accepted ones.
type Gate struct {
	host       host.Host
	scheduler  *Scheduler
	logger     *slog.Logger
	clock      Clock
	policy     ActivationPolicy
	defaultCPS float64
	minCycle   time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate and scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(g *Gate) { g.clock = clock }
}

// WithActivationPolicy sets how pending activations interact.
func WithActivationPolicy(policy ActivationPolicy) Option {
	return func(g *Gate) { g.policy = policy }
}

// WithDefaultCyclesPerSecond sets the tempo assumed when the host reports none.
func WithDefaultCyclesPerSecond(cps float64) Option {
	return func(g *Gate) {
		if cps > 0 {
			g.defaultCPS = cps
		}
	}
}

// WithMinCycle sets the floor on the activation delay.
func WithMinCycle(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.minCycle = d
		}
	}
}

// NewGate creates a gate over h.
func NewGate(h host.Host, opts ...Option) *Gate {
	g := &Gate{
		host:       h,
		logger:     slog.Default(),
		clock:      SystemClock,
		policy:     PolicyReplace,
		defaultCPS: DefaultCyclesPerSecond,
		minCycle:   MinCycleDuration,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.scheduler = NewScheduler(h, g.clock, g.policy, g.logger)
	return g
}

// Scheduler returns the gate's activation scheduler.
func (g *Gate) Scheduler() *Scheduler {
	return g.scheduler
}

// Apply validates req and schedules it.
//
// Description:
//
//	Runs the validation pipeline against a fresh read of the live code and
//	stops at the first failing step. An accepted change is armed to fire one
//	cycle from now; the live buffer is never modified before Apply returns.
//
// Inputs:
//
//	ctx - Cancellation for host reads and parsing.
//	req - The change and the hash it was written against.
//
// Outputs:
//
//	Outcome - Scheduled or rejected. Rejections are not errors.
//	error - Non-nil only when ctx is done.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (g *Gate) Apply(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "apply.Gate.Apply",
		trace.WithAttributes(attribute.String("change.kind", string(req.Change.Kind))))
	defer span.End()

	out, err := g.apply(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}

	span.SetAttributes(attribute.String("apply.status", string(out.Status)))
	if out.Rejected != nil {
		span.SetAttributes(
			attribute.String("apply.phase", string(out.Rejected.Phase)),
			attribute.String("apply.error_code", string(out.Rejected.ErrorCode)),
		)
	}
	telemetry.RecordApply(string(out.Status), string(out.ErrorCode()))
	g.logger.Info("apply outcome",
		"status", out.Status,
		"error_code", out.ErrorCode(),
		"kind", req.Change.Kind)
	return out, nil
}

func (g *Gate) apply(ctx context.Context, req Request) (Outcome, error) {
	if diags := validateShape(req); len(diags) > 0 {
		return rejected(PhaseValidate, CodeValidation, diags...), nil
	}

	snap, err := g.host.ReadCode(ctx, host.SelectorActive)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		return rejected(PhaseExecute, CodeRuntimeExecute, diag("read live code: %v", err)), nil
	}

	if req.ExpectedBaseVersion != snap.Hash {
		return StaleRejection(req.ExpectedBaseVersion, snap.Code, snap.Hash), nil
	}

	next, diags := computeNext(snap.Code, req.Change)
	if len(diags) > 0 {
		return rejected(PhaseCompute, CodeValidation, diags...), nil
	}

	prog, err := parseProgram(ctx, next)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		return rejected(PhaseValidate, CodeValidation, diag("%v", err)), nil
	}
	defer prog.Close()

	if diags := prog.syntaxErrors(); len(diags) > 0 {
		return rejected(PhaseValidate, CodeValidation, diags...), nil
	}
	if diags := prog.lint(); len(diags) > 0 {
		return rejected(PhaseValidate, CodeValidation, diags...), nil
	}

	if out, ok := g.checkSounds(ctx, prog.soundNames()); !ok {
		return out, nil
	}

	cps := 0.0
	if state, err := g.host.State(ctx); err == nil {
		cps = state.CyclesPerSecond
	} else {
		g.logger.Warn("live state unavailable, assuming default tempo", "error", err)
	}
	cycle := cycleDuration(cps, g.defaultCPS, g.minCycle)

	act := g.scheduler.Schedule(next, host.HashCode(next), g.clock.Now().Add(cycle))
	return Outcome{
		Status: StatusScheduled,
		Scheduled: &Scheduled{
			ActivationID:    act.ID,
			ActivationAt:    act.ActivateAt,
			CycleDurationMs: cycle.Milliseconds(),
		},
	}, nil
}

// checkSounds fails closed when the inventory cannot be read.
func (g *Gate) checkSounds(ctx context.Context, names []string) (Outcome, bool) {
	if len(names) == 0 {
		return Outcome{}, true
	}

	inv, err := g.host.ResourceInventory(ctx)
	if err != nil {
		if !errors.Is(err, host.ErrInventoryUnavailable) {
			g.logger.Warn("sound inventory read failed", "error", err)
		}
		out := rejected(PhaseResources, CodeUnknownSound, diag("Loaded sound inventory unavailable"))
		out.Rejected.UnknownSymbols = names
		return out, false
	}

	var unknown []string
	for _, n := range names {
		if !inv.Contains(n) {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) == 0 {
		return Outcome{}, true
	}
	out := rejected(PhaseResources, CodeUnknownSound,
		Diagnostic{Message: fmt.Sprintf("Unknown sound(s): %s", strings.Join(unknown, ", "))})
	out.Rejected.UnknownSymbols = unknown
	return out, false
}
