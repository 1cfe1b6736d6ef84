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
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
)

const technoBeat = `setcpm(130/4)
stack(
  s("bd*4").gain(0.9),
  s("~ cp ~ cp"),
  s("hh*8").gain(0.4)
)`

func newTestGate(t *testing.T, h host.Host, opts ...Option) (*Gate, *manualClock) {
	t.Helper()
	clock := newManualClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewGate(h, opts...), clock
}

func defaultHost(code string) *host.MemoryHost {
	return host.NewMemoryHost(code, host.NewInventory(host.DefaultSounds...))
}

func TestCycleDuration(t *testing.T) {
	tests := []struct {
		name string
		cps  float64
		want time.Duration
	}{
		{name: "unknown tempo", cps: 0, want: 2000 * time.Millisecond},
		{name: "negative", cps: -1, want: 2000 * time.Millisecond},
		{name: "NaN", cps: math.NaN(), want: 2000 * time.Millisecond},
		{name: "one cycle per second", cps: 1, want: time.Second},
		{name: "130 bpm in four", cps: 130.0 / 60 / 4, want: 1846 * time.Millisecond},
		{name: "fast tempo floors", cps: 10, want: 250 * time.Millisecond},
		{name: "very slow tempo clamps", cps: 0.01, want: 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CycleDuration(tt.cps))
		})
	}
}

func TestGate_ScheduledFullCodeLeavesBufferUntilActivation(t *testing.T) {
	h := defaultHost("")
	gate, clock := newTestGate(t, h)

	out, err := gate.Apply(context.Background(), Request{
		ExpectedBaseVersion: host.HashCode(""),
		Change:              Change{Kind: ChangeFullCode, Content: technoBeat},
	})
	require.NoError(t, err)
	require.True(t, out.IsScheduled(), out.Summary())
	assert.Nil(t, out.Rejected)
	assert.Equal(t, int64(2000), out.Scheduled.CycleDurationMs)
	assert.Equal(t, clock.Now().Add(2*time.Second), out.Scheduled.ActivationAt)
	assert.Equal(t, "", h.Code())

	clock.Advance(1999 * time.Millisecond)
	assert.Equal(t, "", h.Code())
	assert.Len(t, gate.Scheduler().Pending(), 1)

	clock.Advance(time.Millisecond)
	assert.Equal(t, technoBeat, h.Code())
	assert.Equal(t, 1, h.Evaluations())
	assert.Equal(t, 1, h.Starts())
	assert.Empty(t, gate.Scheduler().Pending())
}

func TestGate_UsesLiveTempo(t *testing.T) {
	h := defaultHost("setcps(1)\ns(\"bd\")")
	gate, _ := newTestGate(t, h)

	out, err := gate.Apply(context.Background(), Request{
		ExpectedBaseVersion: host.HashCode("setcps(1)\ns(\"bd\")"),
		Change:              Change{Kind: ChangeSearchReplace, Search: `s("bd")`, Replace: strPtr(`s("bd*2")`)},
	})
	require.NoError(t, err)
	require.True(t, out.IsScheduled())
	assert.Equal(t, int64(1000), out.Scheduled.CycleDurationMs)
}

func TestGate_StaleBaseCarriesLiveHash(t *testing.T) {
	h := defaultHost(`s("bd")`)
	gate, _ := newTestGate(t, h)

	h.SetCode(`s("sd")`)
	out, err := gate.Apply(context.Background(), Request{
		ExpectedBaseVersion: host.HashCode(`s("bd")`),
		Change:              Change{Kind: ChangeFullCode, Content: `s("hh")`},
	})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, CodeStaleBaseHash, out.ErrorCode())
	assert.Equal(t, PhaseConcurrency, out.Rejected.Phase)
	require.NotNil(t, out.Rejected.Staleness)

	want := Staleness{
		LatestCode:   `s("sd")`,
		LatestHash:   host.HashCode(`s("sd")`),
		ExpectedHash: host.HashCode(`s("bd")`),
	}
	if diff := cmp.Diff(want, *out.Rejected.Staleness); diff != "" {
		t.Errorf("staleness mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, out.Rejected.SuggestedNextAction)
	assert.Equal(t, `s("sd")`, h.Code())
}

func TestGate_SearchReplaceOccurrence(t *testing.T) {
	code := "stack(\n  s(\"bd*4\").gain(0.5),\n  s(\"hh*8\").gain(0.5)\n)"
	h := defaultHost(code)
	gate, _ := newTestGate(t, h)
	base := host.HashCode(code)

	out, err := gate.Apply(context.Background(), Request{
		ExpectedBaseVersion: base,
		Change:              Change{Kind: ChangeSearchReplace, Search: "gain(0.5)", Replace: strPtr("gain(0.7)")},
	})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, CodeValidation, out.ErrorCode())
	assert.Equal(t, PhaseCompute, out.Rejected.Phase)
	assert.Contains(t, out.Rejected.Diagnostics[0].Message, "expected single match")

	out, err = gate.Apply(context.Background(), Request{
		ExpectedBaseVersion: base,
		Change: Change{
			Kind: ChangeSearchReplace, Search: "gain(0.5)", Replace: strPtr("gain(0.7)"), Occurrence: OccurrenceAll,
		},
	})
	require.NoError(t, err)
	assert.True(t, out.IsScheduled(), out.Summary())
}

func TestGate_UnknownSoundsDeduplicated(t *testing.T) {
	h := defaultHost("")
	gate, _ := newTestGate(t, h)

	out, err := gate.Apply(context.Background(), Request{
		ExpectedBaseVersion: host.HashCode(""),
		Change:              Change{Kind: ChangeFullCode, Content: `stack(s("bd Kick808 kick808"), s("hh BANJO"), s("banjo").gain(0.3))`},
	})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, CodeUnknownSound, out.ErrorCode())
	assert.Equal(t, PhaseResources, out.Rejected.Phase)
	assert.Equal(t, []string{"Kick808", "BANJO"}, out.Rejected.UnknownSymbols)
	assert.Equal(t, "Unknown sound(s): Kick808, BANJO", out.Rejected.Diagnostics[0].Message)
	assert.Equal(t, "Apply rejected: Unknown sound(s): Kick808, BANJO.", out.Summary())
	assert.Contains(t, out.Rejected.SuggestedNextAction, "knowledge_lookup")
}

func TestGate_InventoryUnavailableFailsClosed(t *testing.T) {
	h := host.NewMemoryHost("", nil)
	gate, _ := newTestGate(t, h)

	out, err := gate.Apply(context.Background(), Request{
		ExpectedBaseVersion: host.HashCode(""),
		Change:              Change{Kind: ChangeFullCode, Content: `s("bd sd")`},
	})
	require.NoError(t, err)
	assert.Equal(t, CodeUnknownSound, out.ErrorCode())
	assert.Equal(t, "Loaded sound inventory unavailable", out.Rejected.Diagnostics[0].Message)
	assert.Equal(t, []string{"bd", "sd"}, out.Rejected.UnknownSymbols)

	t.Run("no sounds referenced", func(t *testing.T) {
		out, err := gate.Apply(context.Background(), Request{
			ExpectedBaseVersion: host.HashCode(""),
			Change:              Change{Kind: ChangeFullCode, Content: `note("c e g").gain(0.5)`},
		})
		require.NoError(t, err)
		assert.True(t, out.IsScheduled(), out.Summary())
	})
}

func TestGate_ValidationRejections(t *testing.T) {
	tests := []struct {
		name     string
		change   Change
		base     string
		phase    Phase
		contains string
	}{
		{name: "blank base", change: Change{Kind: ChangeFullCode, Content: "x"}, base: "", phase: PhaseValidate, contains: "expected_base_version"},
		{name: "patch", change: Change{Kind: ChangePatch, Patch: "@@"}, phase: PhaseValidate, contains: "patch is deprecated"},
		{name: "syntax", change: Change{Kind: ChangeFullCode, Content: `stack(s("bd")`}, phase: PhaseValidate, contains: "Syntax error"},
		{name: "lint", change: Change{Kind: ChangeFullCode, Content: `s("bd").gain(volume)`}, phase: PhaseValidate, contains: LintNonFiniteParamRisk},
		{name: "no match", change: Change{Kind: ChangeSearchReplace, Search: "lpf", Replace: strPtr("hpf")}, phase: PhaseCompute, contains: "no match found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := defaultHost("")
			gate, _ := newTestGate(t, h)
			base := tt.base
			if base == "" && tt.name != "blank base" {
				base = host.HashCode("")
			}
			out, err := gate.Apply(context.Background(), Request{ExpectedBaseVersion: base, Change: tt.change})
			require.NoError(t, err)
			require.Equal(t, StatusRejected, out.Status)
			assert.Equal(t, CodeValidation, out.ErrorCode())
			assert.Equal(t, tt.phase, out.Rejected.Phase)
			assert.Contains(t, out.Rejected.Diagnostics[0].Message, tt.contains)
			assert.Empty(t, gate.Scheduler().Pending())
		})
	}
}

func TestGate_CanceledContext(t *testing.T) {
	gate, _ := newTestGate(t, defaultHost(""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gate.Apply(ctx, Request{
		ExpectedBaseVersion: host.HashCode(""),
		Change:              Change{Kind: ChangeFullCode, Content: `s("bd")`},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

type resultRecorder struct {
	mu      sync.Mutex
	results []ActivationResult
}

func (r *resultRecorder) record(res ActivationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *resultRecorder) all() []ActivationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActivationResult(nil), r.results...)
}

func TestGate_ReplacePolicySupersedesPending(t *testing.T) {
	h := defaultHost("")
	gate, clock := newTestGate(t, h)
	rec := &resultRecorder{}
	gate.Scheduler().OnActivation(rec.record)

	base := host.HashCode("")
	first, err := gate.Apply(context.Background(), Request{ExpectedBaseVersion: base, Change: Change{Kind: ChangeFullCode, Content: `s("bd")`}})
	require.NoError(t, err)
	clock.Advance(500 * time.Millisecond)
	second, err := gate.Apply(context.Background(), Request{ExpectedBaseVersion: base, Change: Change{Kind: ChangeFullCode, Content: `s("sd")`}})
	require.NoError(t, err)

	results := rec.all()
	require.Len(t, results, 1)
	assert.True(t, results[0].Superseded)
	assert.Equal(t, first.Scheduled.ActivationID, results[0].Activation.ID)

	clock.Advance(5 * time.Second)
	assert.Equal(t, `s("sd")`, h.Code())
	results = rec.all()
	require.Len(t, results, 2)
	assert.True(t, results[1].Applied)
	assert.Equal(t, second.Scheduled.ActivationID, results[1].Activation.ID)
	assert.Equal(t, 1, h.Evaluations())
}

func TestGate_IndependentPolicyLastFiredWins(t *testing.T) {
	h := defaultHost("")
	gate, clock := newTestGate(t, h, WithActivationPolicy(PolicyIndependent))
	rec := &resultRecorder{}
	gate.Scheduler().OnActivation(rec.record)

	base := host.HashCode("")
	_, err := gate.Apply(context.Background(), Request{ExpectedBaseVersion: base, Change: Change{Kind: ChangeFullCode, Content: `s("bd")`}})
	require.NoError(t, err)
	clock.Advance(500 * time.Millisecond)
	_, err = gate.Apply(context.Background(), Request{ExpectedBaseVersion: base, Change: Change{Kind: ChangeFullCode, Content: `s("sd")`}})
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	assert.Equal(t, `s("sd")`, h.Code())
	assert.Equal(t, 2, h.Evaluations())
	for _, r := range rec.all() {
		assert.True(t, r.Applied)
	}
}

func TestScheduler_WriteFailureReported(t *testing.T) {
	h := defaultHost("")
	h.FailWrites(errors.New("buffer locked"))
	clock := newManualClock()
	s := NewScheduler(h, clock, PolicyReplace, nil)
	rec := &resultRecorder{}
	s.OnActivation(rec.record)
	s.OnActivation(func(ActivationResult) { panic("bad hook") })

	s.Schedule(`s("bd")`, host.HashCode(`s("bd")`), clock.Now().Add(time.Second))
	clock.Advance(time.Second)

	results := rec.all()
	require.Len(t, results, 1)
	assert.False(t, results[0].Applied)
	assert.ErrorContains(t, results[0].Err, "buffer locked")
	assert.Equal(t, 0, h.Starts())
}

func TestScheduler_DoesNotRestartRunningProgram(t *testing.T) {
	h := defaultHost("")
	h.SetRunning(true)
	clock := newManualClock()
	s := NewScheduler(h, clock, PolicyReplace, nil)
	rec := &resultRecorder{}
	s.OnActivation(rec.record)

	s.Schedule(`s("bd")`, host.HashCode(`s("bd")`), clock.Now().Add(time.Second))
	clock.Advance(time.Second)

	require.Len(t, rec.all(), 1)
	assert.False(t, rec.all()[0].StartedPlayback)
	assert.Equal(t, 0, h.Starts())
}

func TestScheduler_CancelAll(t *testing.T) {
	h := defaultHost("")
	clock := newManualClock()
	s := NewScheduler(h, clock, PolicyIndependent, nil)

	s.Schedule("a", "h1", clock.Now().Add(time.Second))
	s.Schedule("b", "h2", clock.Now().Add(time.Second))
	assert.Equal(t, 2, s.CancelAll())

	clock.Advance(2 * time.Second)
	assert.Equal(t, "", h.Code())
}

func TestScheduler_LookupOnlyPending(t *testing.T) {
	h := defaultHost("")
	clock := newManualClock()
	s := NewScheduler(h, clock, PolicyReplace, nil)

	act := s.Schedule(`s("bd")`, host.HashCode(`s("bd")`), clock.Now().Add(time.Second))
	got, ok := s.Lookup(act.ID)
	require.True(t, ok)
	assert.Equal(t, `s("bd")`, got.Code)
	assert.Equal(t, act.ActivateAt, got.ActivateAt)

	_, ok = s.Lookup("missing")
	assert.False(t, ok)

	clock.Advance(time.Second)
	_, ok = s.Lookup(act.ID)
	assert.False(t, ok, "fired activations are no longer pending")
}

func TestParseActivationPolicy(t *testing.T) {
	p, err := ParseActivationPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReplace, p)

	p, err = ParseActivationPolicy("independent")
	require.NoError(t, err)
	assert.Equal(t, PolicyIndependent, p)

	_, err = ParseActivationPolicy("queue")
	assert.Error(t, err)
}
