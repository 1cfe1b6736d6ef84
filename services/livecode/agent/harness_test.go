// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/events"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/llm"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) apply.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// memoryStore records saved sessions.
type memoryStore struct {
	mu    sync.Mutex
	saves int
	last  *conversation.Session
}

func (s *memoryStore) Save(_ context.Context, _ string, session *conversation.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = session
	return nil
}

func (s *memoryStore) snapshot() (int, *conversation.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, s.last
}

type harness struct {
	host   *host.MemoryHost
	clock  *manualClock
	gate   *apply.Gate
	mock   *llm.MockClient
	store  *memoryStore
	runner *Runner

	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T, code string, opts ...Option) *harness {
	t.Helper()
	hs := &harness{
		host:  host.NewMemoryHost(code, host.NewInventory(host.DefaultSounds...)),
		clock: newManualClock(),
		mock:  llm.NewMockClient(),
		store: &memoryStore{},
	}
	hs.gate = apply.NewGate(hs.host, apply.WithClock(hs.clock))

	em := events.NewEmitter(events.WithBufferSize(1000))
	em.Subscribe(func(e *events.Event) {
		hs.mu.Lock()
		defer hs.mu.Unlock()
		hs.events = append(hs.events, *e)
	})

	r, err := NewRunner(Deps{
		Client:    hs.mock,
		Host:      hs.host,
		Gate:      hs.gate,
		Knowledge: knowledge.StaticProvider(knowledge.BuiltinSources()),
		Store:     hs.store,
		Emitter:   em,
	}, opts...)
	require.NoError(t, err)
	hs.runner = r
	t.Cleanup(r.Close)
	return hs
}

func (hs *harness) ofType(typ events.Type) []events.Event {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	var out []events.Event
	for _, e := range hs.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (hs *harness) types() []events.Type {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	out := make([]events.Type, 0, len(hs.events))
	for _, e := range hs.events {
		out = append(out, e.Type)
	}
	return out
}

func (hs *harness) send(t *testing.T, text string) TurnResult {
	t.Helper()
	res, err := hs.runner.SendUserMessage(context.Background(), text)
	require.NoError(t, err)
	return res
}

func lastUserContent(req llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func applyArgs(base, content string) map[string]any {
	return map[string]any{
		"expected_base_version": base,
		"change":                map[string]any{"kind": "full_code", "content": content},
	}
}
