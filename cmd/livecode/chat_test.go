// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLivecode/pkg/ux"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/llm"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
)

// fixedClock never fires timers, so scheduled changes stay pending.
type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (fixedClock) AfterFunc(time.Duration, func()) apply.Timer { return idleTimer{} }

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

// syncBuffer guards a buffer written from turn goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type chatHarness struct {
	chat   *chat
	runner *agent.Runner
	mock   *llm.MockClient
	host   *host.MemoryHost
	out    *syncBuffer
}

func newChatHarness(t *testing.T, code string, configure func(*chatDeps)) *chatHarness {
	t.Helper()

	h := host.NewMemoryHost(code, host.NewInventory(host.DefaultSounds...))
	gate := apply.NewGate(h, apply.WithClock(fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}))
	kp := knowledge.NewCachedProvider(knowledge.StaticProvider(knowledge.BuiltinSources()))
	mock := llm.NewMockClient()

	r, err := agent.NewRunner(agent.Deps{Client: mock, Host: h, Gate: gate, Knowledge: kp})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	out := &syncBuffer{}
	deps := chatDeps{
		Runner:    r,
		Host:      h,
		Scheduler: gate.Scheduler(),
		Knowledge: kp,
		Printer:   ux.NewPrinter(out, ux.ModePlain),
	}
	if configure != nil {
		configure(&deps)
	}
	c := newChat(deps)
	t.Cleanup(c.Close)

	return &chatHarness{chat: c, runner: r, mock: mock, host: h, out: out}
}

func (hs *chatHarness) run(t *testing.T, input string) string {
	t.Helper()
	require.NoError(t, hs.chat.Run(context.Background(), strings.NewReader(input)))
	return hs.out.String()
}

func TestChat_MessageRunsTurnAndRendersEvents(t *testing.T) {
	hs := newChatHarness(t, "", nil)
	hs.mock.
		QueueToolCall("apply_change", map[string]any{
			"expected_base_version": host.HashCode(""),
			"change":                map[string]any{"kind": "full_code", "content": `s("bd sd")`},
		}).
		QueueFinalResponse("Here is a beat.")

	out := hs.run(t, "make a beat\n/pending\n/cancel\n/pending\n")

	assert.Contains(t, out, "-> apply_change")
	assert.Contains(t, out, "Here is a beat.")
	assert.Contains(t, out, " at 12:00:")
	assert.Contains(t, out, "Canceled 1 scheduled change(s).")
	assert.Contains(t, out, "# No scheduled changes.")
	assert.Equal(t, 2, hs.mock.CallCount())
}

func TestChat_HistoryEditAndSwitch(t *testing.T) {
	hs := newChatHarness(t, "", nil)
	hs.mock.
		QueueFinalResponse("Techno is playing.").
		QueueFinalResponse("Added hats.").
		QueueFinalResponse("Added a snare.")

	out := hs.run(t, "make a techno beat\nadd hats\n/edit 2 add snare\n/history\n/revisions\n")

	assert.Contains(t, out, "[1] you: make a techno beat")
	assert.Contains(t, out, "    assistant: Techno is playing.")
	assert.Contains(t, out, "[2] you (2/2): add snare")
	assert.Contains(t, out, "    assistant: Added a snare.")
	assert.Contains(t, out, "[2] 2 variants")
	assert.Contains(t, out, "    1. add hats")
	assert.Contains(t, out, "  * 2. add snare")

	hs.run(t, "/switch 2 1\n")
	msgs := hs.runner.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "add hats", msgs[2].Text())
	assert.Contains(t, hs.out.String(), "Showing variant 1 of message 2.")
}

func TestChat_CommandErrors(t *testing.T) {
	hs := newChatHarness(t, "", nil)

	out := hs.run(t, "/retry\nhello\n/retry 5\n/edit 1\n/switch 1 1\n/switch 9 1\n/bogus\n/stop\n/reset now\n")

	assert.Contains(t, out, "# Nothing to retry yet.")
	assert.Contains(t, out, "Mock response")
	assert.Contains(t, out, `WARN: No user message "5". Use /history to see numbers.`)
	assert.Contains(t, out, "WARN: Usage: /edit <n> <text>")
	assert.Contains(t, out, "WARN: User message 1 has no other variants.")
	assert.Contains(t, out, `WARN: No user message "9".`)
	assert.Contains(t, out, "WARN: Unknown command /bogus. Type /help for commands.")
	assert.Contains(t, out, "# No turn is running.")
	assert.Contains(t, out, "WARN: Usage: /reset [--no-code]")
	assert.Equal(t, 1, hs.mock.CallCount())
}

func TestChat_RetryRunsLastMessageAgain(t *testing.T) {
	hs := newChatHarness(t, "", nil)
	hs.mock.QueueFinalResponse("First.").QueueFinalResponse("Second.")

	out := hs.run(t, "play something\n/retry\n")

	assert.Contains(t, out, "First.")
	assert.Contains(t, out, "Second.")
	require.Equal(t, 2, hs.mock.CallCount())
	assert.Contains(t, lastUserText(hs.mock.LastRequest()), "play something")
}

func TestChat_CodeSessionResetHelp(t *testing.T) {
	hs := newChatHarness(t, `s("bd*4")`, nil)

	out := hs.run(t, "/code\n/session\n/reset --no-code\n/reload\n/help\n")

	assert.Contains(t, out, "--- live code ---\ns(\"bd*4\")\n---")
	assert.Contains(t, out, hs.runner.SessionID())
	assert.Contains(t, out, "Context reset.")
	assert.Contains(t, out, "Reference docs and sounds will be reloaded on the next lookup.")
	assert.Contains(t, out, "/switch <n> <variant>")
}

func TestChat_QuitStopsReading(t *testing.T) {
	hs := newChatHarness(t, "", nil)

	hs.run(t, "/quit\nhello\n")

	assert.Equal(t, 0, hs.mock.CallCount())
}

func TestChat_TurnFailureIsRendered(t *testing.T) {
	hs := newChatHarness(t, "", nil)
	hs.mock.WithError(errors.New("upstream down"))

	out := hs.run(t, "hello\n")

	assert.Contains(t, out, "ERROR: Turn failed: ")
	assert.Contains(t, out, "upstream down")
}

func TestChat_StreamPrintsReplyOnce(t *testing.T) {
	hs := newChatHarness(t, "", func(d *chatDeps) { d.Stream = true })

	out := hs.run(t, "hello\n")

	assert.Equal(t, 1, strings.Count(out, "Mock response"))
	assert.Contains(t, out, "Mock response\n")
}

func TestChat_CloseStopsBackgroundTurn(t *testing.T) {
	hs := newChatHarness(t, "", func(d *chatDeps) { d.Background = true })
	hs.mock.WithResponseFunc(llm.BlockUntilCanceled)

	hs.run(t, "hello\n")
	require.Eventually(t, func() bool {
		_, running := hs.runner.ActiveTurn()
		return running && hs.mock.CallCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	hs.chat.Close()

	assert.Contains(t, hs.out.String(), "WARN: Turn canceled (")
}

func TestChat_InterruptStopsTurnThenExits(t *testing.T) {
	interrupts := make(chan os.Signal, 1)
	hs := newChatHarness(t, "", func(d *chatDeps) {
		d.Background = true
		d.Interrupts = interrupts
	})
	hs.mock.WithResponseFunc(llm.BlockUntilCanceled)

	pr, pw := io.Pipe()
	defer pw.Close()
	done := make(chan error, 1)
	go func() { done <- hs.chat.Run(context.Background(), pr) }()

	_, err := pw.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, running := hs.runner.ActiveTurn()
		return running && hs.mock.CallCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	interrupts <- os.Interrupt
	require.Eventually(t, func() bool {
		_, running := hs.runner.ActiveTurn()
		return !running && strings.Contains(hs.out.String(), "Turn canceled")
	}, 2*time.Second, 5*time.Millisecond)

	interrupts <- os.Interrupt
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("chat did not exit on an idle interrupt")
	}
}

func TestChat_ContextCancelEndsLoop(t *testing.T) {
	hs := newChatHarness(t, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pr, pw := io.Pipe()
	defer pw.Close()

	assert.NoError(t, hs.chat.Run(ctx, pr))
}

func lastUserText(req *llm.Request) string {
	if req == nil {
		return ""
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
