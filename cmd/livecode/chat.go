// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianLivecode/pkg/ux"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/events"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/tools"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
)

// maxLineBytes caps one line of input.
const maxLineBytes = 1024 * 1024

const helpText = `Type a message to talk about the music. Commands:
  /stop                     stop the running turn
  /retry [n]                run user message n again (default: the last)
  /edit <n> <text>          fork the conversation at user message n
  /history                  show the active branch
  /revisions                list edited messages and their variants
  /switch <n> <variant>     show another variant of user message n
  /reset [--no-code]        forget retry history; --no-code omits the code next turn
  /code                     print the live code
  /pending                  list scheduled changes
  /cancel                   cancel scheduled changes
  /reload                   reload reference docs and the sound list
  /session                  print the session ID
  /quit                     leave`

// chatDeps are the collaborators of a chat loop.
type chatDeps struct {
	Runner *agent.Runner
	Host   host.Host

	// Scheduler and Knowledge are optional.
	Scheduler *apply.Scheduler
	Knowledge *knowledge.CachedProvider

	Printer *ux.Printer

	// Background runs turns on their own goroutine so input stays open
	// while the model works. When false each turn finishes before the
	// next line is read.
	Background bool

	// Stream prints text deltas as they arrive.
	Stream bool

	// Interrupts stops the running turn, or ends the loop when idle.
	Interrupts <-chan os.Signal
}

// chat reads user input, runs turns and renders turn events.
//
// Thread Safety:
//
//	Run must be called from one goroutine. Rendering runs on turn and
//	timer goroutines and only touches the printer and the stream buffers.
type chat struct {
	chatDeps

	subID string
	wg    sync.WaitGroup

	mu       sync.Mutex
	streamed map[string]*strings.Builder
}

func newChat(deps chatDeps) *chat {
	c := &chat{chatDeps: deps, streamed: make(map[string]*strings.Builder)}
	c.subID = deps.Runner.Emitter().Subscribe(c.render)
	return c
}

// Close stops any running turn and waits for background turns.
func (c *chat) Close() {
	c.Runner.Stop()
	c.wg.Wait()
	c.Runner.Emitter().Unsubscribe(c.subID)
}

// Run reads lines from in until EOF, /quit, ctx cancellation or an idle
// interrupt.
func (c *chat) Run(ctx context.Context, in io.Reader) error {
	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		c.Printer.Prompt("› ")
		select {
		case <-ctx.Done():
			return nil
		case <-c.Interrupts:
			if !c.Runner.Stop() {
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				return nil
			}
			if c.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the loop should end.
func (c *chat) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.startTurn(ctx, func(ctx context.Context) (agent.TurnResult, error) {
			return c.Runner.SendUserMessage(ctx, line)
		})
		return false
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "exit":
		return true
	case "help":
		c.Printer.Text(helpText)
	case "stop":
		if !c.Runner.Stop() {
			c.Printer.Muted("No turn is running.")
		}
	case "retry":
		c.retry(ctx, rest)
	case "edit":
		c.edit(ctx, rest)
	case "history":
		c.history()
	case "revisions":
		c.revisions()
	case "switch":
		c.switchRevision(ctx, rest)
	case "reset":
		c.reset(rest)
	case "code":
		c.code(ctx)
	case "pending":
		c.pending()
	case "cancel":
		if c.Scheduler == nil {
			c.Printer.Muted("No scheduler is attached.")
			break
		}
		c.Printer.Info(fmt.Sprintf("Canceled %d scheduled change(s).", c.Scheduler.CancelAll()))
	case "reload":
		if c.Knowledge != nil {
			c.Knowledge.Reset()
		}
		c.Printer.Info("Reference docs and sounds will be reloaded on the next lookup.")
	case "session":
		c.Printer.Info(c.Runner.SessionID())
	default:
		c.Printer.Warning(fmt.Sprintf("Unknown command /%s. Type /help for commands.", name))
	}
	return false
}

// startTurn runs fn in the foreground or on a tracked goroutine. Turn
// outcomes are rendered from events; only request errors are printed here.
func (c *chat) startTurn(ctx context.Context, fn func(context.Context) (agent.TurnResult, error)) {
	run := func() {
		if _, err := fn(ctx); err != nil {
			c.Printer.Error(err.Error())
		}
	}
	if !c.Background {
		run()
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		run()
	}()
}

func (c *chat) userMessages() []conversation.Message {
	var out []conversation.Message
	for _, m := range c.Runner.Messages() {
		if m.Role == conversation.RoleUser {
			out = append(out, m)
		}
	}
	return out
}

// userMessage resolves a 1-based user message number.
func (c *chat) userMessage(arg string) (conversation.Message, bool) {
	msgs := c.userMessages()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(msgs) {
		c.Printer.Warning(fmt.Sprintf("No user message %q. Use /history to see numbers.", arg))
		return conversation.Message{}, false
	}
	return msgs[n-1], true
}

func (c *chat) retry(ctx context.Context, arg string) {
	if arg == "" {
		msgs := c.userMessages()
		if len(msgs) == 0 {
			c.Printer.Muted("Nothing to retry yet.")
			return
		}
		arg = strconv.Itoa(len(msgs))
	}
	m, ok := c.userMessage(arg)
	if !ok {
		return
	}
	c.startTurn(ctx, func(ctx context.Context) (agent.TurnResult, error) {
		return c.Runner.RetryMessage(ctx, m.ID)
	})
}

func (c *chat) edit(ctx context.Context, args string) {
	arg, text, _ := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		c.Printer.Warning("Usage: /edit <n> <text>")
		return
	}
	m, ok := c.userMessage(arg)
	if !ok {
		return
	}
	c.startTurn(ctx, func(ctx context.Context) (agent.TurnResult, error) {
		return c.Runner.EditMessage(ctx, m.ID, text)
	})
}

func (c *chat) history() {
	printHistory(c.Printer, c.Runner.Session())
}

// printHistory prints the active branch with user messages numbered.
func printHistory(p *ux.Printer, session *conversation.Session) {
	msgs := conversation.ActiveMessages(session)
	if len(msgs) == 0 {
		p.Muted("No messages yet.")
		return
	}
	n := 0
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleUser:
			n++
			label := "you"
			if choice := conversation.RevisionChoiceForMessage(session, m); choice != nil {
				label = fmt.Sprintf("you (%d/%d)", choice.CurrentIndex+1, len(choice.Variants))
			}
			p.Text(fmt.Sprintf("[%d] %s: %s", n, label, m.Text()))
		case conversation.RoleAssistant:
			p.Text("    assistant: " + indent(m.Text(), "    "))
		}
	}
}

func (c *chat) revisions() {
	session := c.Runner.Session()
	found := false
	for i, m := range c.userMessages() {
		choice := conversation.RevisionChoiceForMessage(session, m)
		if choice == nil {
			continue
		}
		found = true
		c.Printer.Text(fmt.Sprintf("[%d] %d variants", i+1, len(choice.Variants)))
		for j, v := range choice.Variants {
			marker := " "
			if j == choice.CurrentIndex {
				marker = "*"
			}
			c.Printer.Text(fmt.Sprintf("  %s %d. %s", marker, j+1, v.Text))
		}
	}
	if !found {
		c.Printer.Muted("No edited messages.")
	}
}

func (c *chat) switchRevision(ctx context.Context, args string) {
	arg, variant, _ := strings.Cut(args, " ")
	m, ok := c.userMessage(arg)
	if !ok {
		return
	}
	choice := conversation.RevisionChoiceForMessage(c.Runner.Session(), m)
	if choice == nil {
		c.Printer.Warning(fmt.Sprintf("User message %s has no other variants.", arg))
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(variant))
	if err != nil || v < 1 || v > len(choice.Variants) {
		c.Printer.Warning(fmt.Sprintf("Usage: /switch %s <1-%d>", arg, len(choice.Variants)))
		return
	}
	if err := c.Runner.SwitchRevision(ctx, choice.RevisionKey, choice.Variants[v-1].ID); err != nil {
		c.Printer.Error(err.Error())
		return
	}
	c.Printer.Info(fmt.Sprintf("Showing variant %d of message %s.", v, arg))
}

func (c *chat) reset(arg string) {
	noCode := arg == "--no-code"
	if arg != "" && !noCode {
		c.Printer.Warning("Usage: /reset [--no-code]")
		return
	}
	c.Runner.ResetContext(noCode)
	c.Printer.Info("Context reset.")
}

func (c *chat) code(ctx context.Context) {
	if c.Host == nil {
		c.Printer.Muted("No host is attached.")
		return
	}
	snap, err := c.Host.ReadCode(ctx, host.SelectorActive)
	if err != nil {
		c.Printer.Error(err.Error())
		return
	}
	c.Printer.Code("live code", snap.Code)
}

func (c *chat) pending() {
	if c.Scheduler == nil {
		c.Printer.Muted("No scheduler is attached.")
		return
	}
	acts := c.Scheduler.Pending()
	if len(acts) == 0 {
		c.Printer.Muted("No scheduled changes.")
		return
	}
	for _, a := range acts {
		c.Printer.Text(fmt.Sprintf("%s at %s", a.ID, a.ActivateAt.Format("15:04:05.000")))
	}
}

// render prints one turn event.
func (c *chat) render(ev *events.Event) {
	switch d := ev.Data.(type) {
	case events.DeltaData:
		if ev.Type != events.TypeTextDelta || !c.Stream {
			return
		}
		c.mu.Lock()
		b, ok := c.streamed[ev.TurnID]
		if !ok {
			b = &strings.Builder{}
			c.streamed[ev.TurnID] = b
		}
		b.WriteString(d.Text)
		c.mu.Unlock()
		c.Printer.Stream(d.Text)
	case events.ToolStartedData:
		c.Printer.Step(d.Tool)
	case events.ToolCompletedData:
		if d.Status == string(tools.StatusFailed) && d.Error != "" {
			c.Printer.Warning(fmt.Sprintf("%s: %s", d.Tool, d.Error))
		}
	case events.ApplyStatusData:
		switch d.Status {
		case events.ApplyScheduled:
			c.Printer.Info(d.Reason)
		case events.ApplyApplied:
			c.Printer.Success(d.Reason)
		default:
			c.Printer.Warning(d.Reason)
		}
	case events.TurnCompletedData:
		streamed := c.takeStreamed(ev.TurnID)
		c.Printer.EndStream()
		if strings.TrimSpace(streamed) != strings.TrimSpace(d.Content) {
			c.Printer.Text(d.Content)
		}
	case events.TurnCanceledData:
		c.takeStreamed(ev.TurnID)
		c.Printer.EndStream()
		c.Printer.Warning(fmt.Sprintf("Turn canceled (%s).", d.Reason))
	case events.TurnFailedData:
		c.takeStreamed(ev.TurnID)
		c.Printer.EndStream()
		c.Printer.Error("Turn failed: " + d.Error)
	}
}

func (c *chat) takeStreamed(turnID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.streamed[turnID]
	if !ok {
		return ""
	}
	delete(c.streamed, turnID)
	return b.String()
}

func indent(text, prefix string) string {
	return strings.ReplaceAll(strings.TrimRight(text, "\n"), "\n", "\n"+prefix)
}
