// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler processes events.
type Handler func(event *Event)

type subscription struct {
	id      string
	handler Handler
	types   []Type
}

// Emitter broadcasts events to subscribers and keeps a bounded buffer of
// recent events.
//
// Thread Safety: Emitter is safe for concurrent use. Emit holds a delivery
// lock so events reach each handler in sequence order.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	order         []string
	buffer        []Event
	bufferSize    int
	sessionID     string
	seq           int64

	deliver sync.Mutex
	logger  *slog.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the event buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// WithSessionID sets the session ID for all events.
func WithSessionID(id string) EmitterOption {
	return func(e *Emitter) {
		e.sessionID = id
	}
}

// WithEmitterLogger sets the logger used for handler panics.
func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*subscription),
		bufferSize:    1000,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, min(e.bufferSize, 64))
	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each event.
//	types - Event types to subscribe to (none = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &subscription{id: uuid.NewString(), handler: handler, types: types}
	e.subscriptions[sub.id] = sub
	e.order = append(e.order, sub.id)
	return sub.id
}

// Unsubscribe removes a subscription and reports whether it existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; !ok {
		return false
	}
	delete(e.subscriptions, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	return true
}

// Emit broadcasts an event for turnID to all matching subscribers.
//
// Description:
//
//	Assigns the next sequence number, buffers the event, then calls each
//	matching handler in subscription order. Handler panics are recovered
//	and logged so one failing handler cannot break a turn.
//
// Inputs:
//
//	eventType - The type of event.
//	turnID - The turn the event belongs to. May be empty.
//	data - One of the typed data structs from types.go.
func (e *Emitter) Emit(eventType Type, turnID string, data any) {
	e.deliver.Lock()
	defer e.deliver.Unlock()

	e.mu.Lock()
	e.seq++
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: e.sessionID,
		TurnID:    turnID,
		Seq:       e.seq,
		Timestamp: time.Now(),
		Data:      data,
	}
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)

	subs := make([]*subscription, 0, len(e.order))
	for _, id := range e.order {
		subs = append(subs, e.subscriptions[id])
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if len(sub.types) > 0 && !slices.Contains(sub.types, eventType) {
			continue
		}
		e.safeInvokeHandler(sub.handler, &event)
	}
}

func (e *Emitter) safeInvokeHandler(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

// Buffer returns a copy of buffered events.
func (e *Emitter) Buffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.buffer)
}

// BufferByType returns buffered events of a specific type.
func (e *Emitter) BufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, event := range e.buffer {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// BufferForTurn returns buffered events of one turn.
func (e *Emitter) BufferForTurn(turnID string) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, event := range e.buffer {
		if event.TurnID == turnID {
			out = append(out, event)
		}
	}
	return out
}

// ClearBuffer removes all buffered events.
func (e *Emitter) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = e.buffer[:0]
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}
