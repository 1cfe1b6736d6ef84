// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_DeliversInOrder(t *testing.T) {
	e := NewEmitter(WithSessionID("s1"))
	var got []int64
	e.Subscribe(func(ev *Event) { got = append(got, ev.Seq) })

	for i := 0; i < 5; i++ {
		e.Emit(TypeTextDelta, "t1", DeltaData{Text: "x"})
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)

	buf := e.Buffer()
	require.Len(t, buf, 5)
	assert.Equal(t, "s1", buf[0].SessionID)
	assert.Equal(t, "t1", buf[0].TurnID)
}

func TestEmitter_TypeFilter(t *testing.T) {
	e := NewEmitter()
	var types []Type
	e.Subscribe(func(ev *Event) { types = append(types, ev.Type) }, TypeToolStarted, TypeToolCompleted)

	e.Emit(TypeTextDelta, "t", DeltaData{})
	e.Emit(TypeToolStarted, "t", ToolStartedData{Tool: "read_code"})
	e.Emit(TypeToolCompleted, "t", ToolCompletedData{Tool: "read_code"})
	assert.Equal(t, []Type{TypeToolStarted, TypeToolCompleted}, types)
	assert.Len(t, e.BufferByType(TypeTextDelta), 1)
}

func TestEmitter_PanickingHandlerIsIsolated(t *testing.T) {
	e := NewEmitter()
	e.Subscribe(func(*Event) { panic("boom") })
	called := 0
	e.Subscribe(func(*Event) { called++ })

	assert.NotPanics(t, func() { e.Emit(TypeTurnState, "t", TurnStateData{From: "idle", To: "running"}) })
	assert.Equal(t, 1, called)
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter()
	called := 0
	id := e.Subscribe(func(*Event) { called++ })
	assert.True(t, e.Unsubscribe(id))
	assert.False(t, e.Unsubscribe(id))
	e.Emit(TypeTurnState, "t", nil)
	assert.Equal(t, 0, called)
	assert.Equal(t, 0, e.SubscriptionCount())
}

func TestEmitter_BufferBounded(t *testing.T) {
	e := NewEmitter(WithBufferSize(3))
	for i := 0; i < 5; i++ {
		turn := "a"
		if i >= 3 {
			turn = "b"
		}
		e.Emit(TypeTextDelta, turn, nil)
	}
	buf := e.Buffer()
	require.Len(t, buf, 3)
	assert.Equal(t, int64(3), buf[0].Seq)
	assert.Len(t, e.BufferForTurn("b"), 2)

	e.ClearBuffer()
	assert.Empty(t, e.Buffer())
}
