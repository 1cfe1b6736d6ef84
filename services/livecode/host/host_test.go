// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHashCode(t *testing.T) {
	a := HashCode(`s("bd*4")`)
	assert.Len(t, a, 32)
	assert.Equal(t, a, HashCode(`s("bd*4")`))
	assert.NotEqual(t, a, HashCode(`s("bd*2")`))
	assert.NotEmpty(t, HashCode(""))
}

func TestInventory(t *testing.T) {
	inv := NewInventory("BD", " sd ", "")
	assert.True(t, inv.Contains("bd"))
	assert.True(t, inv.Contains("SD"))
	assert.False(t, inv.Contains("hh"))
	assert.Equal(t, []string{"bd", "sd"}, inv.Names())
}

func TestTempoFromCode(t *testing.T) {
	tests := []struct {
		code string
		want float64
		ok   bool
	}{
		{`setcps(0.5)`, 0.5, true},
		{`setcpm(120)`, 2, true},
		{`setcpm(130/4)`, 130.0 / 4 / 60, true},
		{"setcps(1)\nsetcps(.25)", 0.25, true},
		{`setcpm(x)`, 0, false},
		{`s("bd")`, 0, false},
		{`setcpm(120/0)`, 0, false},
	}
	for _, tt := range tests {
		got, ok := TempoFromCode(tt.code)
		assert.Equal(t, tt.ok, ok, tt.code)
		assert.InDelta(t, tt.want, got, 1e-9, tt.code)
	}
}

func TestMemoryHost(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHost("setcpm(120)", NewInventory("bd"))

	snap, err := h.ReadCode(ctx, SelectorActive)
	require.NoError(t, err)
	assert.Equal(t, HashCode("setcpm(120)"), snap.Hash)

	_, err = h.ReadCode(ctx, "other")
	assert.True(t, errors.Is(err, ErrUnknownSelector))

	state, _ := h.State(ctx)
	assert.InDelta(t, 2.0, state.CyclesPerSecond, 1e-9)
	assert.False(t, state.Running)

	require.NoError(t, h.WriteCode(ctx, "setcps(1)"))
	require.NoError(t, h.Evaluate(ctx))
	require.NoError(t, h.Start(ctx))
	state, _ = h.State(ctx)
	assert.Equal(t, 1.0, state.CyclesPerSecond)
	assert.True(t, state.Running)
	assert.Equal(t, 1, h.Evaluations())
	assert.Equal(t, 1, h.Starts())

	h.SetInventory(nil)
	_, err = h.ResourceInventory(ctx)
	assert.True(t, errors.Is(err, ErrInventoryUnavailable))

	boom := errors.New("boom")
	h.FailWrites(boom)
	assert.ErrorIs(t, h.WriteCode(ctx, "x"), boom)
	assert.Equal(t, "setcps(1)", h.Code())
}

func TestFileHost(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	codePath := filepath.Join(dir, "pattern.js")
	invPath := filepath.Join(dir, "sounds.yaml")

	h, err := NewFileHost(codePath, invPath, nil)
	require.NoError(t, err)

	snap, err := h.ReadCode(ctx, SelectorActive)
	require.NoError(t, err)
	assert.Equal(t, "", snap.Code)

	_, err = h.ResourceInventory(ctx)
	assert.True(t, errors.Is(err, ErrInventoryUnavailable), "missing file fails closed")

	require.NoError(t, os.WriteFile(invPath, []byte("sounds: [bd, sd]\nbanks:\n  RolandTR909: [hh]\n"), 0640))
	inv, err := h.ResourceInventory(ctx)
	require.NoError(t, err)
	assert.True(t, inv.Contains("bd"))
	assert.True(t, inv.Contains("RolandTR909_hh"))

	require.NoError(t, h.WriteCode(ctx, "setcpm(60)\ns(\"bd\")"))
	require.NoError(t, h.Evaluate(ctx))
	state, _ := h.State(ctx)
	assert.Equal(t, 1.0, state.CyclesPerSecond)

	// External edit is visible immediately.
	require.NoError(t, os.WriteFile(codePath, []byte(`s("sd")`), 0640))
	snap, err = h.ReadCode(ctx, SelectorActive)
	require.NoError(t, err)
	assert.Equal(t, `s("sd")`, snap.Code)
}

func TestFileHost_Watch(t *testing.T) {
	dir := t.TempDir()
	codePath := filepath.Join(dir, "pattern.js")
	h, err := NewFileHost(codePath, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Snapshot, 8)
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx, func(s Snapshot) { changes <- s }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(codePath, []byte(`s("hh*8")`), 0640))

	select {
	case snap := <-changes:
		assert.Equal(t, `s("hh*8")`, snap.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNewFileHost_RequiresPath(t *testing.T) {
	_, err := NewFileHost("", "", nil)
	assert.Error(t, err)
}
