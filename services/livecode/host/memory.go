// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package host

import (
	"context"
	"fmt"
	"sync"
)

// MemoryHost is an in-process Host holding the buffer in memory.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type MemoryHost struct {
	mu          sync.Mutex
	code        string
	running     bool
	cps         float64
	inventory   Inventory
	evaluations int
	starts      int
	writeErr    error
	evalErr     error
}

// NewMemoryHost creates a stopped host with the given code and inventory.
// A nil inventory makes ResourceInventory report unavailable.
func NewMemoryHost(code string, inventory Inventory) *MemoryHost {
	h := &MemoryHost{code: code, inventory: inventory}
	if cps, ok := TempoFromCode(code); ok {
		h.cps = cps
	}
	return h
}

func (h *MemoryHost) ReadCode(ctx context.Context, selector string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if selector != "" && selector != SelectorActive {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSelector, selector)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{Code: h.code, Hash: HashCode(h.code)}, nil
}

func (h *MemoryHost) State(ctx context.Context) (ProgramState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ProgramState{Running: h.running, CyclesPerSecond: h.cps}, nil
}

func (h *MemoryHost) ResourceInventory(ctx context.Context) (Inventory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inventory == nil {
		return nil, ErrInventoryUnavailable
	}
	inv := make(Inventory, len(h.inventory))
	for k := range h.inventory {
		inv[k] = struct{}{}
	}
	return inv, nil
}

func (h *MemoryHost) WriteCode(ctx context.Context, code string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return h.writeErr
	}
	h.code = code
	return nil
}

// Evaluate re-reads the tempo from the buffer, as the live runtime would.
func (h *MemoryHost) Evaluate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.evalErr != nil {
		return h.evalErr
	}
	h.evaluations++
	if cps, ok := TempoFromCode(h.code); ok {
		h.cps = cps
	}
	return nil
}

func (h *MemoryHost) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts++
	h.running = true
	return nil
}

// SetCode replaces the buffer as an external editor would.
func (h *MemoryHost) SetCode(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.code = code
}

// SetRunning sets the transport state.
func (h *MemoryHost) SetRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = running
}

// SetTempo sets cycles per second; zero means unknown.
func (h *MemoryHost) SetTempo(cps float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cps = cps
}

// SetInventory replaces the inventory; nil makes it unavailable.
func (h *MemoryHost) SetInventory(inv Inventory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inventory = inv
}

// FailWrites makes WriteCode return err until cleared with nil.
func (h *MemoryHost) FailWrites(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeErr = err
}

// FailEvaluate makes Evaluate return err until cleared with nil.
func (h *MemoryHost) FailEvaluate(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evalErr = err
}

// Code returns the current buffer.
func (h *MemoryHost) Code() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code
}

// Evaluations returns how many times Evaluate succeeded.
func (h *MemoryHost) Evaluations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evaluations
}

// Starts returns how many times Start was called.
func (h *MemoryHost) Starts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts
}
