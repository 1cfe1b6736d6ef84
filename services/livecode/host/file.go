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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// InventoryFile is the YAML layout of a sound inventory file.
//
//	sounds: [bd, sd, hh]
//	banks:
//	  RolandTR909: [bd, sd, hh]
//
// Bank entries expand to "{bank}_{sound}" as Strudel names them.
type InventoryFile struct {
	Sounds []string            `yaml:"sounds"`
	Banks  map[string][]string `yaml:"banks"`
}

// FileHost serves a pattern file on disk as the live buffer.
//
// Description:
//
//	The file is the source of truth: ReadCode reads it on every call so
//	edits from an external editor are always visible. Writes go through a
//	temp file and rename. Evaluate records the evaluation and re-reads the
//	tempo; a browser or REPL watching the file performs the audible reload.
//	The inventory is read from a YAML file; a missing or unreadable file
//	reports ErrInventoryUnavailable.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type FileHost struct {
	codePath      string
	inventoryPath string
	logger        *slog.Logger

	mu          sync.Mutex
	running     bool
	cps         float64
	evaluations int
}

// NewFileHost creates a host for codePath. The file is created empty if it
// does not exist. inventoryPath may be empty, which makes the inventory
// unavailable.
func NewFileHost(codePath, inventoryPath string, logger *slog.Logger) (*FileHost, error) {
	if codePath == "" {
		return nil, errors.New("code path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(codePath), 0750); err != nil {
		return nil, fmt.Errorf("create code directory: %w", err)
	}
	if _, err := os.Stat(codePath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(codePath, nil, 0640); err != nil {
			return nil, fmt.Errorf("create code file: %w", err)
		}
	}

	h := &FileHost{codePath: codePath, inventoryPath: inventoryPath, logger: logger}
	if data, err := os.ReadFile(codePath); err == nil {
		if cps, ok := TempoFromCode(string(data)); ok {
			h.cps = cps
		}
	}
	return h, nil
}

func (h *FileHost) ReadCode(ctx context.Context, selector string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if selector != "" && selector != SelectorActive {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSelector, selector)
	}
	data, err := os.ReadFile(h.codePath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read code file: %w", err)
	}
	code := string(data)
	return Snapshot{Code: code, Hash: HashCode(code)}, nil
}

func (h *FileHost) State(ctx context.Context) (ProgramState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ProgramState{Running: h.running, CyclesPerSecond: h.cps}, nil
}

func (h *FileHost) ResourceInventory(ctx context.Context) (Inventory, error) {
	if h.inventoryPath == "" {
		return nil, ErrInventoryUnavailable
	}
	data, err := os.ReadFile(h.inventoryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}
	var file InventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInventoryUnavailable, h.inventoryPath, err)
	}
	names := append([]string(nil), file.Sounds...)
	for bank, sounds := range file.Banks {
		for _, s := range sounds {
			names = append(names, bank+"_"+s)
		}
	}
	return NewInventory(names...), nil
}

func (h *FileHost) WriteCode(ctx context.Context, code string) error {
	tmp, err := os.CreateTemp(filepath.Dir(h.codePath), ".livecode-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.codePath); err != nil {
		return fmt.Errorf("replace code file: %w", err)
	}
	return nil
}

func (h *FileHost) Evaluate(ctx context.Context) error {
	snap, err := h.ReadCode(ctx, SelectorActive)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evaluations++
	if cps, ok := TempoFromCode(snap.Code); ok {
		h.cps = cps
	}
	h.logger.Info("live code evaluated", slog.String("hash", snap.Hash), slog.Float64("cps", h.cps))
	return nil
}

func (h *FileHost) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	return nil
}

// Evaluations returns how many times Evaluate succeeded.
func (h *FileHost) Evaluations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evaluations
}

// Watch reports external changes to the code file until ctx is done.
//
// Description:
//
//	Watches the containing directory, since atomic saves replace the file
//	and would drop a watch on the file itself. onChange receives a snapshot
//	whenever the content hash differs from the last one seen.
//
// Inputs:
//
//	ctx - Stops the watch when cancelled.
//	onChange - Called from the watch goroutine for each distinct change.
//
// Outputs:
//
//	error - Non-nil if the watcher cannot be created. Returns nil when ctx ends.
func (h *FileHost) Watch(ctx context.Context, onChange func(Snapshot)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(h.codePath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.codePath), err)
	}

	last, _ := h.ReadCode(ctx, SelectorActive)
	target := filepath.Clean(h.codePath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			snap, err := h.ReadCode(ctx, SelectorActive)
			if err != nil || snap.Hash == last.Hash {
				continue
			}
			last = snap
			onChange(snap)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("code file watch error", slog.String("error", err.Error()))
		}
	}
}
