// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package host defines the live program host contract and two
// implementations: an in-memory host for tests and embedding, and a
// file-backed host that watches a pattern file for external edits.
//
// The host owns the code buffer, the transport state and the loaded sound
// inventory. Callers treat every read as a snapshot and every write as
// conditional on a hash they checked first.
package host

import (
	"context"
	"encoding/hex"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// SelectorActive names the code region that is currently playing.
const SelectorActive = "active"

var (
	// ErrInventoryUnavailable means the loaded sounds cannot be determined.
	// Callers must fail closed: it is not the same as an empty inventory.
	ErrInventoryUnavailable = errors.New("sound inventory unavailable")

	// ErrUnknownSelector is returned for code selectors other than "active".
	ErrUnknownSelector = errors.New("unknown code selector")
)

// Snapshot is the code of a region and its content hash.
type Snapshot struct {
	Code string `json:"code"`
	Hash string `json:"hash"`
}

// ProgramState is the transport state of the live program.
type ProgramState struct {
	Running bool `json:"running"`

	// CyclesPerSecond is zero when the tempo is unknown.
	CyclesPerSecond float64 `json:"cycles_per_second"`
}

// Host is the live program host.
//
// ReadCode must reflect edits made outside this process and be cheap
// enough to call before every apply.
type Host interface {
	ReadCode(ctx context.Context, selector string) (Snapshot, error)
	State(ctx context.Context) (ProgramState, error)
	ResourceInventory(ctx context.Context) (Inventory, error)
	WriteCode(ctx context.Context, code string) error
	Evaluate(ctx context.Context) error
	Start(ctx context.Context) error
}

// HashCode returns the content address of code.
//
// The hash is the first 128 bits of BLAKE3, hex encoded.
func HashCode(code string) string {
	sum := blake3.Sum256([]byte(code))
	return hex.EncodeToString(sum[:16])
}

// Inventory is a case-insensitive set of loaded sound names.
type Inventory map[string]struct{}

// NewInventory builds an inventory from names.
func NewInventory(names ...string) Inventory {
	inv := make(Inventory, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			inv[strings.ToLower(n)] = struct{}{}
		}
	}
	return inv
}

// Contains reports whether name is loaded, ignoring case.
func (inv Inventory) Contains(name string) bool {
	_, ok := inv[strings.ToLower(name)]
	return ok
}

// Names returns the sorted, lowercased names.
func (inv Inventory) Names() []string {
	names := make([]string, 0, len(inv))
	for n := range inv {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultSounds is the inventory of a freshly started Strudel session:
// built-in synth waveforms plus the common drum and instrument samples.
var DefaultSounds = []string{
	"sine", "sawtooth", "square", "triangle", "supersaw", "pulse",
	"white", "pink", "brown", "crackle",
	"bd", "sd", "hh", "oh", "cp", "rim", "lt", "mt", "ht", "cr", "rd", "cb", "sh", "perc", "tb", "misc", "fx",
	"piano", "gm_acoustic_bass", "gm_electric_guitar_clean", "gm_epiano1", "gm_pad_warm", "gm_string_ensemble_1",
	"casio", "jazz", "metal", "east", "crow", "insect", "wind", "numbers",
}

var tempoPattern = regexp.MustCompile(`\bsetcp([sm])\(\s*([0-9]*\.?[0-9]+)(?:\s*/\s*([0-9]*\.?[0-9]+))?\s*\)`)

// TempoFromCode extracts cycles per second from a setcps or setcpm call
// with a literal argument such as setcpm(130/4). The last call wins.
func TempoFromCode(code string) (float64, bool) {
	matches := tempoPattern.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]

	value, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, false
	}
	if m[3] != "" {
		div, err := strconv.ParseFloat(m[3], 64)
		if err != nil || div == 0 {
			return 0, false
		}
		value /= div
	}
	if m[1] == "m" {
		value /= 60
	}
	if value <= 0 {
		return 0, false
	}
	return value, true
}
