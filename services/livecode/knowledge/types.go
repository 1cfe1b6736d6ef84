// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge holds the reference material the assistant can look up:
// function documentation, the loaded sound bank, and authoring skills.
//
// Lookups are fuzzy. A query such as "808 kick" or "lowpass" ranks sound
// names and document titles with the livecode fuzzy matcher, so the model
// can recover from a misspelled or invented sound name.
package knowledge

import (
	"context"
	"errors"
)

// ErrNoSources is returned by a provider that has nothing to offer.
var ErrNoSources = errors.New("knowledge sources unavailable")

// ReferenceDoc documents one function or concept.
type ReferenceDoc struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Example string   `json:"example,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// SoundEntry describes a loadable sound.
type SoundEntry struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

// Sources is everything a lookup can search.
type Sources struct {
	ReferenceDocs []ReferenceDoc `json:"reference_docs"`
	SoundEntries  []SoundEntry   `json:"sound_entries"`
}

// Provider fetches sources.
type Provider interface {
	Sources(ctx context.Context) (*Sources, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*Sources, error)

// Sources calls f.
func (f ProviderFunc) Sources(ctx context.Context) (*Sources, error) {
	return f(ctx)
}

// StaticProvider returns the same sources every time.
func StaticProvider(src *Sources) Provider {
	return ProviderFunc(func(context.Context) (*Sources, error) {
		if src == nil {
			return nil, ErrNoSources
		}
		return src, nil
	})
}
