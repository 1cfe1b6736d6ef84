// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
)

var builtinDocs = []ReferenceDoc{
	{ID: "s", Title: "s / sound", Summary: "Plays samples or synth waveforms by name. Mini-notation inside the string sequences them.", Example: `s("bd*4, [~ sd]")`, Tags: []string{"drums", "samples", "sound"}},
	{ID: "note", Title: "note", Summary: "Sets pitches by note name or MIDI number. Combine with .s() to choose the instrument.", Example: `note("c2 eb2 g2").s("sawtooth")`, Tags: []string{"pitch", "melody", "bass"}},
	{ID: "n", Title: "n", Summary: "Selects a sample index or scale degree.", Example: `n("0 2 4").scale("C:minor").s("piano")`, Tags: []string{"index", "scale"}},
	{ID: "stack", Title: "stack", Summary: "Plays patterns at the same time. The usual way to layer drums, bass and chords.", Example: `stack(s("bd*4"), s("hh*8"))`, Tags: []string{"layer", "arrangement"}},
	{ID: "setcpm", Title: "setcpm / setcps", Summary: "Sets the tempo in cycles per minute or per second. For 4/4 at 130 BPM use setcpm(130/4).", Example: `setcpm(130/4)`, Tags: []string{"tempo", "bpm"}},
	{ID: "gain", Title: "gain", Summary: "Volume multiplier. Values above 1 can clip.", Example: `s("hh*8").gain(0.4)`, Tags: []string{"volume", "mix"}},
	{ID: "lpf", Title: "lpf / cutoff", Summary: "Low-pass filter cutoff in Hz. Pair with a signal for sweeps.", Example: `note("c2").s("sawtooth").lpf(sine.range(300, 2000).slow(4))`, Tags: []string{"filter", "lowpass", "sweep"}},
	{ID: "hpf", Title: "hpf", Summary: "High-pass filter cutoff in Hz.", Example: `s("hh*16").hpf(6000)`, Tags: []string{"filter", "highpass"}},
	{ID: "room", Title: "room / size", Summary: "Reverb send and room size.", Example: `s("cp").room(0.4).size(0.8)`, Tags: []string{"reverb", "space"}},
	{ID: "delay", Title: "delay", Summary: "Delay send with delaytime and delayfeedback.", Example: `s("rim").delay(0.5).delaytime(0.375).delayfeedback(0.4)`, Tags: []string{"echo", "space"}},
	{ID: "chord", Title: "chord / voicing", Summary: "Chord symbols without octaves, voiced automatically. Write C^7 not C4^7.", Example: `chord("<Dm7 G7 C^7>").voicing().s("piano")`, Tags: []string{"harmony", "chords", "voicings"}},
	{ID: "bank", Title: "bank", Summary: "Selects a drum machine bank for drum sample names.", Example: `s("bd sd").bank("RolandTR909")`, Tags: []string{"drums", "drum machine"}},
	{ID: "fast", Title: "fast / slow", Summary: "Speeds up or slows down a pattern by a factor.", Example: `s("bd sd").fast(2)`, Tags: []string{"time", "speed"}},
	{ID: "every", Title: "every / firstOf", Summary: "Applies a function every n cycles.", Example: `s("bd sd").every(4, x => x.fast(2))`, Tags: []string{"variation", "fill"}},
	{ID: "jux", Title: "jux", Summary: "Applies a function to the right channel only.", Example: `s("hh*8").jux(rev)`, Tags: []string{"stereo", "width"}},
	{ID: "euclid", Title: "euclidean rhythms", Summary: "Mini-notation bd(3,8) spreads 3 hits over 8 steps.", Example: `s("bd(3,8), hh(5,8)")`, Tags: []string{"rhythm", "euclid"}},
	{ID: "signals", Title: "continuous signals", Summary: "sine, saw, tri, square, rand and perlin produce values between 0 and 1. Use .range(a, b) to scale them.", Example: `s("hh*8").gain(rand.range(0.3, 0.6))`, Tags: []string{"modulation", "lfo"}},
}

var soundCategories = map[string]string{
	"sine": "synth", "sawtooth": "synth", "square": "synth", "triangle": "synth", "supersaw": "synth", "pulse": "synth",
	"white": "noise", "pink": "noise", "brown": "noise", "crackle": "noise",
	"bd": "drums", "sd": "drums", "hh": "drums", "oh": "drums", "cp": "drums", "rim": "drums",
	"lt": "drums", "mt": "drums", "ht": "drums", "cr": "drums", "rd": "drums", "cb": "drums",
	"sh": "drums", "perc": "drums", "tb": "drums",
	"piano": "keys", "gm_epiano1": "keys",
	"gm_acoustic_bass": "bass",
	"gm_electric_guitar_clean": "guitar",
	"gm_pad_warm": "pad", "gm_string_ensemble_1": "strings",
}

var soundAliases = map[string][]string{
	"bd":       {"kick", "bass drum", "808 kick"},
	"sd":       {"snare", "snare drum"},
	"hh":       {"hihat", "closed hat", "hat"},
	"oh":       {"open hat", "open hihat"},
	"cp":       {"clap", "handclap"},
	"rim":      {"rimshot", "side stick"},
	"cr":       {"crash", "cymbal"},
	"rd":       {"ride"},
	"cb":       {"cowbell"},
	"sh":       {"shaker"},
	"lt":       {"low tom", "tom"},
	"mt":       {"mid tom"},
	"ht":       {"high tom"},
	"sawtooth": {"saw", "acid"},
	"supersaw": {"trance lead", "detuned saw"},
	"piano":    {"keys", "grand piano"},
	"white":    {"noise"},
}

// SoundEntries describes every name in inv.
func SoundEntries(inv host.Inventory) []SoundEntry {
	names := inv.Names()
	entries := make([]SoundEntry, 0, len(names))
	for _, name := range names {
		cat, ok := soundCategories[name]
		if !ok {
			cat = "samples"
		}
		entries = append(entries, SoundEntry{
			Name:        name,
			Category:    cat,
			Description: fmt.Sprintf("%s %s", strings.ToUpper(cat[:1])+cat[1:], name),
			Aliases:     soundAliases[name],
		})
	}
	return entries
}

// BuiltinSources returns the reference docs and the default sound bank.
func BuiltinSources() *Sources {
	return &Sources{
		ReferenceDocs: append([]ReferenceDoc(nil), builtinDocs...),
		SoundEntries:  SoundEntries(host.NewInventory(host.DefaultSounds...)),
	}
}

// HostProvider serves the built-in docs with sound entries read from the
// host's live inventory, so lookups only suggest sounds that are loaded.
func HostProvider(h host.Host) Provider {
	return ProviderFunc(func(ctx context.Context) (*Sources, error) {
		inv, err := h.ResourceInventory(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoSources, err)
		}
		return &Sources{
			ReferenceDocs: append([]ReferenceDoc(nil), builtinDocs...),
			SoundEntries:  SoundEntries(inv),
		}, nil
	})
}
