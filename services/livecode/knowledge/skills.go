// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

// Skill is an authoring recipe the model can fetch by id.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Body        string   `json:"body,omitempty"`
}

// Summary returns the skill without its body.
func (s Skill) Summary() Skill {
	s.Body = ""
	return s
}

var builtinSkills = []Skill{
	{
		ID:          "techno-style",
		Name:        "Techno",
		Description: "Four-on-the-floor techno at 125 to 135 BPM.",
		Tags:        []string{"genre", "dance", "drums"},
		Body: `Tempo: setcpm(130/4).
Kick on every beat: s("bd*4").
Offbeat open hats: s("[~ oh]*4").gain(0.5).
Claps on 2 and 4: s("~ cp ~ cp").
Rolling bass: note("c2*8").s("sawtooth").lpf(sine.range(300, 1200).slow(8)).
Layer everything with stack(...).`,
	},
	{
		ID:          "house",
		Name:        "House",
		Description: "Swung house groove with chords at 120 to 126 BPM.",
		Tags:        []string{"genre", "dance", "chords"},
		Body: `Tempo: setcpm(124/4).
Kick: s("bd*4"). Hats: s("[~ hh]*4").
Stabs: chord("<Am7 Dm7>").voicing().s("piano").struct("~ x ~ x").
Add room(0.3) to stabs for space.`,
	},
	{
		ID:          "ambient",
		Name:        "Ambient",
		Description: "Slow evolving pads and textures.",
		Tags:        []string{"genre", "pads", "texture"},
		Body: `Tempo: setcpm(60/4).
Pads: chord("<C^7 Am7 F^7 G7>").voicing().s("gm_pad_warm").room(0.8).size(0.9).slow(2).
Texture: s("pink").gain(0.05).lpf(800).
Modulate filters with perlin.range(...).`,
	},
	{
		ID:          "drum-and-bass",
		Name:        "Drum and Bass",
		Description: "Breakbeat drums at 170 to 175 BPM with sub bass.",
		Tags:        []string{"genre", "breaks", "bass"},
		Body: `Tempo: setcpm(172/4).
Two-step: s("bd ~ ~ ~ ~ ~ bd ~, ~ ~ sd ~ ~ ~ sd ~").
Shuffled hats: s("hh*8").gain(rand.range(0.3, 0.5)).
Sub: note("<c1 g0>").s("sine").lpf(200).`,
	},
	{
		ID:          "chord-voicings",
		Name:        "Chord voicings",
		Description: "Writing chord progressions that voice cleanly.",
		Tags:        []string{"harmony", "technique"},
		Body: `Use chord("...") with bare symbols: C, Am7, F^7, G7, Dm7b5.
Never put an octave in the symbol (C4^7 is invalid); move the register with .voicing() options instead.
Apply .s("piano") or another keys sound after .voicing().`,
	},
	{
		ID:          "fills",
		Name:        "Fills and variation",
		Description: "Adding fills and variation every few bars.",
		Tags:        []string{"technique", "arrangement"},
		Body: `Use every(4, x => x.fast(2)) for a double-time fill on the fourth bar.
Use sometimesBy(0.2, x => x.speed(2)) for occasional pitch jumps.
Use degradeBy(0.3) to thin out hats.`,
	},
}

// BuiltinSkills returns a copy of the built-in catalog in display order.
func BuiltinSkills() []Skill {
	out := make([]Skill, len(builtinSkills))
	copy(out, builtinSkills)
	return out
}
