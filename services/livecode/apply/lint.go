// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apply

import (
	"fmt"
	"regexp"

	sitter "github.com/smacker/go-tree-sitter"
)

// lint runs both semantic checks and concatenates their diagnostics.
func (p *program) lint() []Diagnostic {
	diags := p.lintChordVoicing()
	return append(diags, p.lintNonFiniteParams()...)
}

// =============================================================================
// Chord voicing symbols
// =============================================================================

var chordRootPattern = regexp.MustCompile(`^([A-G](?:#|b)?)(.*)$`)

// chordSuffixes are the chord qualities the voicing dictionaries accept
// directly after a root. Digits here are extensions, not octaves.
var chordSuffixes = map[string]bool{
	"": true, "2": true, "5": true, "6": true, "69": true,
	"7": true, "7#11": true, "7#5": true, "7#9": true, "7b13": true, "7b5": true, "7b9": true,
	"7sus": true, "7sus4": true, "9": true, "9sus": true, "11": true, "13": true, "13#11": true,
	"^": true, "^7": true, "^9": true, "^13": true, "^7#11": true, "^#11": true,
	"M": true, "M7": true, "maj7": true, "maj9": true,
	"m": true, "m6": true, "m7": true, "m7b5": true, "m9": true, "m11": true, "m13": true, "m^7": true, "m69": true,
	"min": true, "min7": true,
	"-": true, "-6": true, "-7": true, "-9": true, "-11": true, "-^7": true,
	"o": true, "o7": true, "dim": true, "dim7": true, "h": true, "h7": true,
	"+": true, "aug": true,
	"sus": true, "sus2": true, "sus4": true, "add9": true,
}

// voicingCalls take chord symbols as string arguments.
var voicingCalls = map[string]bool{
	"chord": true,
}

// voicingMethods take chord symbols from the string they are called on,
// as in "<C^7 A7>".voicings('lefthand').
var voicingMethods = map[string]bool{
	"voicing":  true,
	"voicings": true,
}

// octaveQualifiedChord reports whether sym carries an octave after its root
// and returns the bare symbol.
func octaveQualifiedChord(sym string) (string, bool) {
	m := chordRootPattern.FindStringSubmatch(sym)
	if m == nil {
		return "", false
	}
	root, suffix := m[1], m[2]
	if chordSuffixes[suffix] || len(suffix) == 0 {
		return "", false
	}
	if suffix[0] < '0' || suffix[0] > '9' {
		return "", false
	}
	rest := suffix[1:]
	if !chordSuffixes[rest] {
		return "", false
	}
	return root + rest, true
}

func (p *program) lintChordVoicing() []Diagnostic {
	var diags []Diagnostic
	check := func(lit *sitter.Node) {
		s, ok := p.stringLiteral(lit)
		if !ok {
			return
		}
		pt := lit.StartPoint()
		for _, tok := range miniTokens(s) {
			sym := stripDecorations(tok, "*/!@?")
			bare, bad := octaveQualifiedChord(sym)
			if !bad {
				continue
			}
			diags = append(diags, Diagnostic{
				Code:    LintInvalidChordVoicing,
				Message: fmt.Sprintf("%s: chord symbol %q includes an octave; use %q", LintInvalidChordVoicing, sym, bare),
				Line:    int(pt.Row) + 1,
				Column:  int(pt.Column) + 1,
			})
		}
	}

	walk(p.root, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		name, method := p.calleeName(n)
		if voicingCalls[name] {
			for _, arg := range arguments(n) {
				check(arg)
			}
		}
		if method && voicingMethods[name] {
			if obj := n.ChildByFieldName("function").ChildByFieldName("object"); obj != nil {
				check(obj)
			}
		}
		return true
	})
	return diags
}

// =============================================================================
// Non-finite parameter risk
// =============================================================================

// numericParams are controls whose value must be a finite number.
var numericParams = map[string]bool{
	"gain": true, "velocity": true, "postgain": true, "amp": true,
	"lpf": true, "cutoff": true, "ctf": true, "lp": true,
	"hpf": true, "hcutoff": true, "hp": true,
	"bpf": true, "bandf": true, "bp": true,
	"lpq": true, "resonance": true, "hpq": true, "hresonance": true, "bpq": true,
	"lpenv": true, "hpenv": true, "bpenv": true,
	"attack": true, "att": true, "decay": true, "dec": true,
	"sustain": true, "sus": true, "release": true, "rel": true,
	"pan": true, "delay": true, "delaytime": true, "delayfeedback": true, "delayfb": true,
	"room": true, "size": true, "roomsize": true,
	"speed": true, "shape": true, "crush": true, "coarse": true, "distort": true,
	"vib": true, "vibmod": true, "penv": true,
}

// knownGlobals are identifiers provided by the runtime.
var knownGlobals = map[string]bool{
	// Continuous signals.
	"sine": true, "cosine": true, "saw": true, "square": true, "tri": true, "isaw": true,
	"sine2": true, "cosine2": true, "saw2": true, "square2": true, "tri2": true, "isaw2": true,
	"rand": true, "rand2": true, "irand": true, "brand": true, "brandBy": true,
	"perlin": true, "perlinWith": true, "time": true, "mouseX": true, "mouseY": true,
	// Pattern constructors usable as values.
	"slider": true, "run": true, "cat": true, "seq": true, "stack": true, "sequence": true,
	"fastcat": true, "slowcat": true, "choose": true, "chooseCycles": true, "pick": true,
	"mini": true, "pure": true, "silence": true, "signal": true, "range": true,
	// JavaScript.
	"Math": true, "Number": true, "parseFloat": true, "parseInt": true,
}

// declaredNames collects every identifier bound by a declaration or a
// function parameter anywhere in the program.
func (p *program) declaredNames() map[string]bool {
	declared := make(map[string]bool)
	var bind func(n *sitter.Node)
	bind = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "identifier", "shorthand_property_identifier_pattern":
			declared[p.text(n)] = true
		case "assignment_pattern":
			bind(n.ChildByFieldName("left"))
		default:
			for i := 0; i < int(n.NamedChildCount()); i++ {
				bind(n.NamedChild(i))
			}
		}
	}

	walk(p.root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "variable_declarator":
			bind(n.ChildByFieldName("name"))
		case "function_declaration", "function", "function_expression", "generator_function_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				declared[p.text(name)] = true
			}
			bind(n.ChildByFieldName("parameters"))
		case "arrow_function":
			bind(n.ChildByFieldName("parameter"))
			bind(n.ChildByFieldName("parameters"))
		case "class_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				declared[p.text(name)] = true
			}
		case "import_specifier", "namespace_import", "import_clause":
			bind(n)
		}
		return true
	})
	return declared
}

func (p *program) lintNonFiniteParams() []Diagnostic {
	declared := p.declaredNames()
	var diags []Diagnostic
	seen := make(map[string]bool)

	walk(p.root, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		param, _ := p.calleeName(n)
		if !numericParams[param] {
			return true
		}
		for _, arg := range arguments(n) {
			walk(arg, func(id *sitter.Node) bool {
				if id.Type() != "identifier" && id.Type() != "undefined" {
					return true
				}
				name := p.text(id)
				if declared[name] || knownGlobals[name] {
					return true
				}
				key := param + "/" + name
				if seen[key] {
					return true
				}
				seen[key] = true
				pt := id.StartPoint()
				diags = append(diags, Diagnostic{
					Code: LintNonFiniteParamRisk,
					Message: fmt.Sprintf("%s: %q in .%s(...) is not declared and is not a known global; it may evaluate to NaN or undefined",
						LintNonFiniteParamRisk, name, param),
					Line:   int(pt.Row) + 1,
					Column: int(pt.Column) + 1,
				})
				return true
			})
		}
		return true
	})
	return diags
}
