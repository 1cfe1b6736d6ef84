// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apply

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// PatchDeprecatedMessage is the fixed diagnostic for patch changes.
const PatchDeprecatedMessage = "patch is deprecated; use search_replace or full_code"

// validateShape checks the request without looking at live state.
func validateShape(req Request) []Diagnostic {
	var diags []Diagnostic
	if strings.TrimSpace(req.ExpectedBaseVersion) == "" {
		diags = append(diags, diag("expected_base_version is required; call read_code to get the current hash"))
	}

	c := req.Change
	switch c.Kind {
	case ChangeFullCode:
	case ChangeSearchReplace:
		if c.Search == "" {
			diags = append(diags, diag("search must be a non-empty string"))
		}
		if c.Replace == nil {
			diags = append(diags, diag("replace must be a string"))
		}
		if c.Occurrence != "" && c.Occurrence != OccurrenceSingle && c.Occurrence != OccurrenceAll {
			diags = append(diags, diag("occurrence must be %q or %q, got %q", OccurrenceSingle, OccurrenceAll, c.Occurrence))
		}
	case ChangePatch:
		return patchDiagnostics(c.Patch)
	case "":
		diags = append(diags, diag("change.kind is required (full_code or search_replace)"))
	default:
		diags = append(diags, diag("unknown change kind %q; use search_replace or full_code", c.Kind))
	}
	return diags
}

// patchDiagnostics rejects a patch and, when the diff parses, tells the
// caller how many hunks to resend as search_replace changes.
func patchDiagnostics(patch string) []Diagnostic {
	diags := []Diagnostic{{Message: PatchDeprecatedMessage}}

	hunks := 0
	if fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch)); err == nil && len(fileDiffs) > 0 {
		for _, fd := range fileDiffs {
			hunks += len(fd.Hunks)
		}
	} else if parsed, err := diff.ParseHunks([]byte(patch)); err == nil {
		hunks = len(parsed)
	}
	if hunks > 0 {
		diags = append(diags, diag("the patch contains %d hunk(s); resend each as a search_replace change", hunks))
	}
	return diags
}

// computeNext applies the change to code.
//
// Search is literal, never a regular expression. Matches are counted
// without overlap.
func computeNext(code string, c Change) (string, []Diagnostic) {
	if c.Kind == ChangeFullCode {
		return c.Content, nil
	}

	n := strings.Count(code, c.Search)
	if n == 0 {
		return "", []Diagnostic{diag("no match found for search text")}
	}

	occurrence := c.Occurrence
	if occurrence == "" {
		occurrence = OccurrenceSingle
	}
	if occurrence == OccurrenceAll {
		return strings.ReplaceAll(code, c.Search, *c.Replace), nil
	}
	if n != 1 {
		return "", []Diagnostic{diag("expected single match but found %d; add surrounding context to search or set occurrence to all", n)}
	}
	return strings.Replace(code, c.Search, *c.Replace, 1), nil
}
