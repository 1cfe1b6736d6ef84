// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestValidateShape(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantMsg string
	}{
		{
			name:    "blank base version",
			req:     Request{ExpectedBaseVersion: "  ", Change: Change{Kind: ChangeFullCode, Content: "x"}},
			wantMsg: "expected_base_version is required",
		},
		{
			name:    "patch is deprecated",
			req:     Request{ExpectedBaseVersion: "h", Change: Change{Kind: ChangePatch, Patch: "garbage"}},
			wantMsg: PatchDeprecatedMessage,
		},
		{
			name:    "empty search",
			req:     Request{ExpectedBaseVersion: "h", Change: Change{Kind: ChangeSearchReplace, Replace: strPtr("x")}},
			wantMsg: "search must be a non-empty string",
		},
		{
			name:    "missing replace",
			req:     Request{ExpectedBaseVersion: "h", Change: Change{Kind: ChangeSearchReplace, Search: "x"}},
			wantMsg: "replace must be a string",
		},
		{
			name: "bad occurrence",
			req: Request{ExpectedBaseVersion: "h", Change: Change{
				Kind: ChangeSearchReplace, Search: "x", Replace: strPtr("y"), Occurrence: "first",
			}},
			wantMsg: "occurrence must be",
		},
		{
			name:    "missing kind",
			req:     Request{ExpectedBaseVersion: "h"},
			wantMsg: "change.kind is required",
		},
		{
			name:    "unknown kind",
			req:     Request{ExpectedBaseVersion: "h", Change: Change{Kind: "regex"}},
			wantMsg: "unknown change kind",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := validateShape(tt.req)
			require.NotEmpty(t, diags)
			assert.Contains(t, diags[0].Message, tt.wantMsg)
		})
	}

	t.Run("valid requests pass", func(t *testing.T) {
		assert.Empty(t, validateShape(Request{ExpectedBaseVersion: "h", Change: Change{Kind: ChangeFullCode}}))
		assert.Empty(t, validateShape(Request{ExpectedBaseVersion: "h", Change: Change{
			Kind: ChangeSearchReplace, Search: "a", Replace: strPtr(""), Occurrence: OccurrenceAll,
		}}))
	})
}

func TestPatchDiagnostics_CountsHunks(t *testing.T) {
	patch := `--- a/pattern.js
+++ b/pattern.js
@@ -1,2 +1,2 @@
-s("bd")
+s("bd*2")
 s("hh")
@@ -10,1 +10,1 @@
-note("c")
+note("e")
`
	diags := patchDiagnostics(patch)
	require.Len(t, diags, 2)
	assert.Equal(t, PatchDeprecatedMessage, diags[0].Message)
	assert.Contains(t, diags[1].Message, "2 hunk(s)")
}

func TestComputeNext(t *testing.T) {
	code := `s("bd").gain(0.5)
s("hh").gain(0.5)`

	t.Run("full code", func(t *testing.T) {
		next, diags := computeNext(code, Change{Kind: ChangeFullCode, Content: "silence"})
		assert.Empty(t, diags)
		assert.Equal(t, "silence", next)
	})

	t.Run("no match", func(t *testing.T) {
		_, diags := computeNext(code, Change{Kind: ChangeSearchReplace, Search: "lpf", Replace: strPtr("hpf")})
		require.Len(t, diags, 1)
		assert.Contains(t, diags[0].Message, "no match found")
	})

	t.Run("single by default rejects two matches", func(t *testing.T) {
		_, diags := computeNext(code, Change{Kind: ChangeSearchReplace, Search: "gain(0.5)", Replace: strPtr("gain(0.7)")})
		require.Len(t, diags, 1)
		assert.Contains(t, diags[0].Message, "expected single match but found 2")
	})

	t.Run("all replaces every match", func(t *testing.T) {
		next, diags := computeNext(code, Change{
			Kind: ChangeSearchReplace, Search: "gain(0.5)", Replace: strPtr("gain(0.7)"), Occurrence: OccurrenceAll,
		})
		assert.Empty(t, diags)
		assert.Equal(t, "s(\"bd\").gain(0.7)\ns(\"hh\").gain(0.7)", next)
	})

	t.Run("search is literal", func(t *testing.T) {
		next, diags := computeNext(`s("bd*2")`, Change{Kind: ChangeSearchReplace, Search: "bd*2", Replace: strPtr("bd*4")})
		assert.Empty(t, diags)
		assert.Equal(t, `s("bd*4")`, next)
	})
}
