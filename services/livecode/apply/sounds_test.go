// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apply

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoundNamesIn(t *testing.T) {
	tests := []struct {
		pattern string
		want    []string
	}{
		{pattern: "bd sd", want: []string{"bd", "sd"}},
		{pattern: "bd*4, [~ hh]*2", want: []string{"bd", "hh"}},
		{pattern: "<bd sd:3> oh? cp!2 rim@3", want: []string{"bd", "sd", "oh", "cp", "rim"}},
		{pattern: "bd(3,8) - _", want: []string{"bd"}},
		{pattern: "gm_acoustic_bass", want: []string{"gm_acoustic_bass"}},
		{pattern: "~ ~", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, soundNamesIn(tt.pattern))
		})
	}
}

func TestExtractSoundNames(t *testing.T) {
	code := `setcpm(130/4)
stack(
  s("bd*4, [~ sd]"),
  sound("hh*8").gain(0.4),
  note("c2 e2").s("sawtooth"),
  n("0 2").s(` + "`BD`" + `),
  s(pick)
)`
	names, err := ExtractSoundNames(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, []string{"bd", "sd", "hh", "sawtooth"}, names)
}
