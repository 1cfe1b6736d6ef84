// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
)

// decodeArgs unmarshals raw into v. Arguments that are not valid JSON,
// typically from textual tool-call markup, are repaired first.
func decodeArgs(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if err := json.Unmarshal(trimmed, v); err == nil {
		return nil
	} else if json.Valid(trimmed) {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	repaired, err := jsonrepair.JSONRepair(string(trimmed))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// RepairJSON returns raw unchanged when it is valid JSON, otherwise a
// repaired copy. The boolean is false when repair failed.
func RepairJSON(raw string) (json.RawMessage, bool) {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), true
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil || !json.Valid([]byte(repaired)) {
		return nil, false
	}
	return json.RawMessage(repaired), true
}

type readCodeArgs struct {
	Selector string `json:"selector,omitempty"`
}

// applyChangeArgs accepts the nested request shape and a flat shape with
// the change fields at the top level.
type applyChangeArgs struct {
	ExpectedBaseVersion string        `json:"expected_base_version"`
	BaseHash            string        `json:"base_hash,omitempty"`
	Nested              *apply.Change `json:"change,omitempty"`
	apply.Change
}

// request builds the apply request. A nested change wins over flat fields.
func (a applyChangeArgs) request() apply.Request {
	req := apply.Request{ExpectedBaseVersion: a.ExpectedBaseVersion, Change: a.Change}
	if req.ExpectedBaseVersion == "" {
		req.ExpectedBaseVersion = a.BaseHash
	}
	if a.Nested != nil {
		req.Change = *a.Nested
	}
	return req
}

type knowledgeArgs = knowledge.Query

type skillArgs struct {
	Action string `json:"action,omitempty"`
	Query  string `json:"query,omitempty"`
	ID     string `json:"id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}
