// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal serializes a session at CurrentVersion.
func Marshal(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil session", ErrInvalidSession)
	}
	out := *s
	out.Version = CurrentVersion
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// legacyMessage accepts both current messages and the older shape that
// stored a single "content" string instead of parts.
type legacyMessage struct {
	Message
	Content string `json:"content"`
}

func (lm legacyMessage) upgrade() Message {
	m := lm.Message
	if m.ID == "" {
		m.ID = newID()
	}
	if len(m.Parts) == 0 && lm.Content != "" {
		m.Parts = []Part{{Type: PartText, Text: lm.Content}}
	}
	return m
}

// sessionProbe peeks at the fields that identify the stored format.
type sessionProbe struct {
	Version  *int                       `json:"version"`
	Branches map[string]json.RawMessage `json:"branches"`
	Messages []legacyMessage            `json:"messages"`
}

// Load decodes a persisted session, migrating older formats.
//
// Description:
//
//	Accepts:
//	  - a bare JSON array of messages (version 0)
//	  - an object with only "messages" (version 1)
//	  - a full session (version 2)
//	Older formats are wrapped as a single-branch session through
//	CreateSessionFromMessages. Full sessions are checked with Validate.
//
// Inputs:
//
//	data - The stored bytes.
//
// Outputs:
//
//	*Session - The decoded session at CurrentVersion.
//	bool - True if a migration was applied.
//	error - ErrUnsupportedVersion, ErrInvalidSession, or a decode error.
func Load(data []byte) (*Session, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("%w: empty record", ErrInvalidSession)
	}

	if trimmed[0] == '[' {
		var legacy []legacyMessage
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, false, fmt.Errorf("%w: decode message list: %v", ErrInvalidSession, err)
		}
		return CreateSessionFromMessages(upgradeAll(legacy)), true, nil
	}

	var probe sessionProbe
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, false, fmt.Errorf("%w: decode session: %v", ErrInvalidSession, err)
	}
	if probe.Version != nil && *probe.Version > CurrentVersion {
		return nil, false, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *probe.Version)
	}
	if probe.Branches == nil {
		return CreateSessionFromMessages(upgradeAll(probe.Messages)), true, nil
	}

	var s Session
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, false, fmt.Errorf("%w: decode session: %v", ErrInvalidSession, err)
	}
	if s.Revisions == nil {
		s.Revisions = make(map[string][]RevisionVariant)
	}
	migrated := s.Version != CurrentVersion
	s.Version = CurrentVersion
	if err := Validate(&s); err != nil {
		return nil, false, err
	}
	return &s, migrated, nil
}

func upgradeAll(legacy []legacyMessage) []Message {
	msgs := make([]Message, 0, len(legacy))
	for _, lm := range legacy {
		msgs = append(msgs, lm.upgrade())
	}
	return msgs
}

// Validate checks the structural invariants of a session.
//
// Description:
//
//	Verifies that the active branch exists, that every branch's ID matches
//	its map key, that every parent exists, that no ancestry loops, and that
//	every variant names an existing branch.
//
// Outputs:
//
//	error - Wraps ErrInvalidSession or ErrCircularReference; nil if valid.
func Validate(s *Session) error {
	if s == nil || len(s.Branches) == 0 {
		return fmt.Errorf("%w: no branches", ErrInvalidSession)
	}
	if _, ok := s.Branches[s.ActiveBranchID]; !ok {
		return fmt.Errorf("%w: active branch %q missing", ErrInvalidSession, s.ActiveBranchID)
	}

	for id, b := range s.Branches {
		if b == nil || b.ID != id {
			return fmt.Errorf("%w: branch %q key mismatch", ErrInvalidSession, id)
		}
		seen := map[string]bool{}
		for cur := b; cur.ParentID != ""; {
			if seen[cur.ID] {
				return fmt.Errorf("%w: branch %q", ErrCircularReference, id)
			}
			seen[cur.ID] = true
			parent, ok := s.Branches[cur.ParentID]
			if !ok {
				return fmt.Errorf("%w: branch %q has missing parent %q", ErrInvalidSession, cur.ID, cur.ParentID)
			}
			cur = parent
		}
	}

	for key, variants := range s.Revisions {
		for _, v := range variants {
			if _, ok := s.Branches[v.BranchID]; !ok {
				return fmt.Errorf("%w: revision %q variant %q names missing branch %q",
					ErrInvalidSession, key, v.ID, v.BranchID)
			}
		}
	}
	return nil
}
