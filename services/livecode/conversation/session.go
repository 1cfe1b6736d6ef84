// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Overridable in tests.
var (
	newID = uuid.NewString
	now   = time.Now
)

// CreateSessionFromMessages builds a root-only session.
//
// Description:
//
//	Places messages in a new root branch and registers every user message
//	as the sole variant of its revision (its own ID unless already tagged).
//	The messages themselves are not modified, so ActiveMessages returns a
//	list snapshot-equal to the input.
//
// Inputs:
//
//	messages - The flat conversation. May be empty.
//
// Outputs:
//
//	*Session - A new session whose active branch is the root.
//
// Thread Safety: Pure function; safe for concurrent use.
func CreateSessionFromMessages(messages []Message) *Session {
	root := &Branch{
		ID:        newID(),
		Messages:  slices.Clone(messages),
		CreatedAt: now(),
	}
	s := &Session{
		Version:        CurrentVersion,
		ActiveBranchID: root.ID,
		Branches:       map[string]*Branch{root.ID: root},
		Revisions:      make(map[string][]RevisionVariant),
	}
	registerRevisions(s.Revisions, root)
	return s
}

// ActiveBranch returns the active branch, or nil for an empty session.
func ActiveBranch(s *Session) *Branch {
	if s == nil {
		return nil
	}
	return s.Branches[s.ActiveBranchID]
}

// ActiveMessages returns a copy of the active branch's messages.
func ActiveMessages(s *Session) []Message {
	b := ActiveBranch(s)
	if b == nil {
		return nil
	}
	return slices.Clone(b.Messages)
}

// UpdateActiveBranchMessages replaces the active branch's message list.
//
// Description:
//
//	Returns s itself when messages is snapshot-equal to the current list,
//	so callers can skip persistence on no-op updates. Otherwise the branch
//	is copied, pending revision markers are consumed (tagging the
//	resubmitted user message with the edited variant's revision, or
//	dropping the marker when a different message took its position) and
//	revision tagging runs over the new list.
//
// Inputs:
//
//	s - The current session.
//	messages - The proposed message list for the active branch.
//
// Outputs:
//
//	*Session - s when unchanged, else a new session.
//
// Thread Safety: Pure function; safe for concurrent use.
func UpdateActiveBranchMessages(s *Session, messages []Message) *Session {
	b := ActiveBranch(s)
	if b == nil {
		return s
	}
	if messagesEqual(b.Messages, messages) {
		return s
	}

	ns := s.clone()
	nb := *b
	nb.Messages = slices.Clone(messages)
	nb.PendingRevisions = consumePending(nb.Messages, b.PendingRevisions, ns.Revisions)

	ns.Branches[nb.ID] = &nb
	registerRevisions(ns.Revisions, &nb)
	return ns
}

// consumePending tags messages at pending positions and returns the markers
// that could not be consumed yet.
//
// A marker is consumed only by a user message carrying the edited text. A
// different message at its position makes the marker stale: it is dropped
// and its unmaterialized variant removed from revs, so the variant never
// claims text it does not hold. revs must be owned by the caller.
func consumePending(messages []Message, pending []PendingRevision, revs map[string][]RevisionVariant) []PendingRevision {
	if len(pending) == 0 {
		return nil
	}
	var remaining []PendingRevision
	for _, p := range pending {
		if p.Index >= len(messages) || messages[p.Index].Role != RoleUser {
			remaining = append(remaining, p)
			continue
		}
		m := messages[p.Index]
		if text, ok := variantText(revs[p.RevisionKey], p.VariantID); ok && text != m.Text() {
			kept := slices.DeleteFunc(slices.Clone(revs[p.RevisionKey]), func(v RevisionVariant) bool {
				return v.ID == p.VariantID
			})
			if len(kept) == 0 {
				delete(revs, p.RevisionKey)
			} else {
				revs[p.RevisionKey] = kept
			}
			continue
		}
		m.Metadata.RevisionKey = p.RevisionKey
		m.Metadata.SlotKey = p.SlotKey
		m.Metadata.VariantID = p.VariantID
		messages[p.Index] = m
	}
	return remaining
}

func variantText(variants []RevisionVariant, id string) (string, bool) {
	for _, v := range variants {
		if v.ID == id {
			return v.Text, true
		}
	}
	return "", false
}

// registerRevisions adds an original variant for every user message in b
// that no existing variant already represents.
//
// revs must be owned by the caller; variant slices are reallocated rather
// than appended in place.
func registerRevisions(revs map[string][]RevisionVariant, b *Branch) {
	for _, m := range b.Messages {
		if m.Role != RoleUser {
			continue
		}
		key := m.revisionKey()
		variants := revs[key]
		if representedBy(variants, m, b.ID) {
			continue
		}
		anchor := m.ID
		revs[key] = append(slices.Clip(variants), RevisionVariant{
			ID:              newID(),
			BranchID:        b.ID,
			Text:            m.Text(),
			CreatedAt:       now(),
			SlotKey:         m.slotKey(),
			AnchorMessageID: &anchor,
		})
	}
}

// representedBy reports whether m already has a variant: anchored to it,
// materialized from it, or owned by the same branch.
func representedBy(variants []RevisionVariant, m Message, branchID string) bool {
	for _, v := range variants {
		if v.AnchorMessageID != nil && *v.AnchorMessageID == m.ID {
			return true
		}
		if m.Metadata.VariantID != "" && v.ID == m.Metadata.VariantID {
			return true
		}
		if v.BranchID == branchID {
			return true
		}
	}
	return false
}

// CreateEditedBranch forks the conversation at a user message.
//
// Description:
//
//	Creates a child of the active branch holding the messages before the
//	edited one, registers the new text as an edited variant (no anchor yet)
//	under the message's revision key, and activates the child. The next user
//	message appended at the fork index is tagged with that variant.
//
// Inputs:
//
//	s - The current session.
//	req - The message to edit and its replacement text.
//
// Outputs:
//
//	*Session - The new session, or s on failure.
//	string - The prompt text to resubmit.
//	bool - False if the message is missing or not a user message.
//
// Thread Safety: Pure function; safe for concurrent use.
func CreateEditedBranch(s *Session, req EditRequest) (*Session, string, bool) {
	b := ActiveBranch(s)
	if b == nil {
		return s, "", false
	}
	idx := slices.IndexFunc(b.Messages, func(m Message) bool { return m.ID == req.MessageID })
	if idx < 0 || b.Messages[idx].Role != RoleUser {
		return s, "", false
	}

	edited := b.Messages[idx]
	key := edited.revisionKey()
	slot := edited.slotKey()

	child := &Branch{
		ID:                  newID(),
		ParentID:            b.ID,
		ForkedFromMessageID: edited.ID,
		ForkIndex:           idx,
		Messages:            slices.Clone(b.Messages[:idx]),
		CreatedAt:           now(),
	}
	variant := RevisionVariant{
		ID:        newID(),
		BranchID:  child.ID,
		Text:      req.NewText,
		CreatedAt: now(),
		SlotKey:   slot,
		Edited:    true,
	}
	child.PendingRevisions = []PendingRevision{{
		RevisionKey: key,
		SlotKey:     slot,
		VariantID:   variant.ID,
		Index:       idx,
	}}

	ns := s.clone()
	ns.Branches[child.ID] = child
	ns.ActiveBranchID = child.ID

	// Sessions built before tagging may lack the original variant.
	variants := ns.Revisions[key]
	if !representedBy(variants, edited, "") {
		anchor := edited.ID
		variants = append(slices.Clip(variants), RevisionVariant{
			ID:              newID(),
			BranchID:        b.ID,
			Text:            edited.Text(),
			CreatedAt:       edited.CreatedAt,
			SlotKey:         slot,
			AnchorMessageID: &anchor,
		})
	}
	ns.Revisions[key] = append(slices.Clip(variants), variant)

	return ns, req.NewText, true
}

// Lineage returns branch IDs from the root to the active branch.
//
// Traversal follows parent links upward only. A missing parent or a cycle
// ends the walk.
func Lineage(s *Session) []string {
	b := ActiveBranch(s)
	var path []string
	seen := make(map[string]bool)
	for b != nil && !seen[b.ID] {
		seen[b.ID] = true
		path = append(path, b.ID)
		if b.ParentID == "" {
			break
		}
		b = s.Branches[b.ParentID]
	}
	slices.Reverse(path)
	return path
}

// lineageDepths maps each branch on the active lineage to its depth (root 0).
func lineageDepths(s *Session) map[string]int {
	path := Lineage(s)
	depths := make(map[string]int, len(path))
	for i, id := range path {
		depths[id] = i
	}
	return depths
}

// RevisionChoiceForMessage reports which variant is showing at a message.
//
// Description:
//
//	The message's revision key comes from its tag, or from a variant
//	anchored at the message's own ID. A choice exists only when the
//	revision has at least two variants, one of them edited, and at least
//	one variant lies on the active lineage. Among those, the variant of the
//	deepest branch wins; deeper is treated as more recent.
//
// Inputs:
//
//	s - The session.
//	m - A message from the active branch.
//
// Outputs:
//
//	*RevisionChoice - The choice, or nil when there is nothing to switch.
//
// Thread Safety: Pure function; safe for concurrent use.
func RevisionChoiceForMessage(s *Session, m Message) *RevisionChoice {
	if s == nil || m.Role != RoleUser {
		return nil
	}
	key, ok := resolveRevisionKey(s, m)
	if !ok {
		return nil
	}

	variants := s.Revisions[key]
	if len(variants) < 2 || !slices.ContainsFunc(variants, func(v RevisionVariant) bool { return v.Edited }) {
		return nil
	}

	depths := lineageDepths(s)
	best, bestDepth := -1, -1
	for i, v := range variants {
		if d, on := depths[v.BranchID]; on && d > bestDepth {
			best, bestDepth = i, d
		}
	}
	if best < 0 {
		return nil
	}

	return &RevisionChoice{
		RevisionKey:  key,
		Current:      variants[best],
		CurrentIndex: best,
		Variants:     slices.Clone(variants),
	}
}

// resolveRevisionKey finds the revision a message belongs to.
func resolveRevisionKey(s *Session, m Message) (string, bool) {
	if k := m.Metadata.RevisionKey; k != "" {
		if _, ok := s.Revisions[k]; ok {
			return k, true
		}
	}
	for _, v := range s.Revisions[m.ID] {
		if v.AnchorMessageID != nil && *v.AnchorMessageID == m.ID {
			return m.ID, true
		}
	}
	return "", false
}

// SwitchRevisionVariant activates the branch owning a variant.
//
// Returns s unchanged when the revision or variant is unknown, when the
// owning branch no longer exists, or when it is already active.
func SwitchRevisionVariant(s *Session, req SwitchRequest) *Session {
	if s == nil {
		return s
	}
	idx := slices.IndexFunc(s.Revisions[req.RevisionKey], func(v RevisionVariant) bool {
		return v.ID == req.VariantID
	})
	if idx < 0 {
		return s
	}
	target := s.Revisions[req.RevisionKey][idx].BranchID
	if _, ok := s.Branches[target]; !ok || target == s.ActiveBranchID {
		return s
	}
	ns := s.clone()
	ns.ActiveBranchID = target
	return ns
}
