// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation implements the branching conversation model.
//
// A Session is a tree of Branches stored as a flat map with parent
// back-references. Editing an earlier user message forks a new Branch
// rather than rewriting history, and every alternate wording of the same
// user turn is tracked as a variant under one revision key.
//
// All operations are copy-on-write: they return a new *Session and never
// mutate the one passed in. A Branch reachable from a published Session is
// never modified in place, so sessions may share Branch pointers.
package conversation

import (
	"bytes"
	"maps"
	"slices"
	"strings"
	"time"
)

// CurrentVersion is the persisted session format written by Marshal.
//
// Version 0 is a bare JSON array of messages; version 1 is an object with
// only a "messages" field. Both are migrated on Load.
const CurrentVersion = 2

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of content in a Part.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one piece of message content.
type Part struct {
	Type       PartType `json:"type"`
	Text       string   `json:"text,omitempty"`
	ToolCallID string   `json:"tool_call_id,omitempty"`
	ToolName   string   `json:"tool_name,omitempty"`

	// Data carries the raw JSON of tool inputs or outputs.
	Data []byte `json:"data,omitempty"`
}

func (p Part) equal(o Part) bool {
	return p.Type == o.Type &&
		p.Text == o.Text &&
		p.ToolCallID == o.ToolCallID &&
		p.ToolName == o.ToolName &&
		bytes.Equal(p.Data, o.Data)
}

// Metadata holds revision tags and free-form annotations for a message.
type Metadata struct {
	// RevisionKey groups alternate texts for the same logical user turn.
	// Empty means the message's own ID.
	RevisionKey string `json:"revision_key,omitempty"`

	// SlotKey is shared by co-located edits. Empty means the message's own ID.
	SlotKey string `json:"slot_key,omitempty"`

	// VariantID links a resubmitted edit to its revision variant.
	VariantID string `json:"variant_id,omitempty"`

	// TurnID is the agent turn that produced or consumed this message.
	TurnID string `json:"turn_id,omitempty"`

	// Extra holds caller annotations such as completion reasons.
	Extra map[string]string `json:"extra,omitempty"`
}

func (m Metadata) equal(o Metadata) bool {
	return m.RevisionKey == o.RevisionKey &&
		m.SlotKey == o.SlotKey &&
		m.VariantID == o.VariantID &&
		m.TurnID == o.TurnID &&
		maps.Equal(m.Extra, o.Extra)
}

// Message is one entry in a branch's conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTextMessage builds a message with a single text part.
func NewTextMessage(id string, role Role, text string) Message {
	return Message{
		ID:        id,
		Role:      role,
		Parts:     []Part{{Type: PartText, Text: text}},
		CreatedAt: now(),
	}
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// SnapshotEqual reports whether two messages have the same id, role,
// metadata and parts. Timestamps are ignored.
func (m Message) SnapshotEqual(o Message) bool {
	return m.ID == o.ID &&
		m.Role == o.Role &&
		m.Metadata.equal(o.Metadata) &&
		slices.EqualFunc(m.Parts, o.Parts, Part.equal)
}

func (m Message) revisionKey() string {
	if m.Metadata.RevisionKey != "" {
		return m.Metadata.RevisionKey
	}
	return m.ID
}

func (m Message) slotKey() string {
	if m.Metadata.SlotKey != "" {
		return m.Metadata.SlotKey
	}
	return m.ID
}

// messagesEqual compares two message lists by snapshot equality.
func messagesEqual(a, b []Message) bool {
	return slices.EqualFunc(a, b, Message.SnapshotEqual)
}

// Branch is one timeline in the conversation tree.
type Branch struct {
	ID string `json:"id"`

	// ParentID is empty for the root branch.
	ParentID string `json:"parent_id,omitempty"`

	// ForkedFromMessageID is the edited message in the parent. Empty for root.
	ForkedFromMessageID string `json:"forked_from_message_id,omitempty"`

	// ForkIndex is the position of ForkedFromMessageID in the parent.
	ForkIndex int `json:"fork_index"`

	Messages []Message `json:"messages"`

	// PendingRevisions mark positions where a resubmitted edit is expected.
	PendingRevisions []PendingRevision `json:"pending_revisions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PendingRevision tags the next user message at Index with a revision.
type PendingRevision struct {
	RevisionKey string `json:"revision_key"`
	SlotKey     string `json:"slot_key"`
	VariantID   string `json:"variant_id"`
	Index       int    `json:"index"`
}

// RevisionVariant is one wording of a logical user turn.
type RevisionVariant struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	SlotKey   string    `json:"slot_key"`

	// AnchorMessageID is set only on the original, unedited variant.
	AnchorMessageID *string `json:"anchor_message_id"`

	Edited bool `json:"edited"`
}

// RevisionChoice describes the variant showing at a message position.
type RevisionChoice struct {
	RevisionKey  string            `json:"revision_key"`
	Current      RevisionVariant   `json:"current"`
	CurrentIndex int               `json:"current_index"`
	Variants     []RevisionVariant `json:"variants"`
}

// Session is the root aggregate persisted for a conversation.
type Session struct {
	Version        int                          `json:"version"`
	ActiveBranchID string                       `json:"active_branch_id"`
	Branches       map[string]*Branch           `json:"branches"`
	Revisions      map[string][]RevisionVariant `json:"revisions"`
}

// EditRequest asks to fork the conversation at a user message.
type EditRequest struct {
	MessageID string
	NewText   string
}

// SwitchRequest asks to show another variant of a revision.
type SwitchRequest struct {
	RevisionKey string
	VariantID   string
}

// clone copies the session's maps. Branches and variant slices are shared.
func (s *Session) clone() *Session {
	return &Session{
		Version:        s.Version,
		ActiveBranchID: s.ActiveBranchID,
		Branches:       maps.Clone(s.Branches),
		Revisions:      maps.Clone(s.Revisions),
	}
}
