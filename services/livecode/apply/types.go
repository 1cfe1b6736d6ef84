// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package apply validates proposed code mutations and schedules them onto
// the live program.
//
// # Pipeline
//
// Gate.Apply runs, in order, stopping at the first failure:
//
//  1. Shape validation of the request
//  2. Optimistic concurrency: expected base hash vs live hash
//  3. Compute the next code (full content or literal search/replace)
//  4. Syntax dry-run with tree-sitter (no execution)
//  5. Semantic lint (chord voicing symbols, non-finite parameter risk)
//  6. Sound availability against the host inventory, failing closed
//  7. Schedule activation one cycle from now
//
// Rejections are values. The live buffer is never touched before the
// scheduled activation fires.
package apply

import (
	"fmt"
	"strings"
	"time"
)

// ChangeKind selects how the next code is computed.
type ChangeKind string

const (
	ChangeFullCode      ChangeKind = "full_code"
	ChangeSearchReplace ChangeKind = "search_replace"

	// ChangePatch is recognized only to reject it with a clear diagnostic.
	ChangePatch ChangeKind = "patch"
)

// Occurrence selects which search matches a search_replace rewrites.
type Occurrence string

const (
	OccurrenceSingle Occurrence = "single"
	OccurrenceAll    Occurrence = "all"
)

// Change is the proposed mutation.
type Change struct {
	Kind ChangeKind `json:"kind"`

	// Content is the full replacement for full_code.
	Content string `json:"content,omitempty"`

	// Search, Replace and Occurrence describe a search_replace.
	Search     string     `json:"search,omitempty"`
	Replace    *string    `json:"replace,omitempty"`
	Occurrence Occurrence `json:"occurrence,omitempty"`

	// Patch is the unified diff of a deprecated patch change.
	Patch string `json:"patch,omitempty"`
}

// Request asks to apply a change on top of a known base version.
type Request struct {
	// ExpectedBaseVersion is the hash of the code the change was written against.
	ExpectedBaseVersion string `json:"expected_base_version"`
	Change              Change `json:"change"`
}

// Phase names the pipeline step that rejected a request.
type Phase string

const (
	PhaseValidate    Phase = "validate"
	PhaseConcurrency Phase = "concurrency"
	PhaseCompute     Phase = "compute"
	PhaseResources   Phase = "resources"
	PhaseExecute     Phase = "execute"
)

// ErrorCode is the closed taxonomy callers use to choose a repair.
type ErrorCode string

const (
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeStaleBaseHash  ErrorCode = "STALE_BASE_HASH"
	CodeUnknownSound   ErrorCode = "UNKNOWN_SOUND"
	CodeRuntimeExecute ErrorCode = "RUNTIME_EXECUTE_ERROR"
)

// Lint diagnostic codes.
const (
	LintInvalidChordVoicing = "INVALID_CHORD_VOICING_SYMBOL"
	LintNonFiniteParamRisk  = "NON_FINITE_PARAM_RISK"
	DiagSyntax              = "SYNTAX_ERROR"
)

// suggestedNextActions maps every error code to its repair hint.
var suggestedNextActions = map[ErrorCode]string{
	CodeValidation:     "Fix the reported diagnostics and submit a corrected change.",
	CodeStaleBaseHash:  "The code changed since you read it. Rebase your change on latest_code and resubmit with latest_hash as expected_base_version if it still applies.",
	CodeUnknownSound:   "Call knowledge_lookup to find available sound names, then retry apply_change using only known sounds.",
	CodeRuntimeExecute: "The live host failed while handling the change. Report the error to the user; do not retry automatically.",
}

// SuggestedNextAction returns the repair hint for code.
func SuggestedNextAction(code ErrorCode) string {
	return suggestedNextActions[code]
}

// Diagnostic is one problem found in a request or its resulting code.
type Diagnostic struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// Staleness carries the live state when the expected base is out of date.
type Staleness struct {
	LatestCode   string `json:"latest_code"`
	LatestHash   string `json:"latest_hash"`
	ExpectedHash string `json:"expected_hash"`
}

// Rejection describes why a change was refused.
type Rejection struct {
	Phase               Phase        `json:"phase"`
	ErrorCode           ErrorCode    `json:"error_code"`
	Diagnostics         []Diagnostic `json:"diagnostics"`
	UnknownSymbols      []string     `json:"unknown_symbols,omitempty"`
	SuggestedNextAction string       `json:"suggested_next_action,omitempty"`
	Staleness           *Staleness   `json:"staleness,omitempty"`
}

// Scheduled describes an accepted change waiting for activation.
type Scheduled struct {
	ActivationID    string    `json:"activation_id"`
	ActivationAt    time.Time `json:"activation_at"`
	CycleDurationMs int64     `json:"cycle_duration_ms"`
}

// Status is the coarse state of an outcome.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRejected  Status = "rejected"
)

// Outcome is the closed result of an apply: exactly one of Scheduled or
// Rejected is set, matching Status.
type Outcome struct {
	Status    Status     `json:"status"`
	Scheduled *Scheduled `json:"scheduled,omitempty"`
	Rejected  *Rejection `json:"rejected,omitempty"`
}

// IsScheduled reports whether the change was accepted.
func (o Outcome) IsScheduled() bool {
	return o.Status == StatusScheduled && o.Scheduled != nil
}

// ErrorCode returns the rejection code, or "" when scheduled.
func (o Outcome) ErrorCode() ErrorCode {
	if o.Rejected == nil {
		return ""
	}
	return o.Rejected.ErrorCode
}

// Summary renders the outcome as one line for users and logs.
func (o Outcome) Summary() string {
	if o.IsScheduled() {
		return fmt.Sprintf("Change scheduled for %s.", o.Scheduled.ActivationAt.Format("15:04:05.000"))
	}
	if o.Rejected == nil {
		return "Apply outcome unknown."
	}
	msgs := make([]string, 0, len(o.Rejected.Diagnostics))
	for _, d := range o.Rejected.Diagnostics {
		msgs = append(msgs, d.Message)
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("Apply rejected: %s.", o.Rejected.ErrorCode)
	}
	return fmt.Sprintf("Apply rejected: %s.", strings.TrimSuffix(strings.Join(msgs, "; "), "."))
}

func rejected(phase Phase, code ErrorCode, diags ...Diagnostic) Outcome {
	return Outcome{
		Status: StatusRejected,
		Rejected: &Rejection{
			Phase:               phase,
			ErrorCode:           code,
			Diagnostics:         diags,
			SuggestedNextAction: SuggestedNextAction(code),
		},
	}
}

func diag(format string, args ...any) Diagnostic {
	return Diagnostic{Message: fmt.Sprintf(format, args...)}
}

// ValidationRejection builds a VALIDATION_ERROR outcome for requests that
// could not be decoded at all.
func ValidationRejection(msgs ...string) Outcome {
	diags := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		diags = append(diags, Diagnostic{Message: m})
	}
	return rejected(PhaseValidate, CodeValidation, diags...)
}

// StaleRejection builds the STALE_BASE_HASH outcome for a live snapshot.
func StaleRejection(expected, latestCode, latestHash string) Outcome {
	out := rejected(PhaseConcurrency, CodeStaleBaseHash,
		diag("expected base version %s but live code is at %s", expected, latestHash))
	out.Rejected.Staleness = &Staleness{
		LatestCode:   latestCode,
		LatestHash:   latestHash,
		ExpectedHash: expected,
	}
	return out
}
