// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation checks user-provided identifiers before they are used
// as storage keys, log attributes or file names.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSessionID wraps every session ID rejection.
var ErrInvalidSessionID = errors.New("invalid session ID")

// sessionIDPattern matches session IDs: UUIDs and short slugs.
// Allows: letters, digits, dots, underscores, hyphens
// Max length: 64 characters
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateSessionID validates a session ID from a flag or argument.
//
// Valid IDs:
//   - 1-64 characters
//   - Letters, digits, dots, underscores and hyphens
//   - Starting with a letter or digit
//
// Example:
//
//	if err := validation.ValidateSessionID(id); err != nil {
//	    return err
//	}
//	// Safe to use as a store key
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (use 1-64 letters, digits, dots, underscores or hyphens)", ErrInvalidSessionID, id)
	}
	return nil
}

// SanitizeSessionID trims surrounding space and validates the result.
func SanitizeSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if err := ValidateSessionID(id); err != nil {
		return "", err
	}
	return id, nil
}
