// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import "errors"

var (
	// ErrInvalidSession indicates a structurally broken session record.
	ErrInvalidSession = errors.New("invalid session")

	// ErrUnsupportedVersion indicates a session written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported session version")

	// ErrCircularReference indicates a branch whose ancestry loops.
	ErrCircularReference = errors.New("circular branch reference detected")

	// ErrSessionNotFound is returned by stores for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
)
