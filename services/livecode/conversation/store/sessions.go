// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation"
)

const sessionPrefix = "session/"

// SessionStore loads and saves conversation sessions by ID.
//
// # Thread Safety
//
// SessionStore is safe for concurrent use; BadgerDB serializes conflicting
// transactions.
type SessionStore struct {
	db     *DB
	logger *slog.Logger
}

// NewSessionStore creates a store backed by db.
func NewSessionStore(db *DB, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{db: db, logger: logger}
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

// Save writes the session under id, replacing any previous record.
func (s *SessionStore) Save(ctx context.Context, id string, session *conversation.Session) error {
	if id == "" {
		return fmt.Errorf("%w: empty session id", conversation.ErrInvalidSession)
	}
	data, err := conversation.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(sessionKey(id), data)
	}); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

// Load reads the session stored under id.
//
// Description:
//
//	Decodes the record with conversation.Load. A migrated record is written
//	back in the current format so later loads skip the migration.
//
// Outputs:
//
//	*conversation.Session - The session.
//	error - conversation.ErrSessionNotFound if no record exists.
func (s *SessionStore) Load(ctx context.Context, id string) (*conversation.Session, error) {
	var data []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", conversation.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	session, migrated, err := conversation.Load(data)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if migrated {
		s.logger.Info("migrated legacy session record", slog.String("session_id", id))
		if err := s.Save(ctx, id, session); err != nil {
			s.logger.Warn("rewrite migrated session failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}
	return session, nil
}

// SaveRaw stores pre-encoded bytes under id. Used to import legacy exports.
func (s *SessionStore) SaveRaw(ctx context.Context, id string, data []byte) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(sessionKey(id), data)
	})
}

// List returns all stored session IDs in key order.
func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), sessionPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// Delete removes the session stored under id. Missing IDs are not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
}
