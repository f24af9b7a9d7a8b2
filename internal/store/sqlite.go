// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SQLITE BLOB STORE
// =============================================================================

// blobSchema holds one row per externalized attachment payload.
const blobSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	session_id TEXT    NOT NULL,
	message_id TEXT    NOT NULL,
	idx        INTEGER NOT NULL,
	data       BLOB    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, message_id, idx)
);
`

// SQLiteBlobStore keeps attachment payloads out of the session JSON so large
// files never bloat the session list load path.
type SQLiteBlobStore struct {
	db *sql.DB
}

// NewSQLiteBlobStore opens (creating if necessary) the blob database at the
// given path.
func NewSQLiteBlobStore(path string) (*SQLiteBlobStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY churn entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(blobSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize blob schema: %w", err)
	}

	return &SQLiteBlobStore{db: db}, nil
}

// Get returns the payload for a key, or ErrBlobNotFound.
func (s *SQLiteBlobStore) Get(key BlobKey) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM blobs WHERE session_id = ? AND message_id = ? AND idx = ?",
		key.SessionID, key.MessageID, key.Index,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put stores a payload, replacing any previous payload under the same key.
func (s *SQLiteBlobStore) Put(key BlobKey, data []byte) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO blobs (session_id, message_id, idx, data, created_at) VALUES (?, ?, ?, ?, ?)",
		key.SessionID, key.MessageID, key.Index, data, time.Now().Unix(),
	)
	return err
}

// Delete removes a payload. Deleting an absent key is not an error.
func (s *SQLiteBlobStore) Delete(key BlobKey) error {
	_, err := s.db.Exec(
		"DELETE FROM blobs WHERE session_id = ? AND message_id = ? AND idx = ?",
		key.SessionID, key.MessageID, key.Index,
	)
	return err
}

// Close releases the database handle.
func (s *SQLiteBlobStore) Close() error {
	return s.db.Close()
}
