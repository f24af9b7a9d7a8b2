// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists sessions and attachment blobs. The engine talks to
// the two interfaces here; the concrete implementations (JSON file, SQLite,
// in-memory) are interchangeable.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// INTERFACES
// =============================================================================

// SessionStore loads and saves the whole session list. Save always writes
// the complete list; the engine owns ordering and the store owns durability.
type SessionStore interface {
	Load() ([]*model.Session, error)
	Save(sessions []*model.Session) error
}

// BlobStore holds externalized attachment payloads keyed by owner.
type BlobStore interface {
	Get(key BlobKey) ([]byte, error)
	Put(key BlobKey, data []byte) error
	Delete(key BlobKey) error
}

// =============================================================================
// BLOB KEYS
// =============================================================================

// BlobKey identifies one attachment payload by its owning session, message,
// and position within the message's attachment list.
type BlobKey struct {
	SessionID string
	MessageID string
	Index     int
}

// String renders the key in the "sessionID/messageID/index" form stored on
// Attachment.BlobKey.
func (k BlobKey) String() string {
	return k.SessionID + "/" + k.MessageID + "/" + strconv.Itoa(k.Index)
}

// ParseBlobKey parses the "sessionID/messageID/index" form back into a key.
func ParseBlobKey(s string) (BlobKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return BlobKey{}, fmt.Errorf("malformed blob key %q", s)
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return BlobKey{}, fmt.Errorf("malformed blob key index in %q", s)
	}
	return BlobKey{SessionID: parts[0], MessageID: parts[1], Index: idx}, nil
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrBlobNotFound is returned when a blob key has no stored payload.
var ErrBlobNotFound = errors.New("blob not found")
