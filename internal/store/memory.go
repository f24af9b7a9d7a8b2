// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// MEMORY SESSION STORE
// =============================================================================

// MemorySessionStore keeps the session list in memory. Used by tests and by
// embedders that manage persistence themselves.
//
// Both Load and Save deep-copy, so callers and the store never alias the
// same message objects.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions []*model.Session
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

// Load returns a deep copy of the stored session list.
func (s *MemorySessionStore) Load() ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSessions(s.sessions), nil
}

// Save replaces the stored list with a deep copy of the given one.
func (s *MemorySessionStore) Save(sessions []*model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = cloneSessions(sessions)
	return nil
}

func cloneSessions(sessions []*model.Session) []*model.Session {
	out := make([]*model.Session, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.Clone()
	}
	return out
}

// =============================================================================
// MEMORY BLOB STORE
// =============================================================================

// MemoryBlobStore keeps blobs in a map. Payloads are copied on both Put and
// Get so callers cannot mutate stored data through a retained slice.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[BlobKey][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[BlobKey][]byte)}
}

// Get returns a copy of the payload for a key, or ErrBlobNotFound.
func (s *MemoryBlobStore) Get(key BlobKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put stores a copy of the payload under the key.
func (s *MemoryBlobStore) Put(key BlobKey, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[key] = stored
	return nil
}

// Delete removes a payload. Deleting an absent key is not an error.
func (s *MemoryBlobStore) Delete(key BlobKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}
