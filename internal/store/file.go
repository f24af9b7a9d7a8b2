// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// FILE SESSION STORE
// =============================================================================

// sessionFileVersion is bumped when the on-disk envelope changes shape.
const sessionFileVersion = 1

// sessionFile is the on-disk envelope. Pending turns and usage snapshots are
// excluded by the model's JSON tags; a restart starts every session settled.
type sessionFile struct {
	Version  int              `json:"version"`
	Sessions []*model.Session `json:"sessions"`
}

// FileSessionStore persists the session list as one JSON file.
//
// RELIABILITY: writes go through an atomic temp-file-and-rename, so a crash
// mid-save leaves the previous file intact. A file that fails to parse is
// moved aside rather than deleted, and the store starts empty.
type FileSessionStore struct {
	path string
	mu   sync.Mutex
}

// NewFileSessionStore creates a store backed by the given file path.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

// Load reads the session list. A missing file is an empty list, not an
// error. A corrupt file is preserved as a ".corrupt" sibling and the store
// recovers empty.
func (s *FileSessionStore) Load() ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*model.Session{}, nil
		}
		return nil, err
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		backup := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			log.Printf("STORE_RECOVER | corrupt session file could not be moved aside path=%s err=%v", s.path, renameErr)
		} else {
			log.Printf("STORE_RECOVER | corrupt session file moved to %s err=%v", backup, err)
		}
		return []*model.Session{}, nil
	}

	if file.Sessions == nil {
		return []*model.Session{}, nil
	}
	return file.Sessions, nil
}

// Save writes the complete session list atomically.
// SECURITY: chat logs are private; the file is created with 0600.
func (s *FileSessionStore) Save(sessions []*model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sessionFile{
		Version:  sessionFileVersion,
		Sessions: sessions,
	}, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(s.path, data, 0600)
}
