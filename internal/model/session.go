// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session holds one conversation thread. When context caching is enabled the
// ID doubles as the server-side KV-cache key, which is why editing or redoing
// a turn replaces the ID rather than reusing it (see BranchAt): the server
// must never resume a stale cache past the truncation point.
//
// Messages is an append-ordered log of settled messages; the only removal is
// TruncateFrom, which drops a contiguous suffix. Pending is the at-most-one
// live slot for the turn currently streaming.
type Session struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Settled messages, oldest first.
	Messages []*Message `json:"messages"`

	// Pending is the live model message during an in-flight turn.
	// Not persisted: a pending turn does not survive a restart.
	Pending *PendingMessage `json:"-"`

	// Usage is the latest server-reported snapshot for this session.
	// Ephemeral; replaced wholesale by the poller.
	Usage *UsageSnapshot `json:"-"`
}

// NewSession creates a new empty session with a generated ID.
func NewSession() *Session {
	return &Session{
		ID:        generateSessionID(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// BeginTurn appends the user message and installs the pending model message
// in one transition, so observers never see a user turn without its pending
// response. Returns the pending slot for the engine to reconcile into.
func (s *Session) BeginTurn(userText string, attachments []Attachment) (*Message, *PendingMessage) {
	user := NewUserMessage(userText, attachments)
	pending := NewPendingMessage()
	s.Messages = append(s.Messages, user)
	s.Pending = pending
	s.UpdatedAt = time.Now()
	return user, pending
}

// SettlePending promotes the pending message into the settled log and clears
// the slot. Returns the settled message, or nil if no turn was pending.
func (s *Session) SettlePending(stats *Statistics) *Message {
	if s.Pending == nil {
		return nil
	}
	msg := s.Pending.Promote(stats)
	s.Messages = append(s.Messages, msg)
	s.Pending = nil
	s.UpdatedAt = time.Now()
	return msg
}

// AppendMessage adds an already-settled message to the log.
func (s *Session) AppendMessage(msg *Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// LastMessage returns the most recent settled message, or nil if empty.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// MessageIndex returns the position of a message by ID, or -1.
func (s *Session) MessageIndex(id string) int {
	for i, msg := range s.Messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// MessageCount returns the number of settled messages.
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// IsEmpty returns true if there are no settled messages and no pending turn.
func (s *Session) IsEmpty() bool {
	return len(s.Messages) == 0 && s.Pending == nil
}

// IsStreaming returns true while a pending turn occupies the live slot.
func (s *Session) IsStreaming() bool {
	return s.Pending != nil
}

// TruncateFrom drops the suffix of the log starting at index k.
// Out-of-range indices are clamped; the prefix is never disturbed.
func (s *Session) TruncateFrom(k int) {
	if k < 0 {
		k = 0
	}
	if k >= len(s.Messages) {
		return
	}
	s.Messages = s.Messages[:k]
	s.UpdatedAt = time.Now()
}

// =============================================================================
// BRANCHING
// =============================================================================

// BranchAt allocates a new session carrying a deep copy of the first k
// messages. The receiver is left untouched: branching exists so that an
// edit or redo gets a fresh server-side cache key while the original session
// survives in the list until the user deletes it.
func (s *Session) BranchAt(k int) *Session {
	if k < 0 {
		k = 0
	}
	if k > len(s.Messages) {
		k = len(s.Messages)
	}

	branch := NewSession()
	branch.Title = s.Title
	branch.Messages = make([]*Message, 0, k)
	for _, msg := range s.Messages[:k] {
		branch.Messages = append(branch.Messages, msg.Clone())
	}
	return branch
}

// Clone creates a deep copy of the session's settled state.
// The pending slot and usage snapshot are intentionally not cloned: they
// belong to the live turn, which must never be aliased.
func (s *Session) Clone() *Session {
	clone := &Session{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Messages:  make([]*Message, len(s.Messages)),
	}
	for i, msg := range s.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return clone
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// SetTitle sets the session title.
func (s *Session) SetTitle(title string) {
	s.Title = title
	s.UpdatedAt = time.Now()
}

// EffectiveTitle returns the title or a default for untitled sessions.
func (s *Session) EffectiveTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return "New Chat"
}

// =============================================================================
// METADATA
// =============================================================================

// SessionMeta holds lightweight metadata for listing sessions.
type SessionMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// Meta returns metadata about the session.
func (s *Session) Meta() SessionMeta {
	preview := ""
	if last := s.LastMessage(); last != nil {
		preview = last.Preview(100)
	}
	return SessionMeta{
		ID:           s.ID,
		Title:        s.EffectiveTitle(),
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Preview:      preview,
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateSessionID creates a unique session ID. The prefix keeps session and
// message IDs distinguishable in logs and on the wire.
func generateSessionID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}
