// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role identifies the sender of a message. The constant values are the wire
// role names expected by OpenAI-compatible servers, so they serialize without
// translation.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "assistant"
	RoleSystem Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleModel:
		return "Model"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single settled entry in a session's log. Settled messages are
// immutable by convention; the only mutated message in the system is the
// session's pending slot (see PendingMessage).
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content. Raw model output, may contain thinking-tag markup.
	Text string `json:"text"`

	// Attachments carried by user messages.
	Attachments []Attachment `json:"attachments,omitempty"`

	// IsError marks a model message that settled with a failure annotation.
	// Redoing an error message retries its user turn.
	IsError bool `json:"is_error,omitempty"`

	// Token statistics
	TokenCount int `json:"token_count,omitempty"`

	// Performance metrics (model messages)
	TTFT          time.Duration `json:"ttft_ns,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty"`
	TokensPerSec  float64       `json:"tokens_per_sec,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, text string) *Message {
	return &Message{
		ID:        generateMessageID(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message with optional attachments.
func NewUserMessage(text string, attachments []Attachment) *Message {
	msg := NewMessage(RoleUser, text)
	msg.Attachments = attachments
	return msg
}

// Preview returns a truncated one-line preview of the message text.
func (m *Message) Preview(maxRunes int) string {
	return util.TruncateRunes(util.FirstLine(m.Text), maxRunes)
}

// IsEmpty returns true if the message has no text and no attachments.
func (m *Message) IsEmpty() bool {
	return len(m.Text) == 0 && len(m.Attachments) == 0
}

// Clone returns a copy of the message, including its attachment slice.
func (m *Message) Clone() *Message {
	clone := *m
	if len(m.Attachments) > 0 {
		clone.Attachments = make([]Attachment, len(m.Attachments))
		copy(clone.Attachments, m.Attachments)
	}
	return &clone
}

// =============================================================================
// PENDING MESSAGE
// =============================================================================

// PendingMessage is the single live message slot during an in-flight turn.
// A session holds at most one; its text is written only by the engine's
// reconciliation step, which is the one permitted writer. Promote freezes it
// into an ordinary settled Message.
type PendingMessage struct {
	Message *Message
}

// NewPendingMessage creates the placeholder model message for a new turn.
func NewPendingMessage() *PendingMessage {
	return &PendingMessage{
		Message: &Message{
			ID:        generateMessageID(),
			Role:      RoleModel,
			Timestamp: time.Now(),
		},
	}
}

// SetText replaces the pending text with the latest accumulated value.
func (p *PendingMessage) SetText(text string) {
	p.Message.Text = text
}

// Text returns the current pending text.
func (p *PendingMessage) Text() string {
	return p.Message.Text
}

// Promote freezes the pending message and returns it as a settled Message.
func (p *PendingMessage) Promote(stats *Statistics) *Message {
	msg := p.Message
	if stats != nil {
		msg.TTFT = stats.TTFT
		msg.TotalDuration = stats.TotalDuration
		msg.TokenCount = stats.CompletionTokens
		msg.TokensPerSec = stats.TokensPerSecond
	}
	return msg
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing and token count information for one generation.
type Statistics struct {
	// Timestamps
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	// Token counts
	PromptTokens     int
	CompletionTokens int

	// Derived metrics (computed on Finalize)
	TTFT            time.Duration
	TotalDuration   time.Duration
	TokensPerSecond float64
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
	}
}

// RecordFirstToken records when the first token was received.
func (s *Statistics) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes the derived statistics.
func (s *Statistics) Finalize(tokenCount int) {
	s.EndTime = time.Now()
	s.CompletionTokens = tokenCount
	s.TotalDuration = s.EndTime.Sub(s.StartTime)

	if s.TotalDuration > 0 {
		s.TokensPerSecond = float64(tokenCount) / s.TotalDuration.Seconds()
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique message ID.
func generateMessageID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
