// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestNewSession_HasID(t *testing.T) {
	sess := NewSession()
	if !strings.HasPrefix(sess.ID, "conv_") {
		t.Errorf("Session ID should have conv_ prefix, got %q", sess.ID)
	}
	if len(sess.ID) != len("conv_")+16 {
		t.Errorf("Session ID should be conv_ plus 16 hex chars, got %q", sess.ID)
	}
	if !sess.IsEmpty() {
		t.Error("New session should be empty")
	}
}

func TestSession_IDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess := NewSession()
		if seen[sess.ID] {
			t.Fatalf("Duplicate session ID: %s", sess.ID)
		}
		seen[sess.ID] = true
	}
}

func TestSession_BeginTurn_Atomic(t *testing.T) {
	sess := NewSession()

	user, pending := sess.BeginTurn("hello", nil)

	// One transition: user settled, pending installed.
	if sess.MessageCount() != 1 {
		t.Fatalf("Expected 1 settled message, got %d", sess.MessageCount())
	}
	if sess.Messages[0] != user {
		t.Error("User message should be the settled entry")
	}
	if sess.Pending != pending {
		t.Error("Pending slot should hold the new placeholder")
	}
	if !sess.IsStreaming() {
		t.Error("Session should report streaming while pending exists")
	}
	if pending.Message.Role != RoleModel {
		t.Errorf("Pending message role = %q, want %q", pending.Message.Role, RoleModel)
	}
	if pending.Text() != "" {
		t.Errorf("Pending message should start empty, got %q", pending.Text())
	}
}

func TestSession_SettlePending(t *testing.T) {
	sess := NewSession()
	_, pending := sess.BeginTurn("question", nil)
	pending.SetText("answer")

	msg := sess.SettlePending(nil)

	if msg == nil {
		t.Fatal("SettlePending returned nil")
	}
	if msg.Text != "answer" {
		t.Errorf("Settled text = %q, want %q", msg.Text, "answer")
	}
	if sess.Pending != nil {
		t.Error("Pending slot should be cleared after settlement")
	}
	if sess.MessageCount() != 2 {
		t.Errorf("Expected 2 settled messages, got %d", sess.MessageCount())
	}
	if sess.IsStreaming() {
		t.Error("Session should not report streaming after settlement")
	}
}

func TestSession_SettlePending_NoTurn(t *testing.T) {
	sess := NewSession()
	if msg := sess.SettlePending(nil); msg != nil {
		t.Errorf("SettlePending without a turn should return nil, got %v", msg)
	}
}

func TestSession_SettlePending_WithStats(t *testing.T) {
	sess := NewSession()
	_, pending := sess.BeginTurn("q", nil)
	pending.SetText("a")

	stats := NewStatistics()
	stats.RecordFirstToken()
	stats.Finalize(42)

	msg := sess.SettlePending(stats)
	if msg.TokenCount != 42 {
		t.Errorf("TokenCount = %d, want 42", msg.TokenCount)
	}
	if msg.TTFT <= 0 {
		t.Error("TTFT should be recorded")
	}
}

func TestSession_TruncateFrom(t *testing.T) {
	sess := NewSession()
	for i := 0; i < 4; i++ {
		sess.AppendMessage(NewMessage(RoleUser, "m"))
	}

	sess.TruncateFrom(2)
	if sess.MessageCount() != 2 {
		t.Errorf("Expected 2 messages after truncate, got %d", sess.MessageCount())
	}

	// Out-of-range indices are clamped, not panics.
	sess.TruncateFrom(10)
	if sess.MessageCount() != 2 {
		t.Errorf("Truncate past end should be a no-op, got %d", sess.MessageCount())
	}
	sess.TruncateFrom(-1)
	if sess.MessageCount() != 0 {
		t.Errorf("Truncate at negative index should clear, got %d", sess.MessageCount())
	}
}

func TestSession_BranchAt(t *testing.T) {
	sess := NewSession()
	sess.SetTitle("original")
	u0 := NewMessage(RoleUser, "u0")
	m0 := NewMessage(RoleModel, "m0")
	u1 := NewMessage(RoleUser, "u1")
	m1 := NewMessage(RoleModel, "m1")
	for _, m := range []*Message{u0, m0, u1, m1} {
		sess.AppendMessage(m)
	}

	branch := sess.BranchAt(2)

	if branch.ID == sess.ID {
		t.Error("Branch must get a new session ID")
	}
	if branch.Title != "original" {
		t.Errorf("Branch title = %q, want %q", branch.Title, "original")
	}
	if branch.MessageCount() != 2 {
		t.Fatalf("Branch should carry 2 messages, got %d", branch.MessageCount())
	}
	if branch.Messages[0].Text != "u0" || branch.Messages[1].Text != "m0" {
		t.Error("Branch should carry the truncated prefix in order")
	}

	// Original untouched.
	if sess.MessageCount() != 4 {
		t.Errorf("Original session mutated: %d messages", sess.MessageCount())
	}

	// Deep copy: mutating the branch must not reach the original.
	branch.Messages[0].Text = "changed"
	if sess.Messages[0].Text != "u0" {
		t.Error("Branch messages alias the original log")
	}
}

func TestSession_BranchAt_Clamps(t *testing.T) {
	sess := NewSession()
	sess.AppendMessage(NewMessage(RoleUser, "only"))

	if got := sess.BranchAt(10).MessageCount(); got != 1 {
		t.Errorf("BranchAt past end should copy everything, got %d", got)
	}
	if got := sess.BranchAt(-2).MessageCount(); got != 0 {
		t.Errorf("BranchAt negative should copy nothing, got %d", got)
	}
}

func TestSession_EffectiveTitle(t *testing.T) {
	sess := NewSession()
	if sess.EffectiveTitle() != "New Chat" {
		t.Errorf("Untitled session should fall back, got %q", sess.EffectiveTitle())
	}
	sess.SetTitle("My Chat")
	if sess.EffectiveTitle() != "My Chat" {
		t.Errorf("EffectiveTitle = %q, want %q", sess.EffectiveTitle(), "My Chat")
	}
}

func TestSession_Meta(t *testing.T) {
	sess := NewSession()
	sess.AppendMessage(NewMessage(RoleUser, "hello world"))

	meta := sess.Meta()
	if meta.ID != sess.ID {
		t.Error("Meta ID mismatch")
	}
	if meta.MessageCount != 1 {
		t.Errorf("Meta count = %d, want 1", meta.MessageCount)
	}
	if meta.Preview != "hello world" {
		t.Errorf("Meta preview = %q", meta.Preview)
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage_HasID(t *testing.T) {
	msg := NewMessage(RoleUser, "hi")
	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("Message ID should have msg_ prefix, got %q", msg.ID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Message timestamp should be set")
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := NewMessage(RoleModel, "first line of the answer\nsecond line")
	got := msg.Preview(10)
	if got != "first l..." {
		t.Errorf("Preview = %q, want %q", got, "first l...")
	}
	if strings.Contains(got, "\n") {
		t.Error("Preview should be single-line")
	}
}

func TestMessage_Clone_Independence(t *testing.T) {
	msg := NewUserMessage("text", []Attachment{NewTextAttachment("a.txt", "data")})
	clone := msg.Clone()

	clone.Text = "other"
	clone.Attachments[0].Content = "mutated"

	if msg.Text != "text" {
		t.Error("Clone aliases Text")
	}
	if msg.Attachments[0].Content != "data" {
		t.Error("Clone aliases attachment slice")
	}
}

func TestPendingMessage_Promote(t *testing.T) {
	pending := NewPendingMessage()
	pending.SetText("partial")

	stats := NewStatistics()
	stats.Finalize(7)

	msg := pending.Promote(stats)
	if msg.Text != "partial" {
		t.Errorf("Promoted text = %q", msg.Text)
	}
	if msg.TokenCount != 7 {
		t.Errorf("Promoted TokenCount = %d, want 7", msg.TokenCount)
	}
}

func TestRole_DisplayName(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "You"},
		{RoleModel, "Model"},
		{RoleSystem, "System"},
		{Role("weird"), "weird"},
	}
	for _, tt := range tests {
		if got := tt.role.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestRole_WireValues(t *testing.T) {
	// The constants serialize directly onto the wire; these values are part
	// of the request format and must not drift.
	if RoleUser != "user" || RoleModel != "assistant" || RoleSystem != "system" {
		t.Error("Role wire values changed")
	}
}

// =============================================================================
// ATTACHMENT TESTS
// =============================================================================

func TestAttachment_Fence_Exact(t *testing.T) {
	a := NewTextAttachment("notes.txt", "line one\nline two")
	want := "[file: notes.txt]\n```\nline one\nline two\n```\n\n"
	if got := a.Fence(); got != want {
		t.Errorf("Fence() = %q, want %q", got, want)
	}
}

func TestAttachment_Fence_TrailingNewline(t *testing.T) {
	a := NewTextAttachment("a.txt", "content\n")
	want := "[file: a.txt]\n```\ncontent\n```\n\n"
	if got := a.Fence(); got != want {
		t.Errorf("Fence() = %q, want %q", got, want)
	}
}

func TestAttachment_IsText(t *testing.T) {
	tests := []struct {
		name string
		att  Attachment
		want bool
	}{
		{"plain text", NewTextAttachment("a.txt", "x"), true},
		{"json", Attachment{MimeType: "application/json", Content: "{}"}, true},
		{"png", Attachment{MimeType: "image/png", Content: "binary"}, false},
		{"externalized", Attachment{MimeType: "text/plain", BlobKey: "k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.att.IsText(); got != tt.want {
				t.Errorf("IsText() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// USAGE SNAPSHOT TESTS
// =============================================================================

func TestUsageSnapshot_Available(t *testing.T) {
	snap := NewUsageSnapshot()
	if snap.Available() != -1 {
		t.Errorf("Available without context = %d, want -1", snap.Available())
	}

	snap.MaxContextLength = 1000
	snap.TokensUsed = 300
	if snap.Available() != 700 {
		t.Errorf("Available = %d, want 700", snap.Available())
	}

	snap.TokensUsed = 1200
	if snap.Available() != 0 {
		t.Errorf("Overfull context should clamp to 0, got %d", snap.Available())
	}
}

func TestUsageSnapshot_MergeGlobal(t *testing.T) {
	prev := NewUsageSnapshot()
	prev.KVCacheUsed = 512
	prev.KVCacheTotal = 1024
	prev.SwapUsed = 10
	prev.SwapTotal = 100

	// Fresh poll without KV figures carries the global ones forward.
	next := NewUsageSnapshot()
	next.TokensUsed = 50
	next.MergeGlobal(prev)

	if next.KVCacheUsed != 512 || next.KVCacheTotal != 1024 {
		t.Error("KV figures should carry forward when absent")
	}
	if next.SwapUsed != 10 || next.SwapTotal != 100 {
		t.Error("Swap figures should carry forward when absent")
	}

	// A poll that reports its own figures wins.
	fresh := NewUsageSnapshot()
	fresh.KVCacheUsed = 32
	fresh.KVCacheTotal = 64
	fresh.MergeGlobal(prev)
	if fresh.KVCacheUsed != 32 || fresh.KVCacheTotal != 64 {
		t.Error("Present figures must not be overwritten by merge")
	}
}

func TestParseSessionStatus(t *testing.T) {
	tests := []struct {
		in   string
		want SessionStatus
	}{
		{"running", StatusRunning},
		{"cached", StatusCached},
		{"swapped", StatusSwapped},
		{"finished", StatusFinished},
		{"waiting", StatusWaiting},
		{"something-else", StatusUnknown},
		{"", StatusUnknown},
	}
	for _, tt := range tests {
		if got := ParseSessionStatus(tt.in); got != tt.want {
			t.Errorf("ParseSessionStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
