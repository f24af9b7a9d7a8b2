// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
//
// This package defines the core domain types used throughout rigchat for
// representing chat sessions, messages, attachments, and server-reported
// usage statistics.
//
// # Key Types
//
//   - Session: One conversation thread; its ID doubles as the server-side
//     KV-cache key when context caching is enabled
//   - Message: A settled log entry with role, text, and attachments
//   - PendingMessage: The single live message slot during a streaming turn
//   - Attachment: A file carried by a user message, inline or blob-backed
//   - UsageSnapshot: One poll of server-side context/KV/swap accounting
//
// # Usage
//
// Start a turn and settle it:
//
//	sess := model.NewSession()
//	_, pending := sess.BeginTurn("Hello!", nil)
//	pending.SetText("Hi there.")
//	sess.SettlePending(nil)
//
// Branch on edit (new cache key, original untouched):
//
//	fresh := sess.BranchAt(2)
package model
