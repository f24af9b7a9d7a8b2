// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import "time"

// =============================================================================
// SESSION STATUS
// =============================================================================

// SessionStatus is the server-reported scheduling state of a cached session.
type SessionStatus string

const (
	StatusUnknown  SessionStatus = ""
	StatusRunning  SessionStatus = "running"
	StatusWaiting  SessionStatus = "waiting"
	StatusCached   SessionStatus = "cached"
	StatusSwapped  SessionStatus = "swapped"
	StatusFinished SessionStatus = "finished"
)

// ParseSessionStatus maps a server status string onto a known status.
// Unrecognized values collapse to StatusUnknown rather than erroring, since
// compatible servers report vendor-specific states.
func ParseSessionStatus(s string) SessionStatus {
	switch SessionStatus(s) {
	case StatusRunning, StatusWaiting, StatusCached, StatusSwapped, StatusFinished:
		return SessionStatus(s)
	default:
		return StatusUnknown
	}
}

// DisplayName returns a human-readable name for the status.
func (s SessionStatus) DisplayName() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusWaiting:
		return "Waiting"
	case StatusCached:
		return "Cached"
	case StatusSwapped:
		return "Swapped"
	case StatusFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// =============================================================================
// USAGE SNAPSHOT
// =============================================================================

// UsageSnapshot is one poll result of server-side context accounting for a
// session. Snapshots are replaced wholesale on every poll; only the global
// KV/swap figures carry forward when a poll omits them (MergeGlobal), since
// those are server-wide rather than session-scoped.
//
// KV and swap figures use -1 for "not reported" so a legitimate zero is
// distinguishable from absence.
type UsageSnapshot struct {
	TokensUsed       int `json:"tokens_used"`
	MaxContextLength int `json:"max_context_length"`

	KVCacheUsed  int64 `json:"kv_cache_used"`
	KVCacheTotal int64 `json:"kv_cache_total"`
	SwapUsed     int64 `json:"swap_used"`
	SwapTotal    int64 `json:"swap_total"`

	Status SessionStatus `json:"session_status"`

	// Polled records when this snapshot was taken.
	Polled time.Time `json:"-"`
}

// NewUsageSnapshot returns a snapshot with all optional figures marked absent.
func NewUsageSnapshot() *UsageSnapshot {
	return &UsageSnapshot{
		KVCacheUsed:  -1,
		KVCacheTotal: -1,
		SwapUsed:     -1,
		SwapTotal:    -1,
		Polled:       time.Now(),
	}
}

// HasContext reports whether the server provided context accounting.
func (u *UsageSnapshot) HasContext() bool {
	return u.MaxContextLength > 0
}

// HasKV reports whether global KV-cache figures are present.
func (u *UsageSnapshot) HasKV() bool {
	return u.KVCacheTotal >= 0
}

// HasSwap reports whether global swap figures are present.
func (u *UsageSnapshot) HasSwap() bool {
	return u.SwapTotal >= 0
}

// Available returns the remaining context room, or -1 when unknown.
func (u *UsageSnapshot) Available() int {
	if !u.HasContext() {
		return -1
	}
	avail := u.MaxContextLength - u.TokensUsed
	if avail < 0 {
		avail = 0
	}
	return avail
}

// MergeGlobal carries forward the previous snapshot's global KV/swap figures
// for any figure absent in the receiver. Session-scoped fields are never
// merged: a fresh poll replaces them entirely.
func (u *UsageSnapshot) MergeGlobal(prev *UsageSnapshot) {
	if prev == nil {
		return
	}
	if u.KVCacheTotal < 0 && prev.KVCacheTotal >= 0 {
		u.KVCacheUsed = prev.KVCacheUsed
		u.KVCacheTotal = prev.KVCacheTotal
	}
	if u.SwapTotal < 0 && prev.SwapTotal >= 0 {
		u.SwapUsed = prev.SwapUsed
		u.SwapTotal = prev.SwapTotal
	}
}
