// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package poll

import (
	"context"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// USAGE POLLER
// =============================================================================

// UsageFetcher retrieves one usage snapshot for a session. It matches the
// signature of client.FetchUsage.
type UsageFetcher func(ctx context.Context, sessionID string, s config.Settings) (*model.UsageSnapshot, error)

// SnapshotFunc receives each fresh snapshot. Called from poller goroutines,
// so implementations must be safe for concurrent use.
type SnapshotFunc func(sessionID string, snap *model.UsageSnapshot)

// UsagePoller keeps usage snapshots fresh with two loops: a fast one for
// the active session and a slow one sweeping every other session that has
// messages. Both stand down entirely when no endpoint is configured,
// context caching is off, or there is nothing to poll.
//
// Snapshots carry forward global KV and swap figures from the previous
// snapshot of the same session, so a server that reports them only
// intermittently does not make the numbers flicker.
type UsagePoller struct {
	fetch      UsageFetcher
	onSnapshot SnapshotFunc

	// mu guards the polling targets and settings read by the loop bodies.
	mu       sync.Mutex
	settings config.Settings
	activeID string
	otherIDs []string
	prev     map[string]*model.UsageSnapshot

	// lifecycle serializes loop start/stop/rebuild. Held without mu so a
	// stopping loop whose body needs mu cannot deadlock against us.
	lifecycle sync.Mutex
	fast      *Loop
	slow      *Loop
}

// NewUsagePoller creates a stopped poller. Update starts the loops once
// there is something to poll.
func NewUsagePoller(fetch UsageFetcher, onSnapshot SnapshotFunc) *UsagePoller {
	return &UsagePoller{
		fetch:      fetch,
		onSnapshot: onSnapshot,
		prev:       make(map[string]*model.UsageSnapshot),
	}
}

// Update reconciles the loops against the current polling targets.
//
// activeID is the session the fast loop tracks, or "" when the active
// session has no messages yet. otherIDs are the remaining sessions worth
// sweeping. The caller filters out empty sessions; the server has no
// state for a conversation that never sent a message.
//
// Call it on session switch, settings change, and session list change.
// Changing targets kicks the affected loop so fresh numbers arrive
// immediately instead of one interval later.
func (p *UsagePoller) Update(activeID string, otherIDs []string, s config.Settings) {
	p.mu.Lock()
	activeChanged := activeID != p.activeID
	othersChanged := !sameIDs(otherIDs, p.otherIDs)
	cadenceChanged := s.Poll != p.settings.Poll
	p.settings = s
	p.activeID = activeID
	p.otherIDs = append([]string(nil), otherIDs...)
	p.mu.Unlock()

	enabled := s.Server.Endpoint != "" && s.Chat.ContextCaching

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if cadenceChanged {
		p.teardownLocked()
	}
	if p.fast == nil {
		p.fast = NewLoop("usage-fast", time.Duration(s.Poll.FastIntervalSecs)*time.Second, s.Poll.FailureThreshold, p.pollActive)
		p.slow = NewLoop("usage-slow", time.Duration(s.Poll.SlowIntervalSecs)*time.Second, s.Poll.FailureThreshold, p.pollOthers)
	}

	p.reconcileLocked(p.fast, enabled && activeID != "", activeChanged)
	p.reconcileLocked(p.slow, enabled && len(otherIDs) > 0, othersChanged)
}

// Refresh schedules an immediate poll of the active session. The engine
// calls it when a turn settles, since the server-side count just moved.
func (p *UsagePoller) Refresh() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.fast != nil && p.fast.Running() {
		p.fast.Kick()
	}
}

// Stop halts both loops and waits for in-flight fetches to return.
func (p *UsagePoller) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.teardownLocked()
}

func (p *UsagePoller) teardownLocked() {
	if p.fast != nil {
		p.fast.Stop()
		p.slow.Stop()
		p.fast = nil
		p.slow = nil
	}
}

func (p *UsagePoller) reconcileLocked(l *Loop, want bool, targetChanged bool) {
	switch {
	case want && !l.Running():
		l.Start()
	case want && targetChanged:
		l.Kick()
	case !want && l.Running():
		l.Stop()
	}
}

func (p *UsagePoller) pollActive(ctx context.Context) error {
	p.mu.Lock()
	id := p.activeID
	s := p.settings
	p.mu.Unlock()

	if id == "" {
		return nil
	}
	return p.pollOne(ctx, id, s)
}

func (p *UsagePoller) pollOthers(ctx context.Context) error {
	p.mu.Lock()
	ids := append([]string(nil), p.otherIDs...)
	s := p.settings
	p.mu.Unlock()

	// One unreachable session should not starve the rest of the sweep.
	var firstErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.pollOne(ctx, id, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *UsagePoller) pollOne(ctx context.Context, id string, s config.Settings) error {
	snap, err := p.fetch(ctx, id, s)
	if err != nil {
		return err
	}

	p.mu.Lock()
	snap.MergeGlobal(p.prev[id])
	p.prev[id] = snap
	p.mu.Unlock()

	if p.onSnapshot != nil {
		p.onSnapshot(id, snap)
	}
	return nil
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
