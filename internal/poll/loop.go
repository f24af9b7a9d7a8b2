// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package poll runs the background usage polling loops that keep
// server-side context accounting fresh without blocking the chat engine.
package poll

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// POLL LOOP
// =============================================================================

// pollTimeout bounds a single poll attempt so one stuck request cannot
// freeze the loop or delay teardown.
const pollTimeout = 5 * time.Second

// Fn is one poll attempt. A non-nil error counts toward suppression.
type Fn func(ctx context.Context) error

// Loop runs a function at a fixed interval with consecutive-failure
// suppression: after the threshold is reached the loop keeps ticking but
// stops calling the function, so a server without the endpoint is not
// hammered forever. One success, or a Kick, resets the count.
//
// A Loop can be started and stopped repeatedly. Stop cancels any in-flight
// attempt and waits for it to return.
type Loop struct {
	id        string
	name      string
	interval  time.Duration
	threshold int
	fn        Fn

	mu         sync.Mutex
	running    bool
	failures   int
	suppressed bool
	cancel     context.CancelFunc

	kick chan struct{}
	wg   sync.WaitGroup
}

// NewLoop creates a stopped loop. The instance id ties log lines from one
// loop incarnation together.
func NewLoop(name string, interval time.Duration, threshold int, fn Fn) *Loop {
	return &Loop{
		id:        uuid.New().String()[:8],
		name:      name,
		interval:  interval,
		threshold: threshold,
		fn:        fn,
		kick:      make(chan struct{}, 1),
	}
}

// Start begins polling. The first attempt runs immediately, not one
// interval later. Starting a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.failures = 0
	l.suppressed = false

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(1)
	go l.run(ctx)
}

// Stop cancels any in-flight attempt and waits for the loop goroutine to
// exit. Stopping a stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	l.mu.Unlock()

	l.wg.Wait()
}

// Kick clears failure suppression and schedules an immediate attempt.
// Used when preconditions change: a new target session may well succeed
// where the old one kept failing.
func (l *Loop) Kick() {
	l.mu.Lock()
	l.failures = 0
	l.suppressed = false
	l.mu.Unlock()

	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Running reports whether the loop is currently started.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Suppressed reports whether failure suppression is active.
func (l *Loop) Suppressed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suppressed
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	// Drop any kick left over from a previous incarnation.
	select {
	case <-l.kick:
	default:
	}

	l.attempt(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.attempt(ctx)
		case <-l.kick:
			l.attempt(ctx)
		}
	}
}

func (l *Loop) attempt(ctx context.Context) {
	l.mu.Lock()
	skip := l.suppressed
	l.mu.Unlock()
	if skip {
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	err := l.fn(attemptCtx)
	cancel()

	// Teardown is not a poll failure.
	if ctx.Err() != nil {
		return
	}
	l.record(err)
}

func (l *Loop) record(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil {
		l.failures = 0
		return
	}
	l.failures++
	if l.failures >= l.threshold && !l.suppressed {
		l.suppressed = true
		log.Printf("POLL_SUPPRESS | loop=%s id=%s failures=%d err=%v", l.name, l.id, l.failures, err)
	}
}
