// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/thinking"
	"github.com/jeranaias/rigchat/internal/tokens"
	"github.com/jeranaias/rigchat/internal/util"
)

const (
	// flushRatePerSec bounds pending-text writes during streaming. Deltas
	// can arrive far faster than a view can usefully repaint; the buffer
	// absorbs the excess and each flush carries the latest accumulation.
	// PERFORMANCE: this is the reference cadence, a tuning knob.
	flushRatePerSec = 30

	// stopMarker is appended to partial text when the user cancels a turn,
	// unless the text ends inside an unclosed thinking block.
	stopMarker = "[stopped by user]"

	// titleWidth is the display-cell budget for fallback titles.
	titleWidth = 50

	// titleTimeout bounds the fire-and-forget title generation request.
	titleTimeout = 15 * time.Second
)

// =============================================================================
// TURN
// =============================================================================

// turn is the engine-internal state of one streaming exchange. The stream
// goroutine is the sole producer into buffer; the flush goroutine is the
// sole writer into the pending message. The two meet only under mu.
type turn struct {
	sessionID string
	userText  string
	pending   *model.PendingMessage
	ctx       context.Context
	cancel    context.CancelFunc
	stats     *model.Statistics

	// flushDone closes when the flush goroutine exits, which is the point
	// after which settlement may write the final text.
	flushDone chan struct{}

	mu       sync.Mutex
	buffer   string
	dirty    bool
	sawDelta bool
	state    TurnState
}

func (t *turn) currentState() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *turn) latestText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// runTurn drives one turn to settlement. It owns the turn's context: the
// stream ends (for any reason) exactly once, the flush loop drains, and
// the turn settles.
func (e *Engine) runTurn(t *turn, params client.ChatParams) {
	defer e.turnWG.Done()

	go e.flushLoop(t)

	res, err := e.backend.ChatStream(t.ctx, params, func(ev client.DeltaEvent) {
		e.acceptDelta(t, ev)
	})

	// Stop the flush loop before touching the pending message: the final
	// write must not race a flush in progress.
	t.cancel()
	<-t.flushDone

	e.settleTurn(t, res, err)
}

// acceptDelta records the latest accumulated text. Runs on the stream
// goroutine, in delta order.
func (e *Engine) acceptDelta(t *turn, ev client.DeltaEvent) {
	t.mu.Lock()
	first := !t.sawDelta
	t.sawDelta = true
	t.buffer = ev.Text
	t.dirty = true
	if first {
		t.state = TurnStreaming
	}
	t.mu.Unlock()

	if first {
		t.stats.RecordFirstToken()
		e.notifyTurnState(t.sessionID, TurnStreaming)
	}
}

// flushLoop copies the delta buffer into the pending message at a bounded
// rate, skipping writes when nothing changed. It exits when the turn's
// context ends; settlement then performs the one unconditional final write.
func (e *Engine) flushLoop(t *turn) {
	defer close(t.flushDone)

	limiter := rate.NewLimiter(rate.Limit(flushRatePerSec), 1)
	for {
		if err := limiter.Wait(t.ctx); err != nil {
			return
		}

		t.mu.Lock()
		if !t.dirty {
			t.mu.Unlock()
			continue
		}
		text := t.buffer
		t.dirty = false
		t.mu.Unlock()

		t.pending.SetText(text)
		e.notifyUpdate(t.sessionID)
	}
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// settleTurn writes the final text, promotes the pending message into the
// log, and fires the terminal callbacks. Exactly one settlement happens
// per turn.
func (e *Engine) settleTurn(t *turn, res *client.StreamResult, err error) {
	text := t.latestText()
	if res != nil {
		text = res.Text
	}

	var state TurnState
	switch {
	case err == nil:
		state = TurnCompleted
	case client.IsCanceled(err):
		state = TurnCancelled
		text = appendStopMarker(text)
	default:
		state = TurnFailed
		if text != "" {
			text += "\n\n"
		}
		text += fmt.Sprintf("[error: %v]", err)
	}

	e.mu.Lock()
	sess := e.sessionByIDLocked(t.sessionID)
	if sess == nil || sess.Pending != t.pending {
		// The session vanished mid-turn. Nothing to settle into.
		e.turn = nil
		e.mu.Unlock()
		return
	}

	t.pending.SetText(text)
	t.stats.Finalize(tokens.EstimateText(text))
	msg := sess.SettlePending(t.stats)
	msg.IsError = state == TurnFailed

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
	e.turn = nil

	wantTitle := state == TurnCompleted && sess.Title == ""
	s := e.settings
	e.persistLocked()
	e.mu.Unlock()

	e.notifyUpdate(t.sessionID)
	e.notifyTurnState(t.sessionID, state)

	if wantTitle {
		e.assignTitle(t.sessionID, t.userText, s)
	}
	e.syncPoller()
	e.poller.Refresh()
}

// appendStopMarker adds the cancellation marker unless the partial text
// ends inside an unclosed thinking block, where the marker would corrupt
// the paired-tag structure.
func appendStopMarker(text string) string {
	if thinking.OpenThought(text) {
		return text
	}
	if text != "" {
		text += "\n\n"
	}
	return text + stopMarker
}

// =============================================================================
// TITLE ASSIGNMENT
// =============================================================================

// assignTitle names a session after its first completed turn. With
// auto-title enabled the model suggests a name in a fire-and-forget
// request; any failure falls back to the deterministic truncation.
func (e *Engine) assignTitle(sessionID, userText string, s config.Settings) {
	if !s.Chat.AutoTitle {
		e.applyTitle(sessionID, fallbackTitle(userText))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		title, err := e.backend.GenerateTitle(ctx, userText, s)
		if err != nil || title == "" {
			title = fallbackTitle(userText)
		}
		e.applyTitle(sessionID, title)
	}()
}

// applyTitle sets a session's title if it is still unnamed. A title the
// user saw assigned is never replaced by a slow generation arriving late.
func (e *Engine) applyTitle(sessionID, title string) {
	if title == "" {
		return
	}

	e.mu.Lock()
	sess := e.sessionByIDLocked(sessionID)
	if sess == nil || sess.Title != "" {
		e.mu.Unlock()
		return
	}
	sess.SetTitle(title)
	e.persistLocked()
	e.mu.Unlock()

	e.notifySessionsChanged()
}

func fallbackTitle(userText string) string {
	return util.TruncateWidth(util.FirstLine(userText), titleWidth)
}
