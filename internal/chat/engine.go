// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the session state machine: the engine that owns
// the session list, runs streaming turns against a backend, reconciles
// deltas into the pending message at a bounded rate, and drives branching
// on edit and redo.
//
// The engine is headless. View layers consume it through the Callbacks
// they register at construction; callbacks fire from engine goroutines and
// consumers synchronize their own state.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/jeranaias/rigchat/internal/budget"
	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/poll"
	"github.com/jeranaias/rigchat/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTurnActive means a turn is already streaming. One turn in flight
	// globally; the rejected call leaves the log untouched.
	ErrTurnActive = errors.New("a turn is already streaming")

	// ErrNoSession means the session id resolved to nothing.
	ErrNoSession = errors.New("no such session")

	// ErrNoMessage means the message id resolved to nothing.
	ErrNoMessage = errors.New("no such message")

	// ErrNotUserMessage means an edit targeted a non-user message.
	ErrNotUserMessage = errors.New("only user messages can be edited")

	// ErrNothingToRedo means the session log does not end in a user turn
	// followed by a model response.
	ErrNothingToRedo = errors.New("no model response to redo")

	// ErrEmptyMessage means there was neither text nor attachments to send.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrClosed means the engine has been shut down.
	ErrClosed = errors.New("engine is closed")
)

// BudgetError reports a synchronous pre-send denial from the context budget
// guard. It never reaches the network.
type BudgetError struct {
	Decision budget.Decision
}

func (e *BudgetError) Error() string {
	return e.Decision.Reason
}

// =============================================================================
// BACKEND AND CALLBACKS
// =============================================================================

// Backend is the slice of the HTTP client the engine drives.
// *client.Client implements it.
type Backend interface {
	ChatStream(ctx context.Context, p client.ChatParams, onDelta func(client.DeltaEvent)) (*client.StreamResult, error)
	GenerateTitle(ctx context.Context, userText string, s config.Settings) (string, error)
	FetchUsage(ctx context.Context, sessionID string, s config.Settings) (*model.UsageSnapshot, error)
}

// Callbacks are the engine's outbound events. All fields are optional.
// Callbacks fire from engine goroutines; consumers synchronize.
type Callbacks struct {
	// OnUpdate fires when a session's visible log changed, including every
	// flushed pending-text write during streaming.
	OnUpdate func(sessionID string)

	// OnTurnStateChange fires on every turn state transition.
	OnTurnStateChange func(sessionID string, state TurnState)

	// OnUsage fires when a fresh usage snapshot arrives for a session.
	OnUsage func(sessionID string, snap *model.UsageSnapshot)

	// OnSessionsChanged fires when the session list or titles changed.
	OnSessionsChanged func()
}

// Options configures a new engine.
type Options struct {
	// Backend handles all server traffic. Required.
	Backend Backend

	// Store persists the session list. Nil disables persistence.
	Store store.SessionStore

	// Blobs holds externalized attachment payloads. Nil keeps payloads
	// inline.
	Blobs store.BlobStore

	// Settings is the initial configuration snapshot.
	Settings config.Settings

	// Callbacks receive engine events.
	Callbacks Callbacks
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns the session list and the single in-flight turn. All exported
// methods are safe for concurrent use.
//
// The session slice is copy-on-write: mutations build a new slice under mu,
// so a snapshot returned by Sessions stays stable. The one documented
// mutation-by-identity exception is the active turn's pending message,
// which has exactly one writer (the flush step).
type Engine struct {
	backend Backend
	guard   *budget.Guard
	store   store.SessionStore
	blobs   store.BlobStore
	poller  *poll.UsagePoller
	cb      Callbacks

	mu       sync.Mutex
	settings config.Settings
	sessions []*model.Session
	activeID string
	turn     *turn
	closed   bool

	turnWG sync.WaitGroup
}

// NewEngine creates an engine, loads persisted sessions, and starts usage
// polling when configuration allows it.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		backend:  opts.Backend,
		guard:    budget.NewGuard(),
		store:    opts.Store,
		blobs:    opts.Blobs,
		settings: opts.Settings,
		cb:       opts.Callbacks,
	}
	e.poller = poll.NewUsagePoller(e.backend.FetchUsage, e.applyUsage)
	e.loadSessions()
	e.syncPoller()
	return e
}

// Close cancels any in-flight turn, waits for it to settle, stops polling,
// and persists a final snapshot.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	t := e.turn
	e.mu.Unlock()

	if t != nil {
		t.cancel()
	}
	e.turnWG.Wait()
	e.poller.Stop()

	e.mu.Lock()
	e.persistLocked()
	e.mu.Unlock()
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

// Sessions returns a snapshot of the session list, oldest first. Sessions
// are read-only by convention; mutate only through engine methods.
func (e *Engine) Sessions() []*model.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*model.Session(nil), e.sessions...)
}

// SessionMetas returns listing metadata for every session, in list order.
// Metadata is built under the engine lock, so titles assigned by the async
// naming goroutine are always read consistently.
func (e *Engine) SessionMetas() []model.SessionMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	metas := make([]model.SessionMeta, len(e.sessions))
	for i, sess := range e.sessions {
		metas[i] = sess.Meta()
	}
	return metas
}

// ActiveID returns the active session's id.
func (e *Engine) ActiveID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID
}

// ActiveSession returns the active session, or nil when the list is empty.
func (e *Engine) ActiveSession() *model.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeSessionLocked()
}

// NewSession creates an empty session and makes it active.
func (e *Engine) NewSession() *model.Session {
	sess := model.NewSession()

	e.mu.Lock()
	e.sessions = appendSession(e.sessions, sess)
	e.activeID = sess.ID
	e.persistLocked()
	e.mu.Unlock()

	e.notifySessionsChanged()
	e.syncPoller()
	return sess
}

// SetActive switches the active session. A turn streaming on another
// session keeps streaming; it settles into its own session by id.
func (e *Engine) SetActive(id string) error {
	e.mu.Lock()
	if e.sessionByIDLocked(id) == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	e.activeID = id
	e.mu.Unlock()

	e.notifySessionsChanged()
	e.syncPoller()
	return nil
}

// DeleteSession removes a session. Deleting the session that is currently
// streaming is rejected. Confirmation for non-empty sessions is the
// caller's concern. Deleting the last session leaves a fresh empty one.
func (e *Engine) DeleteSession(id string) error {
	e.mu.Lock()
	if e.turn != nil && e.turn.sessionID == id {
		e.mu.Unlock()
		return ErrTurnActive
	}
	idx := -1
	for i, sess := range e.sessions {
		if sess.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return ErrNoSession
	}
	removed := e.sessions[idx]

	next := make([]*model.Session, 0, len(e.sessions)-1)
	next = append(next, e.sessions[:idx]...)
	next = append(next, e.sessions[idx+1:]...)
	e.sessions = next

	if e.activeID == id {
		e.activeID = ""
		if latest := latestSession(e.sessions); latest != nil {
			e.activeID = latest.ID
		}
	}
	if len(e.sessions) == 0 {
		fresh := model.NewSession()
		e.sessions = appendSession(e.sessions, fresh)
		e.activeID = fresh.ID
	}
	e.persistLocked()
	e.mu.Unlock()

	e.deleteBlobs(removed)
	e.notifySessionsChanged()
	e.syncPoller()
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings returns the current configuration snapshot.
func (e *Engine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// UpdateSettings replaces the configuration snapshot. A turn already in
// flight keeps the snapshot it started with.
func (e *Engine) UpdateSettings(s config.Settings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	e.syncPoller()
}

// =============================================================================
// TURN OPERATIONS
// =============================================================================

// IsStreaming reports whether a turn is in flight.
func (e *Engine) IsStreaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turn != nil
}

// State returns the in-flight turn's state, or TurnIdle.
func (e *Engine) State() TurnState {
	e.mu.Lock()
	t := e.turn
	e.mu.Unlock()
	if t == nil {
		return TurnIdle
	}
	return t.currentState()
}

// StreamingText returns the in-flight turn's accumulated text. Views that
// echo deltas incrementally read through here rather than reaching into
// the pending message, whose writes belong to the flush goroutine. The
// second return is false when no turn is streaming.
func (e *Engine) StreamingText() (string, bool) {
	e.mu.Lock()
	t := e.turn
	e.mu.Unlock()
	if t == nil {
		return "", false
	}
	return t.latestText(), true
}

// Send starts a streaming turn on the active session: the user message and
// the pending model message are installed in one transition, then the
// request runs in the background. Returns ErrTurnActive while another turn
// streams, or a *BudgetError when the message does not fit the context
// window. Both rejections leave the log untouched.
func (e *Engine) Send(text string, attachments []model.Attachment) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	atts := append([]model.Attachment(nil), attachments...)

	e.mu.Lock()
	if err := e.turnFreeLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	sess := e.activeSessionLocked()
	if sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	history := append([]*model.Message(nil), sess.Messages...)
	if err := e.checkBudgetLocked(text, atts, history, sess.Usage); err != nil {
		e.mu.Unlock()
		return err
	}

	t, params := e.installTurnLocked(sess, text, atts, history, true)
	e.persistLocked()
	e.mu.Unlock()

	e.notifyUpdate(t.sessionID)
	e.notifyTurnState(t.sessionID, TurnAwaitingFirstToken)
	e.turnWG.Add(1)
	go e.runTurn(t, params)
	return nil
}

// Cancel interrupts the in-flight turn. Returns false when nothing was
// streaming. The turn settles as Cancelled with its partial text kept.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	t := e.turn
	e.mu.Unlock()
	if t == nil {
		return false
	}
	t.cancel()
	return true
}

// EditMessage rewrites a user message and regenerates everything after it.
//
// With context caching enabled the truncated log branches into a NEW
// session: the session id doubles as the server-side cache key, and the
// server must never resume a stale cache past the edit point. The original
// session stays in the list untouched. With caching disabled the log is
// truncated in place under the same id.
func (e *Engine) EditMessage(sessionID, messageID, newText string) error {
	if strings.TrimSpace(newText) == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if err := e.turnFreeLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	sess := e.sessionByIDLocked(sessionID)
	if sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	idx := sess.MessageIndex(messageID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrNoMessage
	}
	edited := sess.Messages[idx]
	if edited.Role != model.RoleUser {
		e.mu.Unlock()
		return ErrNotUserMessage
	}
	atts := append([]model.Attachment(nil), edited.Attachments...)

	history := cloneMessages(sess.Messages[:idx])
	// The regenerated turn targets a fresh server-side cache (or a
	// truncated local log), so the guard weighs the truncated prefix
	// without server statistics.
	if err := e.checkBudgetLocked(newText, atts, history, nil); err != nil {
		e.mu.Unlock()
		return err
	}

	target, branched := e.branchOrTruncateLocked(sess, idx)
	t, params := e.installTurnLocked(target, newText, atts, history, true)
	e.persistLocked()
	e.mu.Unlock()

	if branched {
		e.notifySessionsChanged()
	}
	e.notifyUpdate(t.sessionID)
	e.notifyTurnState(t.sessionID, TurnAwaitingFirstToken)
	e.turnWG.Add(1)
	go e.runTurn(t, params)
	return nil
}

// Redo regenerates the session's last model response, reusing its user
// turn verbatim. Branching follows the same cache-key rule as EditMessage;
// the retained user turn keeps its identity in the branched log.
func (e *Engine) Redo(sessionID string) error {
	e.mu.Lock()
	if err := e.turnFreeLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	sess := e.sessionByIDLocked(sessionID)
	if sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	k := len(sess.Messages) - 1
	if k < 1 || sess.Messages[k].Role != model.RoleModel || sess.Messages[k-1].Role != model.RoleUser {
		e.mu.Unlock()
		return ErrNothingToRedo
	}
	user := sess.Messages[k-1]
	text := user.Text
	atts := append([]model.Attachment(nil), user.Attachments...)

	history := cloneMessages(sess.Messages[:k-1])
	if err := e.checkBudgetLocked(text, atts, history, nil); err != nil {
		e.mu.Unlock()
		return err
	}

	// Keep the user turn: BranchAt(k) copies it, TruncateFrom(k) stops
	// short of it. The new turn only installs the pending slot.
	target, branched := e.branchOrTruncateLocked(sess, k)
	t, params := e.installTurnLocked(target, text, atts, history, false)
	e.persistLocked()
	e.mu.Unlock()

	if branched {
		e.notifySessionsChanged()
	}
	e.notifyUpdate(t.sessionID)
	e.notifyTurnState(t.sessionID, TurnAwaitingFirstToken)
	e.turnWG.Add(1)
	go e.runTurn(t, params)
	return nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (e *Engine) loadSessions() {
	if e.store != nil {
		sessions, err := e.store.Load()
		if err != nil {
			log.Printf("STORE_LOAD | starting empty err=%v", err)
		} else {
			e.sessions = sessions
		}
	}
	if len(e.sessions) == 0 {
		e.sessions = appendSession(e.sessions, model.NewSession())
	}
	e.activeID = latestSession(e.sessions).ID
}

func (e *Engine) activeSessionLocked() *model.Session {
	return e.sessionByIDLocked(e.activeID)
}

func (e *Engine) sessionByIDLocked(id string) *model.Session {
	for _, sess := range e.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// turnFreeLocked rejects turn starts while another turn streams or after
// shutdown.
func (e *Engine) turnFreeLocked() error {
	if e.closed {
		return ErrClosed
	}
	if e.turn != nil {
		return ErrTurnActive
	}
	return nil
}

func (e *Engine) checkBudgetLocked(text string, atts []model.Attachment, history []*model.Message, snap *model.UsageSnapshot) error {
	if d := e.guard.CanSend(text, atts, history, e.settings, snap); !d.Allowed {
		return &BudgetError{Decision: d}
	}
	return nil
}

// installTurnLocked creates the turn and its pending slot. Preconditions
// (no active turn, budget) are the caller's responsibility. When appendUser
// is false the session's last user turn is being reused, so only the
// pending slot is installed.
func (e *Engine) installTurnLocked(sess *model.Session, text string, atts []model.Attachment, history []*model.Message, appendUser bool) (*turn, client.ChatParams) {
	var pending *model.PendingMessage
	if appendUser {
		var user *model.Message
		user, pending = sess.BeginTurn(text, atts)
		e.externalizeBlobs(sess.ID, user)
	} else {
		pending = model.NewPendingMessage()
		sess.Pending = pending
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &turn{
		sessionID: sess.ID,
		userText:  text,
		pending:   pending,
		ctx:       ctx,
		cancel:    cancel,
		stats:     model.NewStatistics(),
		state:     TurnAwaitingFirstToken,
		flushDone: make(chan struct{}),
	}
	e.turn = t

	params := client.ChatParams{
		SessionID:   sess.ID,
		History:     history,
		UserText:    text,
		Attachments: atts,
		Settings:    e.settings,
	}
	return t, params
}

// branchOrTruncateLocked keeps the first k messages: as a new session when
// context caching is on, in place otherwise. Returns the turn target.
func (e *Engine) branchOrTruncateLocked(sess *model.Session, k int) (*model.Session, bool) {
	if !e.settings.Chat.ContextCaching {
		sess.TruncateFrom(k)
		return sess, false
	}
	branch := sess.BranchAt(k)
	e.rebaseBlobs(branch)
	e.sessions = appendSession(e.sessions, branch)
	e.activeID = branch.ID
	return branch, true
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	if err := e.store.Save(e.sessions); err != nil {
		log.Printf("STORE_SAVE | sessions=%d err=%v", len(e.sessions), err)
	}
}

// syncPoller re-aims usage polling at the current targets. Callers must
// not hold mu: stopping a loop waits for its in-flight poll, and that poll
// may be blocked on mu delivering a snapshot.
func (e *Engine) syncPoller() {
	e.mu.Lock()
	s := e.settings
	activeID := ""
	if sess := e.activeSessionLocked(); sess != nil && len(sess.Messages) > 0 {
		activeID = sess.ID
	}
	var others []string
	for _, sess := range e.sessions {
		if sess.ID != e.activeID && len(sess.Messages) > 0 {
			others = append(others, sess.ID)
		}
	}
	e.mu.Unlock()

	e.poller.Update(activeID, others, s)
}

// applyUsage is the poller's delivery callback.
func (e *Engine) applyUsage(sessionID string, snap *model.UsageSnapshot) {
	e.mu.Lock()
	sess := e.sessionByIDLocked(sessionID)
	if sess != nil {
		sess.Usage = snap
	}
	e.mu.Unlock()

	if sess != nil {
		e.notifyUsage(sessionID, snap)
	}
}

// =============================================================================
// BLOB EXTERNALIZATION
// =============================================================================

// externalizeBlobs moves non-text attachment payloads into the blob store,
// leaving metadata and the lookup key on the message. Failures keep the
// payload inline.
func (e *Engine) externalizeBlobs(sessionID string, msg *model.Message) {
	if e.blobs == nil {
		return
	}
	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if att.IsText() || att.Content == "" || att.BlobKey != "" {
			continue
		}
		key := store.BlobKey{SessionID: sessionID, MessageID: msg.ID, Index: i}
		if err := e.blobs.Put(key, []byte(att.Content)); err != nil {
			log.Printf("BLOB_SAVE | key=%s err=%v", key.String(), err)
			continue
		}
		att.BlobKey = key.String()
		att.Content = ""
	}
}

// rebaseBlobs copies externalized payloads under the branched session's
// keys, so deleting the origin session later cannot orphan the branch.
// Failures keep the original key.
func (e *Engine) rebaseBlobs(branch *model.Session) {
	if e.blobs == nil {
		return
	}
	for _, msg := range branch.Messages {
		for i := range msg.Attachments {
			att := &msg.Attachments[i]
			if att.BlobKey == "" {
				continue
			}
			oldKey, err := store.ParseBlobKey(att.BlobKey)
			if err != nil {
				continue
			}
			data, err := e.blobs.Get(oldKey)
			if err != nil {
				log.Printf("BLOB_COPY | key=%s err=%v", att.BlobKey, err)
				continue
			}
			newKey := store.BlobKey{SessionID: branch.ID, MessageID: msg.ID, Index: i}
			if err := e.blobs.Put(newKey, data); err != nil {
				log.Printf("BLOB_COPY | key=%s err=%v", newKey.String(), err)
				continue
			}
			att.BlobKey = newKey.String()
		}
	}
}

// deleteBlobs removes a deleted session's own externalized payloads. Keys
// still pointing at another session (an unrebased branch source) are left
// alone.
func (e *Engine) deleteBlobs(sess *model.Session) {
	if e.blobs == nil {
		return
	}
	for _, msg := range sess.Messages {
		for _, att := range msg.Attachments {
			if att.BlobKey == "" {
				continue
			}
			key, err := store.ParseBlobKey(att.BlobKey)
			if err != nil || key.SessionID != sess.ID {
				continue
			}
			if err := e.blobs.Delete(key); err != nil {
				log.Printf("BLOB_DELETE | key=%s err=%v", att.BlobKey, err)
			}
		}
	}
}

// =============================================================================
// CALLBACK DISPATCH
// =============================================================================

func (e *Engine) notifyUpdate(sessionID string) {
	if e.cb.OnUpdate != nil {
		e.cb.OnUpdate(sessionID)
	}
}

func (e *Engine) notifyTurnState(sessionID string, state TurnState) {
	if e.cb.OnTurnStateChange != nil {
		e.cb.OnTurnStateChange(sessionID, state)
	}
}

func (e *Engine) notifyUsage(sessionID string, snap *model.UsageSnapshot) {
	if e.cb.OnUsage != nil {
		e.cb.OnUsage(sessionID, snap)
	}
}

func (e *Engine) notifySessionsChanged() {
	if e.cb.OnSessionsChanged != nil {
		e.cb.OnSessionsChanged()
	}
}

// =============================================================================
// SLICE HELPERS
// =============================================================================

// appendSession grows the list copy-on-write, keeping prior snapshots
// stable.
func appendSession(sessions []*model.Session, sess *model.Session) []*model.Session {
	next := make([]*model.Session, 0, len(sessions)+1)
	next = append(next, sessions...)
	return append(next, sess)
}

func cloneMessages(messages []*model.Message) []*model.Message {
	out := make([]*model.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.Clone())
	}
	return out
}

func latestSession(sessions []*model.Session) *model.Session {
	if len(sessions) == 0 {
		return nil
	}
	latest := sessions[0]
	for _, sess := range sessions[1:] {
		if sess.UpdatedAt.After(latest.UpdatedAt) {
			latest = sess
		}
	}
	return latest
}
