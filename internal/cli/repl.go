// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Interactive chat REPL driving the engine.
//
// The REPL is the reference consumer of the engine callback API: flushed
// pending-text writes stream to stdout as they arrive, turn state
// transitions gate the prompt, and usage snapshots feed the /usage and
// per-turn statistics displays.
//
// Interactive commands:
//   /help, /h           Show available commands
//   /new                Start a new session
//   /sessions, /ls      List sessions
//   /switch N           Switch to session N (index or id prefix)
//   /delete N           Delete session N
//   /edit [#N] TEXT     Rewrite a user message and regenerate
//   /redo               Regenerate the last response
//   /models             List models the server offers
//   /usage              Show context usage for the active session
//   /export [FMT] [DIR] Write the session transcript to a file
//   /set [KEY [VALUE]]  Show or change settings
//   /key                Set the API key (input hidden)
//   /quit, /q           Exit
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit

// Package cli implements the interactive terminal front end for rigchat.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a REPL.
type Options struct {
	// Client serves the REPL-only endpoints (/models, on-demand /usage).
	// The engine drives the same client through its Backend interface.
	Client *client.Client

	// HistoryPath is the liner history file. Empty disables persistence.
	HistoryPath string

	// ConfigPath is the settings file /set and /key write back to.
	// Empty keeps changes runtime-only.
	ConfigPath string

	// Version is shown in the welcome banner.
	Version string

	// Quiet suppresses the banner and per-turn statistics.
	Quiet bool

	// Out and ErrOut default to os.Stdout and os.Stderr.
	Out    io.Writer
	ErrOut io.Writer
}

// =============================================================================
// REPL
// =============================================================================

// REPL reads lines, dispatches slash commands, and echoes streamed turns.
// Engine callbacks fire on engine goroutines; all mutable REPL state is
// guarded by mu.
type REPL struct {
	client      *client.Client
	historyPath string
	configPath  string
	version     string
	quiet       bool
	out         io.Writer
	errOut      io.Writer

	editor *LineEditor

	mu      sync.Mutex
	engine  *chat.Engine
	echoing bool
	printed int
	usage   map[string]*model.UsageSnapshot

	// turnDone carries the terminal state of the turn being echoed.
	// Buffered so a late settlement never blocks an engine goroutine.
	turnDone chan chat.TurnState
}

// New creates a REPL. Pass Callbacks() to the engine at construction, then
// call Run with the engine.
func New(opts Options) *REPL {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	errOut := opts.ErrOut
	if errOut == nil {
		errOut = os.Stderr
	}

	return &REPL{
		client:      opts.Client,
		historyPath: opts.HistoryPath,
		configPath:  opts.ConfigPath,
		version:     opts.Version,
		quiet:       opts.Quiet,
		out:         out,
		errOut:      errOut,
		usage:       make(map[string]*model.UsageSnapshot),
		turnDone:    make(chan chat.TurnState, 1),
	}
}

// Callbacks returns the engine callback set bound to this REPL. The engine
// may begin polling before Run is called; handlers tolerate that.
func (r *REPL) Callbacks() chat.Callbacks {
	return chat.Callbacks{
		OnUpdate:          r.onUpdate,
		OnTurnStateChange: r.onTurnState,
		OnUsage:           r.onUsage,
	}
}

// attach binds the engine the REPL drives.
func (r *REPL) attach(e *chat.Engine) {
	r.mu.Lock()
	r.engine = e
	r.mu.Unlock()
}

// boundEngine returns the attached engine, or nil before Run.
func (r *REPL) boundEngine() *chat.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

// =============================================================================
// MAIN LOOP
// =============================================================================

// Run drives the read-dispatch loop until /quit or EOF. It owns the
// terminal for the duration.
func (r *REPL) Run(e *chat.Engine) error {
	r.attach(e)

	r.editor = NewLineEditor(r.historyPath)
	defer r.editor.Close()

	if !r.quiet {
		r.printWelcome()
	}

	// During streaming the terminal is in cooked mode, so Ctrl+C raises
	// SIGINT here and cancels the turn. At the prompt liner owns the
	// terminal in raw mode and reports ErrPromptAborted instead.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)
	go func() {
		for range sigc {
			e.Cancel()
		}
	}()

	for {
		input, err := r.editor.ReadLine(promptStyle.Render("rigchat> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				// Ctrl+C with nothing streaming
				fmt.Fprintln(r.out, dimStyle.Render("(/quit or Ctrl+D to exit)"))
				continue
			}
			// EOF (Ctrl+D) or a closed terminal
			fmt.Fprintln(r.out)
			r.printGoodbye()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.dispatch(input)
			if err != nil {
				r.printCommandError(err)
			}
			if quit {
				r.printGoodbye()
				return nil
			}
			continue
		}

		// Bare exit/quit without the slash
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			r.printGoodbye()
			return nil
		}

		r.runSend(input)
	}
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// runSend starts a streaming turn for one user message and blocks until it
// settles. Echoing happens on engine callbacks while this goroutine waits.
func (r *REPL) runSend(text string) {
	r.beginEcho()
	if err := r.engine.Send(text, nil); err != nil {
		r.abortEcho()
		r.printCommandError(err)
		return
	}
	r.awaitTurn()
}

// awaitTurn blocks until the echoed turn reaches a terminal state, then
// closes out the response block.
func (r *REPL) awaitTurn() {
	<-r.turnDone
	fmt.Fprintln(r.out)
	if !r.quiet {
		r.printTurnResult()
	}
	fmt.Fprintln(r.out)
}

// beginEcho arms streaming echo for the next turn. Called before the
// engine call that starts the turn, because callbacks fire inside it.
func (r *REPL) beginEcho() {
	r.mu.Lock()
	r.printed = 0
	r.echoing = true
	r.mu.Unlock()

	// Drop any stale terminal state.
	select {
	case <-r.turnDone:
	default:
	}
}

// abortEcho disarms echo after a rejected turn start.
func (r *REPL) abortEcho() {
	r.mu.Lock()
	r.echoing = false
	r.mu.Unlock()
}

// echoTail prints the portion of text beyond what was already echoed.
// Accumulated text only ever grows within a turn, so the printed offset
// always lands on a boundary of a previously seen prefix.
func (r *REPL) echoTail(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.echoing || len(text) <= r.printed {
		return
	}
	if r.printed == 0 {
		// Open the response block on first output.
		fmt.Fprintln(r.out)
	}
	fmt.Fprint(r.out, text[r.printed:])
	r.printed = len(text)
}

// =============================================================================
// ENGINE CALLBACKS
// =============================================================================

// onUpdate echoes freshly flushed streaming text. Fires on the engine's
// flush goroutine.
func (r *REPL) onUpdate(sessionID string) {
	r.mu.Lock()
	e := r.engine
	echoing := r.echoing
	r.mu.Unlock()
	if e == nil || !echoing || sessionID != e.ActiveID() {
		return
	}

	text, ok := e.StreamingText()
	if !ok {
		return
	}
	r.echoTail(text)
}

// onTurnState completes the echo when a turn settles. Settlement may append
// past the last flush (stop marker, error annotation, authoritative final
// text), so the settled message is echoed through the same tail path.
func (r *REPL) onTurnState(sessionID string, state chat.TurnState) {
	if !state.Terminal() {
		return
	}

	r.mu.Lock()
	e := r.engine
	echoing := r.echoing
	r.mu.Unlock()
	if e == nil || !echoing {
		return
	}

	if sess := e.ActiveSession(); sess != nil && sess.ID == sessionID {
		if last := sess.LastMessage(); last != nil && last.Role == model.RoleModel {
			r.echoTail(last.Text)
		}
	}

	r.mu.Lock()
	r.echoing = false
	r.mu.Unlock()

	select {
	case r.turnDone <- state:
	default:
	}
}

// onUsage records the latest snapshot per session for the /usage and
// per-turn statistics displays.
func (r *REPL) onUsage(sessionID string, snap *model.UsageSnapshot) {
	r.mu.Lock()
	r.usage[sessionID] = snap
	r.mu.Unlock()
}

// latestUsage returns the last snapshot delivered for a session, or nil.
func (r *REPL) latestUsage(sessionID string) *model.UsageSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage[sessionID]
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// printCommandError formats engine and command errors. Budget denials get
// the reason the guard computed rather than a bare error chain.
func (r *REPL) printCommandError(err error) {
	var be *chat.BudgetError
	if errors.As(err, &be) {
		fmt.Fprintf(r.errOut, "%s %s\n",
			warnStyle.Render("[not sent]"),
			be.Decision.Reason)
		return
	}

	fmt.Fprintf(r.errOut, "%s %v\n", errorStyle.Render("[error]"), err)
}
