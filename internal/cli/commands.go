// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Slash command dispatch and handlers for the REPL.
//
// Session management commands act through the engine; server commands
// (/models, /usage) go straight to the HTTP client with their own
// deadlines so a stalled server cannot wedge the prompt.

package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/export"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// SLASH COMMAND DISPATCH
// =============================================================================

const (
	// modelsTimeout bounds the /models listing request.
	modelsTimeout = 10 * time.Second

	// usageTimeout bounds the live /usage fetch. The background poller keeps
	// a fallback snapshot, so a short deadline is fine here.
	usageTimeout = 5 * time.Second
)

// dispatch routes one slash command line. The returned quit flag tells the
// REPL loop to exit.
func (r *REPL) dispatch(input string) (bool, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, nil
	}
	command := strings.ToLower(parts[0])

	// Commands that carry free-form text get the raw remainder so interior
	// whitespace survives. Everything else works from whitespace-split args.
	rest := strings.TrimSpace(input[len(parts[0]):])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		r.printHelp()
		return false, nil
	case "/new":
		return false, r.handleNew()
	case "/sessions", "/ls":
		r.printSessions()
		return false, nil
	case "/switch", "/sw":
		return false, r.handleSwitch(args)
	case "/delete", "/rm":
		return false, r.handleDelete(args)
	case "/edit", "/e":
		return false, r.handleEdit(rest)
	case "/redo", "/r":
		return false, r.handleRedo()
	case "/models":
		return false, r.handleModels()
	case "/usage", "/u":
		return false, r.handleUsage()
	case "/export":
		return false, r.handleExport(args)
	case "/set":
		return false, r.handleSet(rest)
	case "/key":
		return false, r.handleKey()
	case "/quit", "/q", "/exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func (r *REPL) handleNew() error {
	sess := r.engine.NewSession()
	fmt.Fprintf(r.out, "%s started session %s\n",
		okStyle.Render("[ok]"), valueStyle.Render(shortSessionID(sess.ID)))
	return nil
}

func (r *REPL) handleSwitch(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /switch <index|id-prefix>")
	}
	meta, err := r.resolveSession(args[0])
	if err != nil {
		return err
	}
	if err := r.engine.SetActive(meta.ID); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s switched to %s\n",
		okStyle.Render("[ok]"), valueStyle.Render(meta.Title))
	return nil
}

func (r *REPL) handleDelete(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /delete <index|id-prefix>")
	}
	meta, err := r.resolveSession(args[0])
	if err != nil {
		return err
	}
	prompt := fmt.Sprintf("Delete %q (%d messages)?", meta.Title, meta.MessageCount)
	if !r.confirm(prompt) {
		fmt.Fprintln(r.out, dimStyle.Render("(kept)"))
		return nil
	}
	if err := r.engine.DeleteSession(meta.ID); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s deleted %s\n", okStyle.Render("[ok]"), meta.Title)
	return nil
}

// resolveSession maps a command argument onto a session: either a 1-based
// index into the /sessions listing or a unique session id prefix.
func (r *REPL) resolveSession(arg string) (model.SessionMeta, error) {
	metas := r.engine.SessionMetas()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(metas) {
			return model.SessionMeta{}, fmt.Errorf("no session %d (have %d)", n, len(metas))
		}
		return metas[n-1], nil
	}
	var matches []model.SessionMeta
	for _, m := range metas {
		if strings.HasPrefix(m.ID, arg) || strings.HasPrefix(shortSessionID(m.ID), arg) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return model.SessionMeta{}, fmt.Errorf("no session matches %q (see /sessions)", arg)
	default:
		return model.SessionMeta{}, fmt.Errorf("%q matches %d sessions; use the index instead", arg, len(matches))
	}
}

// confirm asks a yes/no question through the line editor. Anything other
// than an explicit yes declines.
func (r *REPL) confirm(question string) bool {
	if r.editor == nil {
		return false
	}
	answer, err := r.editor.ReadLine(warnStyle.Render(question) + " [y/N] ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// shortSessionID abbreviates a session id for display and prefix matching.
func shortSessionID(id string) string {
	trimmed := strings.TrimPrefix(id, "conv_")
	if len(trimmed) > 8 {
		trimmed = trimmed[:8]
	}
	return trimmed
}

// =============================================================================
// REGENERATION COMMANDS
// =============================================================================

// handleEdit rewrites a user message and regenerates the reply from that
// point. A leading #N selects the Nth user message; without it the most
// recent one is edited. History ownership rules decide on the engine side
// whether the turn branches into a copy.
func (r *REPL) handleEdit(rest string) error {
	const usage = "usage: /edit [#N] <replacement text>"
	target := 0
	if strings.HasPrefix(rest, "#") {
		selector, remainder, _ := strings.Cut(rest, " ")
		n, err := strconv.Atoi(strings.TrimPrefix(selector, "#"))
		if err != nil || n < 1 {
			return fmt.Errorf("bad message selector %q (%s)", selector, usage)
		}
		target = n
		rest = strings.TrimSpace(remainder)
	}
	if rest == "" {
		return errors.New(usage)
	}

	sess := r.engine.ActiveSession()
	if sess == nil {
		return chat.ErrNoSession
	}
	messageID := ""
	seen := 0
	for _, msg := range sess.Messages {
		if msg.Role != model.RoleUser {
			continue
		}
		seen++
		if target == 0 || seen == target {
			messageID = msg.ID
		}
		if target > 0 && seen == target {
			break
		}
	}
	if messageID == "" {
		if target > 0 {
			return fmt.Errorf("no user message #%d (session has %d)", target, seen)
		}
		return errors.New("nothing to edit yet")
	}

	beforeID := sess.ID
	r.beginEcho()
	if err := r.engine.EditMessage(sess.ID, messageID, rest); err != nil {
		r.abortEcho()
		return err
	}
	r.awaitTurn()
	r.printBranchNote(beforeID)
	return nil
}

// handleRedo regenerates the last reply with the current settings.
func (r *REPL) handleRedo() error {
	beforeID := r.engine.ActiveID()
	r.beginEcho()
	if err := r.engine.Redo(beforeID); err != nil {
		r.abortEcho()
		return err
	}
	r.awaitTurn()
	r.printBranchNote(beforeID)
	return nil
}

// printBranchNote reports when a regeneration landed in a copied session
// because the original history was shared.
func (r *REPL) printBranchNote(beforeID string) {
	afterID := r.engine.ActiveID()
	if afterID == beforeID {
		return
	}
	note := "(branched into a new session; /sessions lists the original)"
	fmt.Fprintf(r.out, "%s\n\n", dimStyle.Render(note))
}

// =============================================================================
// SERVER COMMANDS
// =============================================================================

func (r *REPL) handleModels() error {
	if r.client == nil {
		return errors.New("model listing unavailable: no server client")
	}
	ctx, cancel := context.WithTimeout(context.Background(), modelsTimeout)
	defer cancel()
	infos, err := r.client.ListModels(ctx, r.engine.Settings())
	if err != nil {
		return fmt.Errorf("model listing failed: %w", err)
	}
	r.printModels(infos)
	return nil
}

// handleUsage fetches a fresh usage snapshot for the active session,
// falling back to the background poller's last reading when the live
// request fails.
func (r *REPL) handleUsage() error {
	sess := r.engine.ActiveSession()
	if sess == nil {
		return chat.ErrNoSession
	}

	var snap *model.UsageSnapshot
	var fetchErr error
	if r.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), usageTimeout)
		snap, fetchErr = r.client.FetchUsage(ctx, sess.ID, r.engine.Settings())
		cancel()
	}
	if snap == nil {
		cached := r.latestUsage(sess.ID)
		if cached == nil {
			if fetchErr != nil {
				return fmt.Errorf("usage unavailable: %w", fetchErr)
			}
			return errors.New("no usage reported yet; the server may not expose session accounting")
		}
		if fetchErr != nil {
			fmt.Fprintf(r.errOut, "%s live fetch failed (%v); showing the last poll\n",
				warnStyle.Render("[warn]"), fetchErr)
		}
		snap = cached
	}
	r.printUsage(snap)
	return nil
}

// =============================================================================
// EXPORT COMMAND
// =============================================================================

// handleExport writes the active session transcript to a file.
// Usage: /export [md|json] [DIR]
func (r *REPL) handleExport(args []string) error {
	sess := r.engine.ActiveSession()
	if sess == nil {
		return chat.ErrNoSession
	}
	if len(sess.Messages) == 0 {
		return errors.New("nothing to export yet")
	}

	format := ""
	if len(args) > 0 {
		format = args[0]
	}
	opts := export.DefaultOptions()
	if len(args) > 1 {
		opts.OutputDir = args[1]
	}
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return err
	}

	// Settled messages are immutable, but the auto-assigned title may still
	// be arriving on its own goroutine. Identity fields therefore come from
	// the meta snapshot, which the engine reads under its lock.
	snapshot := &model.Session{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		Messages:  sess.Messages,
	}
	for _, m := range r.engine.SessionMetas() {
		if m.ID == sess.ID {
			snapshot.Title = m.Title
			snapshot.UpdatedAt = m.UpdatedAt
			break
		}
	}

	path, err := export.ExportToFile(snapshot, exporter, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s wrote %s\n", okStyle.Render("[ok]"), valueStyle.Render(path))
	return nil
}

// =============================================================================
// SETTINGS COMMANDS
// =============================================================================

// handleSet reads or writes one settings key. With no arguments it lists
// every key. Writes are validated as a whole before they are applied, then
// persisted to the loaded config file when there is one.
func (r *REPL) handleSet(rest string) error {
	if rest == "" {
		r.printSettings()
		return nil
	}
	key := strings.ToLower(strings.Fields(rest)[0])
	value := strings.TrimSpace(rest[strings.Index(rest, key)+len(key):])

	settings := r.engine.Settings()
	if value == "" {
		current, err := settings.Get(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s = %s\n", labelStyle.Render(key), valueStyle.Render(fmt.Sprintf("%v", current)))
		return nil
	}

	// SECURITY: the /set line lands in the prompt history file, so the API
	// key must not travel through it. /key reads without echo instead.
	if key == "server.api_key" {
		return errors.New("use /key to change the API key; /set would record it in input history")
	}

	if err := settings.Set(key, value); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("rejected: %w", err)
	}
	r.engine.UpdateSettings(settings)

	applied, _ := settings.Get(key)
	note := dimStyle.Render("(runtime only)")
	if saved, err := r.persistSettings(settings); err != nil {
		fmt.Fprintf(r.errOut, "%s applied for this run, but saving failed: %v\n",
			warnStyle.Render("[warn]"), err)
	} else if saved {
		note = dimStyle.Render("(saved)")
	}
	fmt.Fprintf(r.out, "%s %s = %v %s\n",
		okStyle.Render("[ok]"), key, applied, note)
	return nil
}

// handleKey prompts for the API key without echoing it. An empty entry
// clears the stored key.
func (r *REPL) handleKey() error {
	secret, err := ReadSecret("API key (input hidden, empty clears): ")
	if err != nil {
		return err
	}
	settings := r.engine.Settings()
	settings.Server.APIKey = strings.TrimSpace(secret)
	r.engine.UpdateSettings(settings)

	action := "updated"
	if settings.Server.APIKey == "" {
		action = "cleared"
	}
	note := dimStyle.Render("(runtime only)")
	if saved, err := r.persistSettings(settings); err != nil {
		fmt.Fprintf(r.errOut, "%s applied for this run, but saving failed: %v\n",
			warnStyle.Render("[warn]"), err)
	} else if saved {
		note = dimStyle.Render("(saved)")
	}
	fmt.Fprintf(r.out, "%s API key %s %s\n", okStyle.Render("[ok]"), action, note)
	return nil
}

// persistSettings writes the settings back to the config file the REPL was
// started with. Returns false when the REPL runs without one.
func (r *REPL) persistSettings(s config.Settings) (bool, error) {
	if r.configPath == "" {
		return false, nil
	}
	var err error
	if strings.HasSuffix(strings.ToLower(r.configPath), ".json") {
		err = config.SaveJSON(&s, r.configPath)
	} else {
		err = config.SaveTOML(&s, r.configPath)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
