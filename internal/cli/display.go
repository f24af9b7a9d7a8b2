// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// display.go - Informational output for the REPL.
//
// Renders the welcome banner, help, session and model listings, usage
// reports, and per-turn statistics. Everything here writes through the
// REPL's configured writers so tests can capture output.

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// BANNER AND HELP
// =============================================================================

// printWelcome prints the startup banner with the server connection summary.
func (r *REPL) printWelcome() {
	settings := r.engine.Settings()

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, bannerStyle.Render("rigchat "+r.version))
	fmt.Fprintln(r.out, renderSeparator())

	endpoint := settings.Server.Endpoint
	if endpoint == "" {
		endpoint = "(not configured)"
	}
	fmt.Fprintf(r.out, "%s %s\n",
		labelStyle.Render("Endpoint:"), valueStyle.Render(endpoint))

	modelName := settings.Server.Model
	if modelName == "" {
		modelName = "(server default)"
	}
	fmt.Fprintf(r.out, "%s %s\n",
		labelStyle.Render("Model:   "), valueStyle.Render(modelName))

	if settings.Chat.ContextCaching {
		fmt.Fprintf(r.out, "%s %s\n",
			labelStyle.Render("Caching: "),
			valueStyle.Render(fmt.Sprintf("on (usage polled every %ds)", settings.Poll.FastIntervalSecs)))
	} else {
		fmt.Fprintf(r.out, "%s %s\n",
			labelStyle.Render("Caching: "), dimStyle.Render("off"))
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, dimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(r.out)
}

// printHelp prints the command reference.
func (r *REPL) printHelp() {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headerStyle.Render("Available Commands"))
	fmt.Fprintln(r.out, renderSeparator())
	fmt.Fprintln(r.out)

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/new", "Start a fresh session"},
		{"/sessions, /ls", "List sessions"},
		{"/switch N", "Switch to session N (index or id prefix)"},
		{"/delete N", "Delete session N"},
		{"/edit [#N] TEXT", "Rewrite a user message and regenerate"},
		{"/redo, /r", "Regenerate the last reply"},
		{"/models", "List models the server advertises"},
		{"/usage, /u", "Show server-side context accounting"},
		{"/export [md|json]", "Write the transcript to a file"},
		{"/set [KEY [VALUE]]", "Show or change a setting"},
		{"/key", "Set the API key (input hidden)"},
		{"/quit, /q", "Exit"},
	}
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %s  %s\n",
			promptStyle.Render(fmt.Sprintf("%-19s", c.cmd)),
			dimStyle.Render(c.desc))
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, dimStyle.Render("Tip: Ctrl+C cancels the current reply, Ctrl+D exits"))
	fmt.Fprintln(r.out)
}

// printGoodbye prints the exit line.
func (r *REPL) printGoodbye() {
	fmt.Fprintln(r.out, dimStyle.Render("Goodbye."))
}

// =============================================================================
// LISTINGS
// =============================================================================

// printSessions lists every session in creation order with the active one
// marked. The printed index is what /switch and /delete accept.
func (r *REPL) printSessions() {
	metas := r.engine.SessionMetas()
	activeID := r.engine.ActiveID()

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headerStyle.Render("Sessions"))
	fmt.Fprintln(r.out, renderSeparator())
	for i, m := range metas {
		marker := " "
		if m.ID == activeID {
			marker = okStyle.Render("*")
		}
		// The title column is padded before styling so escape codes do not
		// break the alignment.
		title := fmt.Sprintf("%-32s", util.TruncateWidth(m.Title, 32))
		fmt.Fprintf(r.out, "%s %2d  %s  %s  %s  %s\n",
			marker, i+1,
			dimStyle.Render(shortSessionID(m.ID)),
			title,
			labelStyle.Render(fmt.Sprintf("%3d msg", m.MessageCount)),
			dimStyle.Render(formatAge(time.Since(m.UpdatedAt))))
	}
	fmt.Fprintln(r.out)
}

// printModels lists server-advertised models, marking the configured one.
func (r *REPL) printModels(infos []client.ModelInfo) {
	configured := r.engine.Settings().Server.Model

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headerStyle.Render("Models"))
	fmt.Fprintln(r.out, renderSeparator())
	if len(infos) == 0 {
		fmt.Fprintln(r.out, dimStyle.Render("  (the server advertises no models)"))
	}
	for _, info := range infos {
		marker := " "
		if info.ID == configured {
			marker = okStyle.Render("*")
		}
		line := fmt.Sprintf("%s %s", marker, valueStyle.Render(info.ID))
		if info.OwnedBy != "" {
			line += "  " + dimStyle.Render(info.OwnedBy)
		}
		fmt.Fprintln(r.out, line)
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, dimStyle.Render("Switch with /set server.model <id>"))
	fmt.Fprintln(r.out)
}

// =============================================================================
// USAGE AND SETTINGS
// =============================================================================

// printUsage renders one usage snapshot. Figures the server never reported
// are omitted rather than shown as zero.
func (r *REPL) printUsage(snap *model.UsageSnapshot) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headerStyle.Render("Context Usage"))
	fmt.Fprintln(r.out, renderSeparator())

	if snap.HasContext() {
		pct := float64(snap.TokensUsed) / float64(snap.MaxContextLength) * 100
		usedStyle := valueStyle
		if pct >= 90 {
			usedStyle = errorStyle
		} else if pct >= 75 {
			usedStyle = warnStyle
		}
		fmt.Fprintf(r.out, "  %s %s / %s tokens (%.0f%%)\n",
			labelStyle.Render("Context:  "),
			usedStyle.Render(formatNumber(snap.TokensUsed)),
			formatNumber(snap.MaxContextLength), pct)
		fmt.Fprintf(r.out, "  %s %s tokens\n",
			labelStyle.Render("Available:"),
			valueStyle.Render(formatNumber(snap.Available())))
	} else {
		fmt.Fprintf(r.out, "  %s %s\n",
			labelStyle.Render("Context:  "), dimStyle.Render("not reported"))
	}

	if snap.HasKV() {
		fmt.Fprintf(r.out, "  %s %s / %s\n",
			labelStyle.Render("KV cache: "),
			formatBytes(snap.KVCacheUsed), formatBytes(snap.KVCacheTotal))
	}
	if snap.HasSwap() {
		fmt.Fprintf(r.out, "  %s %s / %s\n",
			labelStyle.Render("Swap:     "),
			formatBytes(snap.SwapUsed), formatBytes(snap.SwapTotal))
	}
	if snap.Status != model.StatusUnknown {
		fmt.Fprintf(r.out, "  %s %s\n",
			labelStyle.Render("Status:   "), valueStyle.Render(snap.Status.DisplayName()))
	}
	if !snap.Polled.IsZero() {
		fmt.Fprintf(r.out, "  %s %s\n",
			labelStyle.Render("Polled:   "), dimStyle.Render(formatAge(time.Since(snap.Polled))))
	}
	fmt.Fprintln(r.out)
}

// printSettings lists every settings key with its current value. The API
// key is shown redacted.
func (r *REPL) printSettings() {
	settings := r.engine.Settings()

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headerStyle.Render("Settings"))
	fmt.Fprintln(r.out, renderSeparator())
	for _, key := range config.AllKeys() {
		value, err := settings.Get(key)
		if err != nil {
			continue
		}
		display := fmt.Sprintf("%v", value)
		if key == "server.api_key" {
			if display == "" {
				display = "(unset)"
			} else {
				display = "(set, hidden)"
			}
		}
		if display == "" {
			display = `""`
		}
		fmt.Fprintf(r.out, "  %s = %s\n",
			labelStyle.Render(fmt.Sprintf("%-28s", key)), valueStyle.Render(display))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, dimStyle.Render("Change with /set KEY VALUE. The API key changes via /key."))
	fmt.Fprintln(r.out)
}

// =============================================================================
// TURN STATISTICS
// =============================================================================

// printTurnResult prints the reply statistics line after a settled turn.
// It goes to the error stream so piped transcript output stays clean.
func (r *REPL) printTurnResult() {
	sess := r.engine.ActiveSession()
	if sess == nil {
		return
	}
	last := sess.LastMessage()
	if last == nil || last.Role != model.RoleModel {
		return
	}

	parts := []string{}
	if last.TokenCount > 0 {
		parts = append(parts, fmt.Sprintf("%s tokens", formatNumber(last.TokenCount)))
	}
	if last.TTFT > 0 {
		parts = append(parts, fmt.Sprintf("first token %s", formatDurationShort(last.TTFT)))
	}
	if last.TotalDuration > 0 {
		parts = append(parts, formatDurationShort(last.TotalDuration))
	}
	if last.TokensPerSec > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", last.TokensPerSec))
	}
	if snap := r.latestUsage(sess.ID); snap != nil && snap.HasContext() {
		parts = append(parts, fmt.Sprintf("context %s/%s",
			formatNumber(snap.TokensUsed), formatNumber(snap.MaxContextLength)))
	}
	if len(parts) == 0 {
		return
	}
	fmt.Fprintln(r.errOut, dimStyle.Render("["+strings.Join(parts, ", ")+"]"))
}

// =============================================================================
// FORMAT HELPERS
// =============================================================================

// formatNumber formats an integer with commas for thousands.
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	s := fmt.Sprintf("%d", n)
	result := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

// formatBytes formats a byte count for display.
func formatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GiB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.2f MiB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.2f KiB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatDurationShort formats a duration at the precision that reads well
// for generation timings.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

// formatAge renders how long ago something happened.
func formatAge(d time.Duration) string {
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}
