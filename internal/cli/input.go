// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// input.go - Line editing and input history for the REPL.
//
// USABILITY: Supports arrow keys for history navigation and line editing.

package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// LineEditor wraps liner with persistent input history.
type LineEditor struct {
	line        *liner.State
	historyFile string
}

// NewLineEditor creates a line editor. historyFile may be empty, which
// disables history persistence but keeps in-session navigation.
func NewLineEditor(historyFile string) *LineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	ed := &LineEditor{
		line:        line,
		historyFile: historyFile,
	}
	ed.loadHistory()
	return ed
}

// loadHistory loads prior input history from file.
func (ed *LineEditor) loadHistory() {
	if ed.historyFile == "" {
		return
	}
	if f, err := os.Open(ed.historyFile); err == nil {
		ed.line.ReadHistory(f)
		f.Close()
	}
}

// ReadLine reads a line of input with the given prompt. Non-blank lines
// are appended to the in-memory history.
func (ed *LineEditor) ReadLine(prompt string) (string, error) {
	input, err := ed.line.Prompt(prompt)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(input) != "" {
		ed.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists input history.
// SECURITY: History can contain prompt text, so the file is written with
// owner-only permissions (0600).
func (ed *LineEditor) saveHistory() {
	if ed.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(ed.historyFile), 0755); err != nil {
		return
	}

	f, err := os.OpenFile(ed.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	ed.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (ed *LineEditor) Close() {
	ed.saveHistory()
	ed.line.Close()
}
