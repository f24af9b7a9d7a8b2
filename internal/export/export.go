// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes session transcripts to files. Two formats are
// supported: Markdown for reading and JSON for faithful re-import. The
// whole transcript is formatted in memory before the file is written, so
// a partially written file never appears on disk errors.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// EXPORTER INTERFACE
// =============================================================================

// Exporter renders one session into a target format.
type Exporter interface {
	// Export renders the session and returns the file content.
	Export(sess *model.Session) ([]byte, error)

	// FileExtension returns the extension for the format (".md", ".json").
	FileExtension() string
}

// ForFormat returns the exporter for a format name. Recognized names:
// "md", "markdown", "json".
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want md or json)", format)
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where files land. Default: current directory.
	OutputDir string

	// IncludeMetadata adds the session header (title, dates, counts).
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool

	// IncludeThinking keeps chain-of-thought blocks in the transcript.
	// Off by default; most transcripts want the visible reply only.
	IncludeThinking bool
}

// DefaultOptions returns the default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

// =============================================================================
// FILE EXPORT
// =============================================================================

// ExportToFile renders the session and writes it under the options'
// output directory. Returns the written path.
func ExportToFile(sess *model.Session, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(sess)
	if err != nil {
		return "", err
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, exportFilename(sess, exporter.FileExtension()))
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

// exportFilename builds "<slug>-<yyyymmdd-hhmmss><ext>" from the session
// title, so repeated exports of the same session never collide.
func exportFilename(sess *model.Session, ext string) string {
	slug := slugify(sess.EffectiveTitle())
	if slug == "" {
		slug = "session"
	}
	return fmt.Sprintf("%s-%s%s", slug, time.Now().Format("20060102-150405"), ext)
}

// slugify lowercases the title and collapses everything that is not a
// letter or digit into single hyphens, capped at 40 characters.
func slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
