// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/thinking"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a session as a readable Markdown transcript.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export renders the session. Chain-of-thought blocks are stripped unless
// IncludeThinking is set, in which case they appear as quoted sections.
func (e *MarkdownExporter) Export(sess *model.Session) ([]byte, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is nil")
	}
	if len(sess.Messages) == 0 {
		return nil, fmt.Errorf("session has no messages")
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(sess.EffectiveTitle()))
		fmt.Fprintf(&sb, "session: %s\n", sess.ID)
		fmt.Fprintf(&sb, "created: %s\n", sess.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(sess.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", time.Now().Format(time.RFC3339))
		sb.WriteString("generator: rigchat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", sess.EffectiveTitle())

	for i, msg := range sess.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		e.writeMessage(&sb, msg)
	}

	return []byte(sb.String()), nil
}

func (e *MarkdownExporter) writeMessage(sb *strings.Builder, msg *model.Message) {
	label := roleLabel(msg.Role)
	if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
		fmt.Fprintf(sb, "## %s <sub>%s</sub>\n\n", label, msg.Timestamp.Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(sb, "## %s\n\n", label)
	}

	sb.WriteString(e.renderBody(msg.Text))
	sb.WriteString("\n")

	if msg.IsError {
		sb.WriteString("\n*(this reply ended with an error)*\n")
	}

	for _, att := range msg.Attachments {
		fmt.Fprintf(sb, "\n> attachment: %s (%s)\n", att.Name, att.MimeType)
	}
}

// renderBody splits the text into visible and thought segments. Thought
// bodies either disappear or become quote blocks; either way the tag
// markers themselves never reach the transcript.
func (e *MarkdownExporter) renderBody(text string) string {
	var sb strings.Builder
	for _, seg := range thinking.Lex(text) {
		switch seg.Kind {
		case thinking.KindThought:
			if !e.options.IncludeThinking {
				continue
			}
			body := strings.TrimSpace(seg.Body)
			if body == "" {
				continue
			}
			sb.WriteString("\n")
			for _, line := range strings.Split(body, "\n") {
				sb.WriteString("> ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		default:
			sb.WriteString(seg.Body)
		}
	}
	return strings.TrimSpace(sb.String())
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// HELPERS
// =============================================================================

func roleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "You"
	case model.RoleModel:
		return "Assistant"
	default:
		return string(role)
	}
}

// escapeYAML quotes a frontmatter value when it contains characters that
// would change the YAML parse.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#'\"\n{}[]") {
		return fmt.Sprintf("%q", strings.ReplaceAll(s, "\n", " "))
	}
	return s
}
