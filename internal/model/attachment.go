// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import "strings"

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// Attachment is a file carried by a user message. Text attachments keep
// their content inline; large binary attachments are externalized to the
// blob store and keep only the lookup key here.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`

	// Content holds inline text, or a base64 payload for small binaries.
	// Empty when the payload lives in the blob store.
	Content string `json:"content,omitempty"`

	// BlobKey identifies externalized content in the blob store
	// ("sessionID/messageID/index"). Empty for inline attachments.
	BlobKey string `json:"blob_key,omitempty"`

	// TokenCount is the estimated token cost of including this attachment.
	TokenCount int `json:"token_count,omitempty"`
}

// NewTextAttachment creates an inline text attachment.
func NewTextAttachment(name, content string) Attachment {
	return Attachment{
		Name:     name,
		MimeType: "text/plain",
		Content:  content,
	}
}

// IsText reports whether the attachment content is inline text that can be
// fenced into a message body.
func (a Attachment) IsText() bool {
	if a.Content == "" {
		return false
	}
	if strings.HasPrefix(a.MimeType, "text/") {
		return true
	}
	switch a.MimeType {
	case "application/json", "application/xml", "application/x-yaml",
		"application/javascript", "application/x-sh":
		return true
	}
	return false
}

// Fence renders the attachment as the fixed inline block prepended to a
// message body on the wire. The exact shape is part of the request format
// and must stay stable:
//
//	[file: NAME]
//	```
//	CONTENT
//	```
//
// followed by a blank line.
func (a Attachment) Fence() string {
	var b strings.Builder
	b.WriteString("[file: ")
	b.WriteString(a.Name)
	b.WriteString("]\n```\n")
	b.WriteString(a.Content)
	if !strings.HasSuffix(a.Content, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("```\n\n")
	return b.String()
}
