// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokens provides cheap client-side token estimation.
//
// The estimates drive admission control before a request is sent; they are
// a character-ratio heuristic, not a tokenizer. Callers must treat them as
// approximate and never compare them against exact server-side counts.
package tokens

import "github.com/jeranaias/rigchat/internal/model"

// charsPerToken is the rough average for English-heavy chat text.
const charsPerToken = 4

// messageOverhead covers per-message role and framing cost.
const messageOverhead = 4

// EstimateText estimates the token count of raw text.
func EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// EstimateAttachment estimates the token cost of including an attachment.
// A precomputed count on the attachment wins; otherwise inline content is
// estimated like text. Blob-backed attachments without a precomputed count
// cost nothing here because their bytes never reach the wire.
func EstimateAttachment(att model.Attachment) int {
	if att.TokenCount > 0 {
		return att.TokenCount
	}
	return EstimateText(att.Content)
}

// EstimateMessage estimates one message: text, attachments, and framing.
func EstimateMessage(msg *model.Message) int {
	total := EstimateText(msg.Text) + messageOverhead
	for _, att := range msg.Attachments {
		total += EstimateAttachment(att)
	}
	return total
}

// EstimateHistory estimates an entire settled message log.
func EstimateHistory(messages []*model.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessage(msg)
	}
	return total
}

// EstimateTurn estimates a candidate turn before it becomes a message.
func EstimateTurn(text string, attachments []model.Attachment) int {
	total := EstimateText(text) + messageOverhead
	for _, att := range attachments {
		total += EstimateAttachment(att)
	}
	return total
}
