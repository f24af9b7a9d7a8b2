// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget decides whether a candidate message fits the context window
// before any network traffic happens.
//
// Two paths exist. When the server has reported usage statistics and context
// caching is enabled, the decision uses the server's own numbers: the server
// holds the conversation in its KV cache, so only the new message has to fit
// in the remaining window. Without server statistics the guard falls back to
// a local heuristic over the whole estimated history.
package budget

import (
	"fmt"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/tokens"
)

// fallbackContextMultiplier sizes the local ceiling as a multiple of the
// configured max output tokens. The constant is a heuristic carried for
// compatibility; it has no principled derivation beyond keeping local history
// growth in check when server stats are absent.
const fallbackContextMultiplier = 1.5

// =============================================================================
// DECISION
// =============================================================================

// Decision is the outcome of a budget check. Used and Available describe the
// token load the check weighed and the room it was weighed against, for
// status display.
type Decision struct {
	// Allowed reports whether the message may be sent.
	Allowed bool

	// Reason explains a denial in user-facing terms. Empty when allowed.
	Reason string

	// Used is the estimated token cost the check considered: the candidate
	// message alone on the server-stats path, history plus candidate on the
	// fallback path.
	Used int

	// Available is the room the cost was compared against.
	Available int
}

func allow(used, available int) Decision {
	return Decision{Allowed: true, Used: used, Available: available}
}

func deny(reason string, used, available int) Decision {
	return Decision{Allowed: false, Reason: reason, Used: used, Available: available}
}

// =============================================================================
// GUARD
// =============================================================================

// Guard performs pre-send context budget checks.
type Guard struct{}

// NewGuard creates a budget guard.
func NewGuard() *Guard {
	return &Guard{}
}

// CanSend decides whether the candidate message fits the context window.
// All estimates are approximate; the check exists to catch obvious overruns
// synchronously, not to replace server-side enforcement.
func (g *Guard) CanSend(text string, atts []model.Attachment, history []*model.Message, s config.Settings, snap *model.UsageSnapshot) Decision {
	cost := tokens.EstimateTurn(text, atts)

	// Server-stats path: the server caches the history, so only the new
	// message competes for the remaining window.
	if s.Chat.ContextCaching && snap != nil && snap.HasContext() {
		available := snap.Available()
		if cost > available {
			return deny(
				fmt.Sprintf("context window full: message needs ~%d tokens, %d available", cost, available),
				cost, available,
			)
		}
		return allow(cost, available)
	}

	// Fallback path: no server statistics. Weigh the whole estimated
	// conversation against a ceiling derived from the output budget.
	ceiling := int(fallbackContextMultiplier * float64(s.Sampling.MaxTokens))
	if ceiling <= 0 {
		// No output budget configured means no basis for a local denial
		return allow(cost, 0)
	}

	total := tokens.EstimateHistory(history) + cost
	if total > ceiling {
		return deny(
			fmt.Sprintf("conversation too large: ~%d tokens estimated, limit %d", total, ceiling),
			total, ceiling,
		)
	}
	return allow(total, ceiling)
}
