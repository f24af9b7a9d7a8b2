// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// =============================================================================
// TURN STATE
// =============================================================================

// TurnState is the lifecycle phase of a streaming turn. A turn moves
// Idle -> AwaitingFirstToken -> Streaming and settles in exactly one of
// Completed, Cancelled or Failed.
type TurnState int

const (
	// TurnIdle means no turn is in flight.
	TurnIdle TurnState = iota

	// TurnAwaitingFirstToken covers the window between request dispatch and
	// the first delta, which is where slow prompt processing shows up.
	TurnAwaitingFirstToken

	// TurnStreaming means deltas are arriving.
	TurnStreaming

	// TurnCompleted is the success terminal state.
	TurnCompleted

	// TurnCancelled means the user interrupted the stream. Partial text is
	// kept.
	TurnCancelled

	// TurnFailed means the stream ended in an error. Partial text is kept
	// with an error annotation.
	TurnFailed
)

// String returns the state name for logs and status lines.
func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnAwaitingFirstToken:
		return "awaiting_first_token"
	case TurnStreaming:
		return "streaming"
	case TurnCompleted:
		return "completed"
	case TurnCancelled:
		return "cancelled"
	case TurnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is a settlement state.
func (s TurnState) Terminal() bool {
	return s == TurnCompleted || s == TurnCancelled || s == TurnFailed
}
