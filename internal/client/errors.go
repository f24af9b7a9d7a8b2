// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client implements the HTTP client for OpenAI-compatible chat
// completion servers, including streaming delta decode, endpoint
// normalization, and the non-streaming sibling requests (title generation,
// model listing, usage queries).
package client

import (
	"context"
	"errors"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the chat completions client.
type ClientError struct {
	Type    ErrorType
	Message string

	// Status carries the HTTP status code for server errors, 0 otherwise.
	Status int

	Cause error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotConfigured
	ErrTypeConnection
	ErrTypeServer
	ErrTypeCanceled
	ErrTypeInvalidResponse
)

// String returns a short name for the error type, used in log lines.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeNotConfigured:
		return "not_configured"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeServer:
		return "server"
	case ErrTypeCanceled:
		return "canceled"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrNotConfigured = &ClientError{Type: ErrTypeNotConfigured, Message: "no server endpoint configured"}
	ErrCanceled      = &ClientError{Type: ErrTypeCanceled, Message: "request canceled"}
)

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsCanceled reports whether the error represents a deliberate cancellation
// rather than a failure. Cancellation settles a turn as Cancelled, never as
// Failed, so callers need this distinction before annotating errors.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type == ErrTypeCanceled
	}
	return false
}

// IsConnection reports whether the error is a transport-level failure, as
// opposed to a response the server actually produced.
func IsConnection(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type == ErrTypeConnection
	}
	return false
}

// StatusOf returns the HTTP status carried by a server error, or 0 when the
// error has no associated status.
func StatusOf(err error) int {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}
