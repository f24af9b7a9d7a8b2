// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"net/url"
	"strings"
)

// =============================================================================
// ENDPOINT NORMALIZATION
// =============================================================================

// completionsPath is the chat completions suffix appended during
// normalization and stripped when deriving sibling URLs.
const completionsPath = "/chat/completions"

// NormalizeEndpoint turns whatever the user typed into a full chat
// completions URL. The function is idempotent, so stored values can be
// re-normalized on every load without drift.
//
// Rules, applied in order:
//
//   - surrounding whitespace is trimmed; empty input stays empty
//   - a missing scheme is inferred as http://
//   - the bind-only literals 0.0.0.0 and [::] are collapsed to 127.0.0.1,
//     since servers listen on them but clients cannot connect to them
//   - trailing slashes are stripped
//   - a path already ending in /chat/completions is left alone; a path
//     ending in a version segment (/v1) gets /chat/completions appended;
//     a bare host gets /v1/chat/completions appended
//
// Examples:
//
//	localhost:8000/v1              -> http://localhost:8000/v1/chat/completions
//	http://host/v1/chat/completions -> http://host/v1/chat/completions
//	192.168.1.5:8080               -> http://192.168.1.5:8080/v1/chat/completions
//	http://0.0.0.0:8080            -> http://127.0.0.1:8080/v1/chat/completions
func NormalizeEndpoint(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		// Unparseable input passes through trimmed. The request itself will
		// surface the real problem with a better message than we could
		// synthesize here.
		return s
	}

	// RELIABILITY: 0.0.0.0 and [::] are listen addresses, not connect
	// addresses. Users paste them straight from server startup logs.
	switch u.Hostname() {
	case "0.0.0.0", "::":
		host := "127.0.0.1"
		if port := u.Port(); port != "" {
			host += ":" + port
		}
		u.Host = host
	}

	path := strings.TrimRight(u.Path, "/")
	switch {
	case strings.HasSuffix(path, completionsPath):
		// Already a full completions URL.
	case isVersionSegment(lastSegment(path)):
		path += completionsPath
	default:
		path += "/v1" + completionsPath
	}
	u.Path = path

	return u.String()
}

// isVersionSegment reports whether a path segment looks like an API version
// prefix such as "v1".
func isVersionSegment(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, c := range seg[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// lastSegment returns the final path segment, or "" for an empty path.
func lastSegment(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// =============================================================================
// DERIVED SIBLING ENDPOINTS
// =============================================================================

// ModelsURL derives the model listing endpoint from a raw or normalized
// endpoint string.
func ModelsURL(endpoint string) string {
	return siblingURL(endpoint, "/models")
}

// UsageURL derives the usage query endpoint from a raw or normalized
// endpoint string.
func UsageURL(endpoint string) string {
	return siblingURL(endpoint, "/usage")
}

// siblingURL swaps the completions suffix of the normalized endpoint for a
// sibling path under the same API prefix.
func siblingURL(endpoint, suffix string) string {
	base := NormalizeEndpoint(endpoint)
	if base == "" {
		return ""
	}
	base = strings.TrimSuffix(base, completionsPath)
	return strings.TrimRight(base, "/") + suffix
}
