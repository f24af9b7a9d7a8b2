// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage is one {role, content} entry in the wire request body.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the JSON body of a chat completions request.
//
// TopK is omitted when zero because some backends reject an explicit
// top_k of 0. SessionID is the server-side cache key and is only set when
// context caching is enabled; title generation never sets it.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	TopK        int           `json:"top_k,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
}

// =============================================================================
// STREAMING WIRE TYPES
// =============================================================================

// streamChunk is one parsed "data:" payload from the SSE response.
type streamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamDelta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content"`
	ToolCalls []toolCallChunk `json:"tool_calls,omitempty"`
}

// toolCallChunk is one tool call fragment inside a delta. Servers emit the
// id and function name in the first fragment for an index and stream the
// arguments incrementally in later fragments.
type toolCallChunk struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// =============================================================================
// DECODED STREAM EVENTS
// =============================================================================

// ToolCallDelta is the accumulated state of one tool call, merged across
// fragments by index.
type ToolCallDelta struct {
	Index     int
	ID        string
	Type      string
	Name      string
	Arguments string
}

// DeltaEvent carries the full accumulated stream state at the moment a
// server event was decoded. Text is the complete text so far, not the raw
// fragment, so consumers can replace rather than append and a dropped
// event never loses content.
type DeltaEvent struct {
	Text      string
	ToolCalls []ToolCallDelta
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// StreamStats holds timing and throughput figures for one completed stream.
type StreamStats struct {
	// TTFT is the time from request start to the first decoded delta.
	TTFT time.Duration

	// TotalDuration covers request start to stream settlement.
	TotalDuration time.Duration

	// DeltaCount is the number of decoded events delivered to the caller.
	DeltaCount int

	// CharsPerSec is the text throughput over the whole stream.
	CharsPerSec float64
}

// StreamResult is the settled outcome of a streaming request. On mid-stream
// failure the result still carries the partial text received before the
// error, alongside the non-nil error.
type StreamResult struct {
	Text      string
	ToolCalls []ToolCallDelta
	Stats     StreamStats
}

// =============================================================================
// NON-STREAMING RESPONSE TYPES
// =============================================================================

// chatResponse is the non-streaming completion shape used by title
// generation.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ModelInfo describes one model from the listing endpoint.
type ModelInfo struct {
	ID      string `json:"id"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// usageResponse is the usage endpoint payload. The KV and swap figures use
// pointers so a reported zero is distinguishable from an absent field.
type usageResponse struct {
	TokensUsed       int    `json:"tokens_used"`
	MaxContextLength int    `json:"max_context_length"`
	KVCacheUsed      *int64 `json:"kv_cache_used"`
	KVCacheTotal     *int64 `json:"kv_cache_total"`
	SwapUsed         *int64 `json:"swap_used"`
	SwapTotal        *int64 `json:"swap_total"`
	SessionStatus    string `json:"session_status"`
}

// apiErrorResponse covers the error body shapes compatible servers produce.
// Extraction walks Error.Message, then Message, then Detail.
type apiErrorResponse struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}
