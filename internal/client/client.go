// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CLIENT CONSTANTS
// =============================================================================

const (
	// maxResponseSize caps non-streaming response bodies (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorExcerpt bounds how much of a raw error body lands in messages.
	maxErrorExcerpt = 200

	// defaultRequestTimeout bounds non-streaming sibling requests. Streaming
	// requests carry no timeout; their lifetime is the request context.
	defaultRequestTimeout = 30 * time.Second

	userAgent = "rigchat/1.0"
)

// Title generation parameters. The input is clipped so a long first message
// cannot turn a throwaway request into an expensive one.
const (
	titleInputLimit  = 500
	titleMaxTokens   = 24
	titleTemperature = 0.3
)

// titlePrompt steers the model toward a bare short title.
const titlePrompt = "Suggest a short title for a conversation that starts with the " +
	"following message. Reply with only the title, at most six words, no quotes."

// =============================================================================
// SHARED HTTP CLIENTS
// =============================================================================

// sharedStreamingClient is used for all streaming requests. It deliberately
// has no Timeout: a generation may legitimately run for minutes, and
// cancellation is handled through the request context instead.
//
// SECURITY: TLS 1.2+ enforced for https endpoints.
// PERFORMANCE: connection pooling across turns against the same server.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues chat completion requests and their non-streaming siblings
// against an OpenAI-compatible server. Configuration arrives per call as an
// immutable settings snapshot, never mid-request, so the Client itself is
// stateless and safe for concurrent use.
type Client struct {
	streaming *http.Client
	standard  *http.Client
}

// NewClient creates a client with the shared pooled transport for streams
// and a bounded-timeout client for everything else.
func NewClient() *Client {
	return &Client{
		streaming: sharedStreamingClient,
		standard:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

// ChatParams describes one streaming turn. History holds the settled log;
// UserText and Attachments form the new user turn appended last.
type ChatParams struct {
	SessionID   string
	History     []*model.Message
	UserText    string
	Attachments []model.Attachment
	Settings    config.Settings
}

// =============================================================================
// CHAT STREAMING
// =============================================================================

// ChatStream issues a streaming completion request and invokes onDelta for
// every decoded event, in order, from this goroutine. The returned result
// carries the accumulated text and stats; on mid-stream failure it still
// holds the partial text received before the error.
//
// Cancelling ctx interrupts a blocked read promptly and surfaces as
// ErrTypeCanceled, never as a failure.
func (c *Client) ChatStream(ctx context.Context, p ChatParams, onDelta func(DeltaEvent)) (*StreamResult, error) {
	endpoint := NormalizeEndpoint(p.Settings.Server.Endpoint)
	if endpoint == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(buildChatRequest(p))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	setHeaders(req, p.Settings.Server.APIKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()

	resp, err := c.streaming.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceledError(ctx.Err())
		}
		return nil, connectError(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, readErr := readResponse(resp)
		if readErr != nil {
			return nil, parseAPIError(resp.StatusCode, nil)
		}
		return nil, parseAPIError(resp.StatusCode, raw)
	}

	return c.readStream(ctx, resp.Body, start, onDelta)
}

// readStream drives the decoder over the response body until the stream
// settles. EOF without a [DONE] marker counts as normal termination.
func (c *Client) readStream(ctx context.Context, body io.Reader, start time.Time, onDelta func(DeltaEvent)) (*StreamResult, error) {
	dec := NewStreamDecoder()
	stats := StreamStats{}
	var firstDelta time.Time

	deliver := func(events []DeltaEvent) {
		for _, ev := range events {
			if firstDelta.IsZero() {
				firstDelta = time.Now()
				stats.TTFT = firstDelta.Sub(start)
			}
			stats.DeltaCount++
			if onDelta != nil {
				onDelta(ev)
			}
		}
	}

	settle := func(err error) (*StreamResult, error) {
		deliver(dec.Finish())
		stats.TotalDuration = time.Since(start)
		text := dec.Text()
		if secs := stats.TotalDuration.Seconds(); secs > 0 {
			stats.CharsPerSec = float64(len(text)) / secs
		}
		return &StreamResult{Text: text, ToolCalls: dec.ToolCalls(), Stats: stats}, err
	}

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return settle(canceledError(ctx.Err()))
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			deliver(dec.Feed(buf[:n]))
		}
		if err == io.EOF {
			return settle(nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return settle(canceledError(ctx.Err()))
			}
			return settle(&ClientError{Type: ErrTypeConnection, Message: "connection lost mid-stream", Cause: err})
		}
		if dec.Done() {
			// Stop reading once the server signals completion instead of
			// waiting for it to close the connection.
			return settle(nil)
		}
	}
}

// =============================================================================
// REQUEST CONSTRUCTION
// =============================================================================

// buildChatRequest assembles the wire body for one turn: system instruction
// first when configured, then the settled history, then the new user turn.
// Attachment text is re-injected inline through the fixed fencing
// convention on every serialization.
func buildChatRequest(p ChatParams) ChatRequest {
	msgs := make([]ChatMessage, 0, len(p.History)+2)

	if sys := strings.TrimSpace(p.Settings.Chat.SystemPrompt); sys != "" {
		msgs = append(msgs, ChatMessage{Role: model.RoleSystem.String(), Content: sys})
	}
	for _, m := range p.History {
		msgs = append(msgs, ChatMessage{
			Role:    m.Role.String(),
			Content: wireContent(m.Text, m.Attachments),
		})
	}
	msgs = append(msgs, ChatMessage{
		Role:    model.RoleUser.String(),
		Content: wireContent(p.UserText, p.Attachments),
	})

	req := ChatRequest{
		Model:       p.Settings.Server.Model,
		Messages:    msgs,
		Stream:      true,
		Temperature: p.Settings.Sampling.Temperature,
		TopP:        p.Settings.Sampling.TopP,
		MaxTokens:   p.Settings.Sampling.MaxTokens,
		TopK:        p.Settings.Sampling.TopK,
	}

	// The session id doubles as the server-side cache key. It is only sent
	// when caching is on; without caching the server must treat every
	// request as stateless.
	if p.Settings.Chat.ContextCaching && p.SessionID != "" {
		req.SessionID = p.SessionID
	}
	return req
}

// wireContent renders a message body for the wire: fenced text attachments
// first, then the message text.
func wireContent(text string, atts []model.Attachment) string {
	if len(atts) == 0 {
		return text
	}
	var b strings.Builder
	for _, a := range atts {
		if a.IsText() {
			b.WriteString(a.Fence())
		}
	}
	b.WriteString(text)
	return b.String()
}

// =============================================================================
// TITLE GENERATION
// =============================================================================

// GenerateTitle asks the model for a short conversation title based on the
// opening user message.
//
// The request is stateless on purpose: it never carries a session_id, even
// when context caching is enabled, because the throwaway title prompt must
// not pollute the turn's server-side cache.
func (c *Client) GenerateTitle(ctx context.Context, userText string, s config.Settings) (string, error) {
	endpoint := NormalizeEndpoint(s.Server.Endpoint)
	if endpoint == "" {
		return "", ErrNotConfigured
	}

	reqBody := ChatRequest{
		Model: s.Server.Model,
		Messages: []ChatMessage{
			{Role: model.RoleSystem.String(), Content: titlePrompt},
			{Role: model.RoleUser.String(), Content: util.TruncateRunes(userText, titleInputLimit)},
		},
		Stream:      false,
		Temperature: titleTemperature,
		TopP:        s.Sampling.TopP,
		MaxTokens:   titleMaxTokens,
	}

	raw, err := c.postJSON(ctx, endpoint, s.Server.APIKey, reqBody)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode title response", Cause: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "title response had no choices"}
	}

	title := util.FirstLine(parsed.Choices[0].Message.Content)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "title response was empty"}
	}
	return title, nil
}

// =============================================================================
// MODEL LISTING
// =============================================================================

// ListModels fetches the models the server advertises.
func (c *Client) ListModels(ctx context.Context, s config.Settings) ([]ModelInfo, error) {
	target := ModelsURL(s.Server.Endpoint)
	if target == "" {
		return nil, ErrNotConfigured
	}

	raw, err := c.getJSON(ctx, target, s.Server.APIKey)
	if err != nil {
		return nil, err
	}

	var parsed modelsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode model list", Cause: err}
	}
	return parsed.Data, nil
}

// =============================================================================
// USAGE QUERY
// =============================================================================

// FetchUsage queries server-side context accounting for one session.
// Figures the server omits stay marked absent (-1) in the snapshot rather
// than reading as zero.
func (c *Client) FetchUsage(ctx context.Context, sessionID string, s config.Settings) (*model.UsageSnapshot, error) {
	base := UsageURL(s.Server.Endpoint)
	if base == "" {
		return nil, ErrNotConfigured
	}
	target := base + "?session_id=" + url.QueryEscape(sessionID)

	raw, err := c.getJSON(ctx, target, s.Server.APIKey)
	if err != nil {
		return nil, err
	}

	var parsed usageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode usage response", Cause: err}
	}

	snap := model.NewUsageSnapshot()
	snap.TokensUsed = parsed.TokensUsed
	snap.MaxContextLength = parsed.MaxContextLength
	if parsed.KVCacheUsed != nil {
		snap.KVCacheUsed = *parsed.KVCacheUsed
	}
	if parsed.KVCacheTotal != nil {
		snap.KVCacheTotal = *parsed.KVCacheTotal
	}
	if parsed.SwapUsed != nil {
		snap.SwapUsed = *parsed.SwapUsed
	}
	if parsed.SwapTotal != nil {
		snap.SwapTotal = *parsed.SwapTotal
	}
	snap.Status = model.ParseSessionStatus(parsed.SessionStatus)
	return snap, nil
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func (c *Client) postJSON(ctx context.Context, target, apiKey string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to encode request", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	setHeaders(req, apiKey)
	return c.do(req, target)
}

func (c *Client) getJSON(ctx context.Context, target, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	setHeaders(req, apiKey)
	return c.do(req, target)
}

// do executes a non-streaming request and returns the body on 200, or a
// classified error otherwise.
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.standard.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, canceledError(req.Context().Err())
		}
		return nil, connectError(endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, raw)
	}
	return raw, nil
}

// setHeaders applies the shared header convention for all requests.
// SECURITY: the bearer token is attached only when configured and never
// appears in logs or error messages.
func setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// readResponse reads a response body with a size cap.
// RELIABILITY: a misbehaving server cannot exhaust memory through an
// unbounded body.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, maxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to read response", Cause: err}
	}
	if len(data) > maxResponseSize {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: fmt.Sprintf("response exceeds %d bytes", maxResponseSize),
		}
	}
	return data, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// parseAPIError turns a non-2xx response into a ClientError. Message
// extraction walks the shapes compatible servers produce, in priority
// order: nested {"error":{"message"}}, then {"message"}, then {"detail"},
// then a truncated excerpt of the raw body.
func parseAPIError(status int, body []byte) *ClientError {
	msg := extractErrorMessage(body)
	if msg == "" {
		msg = util.TruncateRunes(strings.TrimSpace(string(body)), maxErrorExcerpt)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ClientError{
		Type:    ErrTypeServer,
		Status:  status,
		Message: fmt.Sprintf("server returned %d: %s", status, msg),
	}
}

func extractErrorMessage(body []byte) string {
	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	switch {
	case parsed.Error.Message != "":
		return parsed.Error.Message
	case parsed.Message != "":
		return parsed.Message
	case parsed.Detail != "":
		return parsed.Detail
	}
	return ""
}

func canceledError(cause error) *ClientError {
	return &ClientError{Type: ErrTypeCanceled, Message: "request canceled", Cause: cause}
}

func connectError(endpoint string, cause error) *ClientError {
	return &ClientError{
		Type:    ErrTypeConnection,
		Message: fmt.Sprintf("cannot reach %s (is the server running?)", endpoint),
		Cause:   cause,
	}
}
