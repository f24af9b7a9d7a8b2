// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
)

func testSettings(endpoint string) config.Settings {
	s := config.Default()
	s.Server.Endpoint = endpoint
	s.Server.APIKey = "test-key"
	s.Server.Model = "test-model"
	return *s
}

// streamHandler replies with a fixed sequence of content fragments followed
// by the [DONE] marker, capturing the request for later assertions.
func streamHandler(t *testing.T, fragments []string, capture *capturedRequest) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			capture.record(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		for _, f := range fragments {
			fmt.Fprint(w, deltaLine(t, f))
			fl.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n")
	}
}

type capturedRequest struct {
	mu     sync.Mutex
	method string
	path   string
	query  string
	auth   string
	body   []byte
}

func (c *capturedRequest) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = r.Method
	c.path = r.URL.Path
	c.query = r.URL.RawQuery
	c.auth = r.Header.Get("Authorization")
	c.body, _ = io.ReadAll(r.Body)
}

func (c *capturedRequest) rawBody() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.body)
}

func TestClient_ChatStream(t *testing.T) {
	capture := &capturedRequest{}
	srv := httptest.NewServer(streamHandler(t, []string{"Hello", ", ", "world"}, capture))
	defer srv.Close()

	c := NewClient()
	var events []DeltaEvent
	res, err := c.ChatStream(context.Background(), ChatParams{
		SessionID: "conv_123",
		History: []*model.Message{
			model.NewMessage(model.RoleUser, "hi"),
			model.NewMessage(model.RoleModel, "hey"),
		},
		UserText: "how are you?",
		Settings: testSettings(srv.URL),
	}, func(ev DeltaEvent) { events = append(events, ev) })

	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if res.Text != "Hello, world" {
		t.Errorf("text = %q, want %q", res.Text, "Hello, world")
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
	if len(events) > 0 && events[len(events)-1].Text != res.Text {
		t.Errorf("final event text %q != result text %q", events[len(events)-1].Text, res.Text)
	}
	if res.Stats.DeltaCount != 3 {
		t.Errorf("DeltaCount = %d, want 3", res.Stats.DeltaCount)
	}
	if res.Stats.TTFT <= 0 || res.Stats.TotalDuration < res.Stats.TTFT {
		t.Errorf("implausible stats: %+v", res.Stats)
	}

	if capture.method != http.MethodPost {
		t.Errorf("method = %q, want POST", capture.method)
	}
	if capture.path != "/v1/chat/completions" {
		t.Errorf("path = %q, want /v1/chat/completions", capture.path)
	}
	if capture.auth != "Bearer test-key" {
		t.Errorf("auth header = %q", capture.auth)
	}

	var req ChatRequest
	if err := json.Unmarshal(capture.body, &req); err != nil {
		t.Fatalf("decode captured body: %v", err)
	}
	if req.Model != "test-model" || !req.Stream {
		t.Errorf("model/stream = %q/%v", req.Model, req.Stream)
	}
	if req.SessionID != "conv_123" {
		t.Errorf("session_id = %q, want conv_123 (caching enabled by default)", req.SessionID)
	}
	wantRoles := []string{"user", "assistant", "user"}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(req.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if req.Messages[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, req.Messages[i].Role, role)
		}
	}
	if last := req.Messages[len(req.Messages)-1]; last.Content != "how are you?" {
		t.Errorf("last message content = %q", last.Content)
	}
}

func TestClient_ChatStream_RequestComposition(t *testing.T) {
	capture := &capturedRequest{}
	srv := httptest.NewServer(streamHandler(t, []string{"ok"}, capture))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.Chat.SystemPrompt = "be brief"

	historyUser := model.NewUserMessage("review this", []model.Attachment{
		model.NewTextAttachment("old.txt", "prior\n"),
	})

	c := NewClient()
	_, err := c.ChatStream(context.Background(), ChatParams{
		SessionID: "conv_1",
		History:   []*model.Message{historyUser},
		UserText:  "question",
		Attachments: []model.Attachment{
			model.NewTextAttachment("notes.txt", "alpha\n"),
		},
		Settings: s,
	}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var req ChatRequest
	if err := json.Unmarshal(capture.body, &req); err != nil {
		t.Fatalf("decode captured body: %v", err)
	}

	if req.Messages[0].Role != "system" || req.Messages[0].Content != "be brief" {
		t.Errorf("system message = %+v", req.Messages[0])
	}

	// Attachment text is re-injected through the fixed fencing convention on
	// every serialization, for history and for the new turn alike.
	wantHistory := "[file: old.txt]\n```\nprior\n```\n\nreview this"
	if req.Messages[1].Content != wantHistory {
		t.Errorf("history content = %q, want %q", req.Messages[1].Content, wantHistory)
	}
	wantNew := "[file: notes.txt]\n```\nalpha\n```\n\nquestion"
	if req.Messages[2].Content != wantNew {
		t.Errorf("new turn content = %q, want %q", req.Messages[2].Content, wantNew)
	}
}

func TestClient_ChatStream_SessionIDOnlyWithCaching(t *testing.T) {
	capture := &capturedRequest{}
	srv := httptest.NewServer(streamHandler(t, []string{"ok"}, capture))
	defer srv.Close()

	c := NewClient()

	s := testSettings(srv.URL)
	s.Chat.ContextCaching = false
	if _, err := c.ChatStream(context.Background(), ChatParams{
		SessionID: "conv_9",
		UserText:  "hi",
		Settings:  s,
	}, nil); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if strings.Contains(capture.rawBody(), "session_id") {
		t.Errorf("session_id sent with caching disabled: %s", capture.rawBody())
	}

	s.Chat.ContextCaching = true
	if _, err := c.ChatStream(context.Background(), ChatParams{
		SessionID: "conv_9",
		UserText:  "hi",
		Settings:  s,
	}, nil); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if !strings.Contains(capture.rawBody(), `"session_id":"conv_9"`) {
		t.Errorf("session_id missing with caching enabled: %s", capture.rawBody())
	}
}

func TestClient_ChatStream_TopKOmittedWhenZero(t *testing.T) {
	capture := &capturedRequest{}
	srv := httptest.NewServer(streamHandler(t, []string{"ok"}, capture))
	defer srv.Close()

	c := NewClient()

	s := testSettings(srv.URL)
	s.Sampling.TopK = 0
	if _, err := c.ChatStream(context.Background(), ChatParams{UserText: "hi", Settings: s}, nil); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if strings.Contains(capture.rawBody(), "top_k") {
		t.Errorf("top_k present at zero: %s", capture.rawBody())
	}

	s.Sampling.TopK = 40
	if _, err := c.ChatStream(context.Background(), ChatParams{UserText: "hi", Settings: s}, nil); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if !strings.Contains(capture.rawBody(), `"top_k":40`) {
		t.Errorf("top_k missing when set: %s", capture.rawBody())
	}
}

func TestClient_ChatStream_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"model exploded"}}`)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.ChatStream(context.Background(), ChatParams{UserText: "hi", Settings: testSettings(srv.URL)}, nil)

	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ClientError, got %T: %v", err, err)
	}
	if ce.Type != ErrTypeServer || ce.Status != http.StatusInternalServerError {
		t.Errorf("type/status = %v/%d", ce.Type, ce.Status)
	}
	if !strings.Contains(ce.Message, "model exploded") {
		t.Errorf("message %q does not carry server detail", ce.Message)
	}
}

func TestParseAPIError_ExtractionPriority(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested error message wins", `{"error":{"message":"nested"},"message":"top","detail":"d"}`, "nested"},
		{"top level message", `{"message":"top","detail":"d"}`, "top"},
		{"detail", `{"detail":"deep"}`, "deep"},
		{"raw body fallback", `plain text failure`, "plain text failure"},
		{"empty body falls back to status text", ``, http.StatusText(http.StatusBadGateway)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := parseAPIError(http.StatusBadGateway, []byte(tt.body))
			if ce.Status != http.StatusBadGateway {
				t.Errorf("status = %d", ce.Status)
			}
			if !strings.Contains(ce.Message, tt.want) {
				t.Errorf("message = %q, want it to contain %q", ce.Message, tt.want)
			}
		})
	}
}

func TestClient_ChatStream_Cancel(t *testing.T) {
	firstDelta := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		fmt.Fprint(w, deltaLine(t, "Hello"))
		fl.Flush()
		// Hold the stream open until the client disconnects.
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-firstDelta
		cancel()
	}()

	var once sync.Once
	c := NewClient()
	res, err := c.ChatStream(ctx, ChatParams{UserText: "hi", Settings: testSettings(srv.URL)}, func(ev DeltaEvent) {
		once.Do(func() { close(firstDelta) })
	})

	if !IsCanceled(err) {
		t.Fatalf("want canceled error, got %v", err)
	}
	if res == nil {
		t.Fatal("result should carry partial text on cancel")
	}
	if res.Text != "Hello" {
		t.Errorf("partial text = %q, want %q", res.Text, "Hello")
	}
}

func TestClient_ChatStream_NotConfigured(t *testing.T) {
	c := NewClient()
	_, err := c.ChatStream(context.Background(), ChatParams{UserText: "hi"}, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("want ErrNotConfigured, got %v", err)
	}
}

func TestClient_GenerateTitle_NeverSendsSessionID(t *testing.T) {
	capture := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture.record(r)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"\"Weather in Oslo\"\nextra"}}]}`)
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.Chat.ContextCaching = true

	c := NewClient()
	title, err := c.GenerateTitle(context.Background(), "what is the weather in Oslo today?", s)
	if err != nil {
		t.Fatalf("GenerateTitle: %v", err)
	}

	if title != "Weather in Oslo" {
		t.Errorf("title = %q, want %q", title, "Weather in Oslo")
	}
	body := capture.rawBody()
	if strings.Contains(body, "session_id") {
		t.Errorf("title request carries a session_id: %s", body)
	}
	if !strings.Contains(body, `"stream":false`) {
		t.Errorf("title request is not marked non-streaming: %s", body)
	}
}

func TestClient_ListModels(t *testing.T) {
	capture := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture.record(r)
		fmt.Fprint(w, `{"object":"list","data":[{"id":"m1"},{"id":"m2","owned_by":"org"}]}`)
	}))
	defer srv.Close()

	c := NewClient()
	models, err := c.ListModels(context.Background(), testSettings(srv.URL))
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	if capture.method != http.MethodGet || capture.path != "/v1/models" {
		t.Errorf("request = %s %s", capture.method, capture.path)
	}
	if len(models) != 2 || models[0].ID != "m1" || models[1].ID != "m2" {
		t.Errorf("models = %+v", models)
	}
}

func TestClient_FetchUsage(t *testing.T) {
	t.Run("full response", func(t *testing.T) {
		capture := &capturedRequest{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capture.record(r)
			fmt.Fprint(w, `{"tokens_used":900,"max_context_length":4096,"kv_cache_used":10,"kv_cache_total":100,"session_status":"running"}`)
		}))
		defer srv.Close()

		c := NewClient()
		snap, err := c.FetchUsage(context.Background(), "conv_7", testSettings(srv.URL))
		if err != nil {
			t.Fatalf("FetchUsage: %v", err)
		}

		if capture.path != "/v1/usage" || capture.query != "session_id=conv_7" {
			t.Errorf("request = %s?%s", capture.path, capture.query)
		}
		if snap.TokensUsed != 900 || snap.MaxContextLength != 4096 {
			t.Errorf("context accounting = %d/%d", snap.TokensUsed, snap.MaxContextLength)
		}
		if snap.Available() != 3196 {
			t.Errorf("Available() = %d, want 3196", snap.Available())
		}
		if !snap.HasKV() || snap.KVCacheUsed != 10 {
			t.Errorf("kv figures = %d/%d", snap.KVCacheUsed, snap.KVCacheTotal)
		}
		// Swap was absent from the response and must read as unknown, not zero.
		if snap.HasSwap() {
			t.Errorf("swap should be absent, got %d/%d", snap.SwapUsed, snap.SwapTotal)
		}
		if snap.Status != model.StatusRunning {
			t.Errorf("status = %q", snap.Status)
		}
	})

	t.Run("minimal response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		}))
		defer srv.Close()

		c := NewClient()
		snap, err := c.FetchUsage(context.Background(), "conv_7", testSettings(srv.URL))
		if err != nil {
			t.Fatalf("FetchUsage: %v", err)
		}
		if snap.HasContext() || snap.Available() != -1 {
			t.Errorf("empty accounting should read as unknown: %+v", snap)
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such session", http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient()
		_, err := c.FetchUsage(context.Background(), "conv_7", testSettings(srv.URL))
		if StatusOf(err) != http.StatusNotFound {
			t.Errorf("want 404 server error, got %v", err)
		}
	})
}
