// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"encoding/json"
	"strings"
	"testing"
)

// deltaLine builds one SSE data line carrying a content fragment.
func deltaLine(t *testing.T, content string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id": "chunk",
		"choices": []map[string]any{
			{"delta": map[string]string{"content": content}},
		},
	})
	if err != nil {
		t.Fatalf("marshal delta: %v", err)
	}
	return "data: " + string(payload) + "\n"
}

// feedInChunks slices the transcript into fixed-size chunks, feeds them all,
// and finishes the decoder.
func feedInChunks(dec *StreamDecoder, data []byte, size int) []DeltaEvent {
	var events []DeltaEvent
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		events = append(events, dec.Feed(data[i:end])...)
	}
	return append(events, dec.Finish()...)
}

func TestStreamDecoder_ChunkBoundaryInvariance(t *testing.T) {
	fragments := []string{"Hel", "lo, ", "wörld", " 日本語", "!"}
	var transcript strings.Builder
	for _, f := range fragments {
		transcript.WriteString(deltaLine(t, f))
	}
	transcript.WriteString("data: [DONE]\n")
	data := []byte(transcript.String())

	const wantText = "Hello, wörld 日本語!"

	// Chunk size must not affect the decoded events. Size 1 forces every
	// line, JSON payload, and multi-byte sequence to split.
	for _, size := range []int{1, 2, 3, 5, 7, 64, len(data)} {
		dec := NewStreamDecoder()
		events := feedInChunks(dec, data, size)

		if len(events) != len(fragments) {
			t.Errorf("size %d: got %d events, want %d", size, len(events), len(fragments))
		}
		if got := dec.Text(); got != wantText {
			t.Errorf("size %d: text = %q, want %q", size, got, wantText)
		}
		if len(events) > 0 {
			if got := events[len(events)-1].Text; got != wantText {
				t.Errorf("size %d: final event text = %q, want %q", size, got, wantText)
			}
		}
		if !dec.Done() {
			t.Errorf("size %d: [DONE] marker not recognized", size)
		}
	}
}

func TestStreamDecoder_SplitMultiByteRune(t *testing.T) {
	data := []byte(deltaLine(t, "é日"))

	dec := NewStreamDecoder()
	feedInChunks(dec, data, 1)

	got := dec.Text()
	if got != "é日" {
		t.Errorf("text = %q, want %q", got, "é日")
	}
	if strings.ContainsRune(got, '�') {
		t.Errorf("replacement rune leaked into output: %q", got)
	}
}

func TestStreamDecoder_MalformedLinesSkipped(t *testing.T) {
	transcript := deltaLine(t, "one ") +
		"data: {broken json\n" +
		"noise without a field prefix\n" +
		": sse comment\n" +
		"event: ping\n" +
		"\n" +
		deltaLine(t, "two") +
		"data:\n" +
		"data: [DONE]\n"

	dec := NewStreamDecoder()
	events := append(dec.Feed([]byte(transcript)), dec.Finish()...)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Text != "one " {
		t.Errorf("first event text = %q, want %q", events[0].Text, "one ")
	}
	if events[1].Text != "one two" {
		t.Errorf("second event text = %q, want %q", events[1].Text, "one two")
	}
}

func TestStreamDecoder_FinishFlushesTrailingLine(t *testing.T) {
	// The final line has no terminator; the server died before sending it.
	data := strings.TrimSuffix(deltaLine(t, "partial"), "\n")

	dec := NewStreamDecoder()
	if events := dec.Feed([]byte(data)); len(events) != 0 {
		t.Fatalf("unterminated line settled early: %d events", len(events))
	}

	events := dec.Finish()
	if len(events) != 1 {
		t.Fatalf("got %d events from Finish, want 1", len(events))
	}
	if events[0].Text != "partial" {
		t.Errorf("text = %q, want %q", events[0].Text, "partial")
	}
}

func TestStreamDecoder_EOFWithoutDoneMarker(t *testing.T) {
	data := deltaLine(t, "a") + deltaLine(t, "b")

	dec := NewStreamDecoder()
	dec.Feed([]byte(data))
	dec.Finish()

	if got := dec.Text(); got != "ab" {
		t.Errorf("text = %q, want %q", got, "ab")
	}
	if dec.Done() {
		t.Error("Done() = true without a [DONE] marker")
	}
}

func TestStreamDecoder_LinesAfterDoneIgnored(t *testing.T) {
	data := deltaLine(t, "a") + "data: [DONE]\n" + deltaLine(t, "b")

	dec := NewStreamDecoder()
	dec.Feed([]byte(data))
	dec.Finish()

	if got := dec.Text(); got != "a" {
		t.Errorf("text = %q, want %q", got, "a")
	}
}

func TestStreamDecoder_CRLFLineEndings(t *testing.T) {
	data := strings.ReplaceAll(deltaLine(t, "x")+deltaLine(t, "y"), "\n", "\r\n")

	dec := NewStreamDecoder()
	dec.Feed([]byte(data))
	dec.Finish()

	if got := dec.Text(); got != "xy" {
		t.Errorf("text = %q, want %q", got, "xy")
	}
}

func TestStreamDecoder_EmptyChunks(t *testing.T) {
	dec := NewStreamDecoder()
	if events := dec.Feed(nil); events != nil {
		t.Errorf("Feed(nil) = %v, want nil", events)
	}
	if events := dec.Feed([]byte{}); events != nil {
		t.Errorf("Feed(empty) = %v, want nil", events)
	}

	dec.Feed([]byte(deltaLine(t, "ok")))
	if got := dec.Text(); got != "ok" {
		t.Errorf("text after empty chunks = %q, want %q", got, "ok")
	}
}

func TestStreamDecoder_OversizedLineDropped(t *testing.T) {
	dec := NewStreamDecoder()

	// A line that exceeds the carry buffer cap without ever terminating.
	dec.Feed([]byte("data: " + strings.Repeat("x", maxLineSize+100)))

	// The decoder resynchronizes at the next newline and keeps decoding.
	events := dec.Feed([]byte("\n" + deltaLine(t, "recovered")))
	dec.Finish()

	if got := dec.Text(); got != "recovered" {
		t.Errorf("text = %q, want %q", got, "recovered")
	}
	if len(events) != 1 {
		t.Errorf("got %d events after resync, want 1", len(events))
	}
}

func TestStreamDecoder_ToolCallMerge(t *testing.T) {
	// Tool call fragments are correlated only by their index field, and
	// indexes are assumed stable and in-order within one stream. That is
	// how every compatible server behaves; a server violating it would
	// interleave arguments across calls.
	lines := []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"get_time","arguments":"{}"}},{"index":0,"function":{"arguments":"\"Oslo\"}"}}]}}]}`,
		`data: [DONE]`,
	}
	data := []byte(strings.Join(lines, "\n") + "\n")

	verify := func(t *testing.T, calls []ToolCallDelta) {
		t.Helper()
		if len(calls) != 2 {
			t.Fatalf("got %d tool calls, want 2", len(calls))
		}
		first := calls[0]
		if first.ID != "call_1" || first.Name != "get_weather" {
			t.Errorf("first call identity = %q/%q, want call_1/get_weather", first.ID, first.Name)
		}
		if first.Arguments != `{"city":"Oslo"}` {
			t.Errorf("first call arguments = %q, want %q", first.Arguments, `{"city":"Oslo"}`)
		}
		second := calls[1]
		if second.ID != "call_2" || second.Name != "get_time" || second.Arguments != "{}" {
			t.Errorf("second call = %+v", second)
		}
	}

	t.Run("whole transcript", func(t *testing.T) {
		dec := NewStreamDecoder()
		dec.Feed(data)
		dec.Finish()
		verify(t, dec.ToolCalls())
	})

	t.Run("three byte chunks", func(t *testing.T) {
		dec := NewStreamDecoder()
		feedInChunks(dec, data, 3)
		verify(t, dec.ToolCalls())
	})
}

func TestStreamDecoder_RoleOnlyDeltaEmitsNothing(t *testing.T) {
	data := `data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n" + deltaLine(t, "hi")

	dec := NewStreamDecoder()
	events := dec.Feed([]byte(data))
	dec.Finish()

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (role announcement is not a visible change)", len(events))
	}
	if events[0].Text != "hi" {
		t.Errorf("text = %q, want %q", events[0].Text, "hi")
	}
}
