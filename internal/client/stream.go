// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// STREAMING: Incremental SSE decode that is safe against arbitrary network
// framing. Chunks may split lines, JSON payloads, or individual UTF-8
// sequences at any byte; the decoder produces the same events regardless.

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// maxLineSize caps the carry buffer for a single unterminated line (1MB).
// Delta payloads are tiny; a line this large means broken framing.
const maxLineSize = 1 << 20

// dataPrefix marks SSE payload lines. Everything else (comments, event and
// id fields, blank keep-alives) is ignored.
const dataPrefix = "data:"

// doneMarker terminates a well-formed stream. EOF without it is tolerated.
const doneMarker = "[DONE]"

// =============================================================================
// STREAM DECODER
// =============================================================================

// StreamDecoder turns raw response bytes into accumulated DeltaEvents. One
// decoder serves exactly one request; create a fresh one per call.
//
// Feed accepts chunks exactly as the network delivers them. Internally the
// decoder carries two pieces of state across calls: undecoded trailing bytes
// of a split UTF-8 sequence, and the unterminated tail of the current line.
// Lines are settled only on '\n', so a JSON payload split across chunks is
// parsed exactly once, complete.
type StreamDecoder struct {
	utf8    transform.Transformer
	pending []byte // undecoded input bytes (split multi-byte sequence tail)
	lineBuf []byte // decoded bytes of the current unterminated line
	scratch []byte

	text  strings.Builder
	tools []ToolCallDelta
	done  bool
}

// NewStreamDecoder creates a decoder for one streaming request.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{
		utf8:    unicode.UTF8.NewDecoder(),
		scratch: make([]byte, 4096),
	}
}

// Feed consumes the next network chunk and returns the events decoded from
// it, in order. An empty chunk is a no-op. Returned events carry accumulated
// state, so only the last event of a batch needs to be applied.
func (d *StreamDecoder) Feed(chunk []byte) []DeltaEvent {
	if len(chunk) == 0 {
		return nil
	}
	return d.consume(d.decodeUTF8(chunk, false))
}

// Finish flushes decoder state at end of stream and returns any final
// events. A trailing line without a terminator is processed as if
// terminated, and a dangling partial UTF-8 sequence decodes to the
// replacement rune.
func (d *StreamDecoder) Finish() []DeltaEvent {
	events := d.consume(d.decodeUTF8(nil, true))

	if len(d.lineBuf) > 0 {
		line := d.lineBuf
		d.lineBuf = nil
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Text returns the accumulated response text.
func (d *StreamDecoder) Text() string {
	return d.text.String()
}

// ToolCalls returns a copy of the accumulated tool calls.
func (d *StreamDecoder) ToolCalls() []ToolCallDelta {
	if len(d.tools) == 0 {
		return nil
	}
	out := make([]ToolCallDelta, len(d.tools))
	copy(out, d.tools)
	return out
}

// Done reports whether the [DONE] marker was seen.
func (d *StreamDecoder) Done() bool {
	return d.done
}

// =============================================================================
// UTF-8 DECODE
// =============================================================================

// decodeUTF8 runs input through the stateful UTF-8 transformer. A multi-byte
// sequence split across chunks is held back until its remaining bytes
// arrive, so the decoder never emits a premature replacement rune for a
// sequence the next chunk would complete.
func (d *StreamDecoder) decodeUTF8(chunk []byte, atEOF bool) []byte {
	d.pending = append(d.pending, chunk...)
	if len(d.pending) == 0 {
		return nil
	}

	var out []byte
	for {
		nDst, nSrc, err := d.utf8.Transform(d.scratch, d.pending, atEOF)
		out = append(out, d.scratch[:nDst]...)
		d.pending = append(d.pending[:0], d.pending[nSrc:]...)

		if err == transform.ErrShortDst {
			continue
		}
		if err == transform.ErrShortSrc && !atEOF {
			// Incomplete sequence at the chunk boundary. Hold the tail.
			break
		}
		break
	}
	return out
}

// =============================================================================
// LINE ASSEMBLY
// =============================================================================

// consume splits decoded bytes into lines, retaining the unterminated tail
// for the next chunk, and processes every completed line.
func (d *StreamDecoder) consume(decoded []byte) []DeltaEvent {
	if len(decoded) == 0 {
		return nil
	}
	d.lineBuf = append(d.lineBuf, decoded...)

	lines := bytes.Split(d.lineBuf, []byte{'\n'})
	tail := lines[len(lines)-1]

	var events []DeltaEvent
	for _, line := range lines[:len(lines)-1] {
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
		}
	}

	d.lineBuf = append([]byte(nil), tail...)

	// RELIABILITY: a stream that never terminates its lines would grow the
	// carry buffer without bound. Oversized tails are dropped; the clipped
	// remainder fails JSON parse at the next newline and is skipped like any
	// other malformed line, which resynchronizes the decoder.
	if len(d.lineBuf) > maxLineSize {
		log.Printf("STREAM_SKIP | oversized line dropped len=%d", len(d.lineBuf))
		d.lineBuf = d.lineBuf[:0]
	}

	return events
}

// processLine decodes one complete line into an accumulated event. Returns
// ok=false for blanks, non-data fields, the [DONE] marker, malformed JSON,
// and payloads that change nothing visible.
func (d *StreamDecoder) processLine(raw []byte) (DeltaEvent, bool) {
	if d.done {
		return DeltaEvent{}, false
	}

	line := bytes.TrimSpace(raw)
	if len(line) == 0 || !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return DeltaEvent{}, false
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return DeltaEvent{}, false
	}
	if bytes.Equal(payload, []byte(doneMarker)) {
		d.done = true
		return DeltaEvent{}, false
	}

	var chunk streamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		// A single corrupt payload is never fatal. Skip it and keep the
		// stream alive.
		log.Printf("STREAM_SKIP | malformed payload len=%d err=%v", len(payload), err)
		return DeltaEvent{}, false
	}

	if len(chunk.Choices) == 0 {
		return DeltaEvent{}, false
	}
	delta := chunk.Choices[0].Delta

	changed := false
	if delta.Content != "" {
		d.text.WriteString(delta.Content)
		changed = true
	}
	for _, tc := range delta.ToolCalls {
		if d.mergeToolCall(tc) {
			changed = true
		}
	}
	if !changed {
		// Role announcements and bare finish_reason chunks carry no visible
		// state change.
		return DeltaEvent{}, false
	}

	ev := DeltaEvent{Text: d.text.String()}
	if len(d.tools) > 0 {
		ev.ToolCalls = make([]ToolCallDelta, len(d.tools))
		copy(ev.ToolCalls, d.tools)
	}
	return ev, true
}

// =============================================================================
// TOOL CALL MERGE
// =============================================================================

// mergeToolCall folds one fragment into the accumulated call at its index.
// Identity fields (id, type) are set by the first fragment that carries
// them; name and arguments concatenate across fragments.
func (d *StreamDecoder) mergeToolCall(tc toolCallChunk) bool {
	if tc.Index < 0 {
		log.Printf("STREAM_SKIP | tool call fragment with negative index=%d", tc.Index)
		return false
	}
	for len(d.tools) <= tc.Index {
		d.tools = append(d.tools, ToolCallDelta{Index: len(d.tools)})
	}

	slot := &d.tools[tc.Index]
	if tc.ID != "" {
		slot.ID = tc.ID
	}
	if tc.Type != "" {
		slot.Type = tc.Type
	}
	slot.Name += tc.Function.Name
	slot.Arguments += tc.Function.Arguments
	return true
}
