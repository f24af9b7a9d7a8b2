// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "test.txt")
	data := []byte("hello, world!")

	err := AtomicWriteFile(path, data, 0644)
	if err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", string(content), string(data))
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "subdir", "deep", "test.txt")

	if err := AtomicWriteFile(path, []byte("test data"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "test.txt")

	if err := AtomicWriteFile(path, []byte("initial"), 0644); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("replaced"), 0644); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "replaced" {
		t.Errorf("Content mismatch: got %q, want %q", string(content), "replaced")
	}
}

func TestAtomicWriteFile_NoTempLeftover(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "test.txt")

	if err := AtomicWriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
}

// =============================================================================
// STRING TRUNCATION TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"truncated with ellipsis", "hello world", 8, "hello..."},
		{"zero budget", "hello", 0, ""},
		{"tiny budget no ellipsis", "hello", 2, "he"},
		{"multibyte runes preserved", "héllo wörld", 8, "héllo..."},
		{"cjk runes preserved", "你好世界你好世界", 5, "你好..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateRunes(tt.input, tt.max)
			if got != tt.expected {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.expected)
			}
		})
	}
}

func TestTruncateRunes_NeverSplitsRune(t *testing.T) {
	input := "日本語のテキストです"
	for max := 0; max <= 15; max++ {
		got := TruncateRunes(input, max)
		if !utf8.ValidString(got) {
			t.Errorf("TruncateRunes(%q, %d) produced invalid UTF-8: %q", input, max, got)
		}
	}
}

func TestTruncateWidth(t *testing.T) {
	// CJK characters are 2 columns wide.
	got := TruncateWidth("你好世界", 5)
	if got != "你..." {
		t.Errorf("TruncateWidth CJK = %q, want %q", got, "你...")
	}

	got = TruncateWidth("plain text", 20)
	if got != "plain text" {
		t.Errorf("TruncateWidth unchanged = %q, want %q", got, "plain text")
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"single line", "single line"},
		{"first\nsecond", "first"},
		{"  padded  \nrest", "padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FirstLine(tt.input); got != tt.expected {
			t.Errorf("FirstLine(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
