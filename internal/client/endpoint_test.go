// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import "testing"

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare host and port", "192.168.1.5:8080", "http://192.168.1.5:8080/v1/chat/completions"},
		{"bare host with version prefix", "localhost:8000/v1", "http://localhost:8000/v1/chat/completions"},
		{"already complete", "http://host/v1/chat/completions", "http://host/v1/chat/completions"},
		{"version prefix with scheme", "http://host:8080/v1", "http://host:8080/v1/chat/completions"},
		{"version prefix trailing slash", "https://api.example.com/v1/", "https://api.example.com/v1/chat/completions"},
		{"many trailing slashes", "http://host:8080///", "http://host:8080/v1/chat/completions"},
		{"nested api prefix", "http://host/api/v1", "http://host/api/v1/chat/completions"},
		{"bind address ipv4", "http://0.0.0.0:8080", "http://127.0.0.1:8080/v1/chat/completions"},
		{"bind address ipv6", "http://[::]:8080", "http://127.0.0.1:8080/v1/chat/completions"},
		{"bind address without port", "http://0.0.0.0", "http://127.0.0.1/v1/chat/completions"},
		{"https preserved", "https://api.example.com", "https://api.example.com/v1/chat/completions"},
		{"surrounding whitespace", "  http://host:1234  ", "http://host:1234/v1/chat/completions"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeEndpoint(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeEndpoint(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeEndpoint_Idempotent(t *testing.T) {
	inputs := []string{
		"192.168.1.5:8080",
		"localhost:8000/v1",
		"http://host/v1/chat/completions",
		"http://0.0.0.0:8080",
		"http://[::]:8080",
		"https://api.example.com/v1/",
		"host:1/weird/path",
		"",
	}

	for _, input := range inputs {
		once := NormalizeEndpoint(input)
		twice := NormalizeEndpoint(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}

func TestModelsURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"http://host:8080/v1/chat/completions", "http://host:8080/v1/models"},
		{"localhost:8000", "http://localhost:8000/v1/models"},
		{"http://host/api/v1", "http://host/api/v1/models"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ModelsURL(tt.input); got != tt.want {
			t.Errorf("ModelsURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestUsageURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"http://host:8080/v1/chat/completions", "http://host:8080/v1/usage"},
		{"localhost:8000", "http://localhost:8000/v1/usage"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := UsageURL(tt.input); got != tt.want {
			t.Errorf("UsageURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
