// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// =============================================================================
// PROVIDER CHAIN
// =============================================================================

// Provider supplies settings from one source. Providers are consulted in
// order by Resolve; the first one that succeeds wins.
type Provider interface {
	// Name identifies the provider in log lines.
	Name() string

	// Fetch returns the settings or an error when the source is unavailable.
	Fetch() (*Settings, error)
}

const (
	// remoteAttempts is the number of tries against a remote settings URL
	// before the chain moves on.
	remoteAttempts = 3

	// remoteRetryDelay is the pause between remote attempts.
	remoteRetryDelay = 500 * time.Millisecond

	// remoteBodyLimit caps how much of a remote response is read.
	remoteBodyLimit = 1 << 20
)

// Resolve walks the provider chain and returns the first usable settings.
// Providers that error or produce invalid settings are logged and skipped.
// Always returns non-nil settings: built-in defaults are the implicit last
// link in every chain.
func Resolve(providers ...Provider) *Settings {
	for _, p := range providers {
		s, err := p.Fetch()
		if err != nil {
			log.Printf("CONFIG_SKIP | provider=%s err=%v", p.Name(), err)
			continue
		}

		s.SetDefaults()
		if err := s.Validate(); err != nil {
			log.Printf("CONFIG_SKIP | provider=%s err=invalid settings: %v", p.Name(), err)
			continue
		}
		return s
	}

	s := Default()
	s.ApplyEnvOverrides()
	s.SetDefaults()
	return s
}

// DefaultChain builds the standard provider order: explicit settings first,
// then the settings file, then an optional remote URL, then defaults.
// Nil explicit and empty remoteURL links are dropped.
func DefaultChain(explicit *Settings, remoteURL string) []Provider {
	var chain []Provider
	if explicit != nil {
		chain = append(chain, &StaticProvider{Settings: explicit})
	}
	chain = append(chain, &FileProvider{})
	if remoteURL != "" {
		chain = append(chain, &RemoteProvider{URL: remoteURL})
	}
	return chain
}

// =============================================================================
// STATIC PROVIDER
// =============================================================================

// StaticProvider returns explicitly injected settings. Used by embedders that
// construct Settings in code and by tests.
type StaticProvider struct {
	Settings *Settings
}

// Name identifies the provider in log lines.
func (p *StaticProvider) Name() string { return "static" }

// Fetch returns a copy of the injected settings.
func (p *StaticProvider) Fetch() (*Settings, error) {
	if p.Settings == nil {
		return nil, fmt.Errorf("no settings injected")
	}
	s := *p.Settings
	return &s, nil
}

// =============================================================================
// FILE PROVIDER
// =============================================================================

// FileProvider loads settings from a file. An empty Path means the default
// locations (TOML first, then JSON).
type FileProvider struct {
	Path string
}

// Name identifies the provider in log lines.
func (p *FileProvider) Name() string { return "file" }

// Fetch loads the settings file, reporting an error when no file exists.
func (p *FileProvider) Fetch() (*Settings, error) {
	if p.Path != "" {
		return LoadFromPath(p.Path)
	}

	tomlPath, err := PathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}

	jsonPath, err := PathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	return nil, fmt.Errorf("no settings file found")
}

// =============================================================================
// REMOTE PROVIDER
// =============================================================================

// RemoteProvider fetches JSON settings from a URL, for deployments that serve
// a shared client configuration next to the inference server. Transient
// failures are retried a bounded number of times before the chain moves on.
type RemoteProvider struct {
	URL string

	// Client overrides the HTTP client, mainly for tests. nil uses a
	// short-timeout default.
	Client *http.Client
}

// Name identifies the provider in log lines.
func (p *RemoteProvider) Name() string { return "remote" }

// Fetch retrieves and decodes the remote settings, retrying up to
// remoteAttempts times.
func (p *RemoteProvider) Fetch() (*Settings, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	var lastErr error
	for attempt := 1; attempt <= remoteAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(remoteRetryDelay)
		}

		s, err := p.fetchOnce(client)
		if err == nil {
			return s, nil
		}
		lastErr = err
		log.Printf("CONFIG_RETRY | provider=remote attempt=%d/%d err=%v", attempt, remoteAttempts, err)
	}

	return nil, fmt.Errorf("remote settings unavailable after %d attempts: %w", remoteAttempts, lastErr)
}

func (p *RemoteProvider) fetchOnce(client *http.Client) (*Settings, error) {
	resp, err := client.Get(p.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, remoteBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	s := Default()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.ApplyEnvOverrides()
	return s, nil
}
