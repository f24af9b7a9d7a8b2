// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// SETTINGS FILE WATCHER
// =============================================================================

// defaultDebounce is how long a settings file must sit quiet before reload.
// Editors often produce several events per save.
const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a settings file when it changes on disk and delivers the
// result to a callback. The parent directory is watched rather than the file
// itself, because most editors replace files via rename.
type Watcher struct {
	path     string
	onChange func(*Settings)
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending time.Time // Zero when no reload is queued

	ctx    context.Context
	cancel context.CancelFunc
}

// WatchFile starts watching the settings file at path. onChange is invoked
// with freshly loaded settings after each successful reload; failed reloads
// are logged and skipped so a half-saved file never clobbers live settings.
func WatchFile(path string, onChange func(*Settings)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve settings path: %w", err)
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch settings directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		watcher:  fsw,
		debounce: defaultDebounce,
		ctx:      ctx,
		cancel:   cancel,
	}

	go w.processEvents()
	go w.processPending()

	return w, nil
}

// processEvents queues a reload for every event touching the settings file.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("CONFIG_WATCH | err=%v", err)
		}
	}
}

// processPending fires the queued reload once the debounce window has passed.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.reload()
			}
		}
	}
}

// reload loads the settings file and delivers it to the callback.
func (w *Watcher) reload() {
	s, err := LoadFromPath(w.path)
	if err != nil {
		log.Printf("CONFIG_RELOAD | path=%s err=%v", w.path, err)
		return
	}

	log.Printf("CONFIG_RELOAD | path=%s ok", w.path)
	if w.onChange != nil {
		w.onChange(s)
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
