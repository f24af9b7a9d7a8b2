// rigchat - Streaming terminal chat for OpenAI-compatible inference servers.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/cli"
	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "settings file (default: ~/.rigchat/settings.toml, then .json)")
		endpoint    = flag.String("endpoint", "", "inference server URL (overrides the settings file)")
		modelName   = flag.String("model", "", "model name (overrides the settings file)")
		quiet       = flag.Bool("quiet", false, "suppress the banner and per-turn statistics")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("rigchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return 0
	}

	// The REPL owns the terminal; a piped stdin has nowhere to read from.
	if !cli.IsTTY() {
		fmt.Fprintln(os.Stderr, "rigchat: stdin is not a terminal")
		return 1
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rigchat: %v\n", err)
		return 1
	}
	if *endpoint != "" {
		settings.Server.Endpoint = *endpoint
	}
	if *modelName != "" {
		settings.Server.Model = *modelName
	}

	if err := config.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "rigchat: cannot prepare config directory: %v\n", err)
	}

	sessions, blobs, closeBlobs := openStores(settings)
	defer closeBlobs()

	historyPath, err := settings.HistoryFile()
	if err != nil {
		historyPath = ""
	}
	cfgPath := settingsPath(*configPath)

	backend := client.NewClient()
	repl := cli.New(cli.Options{
		Client:      backend,
		HistoryPath: historyPath,
		ConfigPath:  cfgPath,
		Version:     Version,
		Quiet:       *quiet,
	})

	engine := chat.NewEngine(chat.Options{
		Backend:   backend,
		Store:     sessions,
		Blobs:     blobs,
		Settings:  *settings,
		Callbacks: repl.Callbacks(),
	})
	defer engine.Close()

	// External edits to the settings file take effect live. A failed watch
	// is not fatal; /set keeps working without it.
	if cfgPath != "" {
		watcher, err := config.WatchFile(cfgPath, func(s *config.Settings) {
			engine.UpdateSettings(*s)
		})
		if err == nil {
			defer watcher.Close()
		} else if !*quiet {
			fmt.Fprintf(os.Stderr, "rigchat: settings watch disabled: %v\n", err)
		}
	}

	if err := repl.Run(engine); err != nil {
		fmt.Fprintf(os.Stderr, "rigchat: %v\n", err)
		return 1
	}
	return 0
}

// loadSettings loads from an explicit path when given, else walks the
// default locations. A parse failure of a default file degrades to
// defaults with a warning rather than refusing to start.
func loadSettings(explicit string) (*config.Settings, error) {
	if explicit != "" {
		return config.LoadFromPath(explicit)
	}
	settings, err := config.Load()
	if settings == nil {
		return nil, err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rigchat: using defaults: %v\n", err)
	}
	return settings, nil
}

// settingsPath resolves the file /set persists to and the watcher follows:
// an explicit --config wins, then whichever default file exists, then the
// default TOML path for a first save.
func settingsPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	tomlPath, tomlErr := config.PathTOML()
	if tomlErr == nil {
		if _, err := os.Stat(tomlPath); err == nil {
			return tomlPath
		}
	}
	if jsonPath, err := config.PathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return jsonPath
		}
	}
	if tomlErr == nil {
		return tomlPath
	}
	return ""
}

// openStores builds the persistence pair. The blob store degrades to
// memory when SQLite cannot open, since inline attachments still function
// without it. The returned close func releases the database after the
// engine's final persist.
func openStores(settings *config.Settings) (store.SessionStore, store.BlobStore, func()) {
	var sessions store.SessionStore
	if path, err := settings.SessionsFile(); err == nil {
		sessions = store.NewFileSessionStore(path)
	} else {
		fmt.Fprintf(os.Stderr, "rigchat: session persistence disabled: %v\n", err)
	}

	if path, err := settings.BlobsFile(); err == nil {
		if db, dbErr := store.NewSQLiteBlobStore(path); dbErr == nil {
			return sessions, db, func() { db.Close() }
		} else {
			fmt.Fprintf(os.Stderr, "rigchat: attachment store unavailable, keeping attachments in memory: %v\n", dbErr)
		}
	}
	return sessions, store.NewMemoryBlobStore(), func() {}
}
