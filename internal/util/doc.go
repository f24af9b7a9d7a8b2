// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for rigchat.
//
// String helpers cover UTF-8 safe truncation for titles and previews
// (TruncateRunes, TruncateWidth). File helpers cover crash-safe persistence
// (AtomicWriteFile), used by the session store.
package util
