// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package budget

import (
	"strings"
	"testing"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/tokens"
)

// textCosting returns a string whose estimated turn cost is exactly want
// tokens, so tests can hit precise budget boundaries.
func textCosting(t *testing.T, want int) string {
	t.Helper()
	// Invert the estimator shape: cost = ceil(len/4) + overhead
	text := strings.Repeat("a", (want-4)*4)
	if got := tokens.EstimateTurn(text, nil); got != want {
		t.Fatalf("helper produced cost %d, want %d", got, want)
	}
	return text
}

// historyCosting returns a single-message history estimated at exactly want tokens.
func historyCosting(t *testing.T, want int) []*model.Message {
	t.Helper()
	msg := model.NewMessage(model.RoleUser, strings.Repeat("a", (want-4)*4))
	if got := tokens.EstimateHistory([]*model.Message{msg}); got != want {
		t.Fatalf("helper produced history cost %d, want %d", got, want)
	}
	return []*model.Message{msg}
}

func settingsWithMaxTokens(n int) config.Settings {
	s := *config.Default()
	s.Sampling.MaxTokens = n
	return s
}

// TestGuard_FallbackCeiling tests the documented fallback math: a 100-token
// output budget yields a 150-token ceiling; 120 tokens of history plus a
// 40-token message (160 total) is denied, while a 20-token message (140
// total) passes.
func TestGuard_FallbackCeiling(t *testing.T) {
	g := NewGuard()
	s := settingsWithMaxTokens(100)
	history := historyCosting(t, 120)

	d := g.CanSend(textCosting(t, 40), nil, history, s, nil)
	if d.Allowed {
		t.Error("160 estimated tokens should exceed the 150 ceiling")
	}
	if d.Used != 160 {
		t.Errorf("Used = %d, want 160", d.Used)
	}
	if d.Available != 150 {
		t.Errorf("Available = %d, want 150", d.Available)
	}
	if d.Reason == "" {
		t.Error("Denial should carry a reason")
	}

	d = g.CanSend(textCosting(t, 20), nil, history, s, nil)
	if !d.Allowed {
		t.Errorf("140 estimated tokens should fit the 150 ceiling: %s", d.Reason)
	}
	if d.Reason != "" {
		t.Errorf("Allowed decision should carry no reason, got %q", d.Reason)
	}
}

// TestGuard_FallbackBoundary tests that a total exactly at the ceiling passes.
func TestGuard_FallbackBoundary(t *testing.T) {
	g := NewGuard()
	s := settingsWithMaxTokens(100)
	history := historyCosting(t, 120)

	d := g.CanSend(textCosting(t, 30), nil, history, s, nil)
	if !d.Allowed {
		t.Errorf("150 estimated tokens should sit exactly at the 150 ceiling: %s", d.Reason)
	}
}

// TestGuard_ServerStatsPath tests that with caching and a usage snapshot the
// candidate is weighed against the server's remaining window, and history
// size is irrelevant.
func TestGuard_ServerStatsPath(t *testing.T) {
	g := NewGuard()
	s := settingsWithMaxTokens(100)

	snap := model.NewUsageSnapshot()
	snap.TokensUsed = 900
	snap.MaxContextLength = 1000

	// Far more history than the fallback ceiling would ever allow
	history := historyCosting(t, 100000)

	d := g.CanSend(textCosting(t, 40), nil, history, s, snap)
	if !d.Allowed {
		t.Errorf("40-token message should fit the 100-token remaining window: %s", d.Reason)
	}
	if d.Available != 100 {
		t.Errorf("Available = %d, want 100", d.Available)
	}

	d = g.CanSend(textCosting(t, 120), nil, history, s, snap)
	if d.Allowed {
		t.Error("120-token message should not fit a 100-token remaining window")
	}
	if d.Used != 120 {
		t.Errorf("Used = %d, want the candidate cost 120", d.Used)
	}
}

// TestGuard_SnapshotIgnoredWhenCachingDisabled tests that the server-stats
// path requires the caching flag, not just a snapshot.
func TestGuard_SnapshotIgnoredWhenCachingDisabled(t *testing.T) {
	g := NewGuard()
	s := settingsWithMaxTokens(100)
	s.Chat.ContextCaching = false

	// Snapshot reports a huge remaining window
	snap := model.NewUsageSnapshot()
	snap.TokensUsed = 0
	snap.MaxContextLength = 1000000

	// But the fallback path must govern, and 160 > 150
	d := g.CanSend(textCosting(t, 40), nil, historyCosting(t, 120), s, snap)
	if d.Allowed {
		t.Error("With caching disabled the fallback ceiling should govern")
	}
}

// TestGuard_SnapshotWithoutContext tests that a snapshot lacking context
// accounting falls back to the local heuristic.
func TestGuard_SnapshotWithoutContext(t *testing.T) {
	g := NewGuard()
	s := settingsWithMaxTokens(100)

	snap := model.NewUsageSnapshot() // MaxContextLength zero

	d := g.CanSend(textCosting(t, 40), nil, historyCosting(t, 120), s, snap)
	if d.Allowed {
		t.Error("Snapshot without context figures should not enable the server-stats path")
	}
}

// TestGuard_EmptyHistory tests the trivial first-message case.
func TestGuard_EmptyHistory(t *testing.T) {
	g := NewGuard()
	s := settingsWithMaxTokens(100)

	d := g.CanSend("hi", nil, nil, s, nil)
	if !d.Allowed {
		t.Errorf("Short first message should always pass: %s", d.Reason)
	}
}

// TestGuard_AttachmentsCount tests that attachment content weighs into the
// candidate cost.
func TestGuard_AttachmentsCount(t *testing.T) {
	g := NewGuard()
	s := settingsWithMaxTokens(100)

	att := model.NewTextAttachment("big.txt", strings.Repeat("a", 4000))
	d := g.CanSend("see attached", []model.Attachment{att}, nil, s, nil)
	if d.Allowed {
		t.Error("A ~1000-token attachment should blow a 150-token ceiling")
	}
}

// TestGuard_NoOutputBudget tests that a zero max-tokens setting disables the
// fallback denial rather than denying everything.
func TestGuard_NoOutputBudget(t *testing.T) {
	g := NewGuard()
	s := settingsWithMaxTokens(0)

	d := g.CanSend(textCosting(t, 40), nil, historyCosting(t, 120), s, nil)
	if !d.Allowed {
		t.Errorf("Without an output budget there is no basis to deny: %s", d.Reason)
	}
}
