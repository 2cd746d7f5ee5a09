package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	goslack "github.com/slack-go/slack"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierDisabledWithoutTokenIsNoop(t *testing.T) {
	n := New("", "#threats", testLogger())
	if n.IsEnabled() {
		t.Fatal("expected notifier without a bot token to be disabled")
	}
	if err := n.NotifyThreat(t.Context(), ThreatEvent{ThreatID: "t1", Area: "Seattle"}); err != nil {
		t.Fatalf("NotifyThreat() on a disabled notifier should be a no-op, got error = %v", err)
	}
}

func TestNotifierDisabledWithoutChannelIsNoop(t *testing.T) {
	n := New("xoxb-test", "", testLogger())
	if n.IsEnabled() {
		t.Fatal("expected notifier without a channel to be disabled")
	}
}

func TestNotifyThreatPostsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"channel": "C123",
			"ts":      "1700000000.000001",
		})
	}))
	defer srv.Close()

	n := &Notifier{
		client:  goslack.New("xoxb-test", goslack.OptionAPIURL(srv.URL+"/")),
		channel: "#threats",
		logger:  testLogger(),
	}

	err := n.NotifyThreat(t.Context(), ThreatEvent{
		ThreatID: "t1",
		Level:    "critical",
		Type:     "protest",
		Area:     "Seattle",
		Summary:  "Large gathering reported downtown",
	})
	if err != nil {
		t.Fatalf("NotifyThreat() error = %v", err)
	}
}

func TestNotifyThreatReturnsErrorOnSlackFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer srv.Close()

	n := &Notifier{
		client:  goslack.New("xoxb-test", goslack.OptionAPIURL(srv.URL+"/")),
		channel: "#missing",
		logger:  testLogger(),
	}

	err := n.NotifyThreat(t.Context(), ThreatEvent{ThreatID: "t1", Area: "Seattle"})
	if err == nil {
		t.Fatal("expected an error when Slack rejects the post")
	}
}

func TestLevelEmojiAndLabel(t *testing.T) {
	cases := map[string]struct{ emoji, label string }{
		"critical": {"🔴", "CRITICAL"},
		"elevated": {"🟠", "ELEVATED"},
		"guarded":  {"🟡", "GUARDED"},
		"unknown":  {"⚪", "unknown"},
	}
	for level, want := range cases {
		if got := levelEmoji(level); got != want.emoji {
			t.Errorf("levelEmoji(%q) = %q, want %q", level, got, want.emoji)
		}
		if got := levelLabel(level); got != want.label {
			t.Errorf("levelLabel(%q) = %q, want %q", level, got, want.label)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q, want unchanged", got)
	}
	long := "0123456789abcdef"
	if got := truncate(long, 10); got != "0123456..." {
		t.Errorf("truncate(long, 10) = %q, want 0123456...", got)
	}
}
