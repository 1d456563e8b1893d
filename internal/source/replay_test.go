package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"heartbeat/internal/event"
	"heartbeat/pkg/logx"
)

type recordingHandler struct {
	messages []event.Message
	raids    []event.Raid
	subs     []event.Subscription
	streaks  []event.WatchStreak
}

func (h *recordingHandler) OnMessage(_ context.Context, m event.Message) { h.messages = append(h.messages, m) }
func (h *recordingHandler) OnRaid(_ context.Context, r event.Raid)       { h.raids = append(h.raids, r) }
func (h *recordingHandler) OnSubscription(_ context.Context, s event.Subscription) {
	h.subs = append(h.subs, s)
}
func (h *recordingHandler) OnWatchStreak(_ context.Context, w event.WatchStreak) {
	h.streaks = append(h.streaks, w)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestReplayDeliversAllEventTypes(t *testing.T) {
	t.Parallel()

	path := writeScript(t, `
# warm-up chatter
{"type": "message", "identity": "alice", "text": "hello"}
{"type": "message", "identity": "streamer", "text": "hi all", "is_owner": true}
{"type": "raid", "identity": "frodo", "viewer_count": 42}
{"type": "subscription", "kind": "resub", "identity": "bob", "plan": "tier 2", "months": 9, "streak": 9}
{"type": "watch_streak", "identity": "carol", "streak_count": 12}
`)
	r := NewReplay(path, logx.Nop())
	h := &recordingHandler{}
	if err := r.Run(context.Background(), h); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.messages) != 2 || h.messages[0].Identity != "alice" || !h.messages[1].IsOwner {
		t.Fatalf("messages = %+v", h.messages)
	}
	if len(h.raids) != 1 || h.raids[0].Raider != "frodo" || h.raids[0].ViewerCount != 42 {
		t.Fatalf("raids = %+v", h.raids)
	}
	if len(h.streaks) != 1 || h.streaks[0].StreakCount != 12 {
		t.Fatalf("streaks = %+v", h.streaks)
	}
	if len(h.subs) != 1 {
		t.Fatalf("subs = %+v", h.subs)
	}
	resub, ok := h.subs[0].(event.Resub)
	if !ok || resub.Plan != event.PlanTier2 || resub.Months != 9 {
		t.Fatalf("sub = %#v", h.subs[0])
	}
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := writeScript(t, `
{"type": "message", "identity": "alice"}
{not json at all
{"type": "teleport", "identity": "bob"}
{"type": "subscription", "kind": "gift"}
{"type": "message", "identity": "bob"}
`)
	r := NewReplay(path, logx.Nop())
	h := &recordingHandler{}
	if err := r.Run(context.Background(), h); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.messages) != 2 || len(h.subs) != 0 {
		t.Fatalf("messages = %d, subs = %d; want 2, 0", len(h.messages), len(h.subs))
	}
}

func TestReplayHonorsDelaysAndCancellation(t *testing.T) {
	t.Parallel()

	path := writeScript(t, `
{"type": "message", "identity": "alice"}
{"type": "message", "identity": "bob", "delay": "5s"}
`)
	r := NewReplay(path, logx.Nop())
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return context.Canceled
	}

	h := &recordingHandler{}
	err := r.Run(context.Background(), h)
	if err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if len(slept) != 1 || slept[0] != 5*time.Second {
		t.Fatalf("slept = %v", slept)
	}
	if len(h.messages) != 1 {
		t.Fatalf("messages = %d, want only the first", len(h.messages))
	}
}

func TestReplayMissingFile(t *testing.T) {
	t.Parallel()

	r := NewReplay(filepath.Join(t.TempDir(), "absent.jsonl"), logx.Nop())
	if err := r.Run(context.Background(), &recordingHandler{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
