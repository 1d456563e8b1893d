package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"heartbeat/internal/event"
	"heartbeat/internal/notify"
	"heartbeat/internal/prompts"
	"heartbeat/internal/store"
	"heartbeat/pkg/logx"
)

// fakeStore returns scripted results so tests can drive the rules directly.
type fakeStore struct {
	next    store.MessageResult
	nextErr error
	calls   int
}

func (f *fakeStore) Get(ctx context.Context, identity string) (store.ViewerRecord, bool, error) {
	return store.ViewerRecord{}, false, nil
}

func (f *fakeStore) RecordMessage(ctx context.Context, identity string) (store.MessageResult, error) {
	f.calls++
	if f.nextErr != nil {
		return store.MessageResult{}, f.nextErr
	}
	res := f.next
	if res.Record.Identity == "" {
		res.Record.Identity = store.Normalize(identity)
	}
	return res, nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeStore) Regulars(ctx context.Context, minStreams int) ([]store.ViewerRecord, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

// captureNotifier records notifications; the mutex matters only for tests
// that run the engine's tick goroutine.
type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (c *captureNotifier) Notify(n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fixture struct {
	engine *Engine
	store  *fakeStore
	sink   *captureNotifier
	clock  *time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	fs := &fakeStore{}
	sink := &captureNotifier{}
	e := New(cfg, fs, prompts.New("", logx.Nop()), sink, logx.Nop())

	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	clock := base
	e.now = func() time.Time { return clock }
	e.lastActivity = base
	return &fixture{engine: e, store: fs, sink: sink, clock: &clock}
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func TestQuietRuleFiresAndRespectsCooldown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{
		QuietAfter:    5 * time.Minute,
		QuietCooldown: 10 * time.Minute,
	})

	// Minute 3: still active.
	f.advance(3 * time.Minute)
	f.engine.checkQuiet()
	if len(f.sink.sent) != 0 {
		t.Fatalf("fired too early: %+v", f.sink.sent)
	}

	// Minute 5: fires.
	f.advance(2 * time.Minute)
	f.engine.checkQuiet()
	if len(f.sink.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.sink.sent))
	}
	n := f.sink.sent[0]
	if n.Tag != "chat_quiet" {
		t.Fatalf("tag = %q", n.Tag)
	}
	if n.Title != "Chat Quiet (5 min)" {
		t.Fatalf("title = %q", n.Title)
	}
	if !strings.HasPrefix(n.Body, "Try: ") {
		t.Fatalf("body = %q", n.Body)
	}

	// Minute 8: inside the cooldown window, no re-fire.
	f.advance(3 * time.Minute)
	f.engine.checkQuiet()
	if len(f.sink.sent) != 1 {
		t.Fatalf("re-fired inside cooldown: %d notifications", len(f.sink.sent))
	}

	// Minute 16: cooldown elapsed, fires again with the larger elapsed count.
	f.advance(8 * time.Minute)
	f.engine.checkQuiet()
	if len(f.sink.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(f.sink.sent))
	}
	if f.sink.sent[1].Title != "Chat Quiet (16 min)" {
		t.Fatalf("second title = %q", f.sink.sent[1].Title)
	}
}

func TestMessageResetsQuietTimerButOwnerDoesNot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{QuietAfter: 5 * time.Minute, QuietCooldown: 10 * time.Minute})
	ctx := context.Background()

	// An owner message at minute 4 must not reset the timer.
	f.advance(4 * time.Minute)
	f.engine.OnMessage(ctx, event.Message{Identity: "streamer", IsOwner: true})
	if f.store.calls != 0 {
		t.Fatal("owner message reached the store")
	}
	f.advance(time.Minute)
	f.engine.checkQuiet()
	if len(f.sink.sent) != 1 {
		t.Fatalf("expected quiet notification despite owner message, got %d", len(f.sink.sent))
	}

	// A viewer message resets the timer: no further quiet fire 4 minutes on.
	f.engine.OnMessage(ctx, event.Message{Identity: "viewer1"})
	f.advance(4 * time.Minute)
	f.engine.checkQuiet()
	if len(f.sink.sent) != 1 {
		t.Fatalf("quiet fired after fresh activity: %d", len(f.sink.sent))
	}
}

func TestMilestoneFiresOnlyOnExactCross(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{NotifyMilestones: true, Milestones: []int{10, 5}}) // unsorted on purpose
	ctx := context.Background()

	milestones := 0
	feed := func(streams int) {
		f.store.next = store.MessageResult{Record: store.ViewerRecord{Identity: "dora", StreamCount: streams, MessageCount: streams}}
		f.engine.OnMessage(ctx, event.Message{Identity: "dora"})
		milestones = 0
		for _, n := range f.sink.sent {
			if n.Tag == "milestone_dora" {
				milestones++
			}
		}
	}

	feed(4)
	if milestones != 0 {
		t.Fatalf("fired below first milestone: %d", milestones)
	}
	feed(5)
	if milestones != 1 {
		t.Fatalf("expected exactly 1 after reaching 5, got %d", milestones)
	}
	// Same session, repeated messages at 5: no re-fire.
	feed(5)
	if milestones != 1 {
		t.Fatalf("re-fired at same count: %d", milestones)
	}
	// Sessions 6..9: nothing.
	for s := 6; s <= 9; s++ {
		feed(s)
	}
	if milestones != 1 {
		t.Fatalf("fired between milestones: %d", milestones)
	}
	feed(10)
	if milestones != 2 {
		t.Fatalf("expected 2 after reaching 10, got %d", milestones)
	}
	feed(11)
	if milestones != 2 {
		t.Fatalf("fired past milestone: %d", milestones)
	}
}

func TestMilestoneNeverFiresRetroactively(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{NotifyMilestones: true, Milestones: []int{5, 10}})
	ctx := context.Background()

	// A viewer first seen at stream_count 7 skipped milestone 5; it must
	// not fire late.
	f.store.next = store.MessageResult{Record: store.ViewerRecord{Identity: "erin", StreamCount: 7}}
	f.engine.OnMessage(ctx, event.Message{Identity: "erin"})
	if len(f.sink.sent) != 0 {
		t.Fatalf("retroactive milestone fired: %+v", f.sink.sent)
	}
}

func TestReturningRegularWelcome(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{WelcomeCooldown: 30 * time.Minute})
	ctx := context.Background()

	f.store.next = store.MessageResult{
		Record:             store.ViewerRecord{Identity: "carol", StreamCount: 4, MessageCount: 40},
		IsReturningRegular: true,
		DaysAway:           10,
	}
	f.engine.OnMessage(ctx, event.Message{Identity: "Carol"})
	if len(f.sink.sent) != 1 {
		t.Fatalf("expected welcome notification, got %d", len(f.sink.sent))
	}
	n := f.sink.sent[0]
	if n.Tag != "viewer_carol" {
		t.Fatalf("tag = %q", n.Tag)
	}
	if n.Title != "Carol is back!" {
		t.Fatalf("title = %q", n.Title)
	}

	// Within the cooldown window the welcome is suppressed.
	f.advance(10 * time.Minute)
	f.engine.OnMessage(ctx, event.Message{Identity: "carol"})
	if len(f.sink.sent) != 1 {
		t.Fatalf("welcome re-fired inside cooldown: %d", len(f.sink.sent))
	}

	// After the window it fires again.
	f.advance(25 * time.Minute)
	f.engine.OnMessage(ctx, event.Message{Identity: "carol"})
	if len(f.sink.sent) != 2 {
		t.Fatalf("expected second welcome, got %d", len(f.sink.sent))
	}
}

func TestZeroWelcomeCooldownNeverSuppresses(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.store.next = store.MessageResult{
		Record:             store.ViewerRecord{Identity: "frank", StreamCount: 5},
		IsReturningRegular: true,
		DaysAway:           3,
	}
	f.engine.OnMessage(ctx, event.Message{Identity: "frank"})
	f.engine.OnMessage(ctx, event.Message{Identity: "frank"})
	if len(f.sink.sent) != 2 {
		t.Fatalf("zero cooldown suppressed a welcome: %d", len(f.sink.sent))
	}
}

func TestNewViewerIsLoggedNotNotified(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{NotifyMilestones: true, Milestones: []int{5}})
	ctx := context.Background()

	f.store.next = store.MessageResult{
		Record:      store.ViewerRecord{Identity: "newbie", StreamCount: 1, MessageCount: 1},
		IsNewViewer: true,
	}
	f.engine.OnMessage(ctx, event.Message{Identity: "newbie"})
	if len(f.sink.sent) != 0 {
		t.Fatalf("new viewer produced notifications: %+v", f.sink.sent)
	}
}

func TestStoreFailureSkipsRulesButNotLoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{NotifyMilestones: true, Milestones: []int{1}})
	ctx := context.Background()

	f.store.nextErr = errors.New("disk went away")
	f.engine.OnMessage(ctx, event.Message{Identity: "gina"})
	if len(f.sink.sent) != 0 {
		t.Fatalf("rules ran despite store failure: %+v", f.sink.sent)
	}

	// The next event processes normally.
	f.store.nextErr = nil
	f.store.next = store.MessageResult{Record: store.ViewerRecord{Identity: "gina", StreamCount: 1}}
	f.engine.OnMessage(ctx, event.Message{Identity: "gina"})
	if len(f.sink.sent) != 1 {
		t.Fatalf("engine did not recover after store failure: %d", len(f.sink.sent))
	}
}

func TestRaidGatingAndValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, Config{NotifyRaids: false})
	f.engine.OnRaid(ctx, event.Raid{Raider: "gnasty", ViewerCount: 20})
	if len(f.sink.sent) != 0 {
		t.Fatal("raid fired with toggle off")
	}

	f = newFixture(t, Config{NotifyRaids: true})
	f.engine.OnRaid(ctx, event.Raid{Raider: "", ViewerCount: 20})
	if len(f.sink.sent) != 0 {
		t.Fatal("malformed raid was not dropped")
	}

	f.engine.OnRaid(ctx, event.Raid{Raider: "gnasty", ViewerCount: 20})
	if len(f.sink.sent) != 1 {
		t.Fatalf("expected raid notification, got %d", len(f.sink.sent))
	}
	n := f.sink.sent[0]
	if n.Title != "RAID: gnasty" || n.Body != "20 viewers incoming!" || n.Tag != "raid" {
		t.Fatalf("unexpected raid notification: %+v", n)
	}
}

func TestWatchStreak(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, Config{NotifyWatchStreaks: true})
	f.engine.OnWatchStreak(ctx, event.WatchStreak{Identity: "Hana", StreakCount: 12})
	if len(f.sink.sent) != 1 {
		t.Fatalf("expected streak notification, got %d", len(f.sink.sent))
	}
	n := f.sink.sent[0]
	if n.Title != "STREAK: Hana" || n.Body != "12 stream watch streak!" || n.Tag != "streak_hana" {
		t.Fatalf("unexpected streak notification: %+v", n)
	}

	f.engine.OnWatchStreak(ctx, event.WatchStreak{Identity: "Hana", StreakCount: 0})
	if len(f.sink.sent) != 1 {
		t.Fatal("zero streak was not dropped")
	}
}

func TestSubscriptionGating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, Config{NotifySubscriptions: true})
	f.engine.OnSubscription(ctx, event.NewSub{Identity: "ivy", Plan: event.PlanTier1})
	if len(f.sink.sent) != 1 {
		t.Fatalf("expected subscription notification, got %d", len(f.sink.sent))
	}
	if f.sink.sent[0].Tag != "subscription" {
		t.Fatalf("tag = %q", f.sink.sent[0].Tag)
	}

	f = newFixture(t, Config{NotifySubscriptions: false})
	f.engine.OnSubscription(ctx, event.NewSub{Identity: "ivy", Plan: event.PlanTier1})
	if len(f.sink.sent) != 0 {
		t.Fatal("subscription fired with toggle off")
	}
}

func TestApplyUpdatesThresholds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{QuietAfter: 5 * time.Minute, QuietCooldown: 10 * time.Minute})

	// Raise the threshold; minute 6 no longer counts as quiet.
	f.engine.Apply(Config{QuietAfter: 30 * time.Minute, QuietCooldown: 10 * time.Minute})
	f.advance(6 * time.Minute)
	f.engine.checkQuiet()
	if len(f.sink.sent) != 0 {
		t.Fatalf("quiet fired after threshold raise: %+v", f.sink.sent)
	}
}

func TestConfigNormalizeMilestones(t *testing.T) {
	t.Parallel()
	cfg := Config{Milestones: []int{50, -3, 10, 10, 0, 5}}
	cfg.normalize()
	want := []int{5, 10, 50}
	if len(cfg.Milestones) != len(want) {
		t.Fatalf("milestones = %v, want %v", cfg.Milestones, want)
	}
	for i := range want {
		if cfg.Milestones[i] != want[i] {
			t.Fatalf("milestones = %v, want %v", cfg.Milestones, want)
		}
	}
	if cfg.CheckInterval != 30*time.Second {
		t.Fatalf("CheckInterval default = %v", cfg.CheckInterval)
	}
}

func TestApplyRetunesCheckInterval(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{QuietAfter: 5 * time.Minute, CheckInterval: time.Hour})
	f.advance(10 * time.Minute)

	ctx := context.Background()
	f.engine.Start(ctx)
	defer f.engine.Stop(context.Background())

	// The hour-long tick would never fire in this test; shrinking the
	// interval at runtime must reach the running loop.
	f.engine.Apply(Config{QuietAfter: 5 * time.Minute, CheckInterval: 5 * time.Millisecond})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.sink.count() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("quiet check did not run at the reloaded interval")
}

func TestStartStopQuietLoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{QuietAfter: time.Hour, CheckInterval: 10 * time.Millisecond})

	ctx := context.Background()
	f.engine.Start(ctx)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := f.engine.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stopping again is a no-op.
	if err := f.engine.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
