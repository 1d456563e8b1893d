// Package engine is the decision layer: it consumes normalized chat events,
// maintains per-viewer and global engagement state, applies the
// threshold/cooldown/dedup rules, and issues notification requests.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"heartbeat/internal/event"
	"heartbeat/internal/notify"
	"heartbeat/internal/prompts"
	"heartbeat/internal/store"
	"heartbeat/pkg/logx"
)

// Notifier is the slice of the notification pipeline the engine needs.
type Notifier interface {
	Notify(n notify.Notification) error
}

// Config holds the rule thresholds, cooldowns, and per-category toggles.
type Config struct {
	QuietAfter      time.Duration // chat considered quiet after this silence
	QuietCooldown   time.Duration // min gap between quiet notifications
	WelcomeCooldown time.Duration // per-viewer; 0 means never suppress
	Milestones      []int         // loyalty milestones, normalized ascending
	CheckInterval   time.Duration // periodic quiet-check tick, default 30s

	NotifyRaids         bool
	NotifySubscriptions bool
	NotifyMilestones    bool
	NotifyWatchStreaks  bool
}

func (c *Config) normalize() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	// Milestone lists from config are accepted permissively: sorted,
	// deduplicated, non-positive values dropped.
	ms := make([]int, 0, len(c.Milestones))
	seen := map[int]bool{}
	for _, m := range c.Milestones {
		if m > 0 && !seen[m] {
			seen[m] = true
			ms = append(ms, m)
		}
	}
	sort.Ints(ms)
	c.Milestones = ms
}

// Engine owns all in-memory engagement state. Every event handler and every
// periodic tick runs to completion under one mutex, so rule evaluations
// never observe each other's partial updates.
type Engine struct {
	store    store.Store
	prompts  *prompts.Library
	notifier Notifier
	log      logx.Logger

	mu  sync.Mutex
	cfg Config

	lastActivity    time.Time
	lastQuietNotice time.Time            // zero until the quiet rule first fires
	welcomed        map[string]time.Time // identity -> last welcome sent
	celebrated      map[string]int       // identity -> highest milestone celebrated

	now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
	retune chan struct{} // pokes the tick loop after Apply changes CheckInterval
}

func New(cfg Config, st store.Store, pl *prompts.Library, n Notifier, log logx.Logger) *Engine {
	cfg.normalize()
	e := &Engine{
		store:      st,
		prompts:    pl,
		notifier:   n,
		log:        log.With(logx.String("comp", "engine")),
		cfg:        cfg,
		welcomed:   map[string]time.Time{},
		celebrated: map[string]int{},
		now:        time.Now,
		retune:     make(chan struct{}, 1),
	}
	// The stream just started; silence is measured from here.
	e.lastActivity = e.now()
	return e
}

// Apply swaps thresholds/cooldowns/toggles at runtime (config hot reload).
// Per-viewer state is kept.
func (e *Engine) Apply(cfg Config) {
	cfg.normalize()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	select {
	case e.retune <- struct{}{}:
	default:
	}
	e.log.Info("engine config applied",
		logx.Duration("quiet_after", cfg.QuietAfter),
		logx.Duration("quiet_cooldown", cfg.QuietCooldown),
		logx.Int("milestones", len(cfg.Milestones)))
}

// OnMessage handles one attributed chat line. It never panics past its own
// boundary; a failed store write skips this event's side effects only.
func (e *Engine) OnMessage(ctx context.Context, m event.Message) {
	defer e.recoverHandler("message")

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	if m.IsOwner {
		// The owner talking does not count as audience activity.
		e.log.Trace("owner message, not tracked")
		return
	}
	if store.Normalize(m.Identity) == "" {
		e.log.Debug("message without identity dropped")
		return
	}

	e.lastActivity = now

	res, err := e.store.RecordMessage(ctx, m.Identity)
	if err != nil {
		e.log.Warn("viewer record update failed, skipping rules for this message",
			logx.String("identity", m.Identity), logx.Err(err))
		return
	}

	switch {
	case res.IsNewViewer:
		// First-ever message. Welcomes for brand-new viewers are deferred
		// to a later product iteration; log only.
		e.log.Info("new viewer", logx.String("identity", res.Record.Identity))
	case res.IsReturningRegular:
		e.welcomeReturning(m.Identity, res, now)
	}

	e.checkMilestone(res.Record, now)
}

func (e *Engine) welcomeReturning(identity string, res store.MessageResult, now time.Time) {
	key := res.Record.Identity
	cool := e.cfg.WelcomeCooldown
	if cool > 0 {
		if last, ok := e.welcomed[key]; ok && now.Sub(last) < cool {
			e.log.Debug("welcome suppressed by cooldown", logx.String("identity", key))
			return
		}
	}

	prompt := e.prompts.ViewerReturn(identity, res.DaysAway, res.Record.StreamCount)
	e.log.Info("regular returning",
		logx.String("identity", key),
		logx.Int("days_away", res.DaysAway),
		logx.Int("streams", res.Record.StreamCount))
	e.send(notify.Notification{
		Title: identity + " is back!",
		Body:  prompt,
		Tag:   "viewer_" + key,
	})
	e.welcomed[key] = now
}

// checkMilestone fires when this message made the viewer's stream count
// land exactly on a configured milestone. Landing past a missed milestone
// never fires retroactively.
func (e *Engine) checkMilestone(rec store.ViewerRecord, now time.Time) {
	if !e.cfg.NotifyMilestones {
		return
	}
	best := 0
	for _, m := range e.cfg.Milestones {
		if rec.StreamCount >= m {
			best = m
		}
	}
	if best == 0 || best <= e.celebrated[rec.Identity] || rec.StreamCount != best {
		return
	}

	e.log.Info("loyalty milestone",
		logx.String("identity", rec.Identity), logx.Int("streams", rec.StreamCount))
	e.send(notify.Notification{
		Title: fmt.Sprintf("%s - %d streams!", rec.Identity, best),
		Body:  "Celebrate their loyalty!",
		Tag:   "milestone_" + rec.Identity,
	})
	e.celebrated[rec.Identity] = best
}

// OnRaid forwards an incoming raid, gated by the raid toggle.
func (e *Engine) OnRaid(ctx context.Context, r event.Raid) {
	defer e.recoverHandler("raid")

	e.mu.Lock()
	defer e.mu.Unlock()

	if store.Normalize(r.Raider) == "" {
		e.log.Debug("raid without raider identity dropped")
		return
	}
	if !e.cfg.NotifyRaids {
		return
	}
	viewers := r.ViewerCount
	if viewers < 0 {
		viewers = 0
	}
	e.log.Info("raid", logx.String("raider", r.Raider), logx.Int("viewers", viewers))
	e.send(notify.Notification{
		Title: "RAID: " + r.Raider,
		Body:  fmt.Sprintf("%d viewers incoming!", viewers),
		Tag:   "raid",
	})
}

// OnSubscription forwards a subscription event, gated by its toggle.
func (e *Engine) OnSubscription(ctx context.Context, s event.Subscription) {
	defer e.recoverHandler("subscription")

	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := renderSubscription(s)
	if err != nil {
		e.log.Debug("subscription event dropped", logx.Err(err))
		return
	}
	if !e.cfg.NotifySubscriptions {
		return
	}
	e.log.Info("subscription", logx.String("title", n.Title))
	e.send(n)
}

// OnWatchStreak forwards a shared watch streak, gated by its toggle.
func (e *Engine) OnWatchStreak(ctx context.Context, w event.WatchStreak) {
	defer e.recoverHandler("watch streak")

	e.mu.Lock()
	defer e.mu.Unlock()

	key := store.Normalize(w.Identity)
	if key == "" || w.StreakCount <= 0 {
		e.log.Debug("watch streak event dropped",
			logx.String("identity", w.Identity), logx.Int("streak", w.StreakCount))
		return
	}
	if !e.cfg.NotifyWatchStreaks {
		return
	}
	e.log.Info("watch streak", logx.String("identity", key), logx.Int("streak", w.StreakCount))
	e.send(notify.Notification{
		Title: "STREAK: " + w.Identity,
		Body:  fmt.Sprintf("%d stream watch streak!", w.StreakCount),
		Tag:   "streak_" + key,
	})
}

func (e *Engine) send(n notify.Notification) {
	if err := e.notifier.Notify(n); err != nil {
		e.log.Warn("notification dropped", logx.String("tag", n.Tag), logx.Err(err))
	}
}

func (e *Engine) recoverHandler(kind string) {
	if r := recover(); r != nil {
		e.log.Error("panic in event handler",
			logx.String("event", kind), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
	}
}
