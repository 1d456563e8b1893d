package app

import (
	"context"
	"errors"
	"strings"
	"sync"

	"heartbeat/internal/event"
	"heartbeat/internal/metrics"
	"heartbeat/internal/notify"
	"heartbeat/internal/store"
)

// ownerMarker flags messages from the configured channel owner before they
// reach the engine, for sources that do not attribute ownership themselves.
// The owner identity is hot-reloadable.
type ownerMarker struct {
	next event.Handler

	mu    sync.RWMutex
	owner string // normalized; empty means no configured owner
}

func newOwnerMarker(next event.Handler, owner string) *ownerMarker {
	return &ownerMarker{next: next, owner: store.Normalize(owner)}
}

func (o *ownerMarker) SetOwner(owner string) {
	o.mu.Lock()
	o.owner = store.Normalize(owner)
	o.mu.Unlock()
}

func (o *ownerMarker) OnMessage(ctx context.Context, m event.Message) {
	o.mu.RLock()
	owner := o.owner
	o.mu.RUnlock()
	if !m.IsOwner && owner != "" && store.Normalize(m.Identity) == owner {
		m.IsOwner = true
	}
	o.next.OnMessage(ctx, m)
}

func (o *ownerMarker) OnRaid(ctx context.Context, r event.Raid) { o.next.OnRaid(ctx, r) }

func (o *ownerMarker) OnSubscription(ctx context.Context, s event.Subscription) {
	o.next.OnSubscription(ctx, s)
}

func (o *ownerMarker) OnWatchStreak(ctx context.Context, w event.WatchStreak) {
	o.next.OnWatchStreak(ctx, w)
}

// meteredHandler counts incoming events before passing them to the engine.
type meteredHandler struct {
	next event.Handler
	met  *metrics.Metrics
}

func (h *meteredHandler) OnMessage(ctx context.Context, m event.Message) {
	h.met.IncEvent("message")
	h.next.OnMessage(ctx, m)
}

func (h *meteredHandler) OnRaid(ctx context.Context, r event.Raid) {
	h.met.IncEvent("raid")
	h.next.OnRaid(ctx, r)
}

func (h *meteredHandler) OnSubscription(ctx context.Context, s event.Subscription) {
	h.met.IncEvent("subscription")
	h.next.OnSubscription(ctx, s)
}

func (h *meteredHandler) OnWatchStreak(ctx context.Context, w event.WatchStreak) {
	h.met.IncEvent("watch_streak")
	h.next.OnWatchStreak(ctx, w)
}

// meteredNotifier counts accepted notifications and enqueue-level drops.
type meteredNotifier struct {
	notifier interface {
		Notify(n notify.Notification) error
	}
	met *metrics.Metrics
}

func (m *meteredNotifier) Notify(n notify.Notification) error {
	err := m.notifier.Notify(n)
	switch {
	case err == nil:
		m.met.IncNotification(categoryFromTag(n.Tag))
	case errors.Is(err, notify.ErrQueueFull):
		m.met.IncDrop("queue_full")
	case errors.Is(err, notify.ErrStopped):
		m.met.IncDrop("stopped")
	}
	return err
}

// categoryFromTag collapses per-viewer tags into their family so label
// cardinality stays bounded.
func categoryFromTag(tag string) string {
	switch {
	case tag == "":
		return "other"
	case strings.HasPrefix(tag, "viewer_"):
		return "viewer"
	case strings.HasPrefix(tag, "milestone_"):
		return "milestone"
	case strings.HasPrefix(tag, "streak_"):
		return "streak"
	default:
		return tag
	}
}

// meteredStore counts failed store operations.
type meteredStore struct {
	store.Store
	met *metrics.Metrics
}

func (s *meteredStore) RecordMessage(ctx context.Context, identity string) (store.MessageResult, error) {
	res, err := s.Store.RecordMessage(ctx, identity)
	if err != nil {
		s.met.IncStoreError()
	}
	return res, err
}
