package notify

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"heartbeat/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify: queue full")
	ErrStopped   = errors.New("notify: stopped")
)

// Service fans notifications out to the configured sinks through a small
// queue with a token-bucket rate limit and an optional per-tag dedup window.
// Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan Notification

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// dedup: tag -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	now func() time.Time
}

func New(cfg Config, sinks []Sink, log logx.Logger) *Service {
	s := &Service{
		log:   log,
		sinks: sinks,
		dedup: map[string]time.Time{},
		now:   time.Now,
	}
	s.applyLocked(cfg)
	return s
}

// Apply updates pipeline knobs at runtime.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.cfg = cfg
	// Burst = rate per sec, so a raid-sized spike doesn't stall the worker.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	queue := s.queue
	s.mu.Unlock()

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in notify worker", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.worker(queue)
	}()
}

// Stop blocks new notifications, drains what is queued, and waits for the
// worker bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.mu.Unlock()

	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
}

// Notify enqueues a notification without blocking. A stopped service or a
// full queue returns an error; callers log and move on.
func (s *Service) Notify(n Notification) error {
	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	window := s.cfg.DedupWindow
	s.mu.Unlock()

	if q == nil || !accepting {
		return ErrStopped
	}
	if window > 0 && n.Tag != "" && s.suppressed(n.Tag, window) {
		s.log.Debug("notification suppressed by dedup window", logx.String("tag", n.Tag))
		return nil
	}

	select {
	case q <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) suppressed(tag string, window time.Duration) bool {
	now := s.now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[tag]; ok && now.Before(until) {
		return true
	}
	s.dedup[tag] = now.Add(window)
	// Opportunistic cleanup keeps the map from growing with per-viewer tags.
	if len(s.dedup) > 2048 {
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
	}
	return false
}

func (s *Service) worker(queue <-chan Notification) {
	for n := range queue {
		s.mu.Lock()
		lim := s.limiter
		sinks := s.sinks
		ctx := s.runCtx
		s.mu.Unlock()

		if err := lim.Wait(ctx); err != nil {
			// Shutdown raced a pending send; remaining items are dropped.
			return
		}
		for _, sink := range sinks {
			// One attempt per sink. A failed render is logged and forgotten.
			if err := sink.Send(ctx, n); err != nil {
				s.log.Warn("notification send failed",
					logx.String("sink", sink.Name()), logx.String("tag", n.Tag), logx.Err(err))
			} else {
				s.log.Debug("notification sent",
					logx.String("sink", sink.Name()), logx.String("tag", n.Tag), logx.String("title", n.Title))
			}
		}
	}
}
