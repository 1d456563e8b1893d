package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"heartbeat/internal/notify"
	"heartbeat/internal/store"
	"heartbeat/pkg/logx"
)

// DigestConfig controls the scheduled regulars digest.
type DigestConfig struct {
	Enabled    bool
	Schedule   string // cron expression
	MinStreams int    // attendance floor for "regular"
	TopN       int    // how many names to include, default 5
}

// Digest periodically summarizes the viewer history (total tracked viewers,
// top regulars by attendance) into a single notification. Pure reporting:
// it only reads the store and never touches engine rule state.
type Digest struct {
	cfg      DigestConfig
	store    store.Store
	notifier Notifier
	log      logx.Logger

	cron *cron.Cron
}

func NewDigest(cfg DigestConfig, st store.Store, n Notifier, log logx.Logger) (*Digest, error) {
	if cfg.MinStreams <= 0 {
		cfg.MinStreams = 3
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	d := &Digest{
		cfg:      cfg,
		store:    st,
		notifier: n,
		log:      log.With(logx.String("comp", "digest")),
	}
	if !cfg.Enabled {
		return d, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, d.run); err != nil {
		return nil, fmt.Errorf("digest: bad schedule %q: %w", cfg.Schedule, err)
	}
	d.cron = c
	return d, nil
}

func (d *Digest) Start() {
	if d.cron == nil {
		return
	}
	d.cron.Start()
	d.log.Info("digest scheduled", logx.String("schedule", d.cfg.Schedule))
}

// Stop halts the schedule and waits for a running digest, bounded by ctx.
func (d *Digest) Stop(ctx context.Context) {
	if d.cron == nil {
		return
	}
	done := d.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (d *Digest) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	total, err := d.store.Count(ctx)
	if err != nil {
		d.log.Warn("digest skipped, count failed", logx.Err(err))
		return
	}
	regs, err := d.store.Regulars(ctx, d.cfg.MinStreams)
	if err != nil {
		d.log.Warn("digest skipped, regulars query failed", logx.Err(err))
		return
	}

	if err := d.notifier.Notify(d.render(total, regs)); err != nil {
		d.log.Warn("digest notification dropped", logx.Err(err))
	}
}

func (d *Digest) render(total int, regs []store.ViewerRecord) notify.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%d viewers tracked, %d regulars", total, len(regs))
	if len(regs) > 0 {
		b.WriteString(". Top: ")
		n := min(len(regs), d.cfg.TopN)
		parts := make([]string, 0, n)
		for _, r := range regs[:n] {
			parts = append(parts, fmt.Sprintf("%s (%d)", r.Identity, r.StreamCount))
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	return notify.Notification{
		Title: "Community digest",
		Body:  b.String(),
		Tag:   "digest",
	}
}
