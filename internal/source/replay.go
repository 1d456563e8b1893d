// Package source provides event sources that drive the engine. The only
// built-in source is a JSONL replay used for development and soak testing;
// live platform connections implement event.Source elsewhere.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"heartbeat/internal/event"
	"heartbeat/pkg/logx"
)

// replayLine is one JSONL record. Type selects which fields matter; the
// rest stay zero.
type replayLine struct {
	Type string `json:"type"` // message, raid, subscription, watch_streak

	// delay before delivering this event, a Go duration string; empty
	// delivers immediately.
	Delay string `json:"delay,omitempty"`

	Identity string `json:"identity,omitempty"`
	Text     string `json:"text,omitempty"`
	IsOwner  bool   `json:"is_owner,omitempty"`

	ViewerCount int `json:"viewer_count,omitempty"`
	StreakCount int `json:"streak_count,omitempty"`

	Kind       string `json:"kind,omitempty"` // subscription kind
	Plan       string `json:"plan,omitempty"`
	Months     int    `json:"months,omitempty"`
	Gifter     string `json:"gifter,omitempty"`
	GiftCount  int    `json:"gift_count,omitempty"`
	Streak     int    `json:"streak,omitempty"`
	TotalGifts int    `json:"total_gifts,omitempty"`
}

// Replay reads a JSONL event script and delivers it to a handler, honoring
// per-line delays. Blank lines and lines starting with '#' are skipped;
// malformed lines are logged and skipped, never fatal.
type Replay struct {
	path string
	log  logx.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewReplay(path string, log logx.Logger) *Replay {
	return &Replay{
		path: path,
		log:  log.With(logx.String("comp", "replay")),
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Run delivers the script in order and returns when it is exhausted or ctx
// is cancelled. A path of "-" reads the script from stdin.
func (r *Replay) Run(ctx context.Context, h event.Handler) error {
	var in io.Reader = os.Stdin
	if r.path != "-" {
		f, err := os.Open(r.path)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		defer f.Close()
		in = f
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		var line replayLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			r.log.Warn("replay line skipped", logx.Int("line", lineNo), logx.Err(err))
			continue
		}

		if line.Delay != "" {
			d, err := time.ParseDuration(line.Delay)
			if err != nil || d < 0 {
				r.log.Warn("replay line has bad delay, delivering immediately",
					logx.Int("line", lineNo), logx.String("delay", line.Delay))
			} else if err := r.sleep(ctx, d); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		r.deliver(ctx, h, line, lineNo)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	r.log.Info("replay finished", logx.Int("lines", lineNo))
	return nil
}

func (r *Replay) deliver(ctx context.Context, h event.Handler, line replayLine, lineNo int) {
	switch strings.ToLower(line.Type) {
	case "message":
		h.OnMessage(ctx, event.Message{
			Identity: line.Identity,
			Text:     line.Text,
			IsOwner:  line.IsOwner,
		})
	case "raid":
		h.OnRaid(ctx, event.Raid{
			Raider:      line.Identity,
			ViewerCount: line.ViewerCount,
		})
	case "watch_streak":
		h.OnWatchStreak(ctx, event.WatchStreak{
			Identity:    line.Identity,
			StreakCount: line.StreakCount,
		})
	case "subscription":
		sub, err := event.ParseSubscription(event.SubWire{
			Kind:       line.Kind,
			Identity:   line.Identity,
			Plan:       line.Plan,
			Months:     line.Months,
			Gifter:     line.Gifter,
			GiftCount:  line.GiftCount,
			Streak:     line.Streak,
			TotalGifts: line.TotalGifts,
		})
		if err != nil {
			r.log.Warn("replay subscription skipped", logx.Int("line", lineNo), logx.Err(err))
			return
		}
		h.OnSubscription(ctx, sub)
	default:
		r.log.Warn("replay line has unknown type",
			logx.Int("line", lineNo), logx.String("type", line.Type))
	}
}
