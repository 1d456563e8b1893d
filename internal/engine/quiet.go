package engine

import (
	"context"
	"fmt"
	"time"

	"heartbeat/internal/notify"
	"heartbeat/pkg/logx"
)

// Start launches the periodic quiet check. The loop is time-driven so quiet
// periods are detected even when no events arrive at all.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stopCh != nil {
		e.mu.Unlock()
		return
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh, doneCh := e.stopCh, e.doneCh
	interval := e.cfg.CheckInterval
	e.mu.Unlock()

	go func() {
		defer close(doneCh)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-e.retune:
				e.mu.Lock()
				next := e.cfg.CheckInterval
				e.mu.Unlock()
				if next != interval {
					interval = next
					t.Reset(interval)
				}
			case <-t.C:
				e.checkQuiet()
			}
		}
	}()
}

// Stop cancels the periodic task and waits for it to observe the
// cancellation, bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	stopCh, doneCh := e.stopCh, e.doneCh
	e.stopCh, e.doneCh = nil, nil
	e.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: quiet check did not stop: %w", ctx.Err())
	}
}

// checkQuiet is the ACTIVE -> QUIET-NOTIFIED transition. The way back to
// ACTIVE is implicit: any non-owner message refreshes lastActivity.
func (e *Engine) checkQuiet() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	elapsed := now.Sub(e.lastActivity)
	if e.log.Enabled(logx.LevelTrace) {
		e.log.Trace("quiet check", logx.Duration("since_last_message", elapsed))
	}
	if elapsed < e.cfg.QuietAfter {
		return
	}
	if !e.lastQuietNotice.IsZero() && now.Sub(e.lastQuietNotice) < e.cfg.QuietCooldown {
		e.log.Debug("quiet notification on cooldown",
			logx.Duration("since_last_notice", now.Sub(e.lastQuietNotice)))
		return
	}

	minutes := int(elapsed.Minutes())
	prompt := e.prompts.ChatQuiet()
	e.log.Info("chat quiet", logx.Int("minutes", minutes))
	e.send(notify.Notification{
		Title: fmt.Sprintf("Chat Quiet (%d min)", minutes),
		Body:  fmt.Sprintf("Try: %q", prompt),
		Tag:   "chat_quiet",
	})
	e.lastQuietNotice = now
}
