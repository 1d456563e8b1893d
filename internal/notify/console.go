package notify

import (
	"context"

	"heartbeat/pkg/logx"
)

// ConsoleSink renders notifications into the operator's log stream. It is
// the default sink and never fails.
type ConsoleSink struct {
	log logx.Logger
}

func NewConsoleSink(log logx.Logger) *ConsoleSink {
	return &ConsoleSink{log: log.With(logx.String("comp", "notify"))}
}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Send(_ context.Context, n Notification) error {
	c.log.Info(n.Title, logx.String("body", n.Body), logx.String("tag", n.Tag))
	return nil
}
