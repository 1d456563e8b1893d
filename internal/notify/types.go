// Package notify carries notification requests from the engine to the
// operator-facing sinks. Delivery is fire-and-forget: one attempt per sink,
// no retries, and a full queue drops rather than blocks the engine.
package notify

import (
	"context"
	"time"
)

// Notification is a rendering-ready request for the operator's attention.
//
// Tag is stable per notification category (e.g. "chat_quiet", "raid",
// "viewer_<identity>") so a presentation layer may coalesce or replace.
type Notification struct {
	Title string
	Body  string
	Tag   string
}

// Sink renders a notification to the operator.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Config controls the async pipeline.
type Config struct {
	QueueSize   int           // default 128
	RatePerSec  int           // default 3
	DedupWindow time.Duration // 0 disables tag-based suppression
}
