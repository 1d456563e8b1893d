// Package event defines the normalized events delivered to the engine and
// the contracts an event source must satisfy. The live chat connection
// itself lives outside this module; anything that can produce these events
// can drive the engine.
package event

import "context"

// Message is a single chat line attributed to a viewer.
type Message struct {
	Identity string
	Text     string
	IsOwner  bool // true when the channel owner is speaking
}

// Raid announces an incoming raid from another channel.
type Raid struct {
	Raider      string
	ViewerCount int
}

// WatchStreak is a viewer sharing their consecutive-stream watch streak.
type WatchStreak struct {
	Identity    string
	StreakCount int
}

// Handler consumes normalized events. Implementations must tolerate
// malformed or partial events; a bad event is dropped, never fatal.
type Handler interface {
	OnMessage(ctx context.Context, m Message)
	OnRaid(ctx context.Context, r Raid)
	OnSubscription(ctx context.Context, s Subscription)
	OnWatchStreak(ctx context.Context, w WatchStreak)
}

// Source delivers events to a Handler until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, h Handler) error
}
