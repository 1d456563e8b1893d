// Package store persists per-viewer attendance and engagement history.
//
// Records are keyed by the lowercased viewer identity. A session id is
// minted once per Open; a viewer whose stored session id differs from the
// active one is attending a new broadcast, which is the only signal used
// for session-boundary detection (never wall-clock gaps).
package store

import (
	"context"
	"errors"
	"time"
)

// ViewerRecord is one viewer's persisted history.
type ViewerRecord struct {
	Identity     string
	FirstSeen    time.Time
	LastSeen     time.Time
	MessageCount int
	StreamCount  int
	SessionID    string // session the viewer was last recorded in
}

// MessageResult reports what RecordMessage observed and did.
//
// DaysAway is measured against the record's last_seen BEFORE this message
// updated it; callers rely on the pre-update gap.
type MessageResult struct {
	Record             ViewerRecord
	IsNewViewer        bool
	IsReturningRegular bool
	DaysAway           int
}

// Store is the persistence contract the engine depends on.
type Store interface {
	// Get looks a viewer up case-insensitively. A missing viewer is
	// (zero, false, nil), not an error.
	Get(ctx context.Context, identity string) (ViewerRecord, bool, error)

	// RecordMessage is the single mutating entry point, called once per
	// attributed chat message. See MessageResult for the returned facts.
	RecordMessage(ctx context.Context, identity string) (MessageResult, error)

	// Count returns the total number of distinct viewers ever recorded.
	Count(ctx context.Context) (int, error)

	// Regulars returns viewers with at least minStreams attended sessions,
	// ordered by stream count descending. Reporting only; rule evaluation
	// never calls this.
	Regulars(ctx context.Context, minStreams int) ([]ViewerRecord, error)

	Close() error
}

var ErrEmptyIdentity = errors.New("store: empty identity")
