package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"heartbeat/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the SQLite-backed store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default

	// Regular-viewer gates used by RecordMessage.
	RegularStreams  int
	RegularAwayDays int
}

// SQLite is the durable viewer history store.
type SQLite struct {
	db  *sql.DB
	log logx.Logger

	sessionID string

	// gates guards the regular-viewer thresholds, which config reloads may
	// change while RecordMessage is running.
	gates           sync.RWMutex
	regularStreams  int
	regularAwayDays int

	now func() time.Time
}

var _ Store = (*SQLite)(nil)

// Open creates (or opens) the database file, applies migrations, and mints
// a fresh session id. Failures here are fatal to startup.
func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLite{
		db:              db,
		log:             log,
		sessionID:       uuid.NewString(),
		regularStreams:  cfg.RegularStreams,
		regularAwayDays: cfg.RegularAwayDays,
		now:             time.Now,
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	s.log.Debug("viewer store opened", logx.String("path", cfg.Path), logx.String("session", s.sessionID))
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// SessionID returns the active broadcast session id.
func (s *SQLite) SessionID() string { return s.sessionID }

// SetRegularThresholds updates the regular-viewer gates at runtime. Takes
// effect on the next RecordMessage.
func (s *SQLite) SetRegularThresholds(streams, awayDays int) {
	s.gates.Lock()
	s.regularStreams = streams
	s.regularAwayDays = awayDays
	s.gates.Unlock()
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Normalize lowercases a viewer identity into its storage key.
func Normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func (s *SQLite) Get(ctx context.Context, identity string) (ViewerRecord, bool, error) {
	key := Normalize(identity)
	if key == "" {
		return ViewerRecord{}, false, ErrEmptyIdentity
	}
	return s.get(ctx, key)
}

func (s *SQLite) get(ctx context.Context, key string) (ViewerRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identity, first_seen, last_seen, message_count, stream_count, current_session_id
		 FROM viewers WHERE identity = ?`, key)
	rec, err := scanViewer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ViewerRecord{}, false, nil
	}
	if err != nil {
		return ViewerRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLite) RecordMessage(ctx context.Context, identity string) (MessageResult, error) {
	key := Normalize(identity)
	if key == "" {
		return MessageResult{}, ErrEmptyIdentity
	}
	now := s.now()

	existing, found, err := s.get(ctx, key)
	if err != nil {
		return MessageResult{}, err
	}

	if !found {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO viewers (identity, first_seen, last_seen, message_count, stream_count, current_session_id)
			 VALUES (?, ?, ?, 1, 1, ?)`,
			key, fmtTime(now), fmtTime(now), s.sessionID)
		if err != nil {
			return MessageResult{}, err
		}
		return MessageResult{
			Record: ViewerRecord{
				Identity:     key,
				FirstSeen:    now,
				LastSeen:     now,
				MessageCount: 1,
				StreamCount:  1,
				SessionID:    s.sessionID,
			},
			IsNewViewer: true,
		}, nil
	}

	// Capture the pre-update gap and attendance; the regularity check uses
	// the stream count as it stood before this session's increment.
	isNewSession := existing.SessionID != s.sessionID
	daysAway := int(now.Sub(existing.LastSeen).Hours() / 24)

	if isNewSession {
		_, err = s.db.ExecContext(ctx,
			`UPDATE viewers
			 SET last_seen = ?, message_count = message_count + 1,
			     stream_count = stream_count + 1, current_session_id = ?
			 WHERE identity = ?`,
			fmtTime(now), s.sessionID, key)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE viewers
			 SET last_seen = ?, message_count = message_count + 1
			 WHERE identity = ?`,
			fmtTime(now), key)
	}
	if err != nil {
		return MessageResult{}, err
	}

	rec := existing
	rec.LastSeen = now
	rec.MessageCount++
	if isNewSession {
		rec.StreamCount++
		rec.SessionID = s.sessionID
	}

	s.gates.RLock()
	minStreams, minAwayDays := s.regularStreams, s.regularAwayDays
	s.gates.RUnlock()
	isReturning := isNewSession &&
		daysAway >= minAwayDays &&
		existing.StreamCount >= minStreams

	return MessageResult{
		Record:             rec,
		IsReturningRegular: isReturning,
		DaysAway:           daysAway,
	}, nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM viewers`).Scan(&n)
	return n, err
}

func (s *SQLite) Regulars(ctx context.Context, minStreams int) ([]ViewerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, first_seen, last_seen, message_count, stream_count, current_session_id
		 FROM viewers WHERE stream_count >= ? ORDER BY stream_count DESC`, minStreams)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ViewerRecord
	for rows.Next() {
		rec, err := scanViewer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanViewer(sc scanner) (ViewerRecord, error) {
	var rec ViewerRecord
	var firstSeen, lastSeen string
	var session sql.NullString
	if err := sc.Scan(&rec.Identity, &firstSeen, &lastSeen, &rec.MessageCount, &rec.StreamCount, &session); err != nil {
		return ViewerRecord{}, err
	}
	var err error
	if rec.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return ViewerRecord{}, fmt.Errorf("store: bad first_seen for %s: %w", rec.Identity, err)
	}
	if rec.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return ViewerRecord{}, fmt.Errorf("store: bad last_seen for %s: %w", rec.Identity, err)
	}
	rec.SessionID = session.String
	return rec, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
