// Package eventlog persists session lifecycle metadata to Postgres.
// Transcript text and audio are never written.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventSessionInit       EventType = "session_init"
	EventUpstreamConnected EventType = "upstream_connected"
	EventUpstreamReady     EventType = "upstream_ready"
	EventAudioCommitted    EventType = "audio_committed"
	EventUpstreamError     EventType = "upstream_error"
	EventSessionEnded      EventType = "session_ended"
)

const insertEvent = `INSERT INTO session_events (session_id, event_type, event_data) VALUES ($1, $2, $3)`

// DefaultWriteTimeout bounds a single asynchronous insert.
const DefaultWriteTimeout = 2 * time.Second

// ErrInvalidSessionID is returned when the session id is not a UUID.
var ErrInvalidSessionID = errors.New("eventlog: session id is not a uuid")

// execer is the subset of *pgxpool.Pool the logger needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Logger records session events. A nil *Logger, or one built without a
// pool, accepts every call and writes nothing.
type Logger struct {
	db           execer
	logger       zerolog.Logger
	writeTimeout time.Duration
	pending      sync.WaitGroup
}

// New returns a Logger writing through db. Failed background writes are
// reported on logger.
func New(db *pgxpool.Pool, logger zerolog.Logger) *Logger {
	if db == nil {
		return newLogger(nil, logger)
	}
	return newLogger(db, logger)
}

func newLogger(db execer, logger zerolog.Logger) *Logger {
	return &Logger{
		db:           db,
		logger:       logger.With().Str("component", "eventlog").Logger(),
		writeTimeout: DefaultWriteTimeout,
	}
}

func (l *Logger) enabled() bool {
	return l != nil && l.db != nil
}

// Log inserts one event and returns the database error, if any.
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if !l.enabled() || sessionID == "" {
		return nil
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	payload := []byte("{}")
	if len(data) > 0 {
		b, err := json.Marshal(data)
		if err != nil {
			l.logger.Debug().Err(err).Str("eventType", string(eventType)).Msg("eventlog: dropping unencodable event data")
		} else {
			payload = b
		}
	}

	if _, err := l.db.Exec(ctx, insertEvent, sessionID, string(eventType), payload); err != nil {
		return fmt.Errorf("insert %s: %w", eventType, err)
	}
	return nil
}

// LogAsync inserts the event in the background. Failures are logged, not
// returned; the relay never waits on the database.
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if !l.enabled() || sessionID == "" {
		return
	}

	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
		defer cancel()
		if err := l.Log(ctx, sessionID, eventType, data); err != nil {
			l.logger.Warn().Err(err).
				Str("sessionId", sessionID).
				Str("eventType", string(eventType)).
				Msg("eventlog: write failed")
		}
	}()
}

// Wait blocks until background writes finish or ctx is done. It reports
// whether every write finished.
func (l *Logger) Wait(ctx context.Context) bool {
	if !l.enabled() {
		return true
	}
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
