// Package diagdb stores diagnostics in SQLite: UX exceptions paired into
// detected/resolved rows, session transitions, and throttled cloud stats.
package diagdb

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/depthbridge/internal/diagnostics"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// DB is the diagnostics database.
type DB struct {
	*sql.DB

	mu        sync.RWMutex
	sessionID string
}

// Open opens the database at path, applies pragmas and migrates the schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer avoids SQLITE_BUSY between the monitor and session hooks.
	sqlDB.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	db := &DB{DB: sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	diagf("opened %s", path)
	return db, nil
}

// SetSession tags subsequent rows with the connection ID.
func (db *DB) SetSession(id string) {
	db.mu.Lock()
	db.sessionID = id
	db.mu.Unlock()
}

func (db *DB) session() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.sessionID
}

// RecordException inserts a detection or closes the open detection of the
// same type.
func (db *DB) RecordException(e diagnostics.Exception) error {
	if e.Status == diagnostics.StatusDetected {
		_, err := db.Exec(`
			INSERT INTO ux_events (event_id, session_id, exception_type, detected_at, detected_unix, detected_value)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID.String(), db.session(), e.Type.Key(), e.Timestamp, e.At.UnixNano(), e.Value)
		return err
	}
	res, err := db.Exec(`
		UPDATE ux_events SET resolved_at = ?, resolved_unix = ?
		WHERE exception_type = ? AND resolved_at IS NULL`,
		e.Timestamp, e.At.UnixNano(), e.Type.Key())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		opsf("resolved %s with no open detection", e.Type.Key())
	}
	return nil
}

// RecordCloudStats stores one throttled cloud summary.
func (db *DB) RecordCloudStats(s diagnostics.CloudStats) error {
	_, err := db.Exec(`
		INSERT INTO cloud_stats (session_id, sample_time, points, average_depth, unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		db.session(), s.Timestamp, s.Points, s.AverageDepth, s.At.UnixNano())
	return err
}

// RecordSessionEvent stores a session state transition.
func (db *DB) RecordSessionEvent(sessionID, state string, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO session_events (session_id, state, unix_nanos) VALUES (?, ?, ?)`,
		sessionID, state, at.UnixNano())
	return err
}

// UXEvent is one stored exception.
type UXEvent struct {
	EventID       string     `json:"event_id"`
	SessionID     string     `json:"session_id"`
	ExceptionType string     `json:"exception_type"`
	DetectedAt    float64    `json:"detected_at"`
	Detected      time.Time  `json:"detected"`
	Value         float64    `json:"value"`
	ResolvedAt    *float64   `json:"resolved_at,omitempty"`
	Resolved      *time.Time `json:"resolved,omitempty"`
}

// Open reports whether the exception has not been resolved.
func (e UXEvent) Open() bool { return e.ResolvedAt == nil }

// RecentUXEvents returns up to limit exceptions, newest first.
func (db *DB) RecentUXEvents(limit int) ([]UXEvent, error) {
	rows, err := db.Query(`
		SELECT event_id, session_id, exception_type, detected_at, detected_unix, detected_value, resolved_at, resolved_unix
		FROM ux_events ORDER BY detected_unix DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []UXEvent
	for rows.Next() {
		var (
			e            UXEvent
			detectedUnix int64
			resolvedAt   sql.NullFloat64
			resolvedUnix sql.NullInt64
		)
		if err := rows.Scan(&e.EventID, &e.SessionID, &e.ExceptionType, &e.DetectedAt,
			&detectedUnix, &e.Value, &resolvedAt, &resolvedUnix); err != nil {
			return nil, err
		}
		e.Detected = time.Unix(0, detectedUnix).UTC()
		if resolvedAt.Valid {
			v := resolvedAt.Float64
			e.ResolvedAt = &v
		}
		if resolvedUnix.Valid {
			r := time.Unix(0, resolvedUnix.Int64).UTC()
			e.Resolved = &r
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SessionEvent is one stored session transition.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	At        time.Time `json:"at"`
}

// SessionEvents returns up to limit transitions, oldest first.
func (db *DB) SessionEvents(limit int) ([]SessionEvent, error) {
	rows, err := db.Query(`
		SELECT session_id, state, unix_nanos FROM (
			SELECT id, session_id, state, unix_nanos FROM session_events ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var nanos int64
		if err := rows.Scan(&e.SessionID, &e.State, &nanos); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, nanos).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// CloudStats returns up to limit throttled cloud summaries, oldest first.
func (db *DB) CloudStats(limit int) ([]diagnostics.CloudStats, error) {
	rows, err := db.Query(`
		SELECT sample_time, points, average_depth, unix_nanos FROM (
			SELECT id, sample_time, points, average_depth, unix_nanos FROM cloud_stats ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []diagnostics.CloudStats
	for rows.Next() {
		var s diagnostics.CloudStats
		var nanos int64
		if err := rows.Scan(&s.Timestamp, &s.Points, &s.AverageDepth, &nanos); err != nil {
			return nil, err
		}
		s.At = time.Unix(0, nanos).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
