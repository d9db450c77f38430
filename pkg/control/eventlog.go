package control

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EventLog persists watchdog trips, authentication failures and session
// lifecycle transitions, so an operator can review what happened on an
// unattended server node after the fact rather than only through a live
// diagnostics feed.
type EventLog struct {
	db *sql.DB
}

// Event is a single row from the log.
type Event struct {
	ID     int64
	At     time.Time
	Kind   string
	Detail string
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      DATETIME NOT NULL,
	kind    TEXT NOT NULL,
	detail  TEXT NOT NULL
);
`

// OpenEventLog opens (creating if necessary) a SQLite-backed event log at
// path.
func OpenEventLog(path string) (*EventLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("control: open event log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("control: create event log schema: %w", err)
	}
	return &EventLog{db: db}, nil
}

func (e *EventLog) record(kind, detail string) error {
	_, err := e.db.Exec(`INSERT INTO events (at, kind, detail) VALUES (?, ?, ?)`, time.Now(), kind, detail)
	if err != nil {
		return fmt.Errorf("control: record event: %w", err)
	}
	return nil
}

// RecordWatchdogTrip logs a keying watchdog fail-safe trip (§4.5/§7).
func (e *EventLog) RecordWatchdogTrip(peer string) error {
	return e.record("watchdog_trip", peer)
}

// RecordAuthFailure logs a rejected handshake attempt (§4.2/§7).
func (e *EventLog) RecordAuthFailure(peer string) error {
	return e.record("auth_failure", peer)
}

// RecordSessionStart logs a session reaching AUTH-OK.
func (e *EventLog) RecordSessionStart(peer string) error {
	return e.record("session_start", peer)
}

// RecordSessionEnd logs a session leaving AUTH-OK, with the reason
// (idle timeout, explicit teardown, transport error, violation limit).
func (e *EventLog) RecordSessionEnd(peer, reason string) error {
	return e.record("session_end", fmt.Sprintf("%s: %s", peer, reason))
}

// Recent returns the most recent events, newest first, bounded by limit.
func (e *EventLog) Recent(limit int) ([]Event, error) {
	rows, err := e.db.Query(`SELECT id, at, kind, detail FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("control: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.At, &ev.Kind, &ev.Detail); err != nil {
			return nil, fmt.Errorf("control: scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database handle.
func (e *EventLog) Close() error {
	return e.db.Close()
}
