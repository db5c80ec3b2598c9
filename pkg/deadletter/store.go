/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package deadletter is a local sqlite spill for payloads whose primary
// write to mongo was abandoned. It keeps the data recoverable on the node
// even while the database is unreachable.
package deadletter

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS dead_letters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	payload BLOB NOT NULL,
	stored_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	replayed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_kind ON dead_letters(kind, replayed);`

// Entry is one spilled payload.
type Entry struct {
	ID      int64
	Kind    string
	Key     string
	Payload []byte
}

// Store wraps the sqlite spill file.
type Store struct {
	db *sql.DB
}

// Open creates the spill file and its schema, creating directories as
// needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "unable to create dead letter directory")
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open dead letter store")
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "unable to create dead letter schema")
	}

	log.WithFields(log.Fields{
		"Method": "deadletter.Open",
		"Path":   path,
	}).Info("dead letter store ready")
	return &Store{db: db}, nil
}

// Close releases the underlying handle.
func (store *Store) Close() error {
	if store.db == nil {
		return nil
	}
	return store.db.Close()
}

// Store spills one payload.
func (store *Store) Store(kind string, key string, payload []byte) error {
	metrics.GetOrRegisterGaugeCollection(`DeadLetter.Store.Stored`, nil).Add(1)
	_, err := store.db.Exec(
		`INSERT INTO dead_letters (kind, key, payload) VALUES (?, ?, ?)`,
		kind, key, payload)
	if err != nil {
		return errors.Wrap(err, "unable to insert dead letter")
	}
	return nil
}

// PendingByKind lists spilled payloads that have not been replayed yet.
func (store *Store) PendingByKind(kind string, limit int) ([]Entry, error) {
	rows, err := store.db.Query(
		`SELECT id, kind, key, payload FROM dead_letters WHERE kind = ? AND replayed = 0 ORDER BY id LIMIT ?`,
		kind, limit)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query dead letters")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.Key, &entry.Payload); err != nil {
			return nil, errors.Wrap(err, "unable to scan dead letter")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkReplayed flags one entry as successfully written to the primary store.
func (store *Store) MarkReplayed(id int64) error {
	_, err := store.db.Exec(`UPDATE dead_letters SET replayed = 1 WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "unable to mark dead letter replayed")
	}
	return nil
}

// PendingCount reports how many entries still await replay.
func (store *Store) PendingCount() (int, error) {
	var count int
	row := store.db.QueryRow(`SELECT count(*) FROM dead_letters WHERE replayed = 0`)
	if err := row.Scan(&count); err != nil {
		return 0, errors.Wrap(err, "unable to count dead letters")
	}
	return count, nil
}
