// Package store owns the durable layer: accounts, conversations and
// message history in a single per-profile SQLite database. All
// in-memory indexes elsewhere in the runtime are caches rebuilt from
// these rows.
package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Default temporal deduplication windows for message appends. A wider
// window applies when a stanza id is available because archive replay
// can deliver the same stanza much later than the live stream did.
// Tuning constants, not protocol requirements.
const (
	DefaultDedupWindow       = 5 * time.Minute
	DefaultDedupWindowStanza = 60 * time.Minute
)

// DB wraps the SQLite connection for the app-owned conversa.db.
type DB struct {
	*sqlx.DB

	// DedupWindow and DedupWindowStanza bound the duplicate-absorption
	// windows used by AppendItem.
	DedupWindow       time.Duration
	DedupWindowStanza time.Duration
}

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas.
func Open(path string) (*DB, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return &DB{
		DB:                db,
		DedupWindow:       DefaultDedupWindow,
		DedupWindowStanza: DefaultDedupWindowStanza,
	}, nil
}
