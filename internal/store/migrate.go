package store

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rafaelmp/conversa/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// requiredColumns lists the columns the runtime depends on. Verified
// after every upgrade regardless of which migration path was taken, so
// a stale or hand-edited database fails fast instead of at first write.
var requiredColumns = map[string][]string{
	"accounts":     {"id", "jid", "credential", "active", "push_enabled", "last_endpoint", "roster_version"},
	"chats":        {"id", "account_id", "peer", "kind", "nickname", "room_password", "thread_id", "options", "unread_count", "last_activity"},
	"chat_history": {"id", "account_id", "peer", "author", "author_nick", "timestamp", "state", "item_type", "body", "stanza_id", "encrypted", "fingerprint", "error_text"},
	"previews":     {"message_id", "url", "title", "image_path"},
	"tls_failures": {"account_id", "subject", "issuer", "fingerprint_sha1", "fingerprint_sha256"},
}

// Migrate runs all pending migrations and verifies the resulting
// schema.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if err == migrate.ErrNoChange {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	if err := db.verifySchema(); err != nil {
		return nil, err
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}

func (db *DB) verifySchema() error {
	for table, cols := range requiredColumns {
		present := make(map[string]bool)
		rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		for rows.Next() {
			var (
				cid     int
				name    string
				ctype   string
				notNull int
				dflt    any
				pk      int
			)
			if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
				_ = rows.Close()
				return fmt.Errorf("inspect table %s: %w", table, err)
			}
			present[name] = true
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		_ = rows.Close()
		for _, col := range cols {
			if !present[col] {
				return fmt.Errorf("schema check: table %s missing column %s", table, col)
			}
		}
	}
	return nil
}
