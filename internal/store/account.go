package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertAccount persists a new account row and fills in its id.
func (db *DB) InsertAccount(a *Account) error {
	res, err := db.Exec(`
		INSERT INTO accounts (jid, credential, active, push_enabled, last_endpoint, roster_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.JID, a.Credential, a.Active, a.PushEnabled, a.LastEndpoint, a.RosterVersion, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert account id: %w", err)
	}
	a.ID = id
	return nil
}

// ListAccounts returns all configured accounts.
func (db *DB) ListAccounts() ([]Account, error) {
	var accounts []Account
	if err := db.Select(&accounts, `SELECT * FROM accounts ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// GetAccount returns an account by id, or nil if absent.
func (db *DB) GetAccount(id int64) (*Account, error) {
	var a Account
	err := db.Get(&a, `SELECT * FROM accounts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// SetAccountActive flips the active flag.
func (db *DB) SetAccountActive(id int64, active bool) error {
	if _, err := db.Exec(`UPDATE accounts SET active = ? WHERE id = ?`, active, id); err != nil {
		return fmt.Errorf("set account active: %w", err)
	}
	return nil
}

// SetAccountEndpoint persists the last known redirect endpoint.
func (db *DB) SetAccountEndpoint(id int64, endpoint string) error {
	if _, err := db.Exec(`UPDATE accounts SET last_endpoint = ? WHERE id = ?`, endpoint, id); err != nil {
		return fmt.Errorf("set account endpoint: %w", err)
	}
	return nil
}

// SetRosterVersion persists the roster version cursor.
func (db *DB) SetRosterVersion(id int64, version string) error {
	if _, err := db.Exec(`UPDATE accounts SET roster_version = ? WHERE id = ?`, version, id); err != nil {
		return fmt.Errorf("set roster version: %w", err)
	}
	return nil
}

// RecordTLSFailure stores the identity of the certificate that failed
// validation for an account, replacing any prior record.
func (db *DB) RecordTLSFailure(f *TLSFailure) error {
	_, err := db.Exec(`
		INSERT INTO tls_failures (account_id, subject, issuer, fingerprint_sha1, fingerprint_sha256, not_valid_after, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			subject = excluded.subject,
			issuer = excluded.issuer,
			fingerprint_sha1 = excluded.fingerprint_sha1,
			fingerprint_sha256 = excluded.fingerprint_sha256,
			not_valid_after = excluded.not_valid_after,
			recorded_at = excluded.recorded_at`,
		f.AccountID, f.Subject, f.Issuer, f.FingerprintSHA1, f.FingerprintSHA256, f.NotValidAfter, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record tls failure: %w", err)
	}
	return nil
}

// GetTLSFailure returns the recorded certificate failure for an
// account, or nil if there is none.
func (db *DB) GetTLSFailure(accountID int64) (*TLSFailure, error) {
	var f TLSFailure
	err := db.Get(&f, `SELECT * FROM tls_failures WHERE account_id = ?`, accountID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tls failure: %w", err)
	}
	return &f, nil
}

// DeleteAccount removes an account and everything hanging off it:
// conversations, message history, previews and any recorded
// certificate failure.
func (db *DB) DeleteAccount(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM previews WHERE message_id IN
			(SELECT id FROM chat_history WHERE account_id = ?)`, id); err != nil {
		return fmt.Errorf("delete account previews: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chat_history WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("delete account history: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chats WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("delete account conversations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM tls_failures WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("delete account tls failures: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete account row: %w", err)
	}
	return tx.Commit()
}
