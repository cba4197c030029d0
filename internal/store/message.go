package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrDuplicate is returned by AppendItem when the candidate message is
// absorbed by the temporal deduplication rule. It marks an expected
// condition, not a storage failure.
var ErrDuplicate = errors.New("duplicate message absorbed")

// AppendOutcome describes how AppendItem handled a candidate.
type AppendOutcome int

const (
	// AppendInserted means a new row was written.
	AppendInserted AppendOutcome = iota
	// AppendCorrelated means a delivery/error report was folded into
	// an existing outgoing row's state instead of inserting.
	AppendCorrelated
)

// AppendParams carries everything needed to append one history item.
type AppendParams struct {
	AccountID   int64
	Peer        string
	State       MessageState
	Author      string
	AuthorNick  string
	Timestamp   int64 // unix ms
	StanzaID    string
	ItemType    string
	Body        string
	Encrypted   bool
	Fingerprint string
	ErrorText   string
}

// AppendItem appends one message to the history, applying receipt
// correlation and temporal deduplication first.
//
// Delivery and error reports (outgoing-delivered, outgoing-read,
// outgoing-error with a stanza id) that match a prior outgoing row are
// folded into that row's state instead of inserting. Otherwise, if a
// row for the same (account, peer, direction, item type) exists within
// the dedup window around the candidate timestamp and shares at least
// one available identifier (stanza id, payload, or author nickname),
// the candidate is rejected with ErrDuplicate. The wide window absorbs
// duplicate delivery across stream, archive replay and carbon copies,
// where stanza ids are not always present or stable.
//
// On insert the stored message is returned with its new id.
func (db *DB) AppendItem(p AppendParams) (*Message, AppendOutcome, error) {
	if p.ItemType == "" {
		p.ItemType = "text"
	}

	if p.StanzaID != "" && isReportState(p.State) {
		if msg, ok, err := db.correlateReport(p); err != nil {
			return nil, 0, err
		} else if ok {
			return msg, AppendCorrelated, nil
		}
	}

	window := db.DedupWindow
	if p.StanzaID != "" {
		window = db.DedupWindowStanza
	}
	var existing int64
	err := db.QueryRow(`
		SELECT id FROM chat_history
		WHERE account_id = ? AND peer = ? AND state % 2 = ? AND item_type = ?
		  AND timestamp BETWEEN ? AND ?
		  AND ((? != '' AND stanza_id = ?)
		    OR (? != '' AND body = ?)
		    OR (? != '' AND author_nick = ?))
		LIMIT 1`,
		p.AccountID, p.Peer, int(p.State)%2, p.ItemType,
		p.Timestamp-window.Milliseconds(), p.Timestamp+window.Milliseconds(),
		p.StanzaID, p.StanzaID,
		p.Body, p.Body,
		p.AuthorNick, p.AuthorNick,
	).Scan(&existing)
	if err == nil {
		return nil, 0, fmt.Errorf("%w: matches row %d", ErrDuplicate, existing)
	}
	if err != sql.ErrNoRows {
		return nil, 0, fmt.Errorf("dedup check: %w", err)
	}

	res, err := db.Exec(`
		INSERT INTO chat_history (account_id, peer, author, author_nick, timestamp, state, item_type, body, stanza_id, encrypted, fingerprint, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AccountID, p.Peer, p.Author, p.AuthorNick, p.Timestamp, p.State, p.ItemType,
		p.Body, p.StanzaID, p.Encrypted, p.Fingerprint, p.ErrorText)
	if err != nil {
		return nil, 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, 0, fmt.Errorf("insert message id: %w", err)
	}

	msg := &Message{
		ID:          id,
		AccountID:   p.AccountID,
		Peer:        p.Peer,
		Author:      p.Author,
		AuthorNick:  p.AuthorNick,
		Timestamp:   p.Timestamp,
		State:       p.State,
		ItemType:    p.ItemType,
		Body:        p.Body,
		StanzaID:    p.StanzaID,
		Encrypted:   p.Encrypted,
		Fingerprint: p.Fingerprint,
		ErrorText:   p.ErrorText,
	}
	return msg, AppendInserted, nil
}

func isReportState(s MessageState) bool {
	switch s {
	case StateOutgoingDelivered, StateOutgoingRead, StateOutgoingError:
		return true
	}
	return false
}

// correlateReport folds a delivery/error report into the prior
// outgoing message carrying the same stanza id, if one exists.
func (db *DB) correlateReport(p AppendParams) (*Message, bool, error) {
	var msg Message
	err := db.Get(&msg, `
		SELECT * FROM chat_history
		WHERE account_id = ? AND peer = ? AND stanza_id = ? AND state % 2 = 1
		ORDER BY id DESC LIMIT 1`,
		p.AccountID, p.Peer, p.StanzaID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("correlate report: %w", err)
	}
	// A read marker supersedes delivered; never downgrade read back to
	// delivered.
	if msg.State == StateOutgoingRead && p.State == StateOutgoingDelivered {
		return &msg, true, nil
	}
	if _, err := db.Exec(`UPDATE chat_history SET state = ?, error_text = ? WHERE id = ?`,
		p.State, p.ErrorText, msg.ID); err != nil {
		return nil, false, fmt.Errorf("correlate report: %w", err)
	}
	msg.State = p.State
	msg.ErrorText = p.ErrorText
	return &msg, true, nil
}

// UpdateItemState transitions a message's state. When from is non-nil
// the update applies only if the current state equals *from; a
// mismatch is a lost race and reported as ok=false, not an error.
// A non-nil ts also overwrites the stored timestamp.
func (db *DB) UpdateItemState(id int64, from *MessageState, to MessageState, ts *int64) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch {
	case from != nil && ts != nil:
		res, err = db.Exec(`UPDATE chat_history SET state = ?, timestamp = ? WHERE id = ? AND state = ?`, to, *ts, id, *from)
	case from != nil:
		res, err = db.Exec(`UPDATE chat_history SET state = ? WHERE id = ? AND state = ?`, to, id, *from)
	case ts != nil:
		res, err = db.Exec(`UPDATE chat_history SET state = ?, timestamp = ? WHERE id = ?`, to, *ts, id)
	default:
		res, err = db.Exec(`UPDATE chat_history SET state = ? WHERE id = ?`, to, id)
	}
	if err != nil {
		return false, fmt.Errorf("update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update state: %w", err)
	}
	return n > 0, nil
}

// MarkAsRead transitions every unread row of a conversation to its
// read counterpart in one bulk update, optionally bounded to rows with
// timestamp <= before. Returns the number of rows affected.
func (db *DB) MarkAsRead(accountID int64, peer string, before *int64) (int64, error) {
	query := `
		UPDATE chat_history
		SET state = CASE state
			WHEN ? THEN ?
			WHEN ? THEN ?
			WHEN ? THEN ?
		END
		WHERE account_id = ? AND peer = ? AND state IN (?, ?, ?)`
	args := []any{
		StateIncomingUnread, StateIncoming,
		StateIncomingErrorUnread, StateIncomingError,
		StateOutgoingErrorUnread, StateOutgoingError,
		accountID, peer,
		StateIncomingUnread, StateIncomingErrorUnread, StateOutgoingErrorUnread,
	}
	if before != nil {
		query += ` AND timestamp <= ?`
		args = append(args, *before)
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark as read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark as read: %w", err)
	}
	return n, nil
}

// History returns the most recent limit messages for a conversation,
// newest first. When beforeID refers to an existing message, the page
// starts below it: the offset is the count of rows strictly newer than
// that message's timestamp, so the returned window stays stable while
// new messages keep arriving.
func (db *DB) History(accountID int64, peer string, beforeID *int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	offset := 0
	if beforeID != nil {
		var ts int64
		err := db.QueryRow(`SELECT timestamp FROM chat_history WHERE id = ?`, *beforeID).Scan(&ts)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("history anchor: %w", err)
		}
		if err == nil {
			var newer int
			if err := db.QueryRow(`
				SELECT COUNT(*) FROM chat_history
				WHERE account_id = ? AND peer = ? AND timestamp > ?`,
				accountID, peer, ts).Scan(&newer); err != nil {
				return nil, fmt.Errorf("history offset: %w", err)
			}
			offset = newer
		}
	}

	var msgs []Message
	err := db.Select(&msgs, `
		SELECT * FROM chat_history
		WHERE account_id = ? AND peer = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`,
		accountID, peer, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return msgs, nil
}

// GetMessage returns a single message by id, or nil if absent.
func (db *DB) GetMessage(id int64) (*Message, error) {
	var msg Message
	err := db.Get(&msg, `SELECT * FROM chat_history WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// UnsentCount returns the number of outgoing-unsent rows for an
// account, for "N messages failed to send" reporting before suspend.
func (db *DB) UnsentCount(accountID int64) (int64, error) {
	var n int64
	err := db.QueryRow(`
		SELECT COUNT(*) FROM chat_history WHERE account_id = ? AND state = ?`,
		accountID, StateOutgoingUnsent).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unsent count: %w", err)
	}
	return n, nil
}

// DeleteHistory removes all messages of one conversation together with
// any previews pinned to them.
func (db *DB) DeleteHistory(accountID int64, peer string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM previews WHERE message_id IN
			(SELECT id FROM chat_history WHERE account_id = ? AND peer = ?)`,
		accountID, peer); err != nil {
		return fmt.Errorf("delete history previews: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM chat_history WHERE account_id = ? AND peer = ?`,
		accountID, peer); err != nil {
		return fmt.Errorf("delete history rows: %w", err)
	}
	return tx.Commit()
}

// DeleteMessage removes one message row and its preview.
func (db *DB) DeleteMessage(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM previews WHERE message_id = ?`, id); err != nil {
		return fmt.Errorf("delete message preview: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chat_history WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message row: %w", err)
	}
	return tx.Commit()
}
