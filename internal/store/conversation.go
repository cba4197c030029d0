package store

import (
	"database/sql"
	"fmt"
)

// InsertConversation persists a new conversation row and fills in its
// id. Callers are expected to have checked for an existing row first;
// uniqueness per (account, peer) is an open-time invariant, not a
// schema constraint.
func (db *DB) InsertConversation(c *Conversation) error {
	if c.Kind == "" {
		c.Kind = KindDirect
	}
	if c.Options == "" {
		c.Options = "{}"
	}
	res, err := db.Exec(`
		INSERT INTO chats (account_id, peer, kind, nickname, room_password, thread_id, options, unread_count, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AccountID, c.Peer, c.Kind, c.Nickname, c.RoomPassword, c.ThreadID, c.Options, c.UnreadCount, c.LastActivity)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert conversation id: %w", err)
	}
	c.ID = id
	return nil
}

// GetConversation returns the conversation for (account, peer), or nil
// if none exists. If duplicates survived somehow, the lowest id wins.
func (db *DB) GetConversation(accountID int64, peer string) (*Conversation, error) {
	var c Conversation
	err := db.Get(&c, `
		SELECT * FROM chats WHERE account_id = ? AND peer = ?
		ORDER BY id ASC LIMIT 1`, accountID, peer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns all conversations for an account sorted by
// last activity, newest first.
func (db *DB) ListConversations(accountID int64) ([]Conversation, error) {
	var cs []Conversation
	err := db.Select(&cs, `
		SELECT * FROM chats WHERE account_id = ?
		ORDER BY last_activity DESC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return cs, nil
}

// CollapseDuplicateConversations removes any duplicate (account, peer)
// rows, keeping the lowest id of each group. Run once per account at
// activation time.
func (db *DB) CollapseDuplicateConversations(accountID int64) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM chats
		WHERE account_id = ? AND id NOT IN
			(SELECT MIN(id) FROM chats WHERE account_id = ? GROUP BY peer)`,
		accountID, accountID)
	if err != nil {
		return 0, fmt.Errorf("collapse duplicate conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("collapse duplicate conversations: %w", err)
	}
	return n, nil
}

// UpdateConversationOptions overwrites the opaque options blob.
func (db *DB) UpdateConversationOptions(id int64, options string) error {
	if _, err := db.Exec(`UPDATE chats SET options = ? WHERE id = ?`, options, id); err != nil {
		return fmt.Errorf("update conversation options: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation row. Message history is
// deleted separately (account removal cascades it, explicit close does
// not).
func (db *DB) DeleteConversation(id int64) error {
	if _, err := db.Exec(`DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// BumpActivity advances a conversation's cached last-activity
// timestamp, never moving it backwards.
func (db *DB) BumpActivity(accountID int64, peer string, ts int64) error {
	if _, err := db.Exec(`
		UPDATE chats SET last_activity = MAX(last_activity, ?)
		WHERE account_id = ? AND peer = ?`, ts, accountID, peer); err != nil {
		return fmt.Errorf("bump activity: %w", err)
	}
	return nil
}

// AdjustUnread shifts a conversation's cached unread counter by delta,
// clamped at zero.
func (db *DB) AdjustUnread(accountID int64, peer string, delta int) error {
	if _, err := db.Exec(`
		UPDATE chats SET unread_count = MAX(0, unread_count + ?)
		WHERE account_id = ? AND peer = ?`, delta, accountID, peer); err != nil {
		return fmt.Errorf("adjust unread: %w", err)
	}
	return nil
}
