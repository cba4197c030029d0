package store

import (
	"database/sql"
	"fmt"
)

// AttachPreview stores or replaces the cached preview for a message.
func (db *DB) AttachPreview(p *Preview) error {
	_, err := db.Exec(`
		INSERT INTO previews (message_id, url, title, image_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			image_path = excluded.image_path`,
		p.MessageID, p.URL, p.Title, p.ImagePath)
	if err != nil {
		return fmt.Errorf("attach preview: %w", err)
	}
	return nil
}

// GetPreview returns the preview for a message, or nil if absent.
func (db *DB) GetPreview(messageID int64) (*Preview, error) {
	var p Preview
	err := db.Get(&p, `SELECT * FROM previews WHERE message_id = ?`, messageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preview: %w", err)
	}
	return &p, nil
}
