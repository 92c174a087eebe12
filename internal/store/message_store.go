package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// FindMessage looks up a message by its unique id. It returns nil and no
// error when no such message exists.
func (s *SQLiteStore) FindMessage(
	ctx context.Context,
	uniqueID string,
) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m, "SELECT * FROM messages WHERE unique_id = ?", uniqueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding message %s: %w", uniqueID, err)
	}
	return &m, nil
}

// GetMessage retrieves a single message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m, "SELECT * FROM messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %d: %w", id, err)
	}
	return &m, nil
}

// InsertMessage inserts an unfinalized message row and returns its ID.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m model.Message) (int64, error) {
	if strings.TrimSpace(m.UniqueID) == "" {
		return 0, fmt.Errorf("message unique id must not be empty")
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (unique_id, message_id, date, subject, sender, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.UniqueID, m.MessageID, m.Date.UTC(), m.Subject, m.Sender, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting message %s: %w", m.UniqueID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading message id: %w", err)
	}
	return id, nil
}

// FinalizeMessage sets the raw-content reference of an unfinalized message
// and stores its recipients, parts and attachments in the same
// transaction. It reports false, writing nothing, when the message was
// already finalized by another caller.
func (s *SQLiteStore) FinalizeMessage(
	ctx context.Context,
	id int64,
	content MessageContent,
) (bool, error) {
	if content.RawKey == "" {
		return false, fmt.Errorf("finalizing message %d: empty raw content key", id)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE messages SET raw_content = ? WHERE id = ? AND raw_content IS NULL",
		content.RawKey, id)
	if err != nil {
		return false, fmt.Errorf("finalizing message %d: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, nil
	}

	if len(content.Recipients) > 0 {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT OR IGNORE INTO recipients (message_id, type, address, name)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return false, fmt.Errorf("preparing recipient insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range content.Recipients {
			if _, err := stmt.ExecContext(ctx, id, r.Type, strings.ToLower(r.Address), r.Name); err != nil {
				return false, fmt.Errorf("adding recipient %s to message %d: %w", r.Address, id, err)
			}
		}
	}

	for _, p := range content.Parts {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO parts (message_id, content, html_content) VALUES (?, ?, ?)",
			id, p.Content, p.HTMLContent)
		if err != nil {
			return false, fmt.Errorf("adding part to message %d: %w", id, err)
		}
	}

	for _, a := range content.Attachments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (message_id, blob_key, name, content_type, size)
			VALUES (?, ?, ?, ?, ?)`,
			id, a.BlobKey, a.Name, a.ContentType, a.Size)
		if err != nil {
			return false, fmt.Errorf("adding attachment %q to message %d: %w", a.Name, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing message %d: %w", id, err)
	}
	return true, nil
}

// DeleteMessage removes a message. Cascades to relations and placements.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting message %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeOrphans deletes finalized messages that have no placement left and
// returns how many were removed. Unfinalized rows are left for the next
// storage attempt to complete.
func (s *SQLiteStore) PurgeOrphans(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE raw_content IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM places WHERE places.message_id = messages.id)`)
	if err != nil {
		return 0, fmt.Errorf("purging orphaned messages: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// GetRecipients returns a message's recipients grouped by type.
func (s *SQLiteStore) GetRecipients(
	ctx context.Context,
	messageID int64,
) ([]model.Recipient, error) {
	var rs []model.Recipient
	err := s.db.SelectContext(ctx, &rs, `
		SELECT * FROM recipients WHERE message_id = ?
		ORDER BY CASE type WHEN 'to' THEN 0 WHEN 'cc' THEN 1 ELSE 2 END, address`,
		messageID)
	if err != nil {
		return nil, fmt.Errorf("querying recipients of message %d: %w", messageID, err)
	}
	return rs, nil
}

// GetParts returns a message's text parts in storage order.
func (s *SQLiteStore) GetParts(ctx context.Context, messageID int64) ([]model.Part, error) {
	var parts []model.Part
	err := s.db.SelectContext(ctx, &parts,
		"SELECT * FROM parts WHERE message_id = ? ORDER BY id", messageID)
	if err != nil {
		return nil, fmt.Errorf("querying parts of message %d: %w", messageID, err)
	}
	return parts, nil
}

// GetAttachments returns a message's attachments in storage order.
func (s *SQLiteStore) GetAttachments(
	ctx context.Context,
	messageID int64,
) ([]model.Attachment, error) {
	var atts []model.Attachment
	err := s.db.SelectContext(ctx, &atts,
		"SELECT * FROM attachments WHERE message_id = ? ORDER BY id", messageID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments of message %d: %w", messageID, err)
	}
	return atts, nil
}
