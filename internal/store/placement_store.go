package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhle/mailsync/internal/model"
)

// InsertPlacement adds a message to a folder and returns the placement ID.
func (s *SQLiteStore) InsertPlacement(ctx context.Context, p model.Placement) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO places (message_id, folder_id, flags, uid, replied)
		VALUES (?, ?, ?, ?, ?)`,
		p.MessageID, p.FolderID, int(p.Flags), p.UID, p.Replied,
	)
	if err != nil {
		return 0, fmt.Errorf("placing message %d in folder %d: %w", p.MessageID, p.FolderID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading placement id: %w", err)
	}
	return id, nil
}

// HasPlacement reports whether the message is already placed in the
// folder under the given remote number. A nil uid matches only
// placements without one.
func (s *SQLiteStore) HasPlacement(
	ctx context.Context,
	messageID, folderID int64,
	uid *uint32,
) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM places
		WHERE message_id = ? AND folder_id = ? AND uid IS ?`,
		messageID, folderID, uid)
	if err != nil {
		return false, fmt.Errorf("checking placement of message %d: %w", messageID, err)
	}
	return count > 0, nil
}

// GetPlacement retrieves a single placement by ID.
func (s *SQLiteStore) GetPlacement(ctx context.Context, id int64) (*model.Placement, error) {
	var p model.Placement
	err := s.db.GetContext(ctx, &p, "SELECT * FROM places WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("placement %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting placement %d: %w", id, err)
	}
	return &p, nil
}

// GetPlacements returns every placement of a folder, oldest first.
func (s *SQLiteStore) GetPlacements(
	ctx context.Context,
	folderID int64,
) ([]model.Placement, error) {
	var ps []model.Placement
	err := s.db.SelectContext(ctx, &ps,
		"SELECT * FROM places WHERE folder_id = ? ORDER BY id", folderID)
	if err != nil {
		return nil, fmt.Errorf("querying placements of folder %d: %w", folderID, err)
	}
	return ps, nil
}

// GetPlacementsByIDs returns the placements with the given IDs. Unknown
// IDs are skipped.
func (s *SQLiteStore) GetPlacementsByIDs(
	ctx context.Context,
	ids []int64,
) ([]model.Placement, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var ps []model.Placement
	err := s.db.SelectContext(ctx, &ps,
		"SELECT * FROM places WHERE id IN ("+inClause(len(ids))+") ORDER BY id",
		int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying placements: %w", err)
	}
	return ps, nil
}

// RecentPlacements returns up to limit placements of a folder that carry a
// remote number, highest number first.
func (s *SQLiteStore) RecentPlacements(
	ctx context.Context,
	folderID int64,
	limit int,
) ([]model.Placement, error) {
	var ps []model.Placement
	err := s.db.SelectContext(ctx, &ps, `
		SELECT * FROM places
		WHERE folder_id = ? AND uid IS NOT NULL
		ORDER BY uid DESC
		LIMIT ?`, folderID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent placements of folder %d: %w", folderID, err)
	}
	return ps, nil
}

// MaxUID returns the highest remote number stored for a folder, or 0.
func (s *SQLiteStore) MaxUID(ctx context.Context, folderID int64) (uint32, error) {
	var last int64
	err := s.db.GetContext(ctx, &last,
		"SELECT COALESCE(MAX(uid), 0) FROM places WHERE folder_id = ?", folderID)
	if err != nil {
		return 0, fmt.Errorf("reading last uid of folder %d: %w", folderID, err)
	}
	return uint32(last), nil
}

// SetFlags replaces the flag bitmask of a placement.
func (s *SQLiteStore) SetFlags(ctx context.Context, id int64, flags model.Flag) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE places SET flags = ? WHERE id = ?", int(flags), id)
	if err != nil {
		return fmt.Errorf("updating flags of placement %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("placement %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetReplied links a placement to the placement of its reply or forward.
func (s *SQLiteStore) SetReplied(ctx context.Context, id, replyID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE places SET replied = ? WHERE id = ?", replyID, id)
	if err != nil {
		return fmt.Errorf("linking placement %d to reply %d: %w", id, replyID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("placement %d: %w", id, ErrNotFound)
	}
	return nil
}

// MovePlacements re-parents placements into another folder. The remote
// numbers are cleared; they are meaningless in the target folder.
func (s *SQLiteStore) MovePlacements(ctx context.Context, ids []int64, folderID int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := append([]interface{}{folderID}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx,
		"UPDATE places SET folder_id = ?, uid = NULL WHERE id IN ("+inClause(len(ids))+")",
		args...)
	if err != nil {
		return fmt.Errorf("moving placements to folder %d: %w", folderID, err)
	}
	return nil
}

// CopyPlacements duplicates placements into another folder, keeping their
// flags, and returns the new IDs in the order of ids.
func (s *SQLiteStore) CopyPlacements(
	ctx context.Context,
	ids []int64,
	folderID int64,
) ([]int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO places (message_id, folder_id, flags)
		SELECT message_id, ?, flags FROM places WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("preparing copy statement: %w", err)
	}
	defer stmt.Close()

	created := make([]int64, 0, len(ids))
	for _, id := range ids {
		result, err := stmt.ExecContext(ctx, folderID, id)
		if err != nil {
			return nil, fmt.Errorf("copying placement %d: %w", id, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return nil, fmt.Errorf("placement %d: %w", id, ErrNotFound)
		}
		newID, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading placement id: %w", err)
		}
		created = append(created, newID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing copy: %w", err)
	}
	return created, nil
}

// DeletePlacements removes placements by ID.
func (s *SQLiteStore) DeletePlacements(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM places WHERE id IN ("+inClause(len(ids))+")", int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("deleting placements: %w", err)
	}
	return nil
}

// DeleteFolderPlacements removes every placement of a folder and returns
// how many were removed.
func (s *SQLiteStore) DeleteFolderPlacements(ctx context.Context, folderID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM places WHERE folder_id = ?", folderID)
	if err != nil {
		return 0, fmt.Errorf("clearing folder %d: %w", folderID, err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// DetachFolderUIDs clears the remote numbers of every placement in the
// given folders.
func (s *SQLiteStore) DetachFolderUIDs(ctx context.Context, folderIDs []int64) error {
	if len(folderIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE places SET uid = NULL WHERE folder_id IN ("+inClause(len(folderIDs))+")",
		int64Args(folderIDs)...)
	if err != nil {
		return fmt.Errorf("detaching folder placements: %w", err)
	}
	return nil
}
