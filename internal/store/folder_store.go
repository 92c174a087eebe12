package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhle/mailsync/internal/model"
)

// CreateFolder inserts a folder row and returns its ID.
func (s *SQLiteStore) CreateFolder(ctx context.Context, f model.Folder) (int64, error) {
	if f.Name == "" && f.ParentID != nil {
		return 0, fmt.Errorf("folder name must not be empty")
	}

	connected, epoch := folderStateColumns(f.State)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (account_id, parent_id, name, system, connected, uid_validity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.AccountID, f.ParentID, f.Name, string(f.System),
		boolToInt(connected), int64(epoch),
	)
	if err != nil {
		return 0, fmt.Errorf("creating folder %q: %w", f.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading folder id: %w", err)
	}
	return id, nil
}

// GetFolder retrieves a single folder by ID. Children are not loaded.
func (s *SQLiteStore) GetFolder(ctx context.Context, id int64) (*model.Folder, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, account_id, parent_id, name, system, connected, uid_validity
		FROM folders WHERE id = ?`, id)

	f, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting folder %d: %w", id, err)
	}
	return &f, nil
}

// GetFolders returns the flat folder rows of an account.
func (s *SQLiteStore) GetFolders(
	ctx context.Context,
	accountID string,
) ([]model.Folder, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, account_id, parent_id, name, system, connected, uid_validity
		FROM folders WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying folders for %s: %w", accountID, err)
	}
	defer rows.Close()

	var folders []model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning folder row: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// RenameFolder changes the local name of a folder.
func (s *SQLiteStore) RenameFolder(ctx context.Context, id int64, name string) error {
	if name == "" {
		return fmt.Errorf("folder name must not be empty")
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE folders SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return fmt.Errorf("renaming folder %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetFolderState persists a folder's connected flag and epoch.
func (s *SQLiteStore) SetFolderState(
	ctx context.Context,
	id int64,
	state model.FolderState,
) error {
	connected, epoch := folderStateColumns(state)
	result, err := s.db.ExecContext(ctx,
		"UPDATE folders SET connected = ?, uid_validity = ? WHERE id = ?",
		boolToInt(connected), int64(epoch), id)
	if err != nil {
		return fmt.Errorf("updating state of folder %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteFolder removes a folder. Cascades to child folders and placements.
func (s *SQLiteStore) DeleteFolder(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting folder %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	return nil
}

func folderStateColumns(state model.FolderState) (bool, uint32) {
	switch st := state.(type) {
	case model.Connected:
		return true, st.Epoch
	case model.Disconnected:
		return false, st.LastEpoch
	}
	return true, 0
}

// scanFolder scans a folder row.
func scanFolder(row scanner) (model.Folder, error) {
	var (
		f         model.Folder
		parentID  sql.NullInt64
		system    string
		connected int
		epoch     int64
	)

	err := row.Scan(&f.ID, &f.AccountID, &parentID, &f.Name, &system, &connected, &epoch)
	if err != nil {
		return model.Folder{}, err
	}

	if parentID.Valid {
		p := parentID.Int64
		f.ParentID = &p
	}
	f.System = model.SystemFolder(system)
	if connected != 0 {
		f.State = model.Connected{Epoch: uint32(epoch)}
	} else {
		f.State = model.Disconnected{LastEpoch: uint32(epoch)}
	}

	return f, nil
}
