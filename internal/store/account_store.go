package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

// UpsertAccount inserts or updates an account. Endpoint passwords are
// never written.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, a model.Account) error {
	if a.ID == "" {
		return fmt.Errorf("account id must not be empty")
	}

	storeJSON, err := json.Marshal(a.Store)
	if err != nil {
		return fmt.Errorf("marshaling store endpoint for %s: %w", a.ID, err)
	}
	transportJSON, err := json.Marshal(a.Transport)
	if err != nil {
		return fmt.Errorf("marshaling transport endpoint for %s: %w", a.ID, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, name, user_id, address, signature, store, transport, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			user_id = excluded.user_id,
			address = excluded.address,
			signature = excluded.signature,
			store = excluded.store,
			transport = excluded.transport,
			updated_at = excluded.updated_at`,
		a.ID, a.Name, a.UserID, a.Address, a.Signature,
		string(storeJSON), string(transportJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount retrieves a single account by ID.
func (s *SQLiteStore) GetAccount(
	ctx context.Context,
	id string,
) (*model.Account, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM accounts WHERE id = ?", id)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return &a, nil
}

// GetAccounts retrieves every account ordered by ID.
func (s *SQLiteStore) GetAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account. Cascades to folders, placements and rules.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

var (
	_ scanner = (*sqlx.Row)(nil)
	_ scanner = (*sqlx.Rows)(nil)
)

// scanAccount scans an account row.
func scanAccount(row scanner) (model.Account, error) {
	var (
		a             model.Account
		storeJSON     string
		transportJSON string
	)

	err := row.Scan(
		&a.ID, &a.Name, &a.UserID, &a.Address, &a.Signature,
		&storeJSON, &transportJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.Account{}, err
	}

	if storeJSON != "" {
		if err := json.Unmarshal([]byte(storeJSON), &a.Store); err != nil {
			return model.Account{}, fmt.Errorf("unmarshaling store endpoint: %w", err)
		}
	}
	if transportJSON != "" {
		if err := json.Unmarshal([]byte(transportJSON), &a.Transport); err != nil {
			return model.Account{}, fmt.Errorf("unmarshaling transport endpoint: %w", err)
		}
	}

	return a, nil
}
