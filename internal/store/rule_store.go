package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// ReplaceRules swaps the full rule list of an account. Rules without an
// ordinal take their list position.
func (s *SQLiteStore) ReplaceRules(
	ctx context.Context,
	accountID string,
	rules []model.Rule,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM rules WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("clearing rules of %s: %w", accountID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO rules (
			id, account_id, ordinal, condition, expression,
			action, folder, parameter, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing rule insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rules {
		if !model.ValidCondition(r.Condition) {
			return fmt.Errorf("rule %d: unknown condition %q", i+1, r.Condition)
		}
		if !model.ValidAction(r.Action) {
			return fmt.Errorf("rule %d: unknown action %q", i+1, r.Action)
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.Ordinal == 0 {
			r.Ordinal = i + 1
		}

		_, err := stmt.ExecContext(ctx,
			r.ID, accountID, r.Ordinal, r.Condition, r.Expression,
			r.Action, r.Folder, r.Parameter, boolToInt(r.Active),
		)
		if err != nil {
			return fmt.Errorf("inserting rule %d of %s: %w", i+1, accountID, err)
		}
	}

	return tx.Commit()
}

// GetRules returns the active rules of an account in evaluation order.
func (s *SQLiteStore) GetRules(ctx context.Context, accountID string) ([]model.Rule, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, account_id, ordinal, condition, expression, action, folder, parameter, active
		FROM rules
		WHERE account_id = ? AND active = 1
		ORDER BY ordinal, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying rules of %s: %w", accountID, err)
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		var (
			r      model.Rule
			active int
		)
		err := rows.Scan(
			&r.ID, &r.AccountID, &r.Ordinal, &r.Condition, &r.Expression,
			&r.Action, &r.Folder, &r.Parameter, &active,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		r.Active = active != 0
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
