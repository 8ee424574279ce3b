package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/sessionauth/internal/models"
	"github.com/example/sessionauth/internal/store"
)

const tokenColumns = `id, token, revoked, user_id, created_at`

func (s *DB) SaveToken(ctx context.Context, userID, value string) (*models.Token, error) {
	const op = "sqlstore.SaveToken"

	t := models.Token{
		ID:        uuid.NewString(),
		Value:     value,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.exec(ctx,
		`INSERT INTO tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Value, false, t.UserID, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, store.ErrDuplicateCredential)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

func (s *DB) ValidTokens(ctx context.Context, userID string) ([]models.Token, error) {
	const op = "sqlstore.ValidTokens"

	rows, err := s.query(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE user_id = ? AND revoked = ?`, userID, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Token
	for rows.Next() {
		var t models.Token
		if err := rows.Scan(&t.ID, &t.Value, &t.Revoked, &t.UserID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// RevokeAll is a single UPDATE, so a concurrent validation sees either all
// rows revoked or none.
func (s *DB) RevokeAll(ctx context.Context, userID string) (int64, error) {
	const op = "sqlstore.RevokeAll"

	res, err := s.exec(ctx,
		`UPDATE tokens SET revoked = ? WHERE user_id = ? AND revoked = ?`, true, userID, false)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *DB) TokenByValue(ctx context.Context, value string) (*models.Token, error) {
	const op = "sqlstore.TokenByValue"

	var t models.Token
	err := s.queryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE token = ?`, value).
		Scan(&t.ID, &t.Value, &t.Revoked, &t.UserID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, store.ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

func (s *DB) RevokeToken(ctx context.Context, value string) error {
	const op = "sqlstore.RevokeToken"

	res, err := s.exec(ctx, `UPDATE tokens SET revoked = ? WHERE token = ?`, true, value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOr(res, op, store.ErrTokenNotFound)
}

func (s *DB) DeleteTokens(ctx context.Context, userID string) (int64, error) {
	const op = "sqlstore.DeleteTokens"

	res, err := s.exec(ctx, `DELETE FROM tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *DB) PurgeRevoked(ctx context.Context) (int64, error) {
	const op = "sqlstore.PurgeRevoked"

	res, err := s.exec(ctx, `DELETE FROM tokens WHERE revoked = ?`, true)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
