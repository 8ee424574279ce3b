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

const userColumns = `id, email, password, first_name, second_name, created_at`

func (s *DB) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	const op = "sqlstore.CreateUser"

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}

	_, err := s.exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Password, u.FirstName, u.SecondName, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, store.ErrUserExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

func (s *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "sqlstore.UserByEmail"

	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *DB) UserByID(ctx context.Context, id string) (*models.User, error) {
	const op = "sqlstore.UserByID"

	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *DB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const op = "sqlstore.UpdatePassword"

	res, err := s.exec(ctx, `UPDATE users SET password = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOr(res, op, store.ErrUserNotFound)
}

func (s *DB) DeleteUser(ctx context.Context, id string) error {
	const op = "sqlstore.DeleteUser"

	res, err := s.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOr(res, op, store.ErrUserNotFound)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FirstName, &u.SecondName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// affectedOr returns notFound when the statement touched no rows.
func affectedOr(res sql.Result, op string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	return nil
}
