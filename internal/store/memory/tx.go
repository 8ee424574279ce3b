package memory

import (
	"context"

	"github.com/example/sessionauth/internal/models"
	"github.com/example/sessionauth/internal/store"
)

// txView is handed to WithTx callbacks. The owning DB is already locked,
// so every method goes straight to the unlocked operations.
type txView struct {
	db *DB
}

func (t *txView) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	return t.db.createUser(u)
}

func (t *txView) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return t.db.userByEmail(email)
}

func (t *txView) UserByID(ctx context.Context, id string) (*models.User, error) {
	return t.db.userByID(id)
}

func (t *txView) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return t.db.updatePassword(id, passwordHash)
}

func (t *txView) DeleteUser(ctx context.Context, id string) error {
	return t.db.deleteUser(id)
}

func (t *txView) SaveToken(ctx context.Context, userID, value string) (*models.Token, error) {
	return t.db.saveToken(userID, value)
}

func (t *txView) ValidTokens(ctx context.Context, userID string) ([]models.Token, error) {
	return t.db.validTokens(userID), nil
}

func (t *txView) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return t.db.revokeAll(userID), nil
}

func (t *txView) TokenByValue(ctx context.Context, value string) (*models.Token, error) {
	return t.db.tokenByValue(value)
}

func (t *txView) RevokeToken(ctx context.Context, value string) error {
	return t.db.revokeToken(value)
}

func (t *txView) DeleteTokens(ctx context.Context, userID string) (int64, error) {
	return t.db.deleteTokens(userID), nil
}

func (t *txView) PurgeRevoked(ctx context.Context) (int64, error) {
	return t.db.purgeRevoked(), nil
}

// WithTx inside a transaction joins the outer one.
func (t *txView) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, t)
}

func (t *txView) Ping(ctx context.Context) error { return nil }
func (t *txView) Close() error                   { return nil }
