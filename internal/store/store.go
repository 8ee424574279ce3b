// Package store defines persistence for subjects and the access-credential
// ledger. Backends live in subpackages and are selected by DB_ADAPTER.
package store

import (
	"context"
	"errors"

	"github.com/example/sessionauth/internal/models"
)

var (
	ErrUserExists          = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrDuplicateCredential = errors.New("credential already recorded")
)

type Users interface {
	// CreateUser assigns ID and CreatedAt when they are empty.
	CreateUser(ctx context.Context, u models.User) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
}

// Ledger records every issued access credential. The revoked flag only ever
// moves from false to true.
type Ledger interface {
	SaveToken(ctx context.Context, userID, value string) (*models.Token, error)
	ValidTokens(ctx context.Context, userID string) ([]models.Token, error)
	// RevokeAll marks every unrevoked row of the user as revoked in one
	// atomic step and reports how many rows changed.
	RevokeAll(ctx context.Context, userID string) (int64, error)
	TokenByValue(ctx context.Context, value string) (*models.Token, error)
	RevokeToken(ctx context.Context, value string) error
	DeleteTokens(ctx context.Context, userID string) (int64, error)
	PurgeRevoked(ctx context.Context) (int64, error)
}

// Store is the full persistence surface used by the identity service.
type Store interface {
	Users
	Ledger

	// WithTx runs fn against a view of the store bound to one transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
