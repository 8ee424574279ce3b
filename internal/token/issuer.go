// Package token mints session credentials and resolves presented access
// credentials to a subject id.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/sessionauth/internal/credential"
	"github.com/example/sessionauth/internal/logging"
	"github.com/example/sessionauth/internal/models"
	"github.com/example/sessionauth/internal/store"
)

type Issuer struct {
	log        *slog.Logger
	codec      *credential.Codec
	ledger     store.Ledger
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(log *slog.Logger, codec *credential.Codec, ledger store.Ledger, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		log:        log,
		codec:      codec,
		ledger:     ledger,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// WithLedger returns a copy of the issuer that records into l, typically a
// transaction-bound store.
func (i *Issuer) WithLedger(l store.Ledger) *Issuer {
	c := *i
	c.ledger = l
	return &c
}

// IssuePair mints an access and a refresh credential with independent
// nonces. Only the access credential is recorded in the ledger.
func (i *Issuer) IssuePair(ctx context.Context, user models.User) (models.TokenPair, error) {
	const op = "token.IssuePair"

	access, err := i.IssueAccess(ctx, user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := i.codec.Sign(claimsFor(user, credential.UseRefresh), i.refreshTTL)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess mints one access credential and records it. A duplicate value
// means two issuances collided on every claim including the nonce; it is
// reported, never retried.
func (i *Issuer) IssueAccess(ctx context.Context, user models.User) (string, error) {
	const op = "token.IssueAccess"

	log := i.log.With(
		slog.String("op", op),
		slog.String("user_id", user.ID),
	)

	access, err := i.codec.Sign(claimsFor(user, credential.UseAccess), i.accessTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if _, err := i.ledger.SaveToken(ctx, user.ID, access); err != nil {
		if errors.Is(err, store.ErrDuplicateCredential) {
			log.Error("duplicate access credential", logging.Err(err))
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("access credential issued")
	return access, nil
}

func claimsFor(user models.User, use string) credential.Claims {
	c := credential.Claims{UserID: user.ID, TokenUse: use}
	c.Subject = user.Email
	return c
}
