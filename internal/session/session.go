// Package session drives credential issuance and revocation for the
// subject-facing flows: registration, login, refresh, logout, password
// change and account deletion.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/example/sessionauth/internal/credential"
	"github.com/example/sessionauth/internal/events"
	"github.com/example/sessionauth/internal/logging"
	"github.com/example/sessionauth/internal/models"
	"github.com/example/sessionauth/internal/password"
	"github.com/example/sessionauth/internal/store"
	"github.com/example/sessionauth/internal/token"
)

var (
	ErrInvalidInput               = errors.New("invalid input")
	ErrInvalidAuthorizationHeader = errors.New("missing or malformed authorization header")
	ErrBadCredentials             = errors.New("bad credentials")
	ErrUnknownSubject             = errors.New("credential subject does not exist")
	ErrWrongPassword              = errors.New("wrong password")
	ErrPasswordMismatch           = errors.New("passwords are not the same")
	ErrUserExists                 = errors.New("user already exists")
	ErrUserNotFound               = errors.New("user not found")
)

type Hasher interface {
	Hash(plain string) (string, error)
	Matches(plain, hash string) bool
}

type Options struct {
	// RevokeSessionsOnPasswordChange revokes every access credential of the
	// subject in the same transaction that stores the new password.
	RevokeSessionsOnPasswordChange bool
}

type Service struct {
	log       *slog.Logger
	store     store.Store
	issuer    *token.Issuer
	codec     *credential.Codec
	hasher    Hasher
	publisher events.Publisher
	opts      Options
}

func New(
	log *slog.Logger,
	st store.Store,
	issuer *token.Issuer,
	codec *credential.Codec,
	hasher Hasher,
	publisher events.Publisher,
	opts Options,
) *Service {
	return &Service{
		log:       log,
		store:     st,
		issuer:    issuer,
		codec:     codec,
		hasher:    hasher,
		publisher: publisher,
		opts:      opts,
	}
}

type RegisterInput struct {
	Email      string
	Password   string
	FirstName  string
	SecondName string
}

type ChangePasswordInput struct {
	Current      string
	New          string
	Confirmation string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (models.TokenPair, error) {
	const op = "session.Register"

	log := s.log.With(slog.String("op", op))

	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return models.TokenPair{}, fmt.Errorf("%s: %w: email", op, ErrInvalidInput)
	}
	if in.Password == "" {
		return models.TokenPair{}, fmt.Errorf("%s: %w: password", op, ErrInvalidInput)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
		}
		log.Error("failed to hash password", logging.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	// The subject and its first credential are committed together.
	var (
		user *models.User
		pair models.TokenPair
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		user, err = tx.CreateUser(ctx, models.User{
			Email:      email,
			Password:   hash,
			FirstName:  in.FirstName,
			SecondName: in.SecondName,
		})
		if err != nil {
			return err
		}
		pair, err = s.issuer.WithLedger(tx).IssuePair(ctx, *user)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			log.Warn("user already exists")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		log.Error("failed to register user", logging.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, log, events.TopicRegistered, user.Email, []byte(user.Email))
	log.Info("user registered", slog.String("user_id", user.ID))

	return pair, nil
}

// Authenticate checks the password and, on success, revokes every earlier
// access credential of the subject before minting a fresh pair.
func (s *Service) Authenticate(ctx context.Context, email, plain string) (models.TokenPair, error) {
	const op = "session.Authenticate"

	log := s.log.With(slog.String("op", op))

	user, err := s.store.UserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Info("unknown email")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrBadCredentials)
		}
		log.Error("failed to load user", logging.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	if !s.hasher.Matches(plain, user.Password) {
		log.Info("wrong password", slog.String("user_id", user.ID))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrBadCredentials)
	}

	revoked, err := s.store.RevokeAll(ctx, user.ID)
	if err != nil {
		log.Error("failed to revoke earlier credentials", logging.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issuer.IssuePair(ctx, *user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user authenticated", slog.String("user_id", user.ID), slog.Int64("revoked", revoked))
	return pair, nil
}

// Refresh trades a refresh credential for a new access credential. The
// refresh credential is checked by signature and expiry only and is handed
// back unchanged.
func (s *Service) Refresh(ctx context.Context, refreshCredential string) (models.TokenPair, error) {
	const op = "session.Refresh"

	log := s.log.With(slog.String("op", op))

	claims, err := s.codec.Verify(refreshCredential)
	if err != nil {
		log.Info("refresh credential rejected", logging.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, token.ErrUnauthorized, err)
	}
	if claims.TokenUse != credential.UseRefresh {
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, token.ErrUnauthorized, token.ErrWrongTokenUse)
	}

	user, err := s.store.UserByEmail(ctx, claims.Email())
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Info("refresh for unknown subject")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUnknownSubject)
		}
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	// An email that was deleted and registered again must not inherit
	// refresh credentials minted for the previous subject.
	if user.ID != claims.UserID {
		log.Warn("refresh subject id does not match stored subject", slog.String("user_id", user.ID))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrUnknownSubject)
	}

	if _, err := s.store.RevokeAll(ctx, user.ID); err != nil {
		log.Error("failed to revoke earlier credentials", logging.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	access, err := s.issuer.IssueAccess(ctx, *user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("access credential refreshed", slog.String("user_id", user.ID))
	return models.TokenPair{AccessToken: access, RefreshToken: refreshCredential}, nil
}

// Logout revokes the presented access credential. Unknown credentials are
// ignored so that logging out twice succeeds.
func (s *Service) Logout(ctx context.Context, authorizationHeader string) error {
	const op = "session.Logout"

	log := s.log.With(slog.String("op", op))

	raw, err := BearerToken(authorizationHeader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.RevokeToken(ctx, raw); err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			log.Debug("logout with unknown credential")
			return nil
		}
		log.Error("failed to revoke credential", logging.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("credential revoked")
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	const op = "session.ChangePassword"

	log := s.log.With(
		slog.String("op", op),
		slog.String("user_id", userID),
	)

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if !s.hasher.Matches(in.Current, user.Password) {
		log.Info("wrong current password")
		return fmt.Errorf("%s: %w", op, ErrWrongPassword)
	}
	if in.New != in.Confirmation {
		return fmt.Errorf("%s: %w", op, ErrPasswordMismatch)
	}
	if in.New == "" {
		return fmt.Errorf("%s: %w: new password", op, ErrInvalidInput)
	}

	hash, err := s.hasher.Hash(in.New)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
		}
		log.Error("failed to hash password", logging.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	var revoked int64
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		if !s.opts.RevokeSessionsOnPasswordChange {
			return nil
		}
		revoked, err = tx.RevokeAll(ctx, user.ID)
		return err
	})
	if err != nil {
		log.Error("failed to change password", logging.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed", slog.Int64("revoked", revoked))
	return nil
}

// DeleteAccount removes the subject and its ledger rows in one transaction,
// then announces the deletion so other services can drop their data.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	const op = "session.DeleteAccount"

	log := s.log.With(
		slog.String("op", op),
		slog.String("user_id", userID),
	)

	var deleted int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.UserByID(ctx, userID); err != nil {
			return err
		}
		n, err := tx.DeleteTokens(ctx, userID)
		if err != nil {
			return err
		}
		deleted = n
		return tx.DeleteUser(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to delete account", logging.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, log, events.TopicAccountDeleted, userID, []byte(userID))
	log.Info("account deleted", slog.Int64("tokens_deleted", deleted))
	return nil
}

// PurgeRevoked drops revoked ledger rows. It is run periodically.
func (s *Service) PurgeRevoked(ctx context.Context) (int64, error) {
	const op = "session.PurgeRevoked"

	n, err := s.store.PurgeRevoked(ctx)
	if err != nil {
		s.log.Error("failed to purge revoked credentials", slog.String("op", op), logging.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		s.log.Info("revoked credentials purged", slog.String("op", op), slog.Int64("count", n))
	}
	return n, nil
}

// publish never fails the calling flow; the state change already happened.
func (s *Service) publish(ctx context.Context, log *slog.Logger, topic, key string, payload []byte) {
	if err := s.publisher.Publish(ctx, topic, key, payload); err != nil {
		log.Error("failed to publish event", slog.String("topic", topic), logging.Err(err))
	}
}

// BearerToken extracts the credential from an "Authorization: Bearer <x>"
// header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrInvalidAuthorizationHeader
	}
	raw := strings.TrimSpace(header[len(prefix):])
	if raw == "" {
		return "", ErrInvalidAuthorizationHeader
	}
	return raw, nil
}
