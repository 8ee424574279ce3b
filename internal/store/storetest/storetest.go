// Package storetest is a behavioural suite every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sessionauth/internal/models"
	"github.com/example/sessionauth/internal/store"
)

// Factory returns a fresh, empty store. The suite closes nothing; register
// cleanup inside the factory.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("UserLifecycle", func(t *testing.T) { testUserLifecycle(t, newStore(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("LedgerRevokeAll", func(t *testing.T) { testLedgerRevokeAll(t, newStore(t)) })
	t.Run("RevokeAllConcurrent", func(t *testing.T) { testRevokeAllConcurrent(t, newStore(t)) })
	t.Run("RevokeAllJoinsTx", func(t *testing.T) { testRevokeAllJoinsTx(t, newStore(t)) })
	t.Run("LedgerDuplicateValue", func(t *testing.T) { testLedgerDuplicateValue(t, newStore(t)) })
	t.Run("RevokeToken", func(t *testing.T) { testRevokeToken(t, newStore(t)) })
	t.Run("DeleteAndPurge", func(t *testing.T) { testDeleteAndPurge(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
}

func newUser(t *testing.T, ctx context.Context, s store.Store) *models.User {
	t.Helper()
	u, err := s.CreateUser(ctx, models.User{
		Email:      gofakeit.Email(),
		Password:   "hash",
		FirstName:  gofakeit.FirstName(),
		SecondName: gofakeit.LastName(),
	})
	require.NoError(t, err)
	return u
}

func testUserLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	u := newUser(t, ctx, s)
	require.NotEmpty(t, u.ID)
	require.False(t, u.CreatedAt.IsZero())

	byEmail, err := s.UserByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, u.FirstName, byEmail.FirstName)
	assert.Equal(t, u.SecondName, byEmail.SecondName)

	require.NoError(t, s.UpdatePassword(ctx, u.ID, "new-hash"))
	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", byID.Password)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.UserByID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrUserNotFound)
	_, err = s.UserByEmail(ctx, u.Email)
	require.ErrorIs(t, err, store.ErrUserNotFound)

	require.ErrorIs(t, s.DeleteUser(ctx, u.ID), store.ErrUserNotFound)
	require.ErrorIs(t, s.UpdatePassword(ctx, u.ID, "x"), store.ErrUserNotFound)
}

func testDuplicateEmail(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)

	_, err := s.CreateUser(ctx, models.User{Email: u.Email, Password: "other"})
	require.ErrorIs(t, err, store.ErrUserExists)
}

func testLedgerRevokeAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)
	other := newUser(t, ctx, s)

	n, err := s.RevokeAll(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "revoking with no rows is a no-op")

	for i := 0; i < 3; i++ {
		_, err := s.SaveToken(ctx, u.ID, uuid.NewString())
		require.NoError(t, err)
	}
	kept, err := s.SaveToken(ctx, other.ID, uuid.NewString())
	require.NoError(t, err)

	valid, err := s.ValidTokens(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, valid, 3)

	n, err = s.RevokeAll(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	valid, err = s.ValidTokens(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, valid)

	n, err = s.RevokeAll(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.TokenByValue(ctx, kept.Value)
	require.NoError(t, err)
	assert.False(t, got.Revoked, "other subjects are untouched")
}

func testLedgerDuplicateValue(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)

	value := uuid.NewString()
	_, err := s.SaveToken(ctx, u.ID, value)
	require.NoError(t, err)

	_, err = s.SaveToken(ctx, u.ID, value)
	require.ErrorIs(t, err, store.ErrDuplicateCredential)
}

func testRevokeToken(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)

	saved, err := s.SaveToken(ctx, u.ID, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, saved.Revoked)
	assert.Equal(t, u.ID, saved.UserID)

	require.NoError(t, s.RevokeToken(ctx, saved.Value))
	got, err := s.TokenByValue(ctx, saved.Value)
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	require.NoError(t, s.RevokeToken(ctx, saved.Value), "revoking twice is harmless")

	_, err = s.TokenByValue(ctx, "missing")
	require.ErrorIs(t, err, store.ErrTokenNotFound)
	require.ErrorIs(t, s.RevokeToken(ctx, "missing"), store.ErrTokenNotFound)
}

func testDeleteAndPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)
	other := newUser(t, ctx, s)

	_, err := s.SaveToken(ctx, u.ID, uuid.NewString())
	require.NoError(t, err)
	_, err = s.SaveToken(ctx, u.ID, uuid.NewString())
	require.NoError(t, err)

	revoked, err := s.SaveToken(ctx, other.ID, uuid.NewString())
	require.NoError(t, err)
	live, err := s.SaveToken(ctx, other.ID, uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, s.RevokeToken(ctx, revoked.Value))

	n, err := s.DeleteTokens(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.PurgeRevoked(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.TokenByValue(ctx, revoked.Value)
	require.ErrorIs(t, err, store.ErrTokenNotFound)
	_, err = s.TokenByValue(ctx, live.Value)
	require.NoError(t, err)
}

func testTxCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)
	tok, err := s.SaveToken(ctx, u.ID, uuid.NewString())
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.DeleteTokens(ctx, u.ID); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, u.ID)
	})
	require.NoError(t, err)

	_, err = s.UserByID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrUserNotFound)
	_, err = s.TokenByValue(ctx, tok.Value)
	require.ErrorIs(t, err, store.ErrTokenNotFound)
}

func testTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)
	tok, err := s.SaveToken(ctx, u.ID, uuid.NewString())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.RevokeAll(ctx, u.ID); err != nil {
			return err
		}
		if err := tx.UpdatePassword(ctx, u.ID, "changed"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.TokenByValue(ctx, tok.Value)
	require.NoError(t, err)
	assert.False(t, got.Revoked, "revocation must roll back")

	user, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash", user.Password)
}

// Racing RevokeAll calls must count each credential exactly once and leave
// nothing live.
func testRevokeAllConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)

	const tokens, workers = 8, 4
	for i := 0; i < tokens; i++ {
		_, err := s.SaveToken(ctx, u.ID, uuid.NewString())
		require.NoError(t, err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
		errs  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.RevokeAll(ctx, u.ID)
			mu.Lock()
			defer mu.Unlock()
			total += n
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.EqualValues(t, tokens, total)

	valid, err := s.ValidTokens(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, valid)
}

// RevokeAll called on a transaction-bound store is undone with the
// transaction.
func testRevokeAllJoinsTx(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, ctx, s)
	tok, err := s.SaveToken(ctx, u.ID, uuid.NewString())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		n, err := tx.RevokeAll(ctx, u.ID)
		if err != nil {
			return err
		}
		if n != 1 {
			return errors.New("expected one revoked credential")
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.TokenByValue(ctx, tok.Value)
	require.NoError(t, err)
	assert.False(t, got.Revoked)
}
