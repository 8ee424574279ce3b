package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/sessionauth/internal/credential"
	"github.com/example/sessionauth/internal/events"
	"github.com/example/sessionauth/internal/logging"
	"github.com/example/sessionauth/internal/password"
	"github.com/example/sessionauth/internal/store"
	"github.com/example/sessionauth/internal/store/memory"
	"github.com/example/sessionauth/internal/token"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type suite struct {
	svc      *Service
	db       *memory.DB
	verifier *token.Verifier
	events   *events.Recorder
	clock    *clock
}

func newSuite(t *testing.T, opts Options) *suite {
	t.Helper()
	c := &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	codec := credential.NewCodec([]byte("0123456789abcdef0123456789abcdef"), credential.WithClock(c.now))
	db := memory.New()
	log := logging.Discard()
	rec := &events.Recorder{}

	issuer := token.NewIssuer(log, codec, db, 15*time.Minute, 7*24*time.Hour)
	return &suite{
		svc:      New(log, db, issuer, codec, password.NewBcrypt(bcrypt.MinCost), rec, opts),
		db:       db,
		verifier: token.NewVerifier(log, codec, db),
		events:   rec,
		clock:    c,
	}
}

func (s *suite) register(t *testing.T) (RegisterInput, string) {
	t.Helper()
	in := RegisterInput{
		Email:      gofakeit.Email(),
		Password:   gofakeit.Password(true, true, true, false, false, 12),
		FirstName:  gofakeit.FirstName(),
		SecondName: gofakeit.LastName(),
	}
	pair, err := s.svc.Register(context.Background(), in)
	require.NoError(t, err)
	return in, pair.AccessToken
}

func (s *suite) userID(t *testing.T, email string) string {
	t.Helper()
	u, err := s.db.UserByEmail(context.Background(), email)
	require.NoError(t, err)
	return u.ID
}

func TestRegister_RecordsOneLiveCredential(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()

	in, access := s.register(t)
	id := s.userID(t, in.Email)

	valid, err := s.db.ValidTokens(ctx, id)
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, access, valid[0].Value)

	got, err := s.verifier.Validate(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	msgs := s.events.Topic(events.TopicRegistered)
	require.Len(t, msgs, 1)
	assert.Equal(t, in.Email, string(msgs[0].Payload))

	u, err := s.db.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, in.FirstName, u.FirstName)
	assert.NotEqual(t, in.Password, u.Password, "password is stored hashed")
}

func TestRegister_Rejections(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()

	in, _ := s.register(t)
	_, err := s.svc.Register(ctx, in)
	require.ErrorIs(t, err, ErrUserExists)

	_, err = s.svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "x"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.svc.Register(ctx, RegisterInput{Email: gofakeit.Email()})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegister_OverlongPasswordIsInvalidInput(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	email := gofakeit.Email()

	_, err := s.svc.Register(ctx, RegisterInput{Email: email, Password: strings.Repeat("p", password.MaxLength+1)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.db.UserByEmail(ctx, email)
	require.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestRegister_FailedIssuanceLeavesNoUser(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	log := logging.Discard()
	rec := &events.Recorder{}
	broken := credential.NewCodec(nil)
	issuer := token.NewIssuer(log, broken, db, 15*time.Minute, time.Hour)
	svc := New(log, db, issuer, broken, password.NewBcrypt(bcrypt.MinCost), rec, Options{})

	email := gofakeit.Email()
	_, err := svc.Register(ctx, RegisterInput{Email: email, Password: "pw"})
	require.ErrorIs(t, err, credential.ErrEmptySecret)

	_, err = db.UserByEmail(ctx, email)
	require.ErrorIs(t, err, store.ErrUserNotFound)
	assert.Empty(t, rec.Messages())

	// the same email registers once issuance works
	codec := credential.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	working := New(log, db, token.NewIssuer(log, codec, db, 15*time.Minute, time.Hour),
		codec, password.NewBcrypt(bcrypt.MinCost), rec, Options{})
	_, err = working.Register(ctx, RegisterInput{Email: email, Password: "pw"})
	require.NoError(t, err)
}

func TestRegister_PublishFailureDoesNotFailFlow(t *testing.T) {
	s := newSuite(t, Options{})
	s.events.Err = errors.New("bus down")

	_, err := s.svc.Register(context.Background(), RegisterInput{Email: gofakeit.Email(), Password: "pw"})
	require.NoError(t, err)
}

func TestAuthenticate_SecondLoginRevokesFirst(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	in, registered := s.register(t)

	first, err := s.svc.Authenticate(ctx, in.Email, in.Password)
	require.NoError(t, err)

	_, err = s.verifier.Validate(ctx, registered)
	require.ErrorIs(t, err, token.ErrRevokedCredential)

	second, err := s.svc.Authenticate(ctx, in.Email, in.Password)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken, "same tick still yields distinct credentials")

	_, err = s.verifier.Validate(ctx, first.AccessToken)
	require.ErrorIs(t, err, token.ErrUnauthorized)
	require.ErrorIs(t, err, token.ErrRevokedCredential)

	_, err = s.verifier.Validate(ctx, second.AccessToken)
	require.NoError(t, err)

	valid, err := s.db.ValidTokens(ctx, s.userID(t, in.Email))
	require.NoError(t, err)
	assert.Len(t, valid, 1)
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	in, access := s.register(t)

	_, err := s.svc.Authenticate(ctx, in.Email, "wrong")
	require.ErrorIs(t, err, ErrBadCredentials)

	_, err = s.svc.Authenticate(ctx, gofakeit.Email(), in.Password)
	require.ErrorIs(t, err, ErrBadCredentials)

	_, err = s.verifier.Validate(ctx, access)
	require.NoError(t, err, "a failed login must not revoke anything")
}

func TestLogout(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	_, access := s.register(t)

	require.NoError(t, s.svc.Logout(ctx, "Bearer "+access))

	_, err := s.verifier.Validate(ctx, access)
	require.ErrorIs(t, err, token.ErrRevokedCredential)

	require.NoError(t, s.svc.Logout(ctx, "Bearer "+access), "second logout is a no-op")
	require.NoError(t, s.svc.Logout(ctx, "Bearer never-issued"))

	for _, h := range []string{"", "Basic abc", "Bearer ", "bearer " + access} {
		require.ErrorIs(t, s.svc.Logout(ctx, h), ErrInvalidAuthorizationHeader, "header %q", h)
	}
}

func TestRefresh_AfterAccessExpiry(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	in, _ := s.register(t)

	pair, err := s.svc.Authenticate(ctx, in.Email, in.Password)
	require.NoError(t, err)

	s.clock.advance(16 * time.Minute)
	_, err = s.verifier.Validate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, credential.ErrExpiredCredential)

	refreshed, err := s.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	id, err := s.verifier.Validate(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.userID(t, in.Email), id)

	old, err := s.db.TokenByValue(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
}

func TestRefresh_Rejections(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	in, access := s.register(t)

	_, err := s.svc.Refresh(ctx, access)
	require.ErrorIs(t, err, token.ErrUnauthorized)
	require.ErrorIs(t, err, token.ErrWrongTokenUse)

	_, err = s.svc.Refresh(ctx, "junk")
	require.ErrorIs(t, err, credential.ErrMalformedCredential)

	pair, err := s.svc.Authenticate(ctx, in.Email, in.Password)
	require.NoError(t, err)

	s.clock.advance(8 * 24 * time.Hour)
	_, err = s.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, credential.ErrExpiredCredential)
}

func TestRefresh_SubjectGoneOrReplaced(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	in, _ := s.register(t)

	pair, err := s.svc.Authenticate(ctx, in.Email, in.Password)
	require.NoError(t, err)

	require.NoError(t, s.svc.DeleteAccount(ctx, s.userID(t, in.Email)))
	_, err = s.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrUnknownSubject)

	_, err = s.svc.Register(ctx, in)
	require.NoError(t, err)
	_, err = s.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrUnknownSubject, "a re-registered email gets a new subject id")
}

func TestChangePassword(t *testing.T) {
	s := newSuite(t, Options{RevokeSessionsOnPasswordChange: true})
	ctx := context.Background()
	in, access := s.register(t)
	id := s.userID(t, in.Email)

	err := s.svc.ChangePassword(ctx, id, ChangePasswordInput{Current: "wrong", New: "n", Confirmation: "n"})
	require.ErrorIs(t, err, ErrWrongPassword)

	err = s.svc.ChangePassword(ctx, id, ChangePasswordInput{Current: in.Password, New: "n1", Confirmation: "n2"})
	require.ErrorIs(t, err, ErrPasswordMismatch)

	err = s.svc.ChangePassword(ctx, "ghost", ChangePasswordInput{Current: in.Password, New: "n", Confirmation: "n"})
	require.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, s.svc.ChangePassword(ctx, id, ChangePasswordInput{Current: in.Password, New: "fresh", Confirmation: "fresh"}))

	_, err = s.verifier.Validate(ctx, access)
	require.ErrorIs(t, err, token.ErrRevokedCredential)

	_, err = s.svc.Authenticate(ctx, in.Email, in.Password)
	require.ErrorIs(t, err, ErrBadCredentials)
	_, err = s.svc.Authenticate(ctx, in.Email, "fresh")
	require.NoError(t, err)
}

func TestChangePassword_OverlongPasswordIsInvalidInput(t *testing.T) {
	s := newSuite(t, Options{RevokeSessionsOnPasswordChange: true})
	ctx := context.Background()
	in, access := s.register(t)
	long := strings.Repeat("p", password.MaxLength+1)

	err := s.svc.ChangePassword(ctx, s.userID(t, in.Email), ChangePasswordInput{Current: in.Password, New: long, Confirmation: long})
	require.ErrorIs(t, err, ErrInvalidInput)

	// nothing changed
	_, err = s.verifier.Validate(ctx, access)
	require.NoError(t, err)
	_, err = s.svc.Authenticate(ctx, in.Email, in.Password)
	require.NoError(t, err)
}

func TestChangePassword_KeepsSessionsWhenDisabled(t *testing.T) {
	s := newSuite(t, Options{RevokeSessionsOnPasswordChange: false})
	ctx := context.Background()
	in, access := s.register(t)

	require.NoError(t, s.svc.ChangePassword(ctx, s.userID(t, in.Email),
		ChangePasswordInput{Current: in.Password, New: "fresh", Confirmation: "fresh"}))

	_, err := s.verifier.Validate(ctx, access)
	require.NoError(t, err)
}

func TestDeleteAccount(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	in, access := s.register(t)
	id := s.userID(t, in.Email)

	require.NoError(t, s.svc.DeleteAccount(ctx, id))

	_, err := s.db.UserByID(ctx, id)
	require.Error(t, err)
	_, err = s.verifier.Validate(ctx, access)
	require.ErrorIs(t, err, token.ErrUnknownCredential)

	msgs := s.events.Topic(events.TopicAccountDeleted)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].Key)
	assert.Equal(t, id, string(msgs[0].Payload))

	require.ErrorIs(t, s.svc.DeleteAccount(ctx, id), ErrUserNotFound)
	assert.Len(t, s.events.Topic(events.TopicAccountDeleted), 1, "nothing published for a missing account")
}

func TestPurgeRevoked(t *testing.T) {
	s := newSuite(t, Options{})
	ctx := context.Background()
	in, _ := s.register(t)

	_, err := s.svc.Authenticate(ctx, in.Email, in.Password)
	require.NoError(t, err)

	n, err := s.svc.PurgeRevoked(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Bearer", "", true},
		{"Bearer ", "", true},
		{"Token abc", "", true},
	}
	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidAuthorizationHeader, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}
