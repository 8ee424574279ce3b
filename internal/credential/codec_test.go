package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCodec(t *testing.T) (*Codec, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return NewCodec([]byte(testSecret), WithClock(clock.now)), clock
}

func accessClaims() Claims {
	c := Claims{UserID: "0b7f6c1e-5b8e-4c55-9a43-3a0c0f3b9f11", TokenUse: UseAccess}
	c.Subject = "a@x.com"
	return c
}

func TestSignVerify_RoundTrip(t *testing.T) {
	codec, clock := newTestCodec(t)

	tok, err := codec.Sign(accessClaims(), 15*time.Minute)
	require.NoError(t, err)

	clock.advance(14 * time.Minute)
	got, err := codec.Verify(tok)
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", got.Email())
	assert.Equal(t, "0b7f6c1e-5b8e-4c55-9a43-3a0c0f3b9f11", got.UserID)
	assert.Equal(t, UseAccess, got.TokenUse)
	assert.NotEmpty(t, got.Nonce)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), got.IssuedAt.Time.UTC())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), got.ExpiresAt.Time.UTC())
}

func TestVerify_ExpiredAfterClockPassesExp(t *testing.T) {
	codec, clock := newTestCodec(t)

	tok, err := codec.Sign(accessClaims(), time.Minute)
	require.NoError(t, err)

	clock.advance(time.Minute)
	_, err = codec.Verify(tok)
	require.ErrorIs(t, err, ErrExpiredCredential)

	clock.advance(time.Hour)
	_, err = codec.Verify(tok)
	require.ErrorIs(t, err, ErrExpiredCredential)
}

func TestVerify_WrongSecret(t *testing.T) {
	codec, _ := newTestCodec(t)
	tok, err := codec.Sign(accessClaims(), time.Hour)
	require.NoError(t, err)

	other := NewCodec([]byte("another-secret-another-secret-xx"))
	_, err = other.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TamperedPayload(t *testing.T) {
	codec, _ := newTestCodec(t)
	tok, err := codec.Sign(accessClaims(), time.Hour)
	require.NoError(t, err)

	forged := accessClaims()
	forged.UserID = "someone-else"
	forgedTok, err := NewCodec([]byte("attacker-secret-attacker-secret!")).Sign(forged, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	forgedParts := strings.Split(forgedTok, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err = codec.Verify(spliced)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Malformed(t *testing.T) {
	codec, _ := newTestCodec(t)

	for _, in := range []string{"", "abc", "not.a.jwt", "a.b"} {
		_, err := codec.Verify(in)
		assert.ErrorIs(t, err, ErrMalformedCredential, "input %q", in)
	}
}

func TestVerify_MissingUserID(t *testing.T) {
	codec, _ := newTestCodec(t)
	c := accessClaims()
	c.UserID = ""
	tok, err := codec.Sign(c, time.Hour)
	require.NoError(t, err)

	_, err = codec.Verify(tok)
	require.ErrorIs(t, err, ErrMalformedCredential)
}

func TestVerify_UnsupportedAlgorithm(t *testing.T) {
	codec, clock := newTestCodec(t)

	claims := accessClaims()
	claims.ExpiresAt = jwt.NewNumericDate(clock.now().Add(time.Hour))

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = codec.Verify(hs512)
	require.ErrorIs(t, err, ErrUnsupportedCredential)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = codec.Verify(none)
	require.ErrorIs(t, err, ErrUnsupportedCredential)
}

func TestSign_SameTickProducesDistinctCredentials(t *testing.T) {
	codec, _ := newTestCodec(t)

	a, err := codec.Sign(accessClaims(), time.Hour)
	require.NoError(t, err)
	b, err := codec.Sign(accessClaims(), time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEmptySecret(t *testing.T) {
	codec := NewCodec(nil)

	_, err := codec.Sign(accessClaims(), time.Hour)
	require.ErrorIs(t, err, ErrEmptySecret)
	_, err = codec.Verify("a.b.c")
	require.ErrorIs(t, err, ErrEmptySecret)
}
