// Package credential encodes and decodes signed session credentials.
//
// A credential is a compact HS256 JWT carrying the subject email, the
// subject id, a per-issuance nonce and its use (access or refresh). The
// codec is stateless: it never consults storage, so a successfully
// verified credential may still be revoked.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

var (
	ErrMalformedCredential   = errors.New("malformed credential")
	ErrUnsupportedCredential = errors.New("unsupported credential")
	ErrInvalidSignature      = errors.New("invalid credential signature")
	ErrExpiredCredential     = errors.New("credential has expired")
	ErrEmptySecret           = errors.New("signing secret is empty")
)

// Claims is the decoded payload of a credential.
type Claims struct {
	UserID   string `json:"user_id"`
	Nonce    string `json:"nonce"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// Email returns the subject claim, which carries the subject's email.
func (c *Claims) Email() string {
	return c.Subject
}

type Codec struct {
	secret []byte
	now    func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for iat/exp and for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(secret []byte, opts ...Option) *Codec {
	c := &Codec{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign stamps iat/exp on a copy of claims and signs it. An empty nonce is
// replaced with a random one so that two credentials minted for the same
// subject in the same second never collide.
func (c *Codec) Sign(claims Claims, ttl time.Duration) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrEmptySecret
	}
	if claims.Nonce == "" {
		claims.Nonce = uuid.NewString()
	}
	now := c.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing credential: %w", err)
	}
	return signed, nil
}

// Verify checks structure, algorithm, signature and expiry, in that order.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	if len(c.secret) == 0 {
		return nil, ErrEmptySecret
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, c.key,
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}
	if claims.UserID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject claims", ErrMalformedCredential)
	}
	return claims, nil
}

func (c *Codec) key(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("%w: signing method %v", ErrUnsupportedCredential, t.Header["alg"])
	}
	return c.secret, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrUnsupportedCredential, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredCredential, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
}
