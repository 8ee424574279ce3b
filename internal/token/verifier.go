package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/sessionauth/internal/credential"
	"github.com/example/sessionauth/internal/logging"
	"github.com/example/sessionauth/internal/store"
)

var (
	// ErrUnauthorized wraps every rejection of a presented credential.
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRevokedCredential = errors.New("credential has been revoked")
	ErrWrongTokenUse     = errors.New("credential is not usable here")
	ErrUnknownCredential = errors.New("credential was never issued")
)

type Verifier struct {
	log    *slog.Logger
	codec  *credential.Codec
	ledger store.Ledger
}

func NewVerifier(log *slog.Logger, codec *credential.Codec, ledger store.Ledger) *Verifier {
	return &Verifier{log: log, codec: codec, ledger: ledger}
}

// Validate returns the subject id of a live access credential. Rejections
// wrap ErrUnauthorized together with the specific cause. Any other error is
// an infrastructure failure.
func (v *Verifier) Validate(ctx context.Context, raw string) (string, error) {
	const op = "token.Validate"

	log := v.log.With(slog.String("op", op))

	claims, err := v.codec.Verify(raw)
	if err != nil {
		log.Debug("credential rejected by codec", logging.Err(err))
		return "", reject(op, err)
	}
	if claims.TokenUse != credential.UseAccess {
		return "", reject(op, ErrWrongTokenUse)
	}

	row, err := v.ledger.TokenByValue(ctx, raw)
	if errors.Is(err, store.ErrTokenNotFound) {
		log.Warn("validly signed credential missing from ledger", slog.String("user_id", claims.UserID))
		return "", reject(op, ErrUnknownCredential)
	}
	if err != nil {
		log.Error("ledger lookup failed", logging.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if row.Revoked {
		return "", reject(op, ErrRevokedCredential)
	}
	if row.UserID != claims.UserID {
		log.Warn("ledger subject differs from claims", slog.String("user_id", claims.UserID))
		return "", reject(op, ErrUnknownCredential)
	}

	return claims.UserID, nil
}

func reject(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, cause)
}
