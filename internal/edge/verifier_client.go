package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/sessionauth/internal/httpx"
)

const validatePath = "/api/v1/auth/validate-token"

var (
	ErrRejected            = errors.New("credential rejected by identity service")
	ErrVerifierUnavailable = errors.New("identity service unavailable")
	ErrBadVerifierResponse = errors.New("unexpected identity service response")
)

// VerifierClient asks the identity service to resolve a credential.
type VerifierClient struct {
	endpoint    string
	internalKey string
	client      *http.Client
}

// NewVerifierClient bounds every call by timeout. internalKey is sent in the
// internal key header when not empty.
func NewVerifierClient(identityURL string, timeout time.Duration, internalKey string) *VerifierClient {
	return &VerifierClient{
		endpoint:    strings.TrimRight(identityURL, "/") + validatePath,
		internalKey: internalKey,
		client:      &http.Client{Timeout: timeout},
	}
}

type validateResponse struct {
	UserID string `json:"userId"`
}

func (c *VerifierClient) Validate(ctx context.Context, authorizationHeader string) (string, error) {
	const op = "edge.VerifierClient.Validate"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", authorizationHeader)
	if c.internalKey != "" {
		req.Header.Set(httpx.InternalKeyHeader, c.internalKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%s: %w: status %d", op, ErrVerifierUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%s: %w: status %d", op, ErrRejected, resp.StatusCode)
	default:
		return "", fmt.Errorf("%s: %w: status %d", op, ErrBadVerifierResponse, resp.StatusCode)
	}

	var body validateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrBadVerifierResponse, err)
	}
	if body.UserID == "" {
		return "", fmt.Errorf("%s: %w: empty user id", op, ErrBadVerifierResponse)
	}
	return body.UserID, nil
}
