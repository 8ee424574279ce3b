// Package edge sits in front of every service. It resolves the caller's
// access credential through the identity service and forwards requests with
// the resolved subject id attached.
package edge

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/sessionauth/internal/logging"
)

// UserIDHeader carries the resolved subject id to downstream services. Only
// the edge may set it.
const UserIDHeader = "X-User-Id"

const unauthorizedBody = `{"message":"Unauthorized"}`

// Interceptor inspects a request before it is forwarded. It returns the
// request to pass on, or false after writing a response itself.
type Interceptor func(w http.ResponseWriter, r *http.Request) (*http.Request, bool)

type Validator interface {
	Validate(ctx context.Context, authorizationHeader string) (string, error)
}

// Chain runs interceptors in order and hands the final request to next.
func Chain(next http.Handler, interceptors ...Interceptor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, intercept := range interceptors {
			var ok bool
			if r, ok = intercept(w, r); !ok {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// StripIdentity drops any client-supplied subject header.
func StripIdentity(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if _, present := r.Header[http.CanonicalHeaderKey(UserIDHeader)]; !present {
		return r, true
	}
	r = r.Clone(r.Context())
	r.Header.Del(UserIDHeader)
	return r, true
}

// RequireCredential admits only requests whose bearer credential the
// validator resolves. Every failure, including an unreachable validator,
// ends in the same 401.
func RequireCredential(log *slog.Logger, v Validator) Interceptor {
	return func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			WriteUnauthorized(w)
			return nil, false
		}

		userID, err := v.Validate(r.Context(), header)
		if err != nil || userID == "" {
			log.Info("request rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				logging.Err(err),
			)
			WriteUnauthorized(w)
			return nil, false
		}

		r = r.Clone(r.Context())
		r.Header.Set(UserIDHeader, userID)
		return r, true
	}
}

func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(unauthorizedBody))
}
