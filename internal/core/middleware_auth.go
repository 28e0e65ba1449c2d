package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"emobridge/internal/types"
)

// Authenticator verifies an intake credential. Implementations return a
// *types.AppError with an auth_* code when the credential is rejected.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) error
}

// BcryptAuthenticator accepts exactly the token whose bcrypt hash it holds.
type BcryptAuthenticator struct {
	hash []byte
}

// NewBcryptAuthenticator validates hash and returns an authenticator for it.
func NewBcryptAuthenticator(hash string) (*BcryptAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.New("intake token hash is not a valid bcrypt hash")
	}
	return &BcryptAuthenticator{hash: []byte(hash)}, nil
}

// Authenticate compares token against the stored hash.
func (a *BcryptAuthenticator) Authenticate(_ context.Context, token string) error {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid intake token", nil)
	}
	return nil
}

// IntakeAuthMiddleware guards /v1. The token is read from
// "Authorization: Bearer <token>" or, failing that, X-Api-Key. With no
// Authenticator configured the middleware passes through.
func (s *Server) IntakeAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Api-Key"))
		}
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "intake token is required", nil))
			return
		}

		if err := s.Authenticator.Authenticate(r.Context(), token); err != nil {
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				s.Logger.ErrorContext(r.Context(), "authenticator failed", "error", err)
			}
			s.Logger.WarnContext(r.Context(), "intake authentication rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken returns the token from "Bearer <token>" (scheme is
// case-insensitive), or "" when the header has another shape.
func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
