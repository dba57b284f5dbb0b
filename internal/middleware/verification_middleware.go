package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/qcom/otpverify/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenVerifier checks a proof-of-verification token.
type TokenVerifier interface {
	Verify(token string) (*service.Claims, error)
}

type VerificationMiddleware struct {
	tokens TokenVerifier
	logger *logrus.Logger
}

func NewVerificationMiddleware(tokens TokenVerifier, logger *logrus.Logger) *VerificationMiddleware {
	return &VerificationMiddleware{
		tokens: tokens,
		logger: logger,
	}
}

// RequireVerification admits requests carrying a valid verification token
// and stores its claims in the request context.
func (m *VerificationMiddleware) RequireVerification(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondWithError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := m.tokens.Verify(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			respondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func WithClaims(ctx context.Context, claims *service.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok && claims != nil
}
