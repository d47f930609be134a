package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/qcom/chatauth/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const claimsKey contextKey = "claims"

// AccessVerifier is satisfied by *service.TokenManager.
type AccessVerifier interface {
	VerifyAccess(tokenString string) (*service.Claims, error)
}

type AuthMiddleware struct {
	verifier AccessVerifier
	logger   *logrus.Logger
}

func NewAuthMiddleware(verifier AccessVerifier, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// RequireAuth accepts the access token from "Authorization: Bearer <token>"
// or, for clients that cannot set headers, from the access_token query
// parameter.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := extractToken(r)
		if !ok {
			respondError(w, http.StatusBadRequest, "INVALID_AUTHORIZATION", "Invalid authorization header format")
			return
		}
		if tokenString == "" {
			respondError(w, http.StatusBadRequest, "MISSING_TOKEN", "Access token is required")
			return
		}

		claims, err := m.verifier.VerifyAccess(tokenString)
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			if errors.Is(err, service.ErrWrongTokenType) {
				respondError(w, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "Token is not an access token")
				return
			}
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the access claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok
}

func extractToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return strings.TrimSpace(r.URL.Query().Get("access_token")), true
	}

	// Extract token from "Bearer <token>"
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}
