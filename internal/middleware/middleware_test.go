package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qcom/chatauth/internal/config"
	"github.com/qcom/chatauth/internal/models"
	"github.com/qcom/chatauth/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestTokenManager(t *testing.T) *service.TokenManager {
	t.Helper()
	cfg := &config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		Algorithm:     "HS256",
		AccessExpiry:  time.Minute,
		RefreshExpiry: time.Hour,
		RotateRefresh: true,
		Blacklist:     false,
	}
	signer, err := service.NewSigner(cfg, testLogger())
	require.NoError(t, err)
	return service.NewTokenManager(signer, nil, cfg, testLogger())
}

func protectedHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Errorf("claims missing from context")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(claims.Subject))
	})
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestRequireAuth(t *testing.T) {
	tm := newTestTokenManager(t)
	pair, err := tm.IssuePair(models.Identity{Subject: "42", Email: "alice@example.com"})
	require.NoError(t, err)

	handler := NewAuthMiddleware(tm, testLogger()).RequireAuth(protectedHandler(t))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantCode   string
	}{
		{"bearer header", "Bearer " + pair.AccessToken, "", http.StatusOK, ""},
		{"lowercase scheme", "bearer " + pair.AccessToken, "", http.StatusOK, ""},
		{"query parameter", "", pair.AccessToken, http.StatusOK, ""},
		{"missing token", "", "", http.StatusBadRequest, "MISSING_TOKEN"},
		{"bad scheme", "Basic abc", "", http.StatusBadRequest, "INVALID_AUTHORIZATION"},
		{"refresh token", "Bearer " + pair.RefreshToken, "", http.StatusUnauthorized, "INVALID_TOKEN_TYPE"},
		{"garbage", "Bearer garbage", "", http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/me"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "42", rec.Body.String())
				return
			}
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantCode, decodeErrorCode(t, rec))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me?access_token=secret-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "/api/v1/me", entry["path"])
	assert.Equal(t, "warning", entry["level"])
	assert.NotContains(t, buf.String(), "secret-token")
}

func TestLoggingMiddleware_KeepsRequestID(t *testing.T) {
	handler := LoggingMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/refresh", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.True(t, called)
}
