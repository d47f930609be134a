package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/qcom/chatauth/internal/config"
	"github.com/qcom/chatauth/internal/models"
	"github.com/qcom/chatauth/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"
)

type fakeUserStore struct {
	users map[string]*models.User
	err   error
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserStore) GetOrCreate(ctx context.Context, email, name string) (*models.User, error) {
	user, err := f.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	user = &models.User{ID: "new-" + email, Email: email, Username: name, IsActive: true}
	f.users[strings.ToLower(email)] = user
	return user, nil
}

func TestPasswordAuthenticator(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	store := &fakeUserStore{users: map[string]*models.User{
		"alice@example.com":  {ID: "1", Email: "alice@example.com", PasswordHash: hash, IsActive: true},
		"frozen@example.com": {ID: "2", Email: "frozen@example.com", PasswordHash: hash, IsActive: false},
		"oauth@example.com":  {ID: "3", Email: "oauth@example.com", IsActive: true},
	}}
	auth := NewPasswordAuthenticator(store, testLogger())
	ctx := context.Background()

	user, err := auth.Authenticate(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "1", user.ID)

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"wrong password", "alice@example.com", "nope", ErrInvalidCredentials},
		{"unknown user", "nobody@example.com", "s3cret", ErrInvalidCredentials},
		{"no password set", "oauth@example.com", "", ErrInvalidCredentials},
		{"inactive", "frozen@example.com", "s3cret", ErrAccountDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Authenticate(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPasswordAuthenticator_StoreError(t *testing.T) {
	auth := NewPasswordAuthenticator(&fakeUserStore{err: errors.New("dynamo down")}, testLogger())
	_, err := auth.Authenticate(context.Background(), "alice@example.com", "s3cret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func newOAuthTestServer(t *testing.T, userInfo string, userInfoStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "good-code" || r.Form.Get("client_id") != "client" || r.Form.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "provider-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer provider-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(userInfoStatus)
		w.Write([]byte(userInfo))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func oauthConfigFor(srv *httptest.Server) *config.OAuth2Config {
	return &config.OAuth2Config{
		ClientID:         "client",
		ClientSecret:     "secret",
		RedirectURI:      "http://localhost/callback",
		AuthEndpoint:     srv.URL + "/authorize",
		TokenEndpoint:    srv.URL + "/token",
		UserInfoEndpoint: srv.URL + "/userinfo",
	}
}

func TestOAuthProvider_Exchange(t *testing.T) {
	tests := []struct {
		name     string
		userInfo string
		want     ProviderProfile
	}{
		{"nested response", `{"response":{"email":"alice@example.com","name":"Alice"}}`, ProviderProfile{Email: "alice@example.com", Name: "Alice"}},
		{"top level fields", `{"email":"bob@example.com","name":"Bob"}`, ProviderProfile{Email: "bob@example.com", Name: "Bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOAuthTestServer(t, tt.userInfo, http.StatusOK)
			provider := NewOAuthProvider(oauthConfigFor(srv), testLogger())

			profile, err := provider.Exchange(context.Background(), "good-code")
			require.NoError(t, err)
			assert.Equal(t, tt.want, *profile)
		})
	}
}

func TestOAuthProvider_Failures(t *testing.T) {
	ctx := context.Background()

	srv := newOAuthTestServer(t, `{"email":"alice@example.com"}`, http.StatusOK)
	_, err := NewOAuthProvider(oauthConfigFor(srv), testLogger()).Exchange(ctx, "bad-code")
	assert.ErrorIs(t, err, ErrIdentityProvider)

	srv = newOAuthTestServer(t, `{}`, http.StatusOK)
	_, err = NewOAuthProvider(oauthConfigFor(srv), testLogger()).Exchange(ctx, "good-code")
	assert.ErrorIs(t, err, ErrIdentityProvider)

	srv = newOAuthTestServer(t, `{"error":"boom"}`, http.StatusInternalServerError)
	_, err = NewOAuthProvider(oauthConfigFor(srv), testLogger()).Exchange(ctx, "good-code")
	assert.ErrorIs(t, err, ErrIdentityProvider)

	_, err = NewOAuthProvider(&config.OAuth2Config{}, testLogger()).Exchange(ctx, "good-code")
	assert.ErrorIs(t, err, ErrIdentityProvider)
}

func TestGoogleVerifier(t *testing.T) {
	v := NewGoogleVerifier("google-client")
	v.validate = func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error) {
		if audience != "google-client" {
			return nil, errors.New("audience mismatch")
		}
		switch idToken {
		case "good":
			return &idtoken.Payload{Claims: map[string]interface{}{"email": "alice@gmail.com", "name": "Alice"}}, nil
		case "no-email":
			return &idtoken.Payload{Claims: map[string]interface{}{"name": "Alice"}}, nil
		default:
			return nil, errors.New("idtoken: invalid token")
		}
	}
	ctx := context.Background()

	profile, err := v.Verify(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, ProviderProfile{Email: "alice@gmail.com", Name: "Alice"}, *profile)

	_, err = v.Verify(ctx, "no-email")
	assert.ErrorIs(t, err, ErrIdentityProvider)

	_, err = v.Verify(ctx, "forged")
	assert.ErrorIs(t, err, ErrIdentityProvider)

	_, err = NewGoogleVerifier("").Verify(ctx, "good")
	assert.ErrorIs(t, err, ErrIdentityProvider)
}
