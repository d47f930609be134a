package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/qcom/chatauth/internal/middleware"
	"github.com/qcom/chatauth/internal/models"
	"github.com/qcom/chatauth/internal/repository"
	"github.com/qcom/chatauth/internal/service"
	"github.com/sirupsen/logrus"
)

// TokenLifecycle is satisfied by *service.TokenManager.
type TokenLifecycle interface {
	IssuePair(identity models.Identity) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
}

type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

type LoginCodes interface {
	Generate(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) error
}

type OAuthExchanger interface {
	Exchange(ctx context.Context, code string) (*service.ProviderProfile, error)
}

type IDTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*service.ProviderProfile, error)
}

type AuthHandlers struct {
	tokens     TokenLifecycle
	passwords  PasswordAuthenticator
	codes      LoginCodes
	codeSender service.CodeSender
	oauth      OAuthExchanger
	google     IDTokenVerifier
	users      service.UserStore
	logger     *logrus.Logger
}

func NewAuthHandlers(
	tokens TokenLifecycle,
	passwords PasswordAuthenticator,
	codes LoginCodes,
	codeSender service.CodeSender,
	oauth OAuthExchanger,
	google IDTokenVerifier,
	users service.UserStore,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		tokens:     tokens,
		passwords:  passwords,
		codes:      codes,
		codeSender: codeSender,
		oauth:      oauth,
		google:     google,
		users:      users,
		logger:     logger,
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type InitiateEmailCodeRequest struct {
	Email string `json:"email"`
}

type VerifyEmailCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type OAuthCallbackRequest struct {
	Code  string          `json:"code"`
	State json.RawMessage `json:"state"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type LoginResponse struct {
	Message      string `json:"message"`
	Email        string `json:"email"`
	UserName     string `json:"userName"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type OAuthCallbackResponse struct {
	Email        string `json:"email"`
	UserName     string `json:"userName"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	RedirectURL  string `json:"redirect_url,omitempty"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type MeResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if !isValidEmail(email) || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_CREDENTIALS_FORMAT", "Email and password are required")
		return
	}

	user, err := h.passwords.Authenticate(r.Context(), email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	case errors.Is(err, service.ErrAccountDisabled):
		h.respondWithError(w, http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled")
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to authenticate user")
		h.respondWithError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to log in")
		return
	}

	h.respondWithLogin(w, user, "Login successful")
}

func (h *AuthHandlers) InitiateEmailCode(w http.ResponseWriter, r *http.Request) {
	var req InitiateEmailCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if !isValidEmail(email) {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email format")
		return
	}

	code, err := h.codes.Generate(r.Context(), email)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate login code")
		h.respondWithError(w, http.StatusInternalServerError, "CODE_GENERATION_FAILED", "Failed to generate login code")
		return
	}

	if err := h.codeSender.Send(r.Context(), email, code); err != nil {
		if errors.Is(err, service.ErrCodeDeliveryDisabled) {
			h.respondWithError(w, http.StatusServiceUnavailable, "CODE_DELIVERY_DISABLED", "Email login is not available")
			return
		}
		h.logger.WithError(err).Error("Failed to send login code")
		h.respondWithError(w, http.StatusInternalServerError, "CODE_DELIVERY_FAILED", "Failed to send login code")
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{
		Message: "Login code sent successfully",
	})
}

func (h *AuthHandlers) VerifyEmailCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	code := strings.TrimSpace(req.Code)

	if !isValidEmail(email) {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email format")
		return
	}

	if len(code) < 4 || len(code) > 8 {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_CODE", "Invalid login code format")
		return
	}

	if err := h.codes.Verify(r.Context(), email, code); err != nil {
		if errors.Is(err, service.ErrInvalidCode) {
			h.respondWithError(w, http.StatusUnauthorized, "INVALID_CODE", "Invalid or expired login code")
			return
		}
		h.logger.WithError(err).Error("Failed to verify login code")
		h.respondWithError(w, http.StatusInternalServerError, "CODE_VERIFICATION_FAILED", "Failed to verify login code")
		return
	}

	user, err := h.users.GetOrCreate(r.Context(), email, "")
	if err != nil {
		h.logger.WithError(err).Error("Failed to get or create user")
		h.respondWithError(w, http.StatusInternalServerError, "USER_CREATION_FAILED", "Failed to create user")
		return
	}

	if !user.IsActive {
		h.respondWithError(w, http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled")
		return
	}

	h.respondWithLogin(w, user, "Login successful")
}

func (h *AuthHandlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req OAuthCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Code) == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_CODE", "Authorization code is required")
		return
	}

	redirectURL, err := parseRedirectURL(req.State)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_STATE", "Invalid state")
		return
	}

	profile, err := h.oauth.Exchange(r.Context(), req.Code)
	if err != nil {
		h.logger.WithError(err).Warn("OAuth2 exchange failed")
		h.respondWithError(w, http.StatusUnauthorized, "OAUTH_FAILED", "Failed to authenticate with provider")
		return
	}

	user, ok := h.providerUser(w, r, profile)
	if !ok {
		return
	}

	pair, err := h.tokens.IssuePair(user.Identity())
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate tokens")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	h.respondWithJSON(w, http.StatusOK, OAuthCallbackResponse{
		Email:        user.Email,
		UserName:     user.Username,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		RedirectURL:  redirectURL,
	})
}

func (h *AuthHandlers) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if strings.TrimSpace(req.IDToken) == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "ID token is required")
		return
	}

	profile, err := h.google.Verify(r.Context(), req.IDToken)
	if err != nil {
		h.logger.WithError(err).Warn("Google ID token rejected")
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_ID_TOKEN", "Invalid Google ID token")
		return
	}

	user, ok := h.providerUser(w, r, profile)
	if !ok {
		return
	}

	h.respondWithLogin(w, user, "Login successful")
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStoreUnavailable):
			h.logger.WithError(err).Error("Refresh rejected, revocation store unavailable")
			h.respondWithError(w, http.StatusInternalServerError, "STORE_UNAVAILABLE", "Token refresh temporarily unavailable")
		case errors.Is(err, service.ErrExpired):
			h.respondWithError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token has expired")
		case errors.Is(err, service.ErrRevoked):
			h.respondWithError(w, http.StatusUnauthorized, "TOKEN_REVOKED", "Refresh token has been revoked")
		case errors.Is(err, service.ErrWrongTokenType):
			h.respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "Token is not a refresh token")
		case service.IsInvalidToken(err):
			h.respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		default:
			h.logger.WithError(err).Error("Failed to generate new tokens")
			h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, RefreshTokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}

// Logout always answers 200 once a token is supplied.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		h.logger.WithError(err).Error("Failed to revoke refresh token")
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{
		Message: "Logged out successfully",
	})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	// The token may outlive its user; only echo users that still exist.
	user, err := h.users.GetByEmail(r.Context(), claims.Email)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && user.ID != claims.Subject) {
		h.respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to load user")
		h.respondWithError(w, http.StatusInternalServerError, "USER_LOOKUP_FAILED", "Failed to load user")
		return
	}

	h.respondWithJSON(w, http.StatusOK, MeResponse{
		ID:    user.ID,
		Email: user.Email,
	})
}

func (h *AuthHandlers) providerUser(w http.ResponseWriter, r *http.Request, profile *service.ProviderProfile) (*models.User, bool) {
	user, err := h.users.GetOrCreate(r.Context(), profile.Email, profile.Name)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get or create user")
		h.respondWithError(w, http.StatusInternalServerError, "USER_CREATION_FAILED", "Failed to create user")
		return nil, false
	}

	if !user.IsActive {
		h.respondWithError(w, http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled")
		return nil, false
	}

	return user, true
}

func (h *AuthHandlers) respondWithLogin(w http.ResponseWriter, user *models.User, message string) {
	pair, err := h.tokens.IssuePair(user.Identity())
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate tokens")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	h.respondWithJSON(w, http.StatusOK, LoginResponse{
		Message:      message,
		Email:        user.Email,
		UserName:     user.Username,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// parseRedirectURL reads redirect_url from an OAuth2 state that is either a
// JSON object or a string holding one. Plain opaque strings carry no redirect.
func parseRedirectURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var state struct {
		RedirectURL string `json:"redirect_url"`
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" || !strings.HasPrefix(strings.TrimSpace(s), "{") {
			return "", nil
		}
		raw = json.RawMessage(s)
	}

	if err := json.Unmarshal(raw, &state); err != nil {
		return "", err
	}
	return state.RedirectURL, nil
}

func isValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
