package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/qcom/chatauth/internal/config"
	"github.com/qcom/chatauth/internal/models"
	"github.com/qcom/chatauth/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// UserStore is implemented by the DynamoDB and Postgres user repositories.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetOrCreate(ctx context.Context, email, name string) (*models.User, error)
}

// ProviderProfile is what an external identity provider asserts about the user.
type ProviderProfile struct {
	Email string
	Name  string
}

type PasswordAuthenticator struct {
	users  UserStore
	logger *logrus.Logger
}

func NewPasswordAuthenticator(users UserStore, logger *logrus.Logger) *PasswordAuthenticator {
	return &PasswordAuthenticator{users: users, logger: logger}
}

// Authenticate returns ErrInvalidCredentials for unknown users, users without
// a password and wrong passwords alike.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	return user, nil
}

// HashPassword is used when seeding users with a password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// OAuthProvider exchanges an authorization code for a provider access token
// and reads the user's email and name from the provider's userinfo endpoint.
type OAuthProvider struct {
	config      *oauth2.Config
	userInfoURL string
	logger      *logrus.Logger
}

func NewOAuthProvider(cfg *config.OAuth2Config, logger *logrus.Logger) *OAuthProvider {
	return &OAuthProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthEndpoint,
				TokenURL:  cfg.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoEndpoint,
		logger:      logger,
	}
}

type userInfoResponse struct {
	Response struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"response"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*ProviderProfile, error) {
	if p.config.Endpoint.TokenURL == "" || p.userInfoURL == "" {
		return nil, fmt.Errorf("%w: oauth2 provider not configured", ErrIdentityProvider)
	}

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		p.logger.WithError(err).Error("OAuth2 token exchange failed")
		return nil, fmt.Errorf("%w: token exchange: %v", ErrIdentityProvider, err)
	}

	resp, err := p.config.Client(ctx, tok).Get(p.userInfoURL)
	if err != nil {
		p.logger.WithError(err).Error("OAuth2 userinfo request failed")
		return nil, fmt.Errorf("%w: userinfo: %v", ErrIdentityProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.WithField("status", resp.StatusCode).Error("OAuth2 userinfo request rejected")
		return nil, fmt.Errorf("%w: userinfo status %d", ErrIdentityProvider, resp.StatusCode)
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: userinfo body: %v", ErrIdentityProvider, err)
	}

	profile := &ProviderProfile{Email: info.Response.Email, Name: info.Response.Name}
	if profile.Email == "" {
		profile.Email, profile.Name = info.Email, info.Name
	}
	if strings.TrimSpace(profile.Email) == "" {
		return nil, fmt.Errorf("%w: email not present in userinfo", ErrIdentityProvider)
	}

	return profile, nil
}

type idTokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// GoogleVerifier validates Google ID tokens issued for the configured client.
type GoogleVerifier struct {
	clientID string
	validate idTokenValidator
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, validate: idtoken.Validate}
}

func (v *GoogleVerifier) Verify(ctx context.Context, idTok string) (*ProviderProfile, error) {
	if v.clientID == "" {
		return nil, fmt.Errorf("%w: google client id not configured", ErrIdentityProvider)
	}

	payload, err := v.validate(ctx, idTok, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityProvider, err)
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("%w: email not present in id token", ErrIdentityProvider)
	}
	name, _ := payload.Claims["name"].(string)

	return &ProviderProfile{Email: email, Name: name}, nil
}
