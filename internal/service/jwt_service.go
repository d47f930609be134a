package service

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/qcom/chatauth/internal/config"
	"github.com/sirupsen/logrus"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the claim set carried by every token. The registered claims hold
// sub, iat, nbf, exp, jti, iss and aud.
type Claims struct {
	Type     TokenType `json:"type"`
	UID      string    `json:"uid,omitempty"`
	Email    string    `json:"email,omitempty"`
	Username string    `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Signer encodes claim sets into compact HMAC-signed JWTs and decodes them
// back. It holds no mutable state and is safe for concurrent use.
type Signer struct {
	secretKey []byte
	method    jwt.SigningMethod
	issuer    string
	audience  string
	parser    *jwt.Parser
	now       func() time.Time
	logger    *logrus.Logger
}

func NewSigner(cfg *config.JWTConfig, logger *logrus.Logger) (*Signer, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm: %s", alg)
	}

	return &Signer{
		secretKey: secretKey,
		method:    method,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
		now:    time.Now,
		logger: logger,
	}, nil
}

// Encode stamps iat, nbf, exp and a fresh jti onto claims and signs them.
// Issuer and audience default to the configured values.
func (s *Signer) Encode(claims Claims, ttl time.Duration) (string, error) {
	now := s.now()

	claims.ID = uuid.New().String()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	if len(claims.Audience) == 0 && s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	token := jwt.NewWithClaims(s.method, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).WithField("type", claims.Type).Error("Failed to sign token")
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}

	return tokenString, nil
}

// Decode verifies the signature of tokenString and returns its claims.
// nbf is not enforced.
func (s *Signer) Decode(tokenString string, verifyExpiry bool) (*Claims, error) {
	claims := &Claims{}
	if _, err := s.parser.ParseWithClaims(tokenString, claims, s.keyFunc); err != nil {
		return nil, s.classify(tokenString, err)
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing sub or exp", ErrMalformed)
	}
	if claims.Type != TokenTypeAccess && claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", ErrMalformed, claims.Type)
	}

	if verifyExpiry && s.now().Unix() > claims.ExpiresAt.Unix() {
		return nil, ErrExpired
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrIssuerMismatch
	}
	if s.audience != "" && !slices.Contains(claims.Audience, s.audience) {
		return nil, ErrAudienceMismatch
	}

	return claims, nil
}

func (s *Signer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.secretKey, nil
}

// classify maps parser errors onto the verification taxonomy. A token whose
// header and payload parse but whose signature segment does not decode is
// reported as a bad signature, not as malformed.
func (s *Signer) classify(tokenString string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		if _, _, uerr := s.parser.ParseUnverified(tokenString, &Claims{}); uerr == nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func GenerateSecretKey() (string, error) {
	key := make([]byte, 32) // 256 bits
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
