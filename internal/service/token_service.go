package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qcom/chatauth/internal/config"
	"github.com/qcom/chatauth/internal/models"
	"github.com/qcom/chatauth/internal/repository"
	"github.com/sirupsen/logrus"
)

// minRevocationTTL keeps a marker alive for at least one second even when the
// token is about to expire.
const minRevocationTTL = time.Second

// expiryGrace is how long past exp Decode still accepts a token: expiry is
// checked in whole seconds and a token is valid during its exp second.
const expiryGrace = time.Second

// TokenManager issues access/refresh pairs, rotates refresh tokens and
// blacklists them by jti in the revocation store.
//
// Two Refresh calls racing on the same token both pass Exists, but only the
// one that wins SetIfAbsent on the old jti gets a new pair.
type TokenManager struct {
	signer        *Signer
	store         repository.RevocationStore
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	rotate        bool
	blacklist     bool
	prefix        string
	logger        *logrus.Logger
}

func NewTokenManager(signer *Signer, store repository.RevocationStore, cfg *config.JWTConfig, logger *logrus.Logger) *TokenManager {
	return &TokenManager{
		signer:        signer,
		store:         store,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		rotate:        cfg.RotateRefresh,
		blacklist:     cfg.Blacklist,
		prefix:        cfg.BlacklistPrefix,
		logger:        logger,
	}
}

// IssuePair never touches the revocation store.
func (m *TokenManager) IssuePair(identity models.Identity) (*models.TokenPair, error) {
	access, err := m.signer.Encode(m.accessClaims(identity), m.accessExpiry)
	if err != nil {
		return nil, err
	}

	refresh, err := m.signer.Encode(m.refreshClaims(identity), m.refreshExpiry)
	if err != nil {
		return nil, err
	}

	return m.pair(access, refresh), nil
}

// VerifyAccess is purely local. Access tokens are not individually revocable.
func (m *TokenManager) VerifyAccess(tokenString string) (*Claims, error) {
	claims, err := m.signer.Decode(tokenString, true)
	if err != nil {
		return nil, err
	}

	if claims.Type != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}

	return claims, nil
}

// VerifyRefresh checks signature, expiry and type before the store round trip.
func (m *TokenManager) VerifyRefresh(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.signer.Decode(tokenString, true)
	if err != nil {
		return nil, err
	}

	if claims.Type != TokenTypeRefresh {
		return nil, ErrWrongTokenType
	}

	if !m.blacklist {
		return claims, nil
	}

	revoked, err := m.store.Exists(ctx, m.blacklistKey(claims.ID))
	if err != nil {
		m.logger.WithError(err).WithField("jti", claims.ID).Error("Revocation lookup failed")
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	return claims, nil
}

// Refresh exchanges a valid refresh token for a new pair. With rotation on,
// the old token is blacklisted for its remaining lifetime and a new one is
// issued; with rotation off the same refresh token is handed back.
func (m *TokenManager) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := m.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	identity := models.Identity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Username: claims.Username,
	}

	newRefresh := refreshToken
	if m.rotate {
		if m.blacklist {
			claimed, err := m.store.SetIfAbsent(ctx, m.blacklistKey(claims.ID), m.remaining(claims))
			if err != nil {
				m.logger.WithError(err).WithField("jti", claims.ID).Error("Failed to blacklist rotated refresh token")
				return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
			if !claimed {
				m.logger.WithField("jti", claims.ID).Warn("Refresh token replayed during rotation")
				return nil, ErrRevoked
			}
		}

		newRefresh, err = m.signer.Encode(m.refreshClaims(identity), m.refreshExpiry)
		if err != nil {
			return nil, err
		}
	}

	access, err := m.signer.Encode(m.accessClaims(identity), m.accessExpiry)
	if err != nil {
		return nil, err
	}

	return m.pair(access, newRefresh), nil
}

// Revoke blacklists a refresh token on logout. Garbage, expired or access
// tokens are a silent no-op; the only error is ErrLogoutFailed when the store
// write fails.
func (m *TokenManager) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := m.signer.Decode(refreshToken, true)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			m.logger.Debug("Logout with expired refresh token")
		} else {
			m.logger.WithError(err).Debug("Logout with unverifiable token")
		}
		return nil
	}

	if claims.Type != TokenTypeRefresh || !m.blacklist {
		return nil
	}

	if err := m.store.Set(ctx, m.blacklistKey(claims.ID), m.remaining(claims)); err != nil {
		m.logger.WithError(err).WithField("jti", claims.ID).Error("Failed to blacklist refresh token on logout")
		return ErrLogoutFailed
	}

	m.logger.WithField("user_id", claims.Subject).Info("Refresh token revoked")
	return nil
}

func (m *TokenManager) accessClaims(identity models.Identity) Claims {
	claims := m.refreshClaims(identity)
	claims.Type = TokenTypeAccess
	claims.Username = identity.Username
	return claims
}

func (m *TokenManager) refreshClaims(identity models.Identity) Claims {
	claims := Claims{
		Type:  TokenTypeRefresh,
		UID:   identity.Subject,
		Email: identity.Email,
	}
	claims.Subject = identity.Subject
	return claims
}

func (m *TokenManager) pair(access, refresh string) *models.TokenPair {
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.accessExpiry.Seconds()),
	}
}

func (m *TokenManager) blacklistKey(jti string) string {
	return m.prefix + jti
}

// remaining is the marker TTL for claims. It covers the whole window in which
// Decode would still accept the token.
func (m *TokenManager) remaining(claims *Claims) time.Duration {
	ttl := claims.ExpiresAt.Time.Add(expiryGrace).Sub(m.signer.now())
	if ttl < minRevocationTTL {
		return minRevocationTTL
	}
	return ttl
}
