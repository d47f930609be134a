package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/qcom/chatauth/internal/config"
	"github.com/qcom/chatauth/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// consumeCodeScript deletes the code and its attempt counter only if the code
// is still the one that was checked. Returns 1 for the caller that consumed it.
var consumeCodeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1], KEYS[2])
	return 1
end
return 0
`)

// LoginCodeService issues and checks one-time numeric codes sent to an email
// address. Codes are stored bcrypt-hashed in Redis under their own TTL; wrong
// guesses are counted with INCR in a separate key.
type LoginCodeService struct {
	client *redis.Client
	cfg    *config.LoginCodeConfig
	logger *logrus.Logger
}

func NewLoginCodeService(client *redis.Client, cfg *config.LoginCodeConfig, logger *logrus.Logger) *LoginCodeService {
	return &LoginCodeService{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Generate replaces any outstanding code for email and resets its attempts.
func (s *LoginCodeService) Generate(ctx context.Context, email string) (string, error) {
	email = normalizeLoginEmail(email)

	code, err := s.generateRandomCode(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate login code: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash login code: %w", err)
	}

	now := time.Now()
	data := models.LoginCodeData{
		CodeHash:  string(hashed),
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal login code: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, loginCodeKey(email), dataJSON, s.cfg.Expiry)
		pipe.Del(ctx, loginAttemptsKey(email))
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store login code in Redis")
		return "", fmt.Errorf("failed to store login code: %w", err)
	}

	s.logger.WithField("email", email).Info("Login code generated")
	return code, nil
}

// Verify consumes the code on success. Every call counts as an attempt before
// the code is compared; once MaxAttempts is reached the code is deleted.
// Every rejection is reported as ErrInvalidCode, store failures are wrapped.
func (s *LoginCodeService) Verify(ctx context.Context, email, code string) error {
	email = normalizeLoginEmail(email)
	codeKey := loginCodeKey(email)
	attemptsKey := loginAttemptsKey(email)

	attempts, err := s.countAttempt(ctx, attemptsKey)
	if err != nil {
		return err
	}

	if attempts > int64(s.cfg.MaxAttempts) {
		if err := s.burn(ctx, codeKey); err != nil {
			return err
		}
		return ErrInvalidCode
	}

	dataJSON, err := s.client.Get(ctx, codeKey).Result()
	if errors.Is(err, redis.Nil) {
		return ErrInvalidCode
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get login code from Redis")
		return fmt.Errorf("failed to get login code: %w", err)
	}

	var data models.LoginCodeData
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		if err := s.burn(ctx, codeKey); err != nil {
			return err
		}
		return ErrInvalidCode
	}

	if time.Now().After(data.ExpiresAt) {
		if err := s.burn(ctx, codeKey); err != nil {
			return err
		}
		return ErrInvalidCode
	}

	if err := bcrypt.CompareHashAndPassword([]byte(data.CodeHash), []byte(code)); err != nil {
		if attempts >= int64(s.cfg.MaxAttempts) {
			if err := s.burn(ctx, codeKey); err != nil {
				return err
			}
		}
		return ErrInvalidCode
	}

	consumed, err := consumeCodeScript.Run(ctx, s.client, []string{codeKey, attemptsKey}, dataJSON).Int()
	if err != nil {
		s.logger.WithError(err).Error("Failed to consume login code")
		return fmt.Errorf("failed to consume login code: %w", err)
	}
	if consumed != 1 {
		return ErrInvalidCode
	}

	return nil
}

func (s *LoginCodeService) countAttempt(ctx context.Context, key string) (int64, error) {
	attempts, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.logger.WithError(err).Error("Failed to count login code attempt")
		return 0, fmt.Errorf("failed to count login code attempt: %w", err)
	}

	if attempts == 1 {
		if err := s.client.Expire(ctx, key, s.cfg.Expiry).Err(); err != nil {
			return 0, fmt.Errorf("failed to set login code attempt expiry: %w", err)
		}
	}

	return attempts, nil
}

func (s *LoginCodeService) burn(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to delete login code")
		return fmt.Errorf("failed to delete login code: %w", err)
	}
	return nil
}

func (s *LoginCodeService) generateRandomCode(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(num.String())
	}
	return b.String(), nil
}

// CodeSender delivers a login code to its recipient.
type CodeSender interface {
	Send(ctx context.Context, email, code string) error
}

// NewCodeSender picks the sender for the configured delivery mode.
func NewCodeSender(cfg *config.LoginCodeConfig, logger *logrus.Logger) CodeSender {
	if cfg.Delivery == config.CodeDeliveryLog {
		logger.Warn("Login codes are delivered to the log")
		return NewLogCodeSender(logger)
	}
	return disabledCodeSender{}
}

// LogCodeSender writes codes to the log instead of sending them. Development only.
type LogCodeSender struct {
	logger *logrus.Logger
}

func NewLogCodeSender(logger *logrus.Logger) *LogCodeSender {
	return &LogCodeSender{logger: logger}
}

func (s *LogCodeSender) Send(ctx context.Context, email, code string) error {
	s.logger.WithFields(logrus.Fields{
		"email": email,
		"code":  code,
	}).Info("Login code issued (development delivery)")
	return nil
}

type disabledCodeSender struct{}

func (disabledCodeSender) Send(ctx context.Context, email, code string) error {
	return ErrCodeDeliveryDisabled
}

func normalizeLoginEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func loginCodeKey(email string) string {
	return fmt.Sprintf("login_code:%s", email)
}

func loginAttemptsKey(email string) string {
	return fmt.Sprintf("login_code_attempts:%s", email)
}
