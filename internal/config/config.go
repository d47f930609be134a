package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Login code delivery modes.
const (
	CodeDeliveryLog      = "log"
	CodeDeliveryDisabled = "disabled"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	DynamoDB  DynamoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	JWT       JWTConfig
	LoginCode LoginCodeConfig
	OAuth2    OAuth2Config
	Google    GoogleConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StorageConfig selects the backends behind the revocation store and the user store.
type StorageConfig struct {
	RevocationBackend string
	UserBackend       string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
	Timeout   time.Duration
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
	// Timeout bounds dialing, every socket read/write and every store call.
	Timeout time.Duration
}

type JWTConfig struct {
	SecretKey       string
	Algorithm       string
	Issuer          string
	Audience        string
	AccessExpiry    time.Duration
	RefreshExpiry   time.Duration
	RotateRefresh   bool
	Blacklist       bool
	BlacklistPrefix string
}

type LoginCodeConfig struct {
	Length      int
	Expiry      time.Duration
	MaxAttempts int
	// Delivery is "disabled" or "log". "log" writes live codes to the log and
	// is meant for development only.
	Delivery string
}

type OAuth2Config struct {
	ClientID         string
	ClientSecret     string
	RedirectURI      string
	AuthEndpoint     string
	TokenEndpoint    string
	UserInfoEndpoint string
}

type GoogleConfig struct {
	ClientID string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			RevocationBackend: strings.ToLower(getEnv("REVOCATION_BACKEND", BackendRedis)),
			UserBackend:       strings.ToLower(getEnv("USER_BACKEND", BackendDynamoDB)),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "ChatAuthTable"),
			Timeout:   getEnvAsDuration("DYNAMODB_TIMEOUT", 5*time.Second),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", ""),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 1),
			Timeout:  getEnvAsDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET_KEY", ""),
			Algorithm:       strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
			Issuer:          getEnv("JWT_ISSUER", ""),
			Audience:        getEnv("JWT_AUDIENCE", ""),
			AccessExpiry:    getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry:   getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
			RotateRefresh:   getEnvAsBool("JWT_REFRESH_ROTATE", true),
			Blacklist:       getEnvAsBool("JWT_REFRESH_BLACKLIST", true),
			BlacklistPrefix: getEnv("JWT_REFRESH_BLACKLIST_PREFIX", "jwt:refresh:blacklist:"),
		},
		LoginCode: LoginCodeConfig{
			Length:      getEnvAsInt("LOGIN_CODE_LENGTH", 6),
			Expiry:      getEnvAsDuration("LOGIN_CODE_EXPIRY", 10*time.Minute),
			MaxAttempts: getEnvAsInt("LOGIN_CODE_MAX_ATTEMPTS", 5),
			Delivery:    strings.ToLower(getEnv("LOGIN_CODE_DELIVERY", CodeDeliveryDisabled)),
		},
		OAuth2: OAuth2Config{
			ClientID:         getEnv("OAUTH2_CLIENT_ID", ""),
			ClientSecret:     getEnv("OAUTH2_CLIENT_SECRET", ""),
			RedirectURI:      getEnv("OAUTH2_REDIRECT_URI", ""),
			AuthEndpoint:     getEnv("OAUTH2_AUTH_ENDPOINT", ""),
			TokenEndpoint:    getEnv("OAUTH2_TOKEN_ENDPOINT", ""),
			UserInfoEndpoint: getEnv("OAUTH2_USER_INFO_ENDPOINT", ""),
		},
		Google: GoogleConfig{
			ClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	switch c.JWT.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("JWT_ALGORITHM %q is not supported", c.JWT.Algorithm)
	}

	if c.JWT.AccessExpiry <= 0 || c.JWT.RefreshExpiry <= 0 {
		return fmt.Errorf("JWT expiries must be positive")
	}

	switch c.LoginCode.Delivery {
	case CodeDeliveryLog, CodeDeliveryDisabled:
	default:
		return fmt.Errorf("LOGIN_CODE_DELIVERY %q is not supported", c.LoginCode.Delivery)
	}

	if c.LoginCode.MaxAttempts <= 0 {
		return fmt.Errorf("LOGIN_CODE_MAX_ATTEMPTS must be positive")
	}

	switch c.Storage.RevocationBackend {
	case BackendRedis, BackendDynamoDB:
	default:
		return fmt.Errorf("REVOCATION_BACKEND %q is not supported", c.Storage.RevocationBackend)
	}

	switch c.Storage.UserBackend {
	case BackendDynamoDB:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when USER_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("USER_BACKEND %q is not supported", c.Storage.UserBackend)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
