package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/qcom/chatauth/internal/config"
	"github.com/qcom/chatauth/internal/handlers"
	"github.com/qcom/chatauth/internal/middleware"
	"github.com/qcom/chatauth/internal/repository"
	"github.com/qcom/chatauth/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	ctx := context.Background()

	redisClient, err := initRedis(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Redis")
	}
	defer redisClient.Close()

	var dynamoClient *dynamodb.Client
	if cfg.Storage.RevocationBackend == config.BackendDynamoDB || cfg.Storage.UserBackend == config.BackendDynamoDB {
		dynamoClient, err = initDynamoDB(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize DynamoDB")
		}
	}

	// Initialize repositories
	var revocationStore repository.RevocationStore
	switch cfg.Storage.RevocationBackend {
	case config.BackendDynamoDB:
		revocationStore = repository.NewDynamoRevocationStore(dynamoClient, cfg.DynamoDB.TableName, cfg.DynamoDB.Timeout, logger)
	default:
		revocationStore = repository.NewRedisRevocationStore(redisClient, cfg.Redis.Timeout, logger)
	}

	var userStore service.UserStore
	switch cfg.Storage.UserBackend {
	case config.BackendPostgres:
		db, err := repository.OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Postgres")
		}
		defer db.Close()
		userStore = repository.NewPostgresUserRepository(db, logger)
	default:
		userStore = repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	}

	logger.WithFields(logrus.Fields{
		"revocation_backend": cfg.Storage.RevocationBackend,
		"user_backend":       cfg.Storage.UserBackend,
		"rotate_refresh":     cfg.JWT.RotateRefresh,
		"blacklist":          cfg.JWT.Blacklist,
	}).Info("Storage initialized")

	// Initialize services
	signer, err := service.NewSigner(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT signer")
	}

	tokenManager := service.NewTokenManager(signer, revocationStore, &cfg.JWT, logger)
	passwordAuth := service.NewPasswordAuthenticator(userStore, logger)
	loginCodes := service.NewLoginCodeService(redisClient, &cfg.LoginCode, logger)
	oauthProvider := service.NewOAuthProvider(&cfg.OAuth2, logger)
	googleVerifier := service.NewGoogleVerifier(cfg.Google.ClientID)

	authHandlers := handlers.NewAuthHandlers(
		tokenManager,
		passwordAuth,
		loginCodes,
		service.NewCodeSender(&cfg.LoginCode, logger),
		oauthProvider,
		googleVerifier,
		userStore,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(tokenManager, logger)
	router := handlers.NewRouter(authHandlers, authMiddleware, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Endpoint,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Endpoint, err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}
