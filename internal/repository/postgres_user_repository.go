package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/qcom/chatauth/internal/models"
	"github.com/qcom/chatauth/internal/repository/migrations"
	"github.com/sirupsen/logrus"
)

const uniqueViolation = "23505"

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresUserRepository struct {
	db     DBTX
	logger *logrus.Logger
}

func NewPostgresUserRepository(db DBTX, logger *logrus.Logger) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, logger: logger}
}

// OpenPostgres opens the pgx-backed pool and applies the embedded migrations.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration dialect error: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return db, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query :=
		`SELECT id, email, username, password_hash, is_active, created_at, updated_at
		 FROM users
		 WHERE email = $1`

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, normalizeEmail(email)).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.Email = normalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	query :=
		`INSERT INTO users (id, email, username, password_hash, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Username, user.PasswordHash, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresUserRepository) UpdateUsername(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	query :=
		`UPDATE users SET username = $1, updated_at = $2
		 WHERE id = $3`

	if _, err := r.db.ExecContext(ctx, query, user.Username, user.UpdatedAt, user.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresUserRepository) GetOrCreate(ctx context.Context, email, name string) (*models.User, error) {
	user, err := r.GetByEmail(ctx, email)
	if err == nil {
		if name != "" && user.Username == "" {
			user.Username = name
			if err := r.UpdateUsername(ctx, user); err != nil {
				return nil, err
			}
		}
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	newUser := &models.User{
		Email:    email,
		Username: defaultUsername(email, name),
		IsActive: true,
	}

	if err := r.Create(ctx, newUser); err != nil {
		if errors.Is(err, ErrUserExists) {
			return r.GetByEmail(ctx, email)
		}
		return nil, err
	}

	r.logger.WithField("user_id", newUser.ID).Info("Created user")
	return newUser, nil
}
