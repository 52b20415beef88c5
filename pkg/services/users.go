package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/queryhive/queryhive/pkg/models"
)

// UserService manages accounts and credential checks.
type UserService struct {
	pool *pgxpool.Pool
}

// NewUserService creates a user service over an existing pool.
func NewUserService(pool *pgxpool.Pool) *UserService {
	return &UserService{pool: pool}
}

// Register creates an account with a bcrypt-hashed password.
func (s *UserService) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalid)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalid)
	}
	if displayName == "" {
		displayName = email
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		Active:      true,
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, display_name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		user.ID, user.Email, string(hash), user.DisplayName).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// Authenticate verifies credentials and returns the account. Invalid
// credentials and unknown emails are indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, active, created_at
		 FROM users WHERE email = $1`,
		email).Scan(&user.ID, &user.Email, &hash, &user.DisplayName, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if !user.Active {
		return nil, ErrForbidden
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrForbidden
	}
	return &user, nil
}

// Get returns one account by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, display_name, active, created_at FROM users WHERE id = $1`,
		id).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	return &user, nil
}
