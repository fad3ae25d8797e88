package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
)

// CreateUser inserts a new user row. Usernames are unique.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := s.ready(); err != nil {
		return err
	}
	if user == nil || user.ID == "" {
		return errors.New("user id is required")
	}
	if user.Username == "" {
		return errors.New("username is required")
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, formatTime(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(apperrors.CodeValidationFailed, "username already exists").
				WithParams(map[string]interface{}{"username": user.Username})
		}
		return fmt.Errorf("insert user %s: %w", user.Username, err)
	}
	return nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row, id)
}

// GetUserByUsername loads a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
	return scanUser(row, username)
}

func scanUser(row rowScanner, key string) (*domain.User, error) {
	var (
		user      domain.User
		createdAt string
	)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found").
			WithParams(map[string]interface{}{"user": key})
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &user, nil
}
