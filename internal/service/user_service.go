// Package service holds business logic that sits between the HTTP
// handlers and the repository.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/logger"
)

const passwordHashCost = 12

// UserStore is the persistence surface the user service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// UserService manages user accounts. Batch create jobs derive one
// account per generated identity through EnsureUser.
type UserService struct {
	store UserStore
}

// NewUserService creates a new UserService.
func NewUserService(store UserStore) *UserService {
	return &UserService{store: store}
}

// Register creates a user with the given credentials.
func (s *UserService) Register(ctx context.Context, username, password string) (*domain.User, error) {
	if username == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "username is required")
	}
	if len(password) < 8 {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureUser returns the account for username, creating it with a
// random password when absent. Idempotent so concurrent batch items for
// the same identity converge on one record.
func (s *UserService) EnsureUser(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !apperrors.HasCode(err, apperrors.CodeUserNotFound) {
		return nil, err
	}

	password, err := randomPassword()
	if err != nil {
		return nil, err
	}
	user, err = s.Register(ctx, username, password)
	if err != nil {
		// Lost a create race; the winner's record serves.
		if appErr, ok := apperrors.IsAppError(err); ok && appErr.HTTPStatus == 409 {
			return s.store.GetUserByUsername(ctx, username)
		}
		return nil, err
	}
	logger.Info("user provisioned", zap.String("username", username))
	return user, nil
}

// Authenticate verifies credentials and returns the user.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		logger.Warn("login failed: invalid credentials")
		return nil, apperrors.Unauthorized(apperrors.CodeAuthFailed, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Warn("login failed: invalid credentials")
		return nil, apperrors.Unauthorized(apperrors.CodeAuthFailed, "invalid credentials")
	}
	return user, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
