package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/cmd/refinery/repository"
	"github.com/draftwell/refinery/common/auth"
	"github.com/draftwell/refinery/common/logger"
)

// AuthService authenticates users and issues tokens
type AuthService struct {
	users *repository.UserRepository
	jwt   *auth.JWTManager
	log   *logger.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(users *repository.UserRepository, jwt *auth.JWTManager, log *logger.Logger) *AuthService {
	return &AuthService{users: users, jwt: jwt, log: log}
}

// Login verifies credentials and returns a signed token. Unknown emails and
// wrong passwords fail identically so the response reveals nothing about
// which accounts exist.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", nil, models.AccessDeniedf("invalid credentials")
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return "", nil, models.AccessDeniedf("invalid credentials")
	}

	token, err := s.jwt.GenerateToken(user.ID.String(), user.Name)
	if err != nil {
		return "", nil, err
	}

	s.log.Info("user logged in", "user_id", user.ID)
	return token, user, nil
}
