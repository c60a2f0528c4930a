package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/avandra/go-toggl-backend/internal/model"
)

// AdminStore is the admin-credential surface of the repository.
type AdminStore interface {
	GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error)
}

type AuthService struct {
	store  AdminStore
	jwtKey []byte
}

func NewAuthService(store AdminStore, jwtKey string) *AuthService {
	return &AuthService{store: store, jwtKey: []byte(jwtKey)}
}

func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	admin, err := s.store.GetAdminByUsername(ctx, username)
	if err != nil {
		return "", errors.New("invalid credentials")
	}

	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return "", errors.New("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  admin.ID,
		"name": admin.Username,
		"exp":  time.Now().Add(24 * time.Hour).Unix(),
	})

	return token.SignedString(s.jwtKey)
}
