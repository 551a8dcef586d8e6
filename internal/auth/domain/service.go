package domain

import (
	"context"

	"github.com/smallbiznis/kovra/internal/auth/token"
	"github.com/smallbiznis/kovra/internal/principal"
)

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)
	ChangePassword(ctx context.Context, req ChangePasswordRequest) error
	CurrentUser(ctx context.Context) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

type CreateUserRequest struct {
	Email       string
	Password    string
	DisplayName string
	Roles       []string
}

type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
}

type ChangePasswordRequest struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
}

type LoginResult struct {
	Principal *principal.Principal
	Tokens    *token.TokenPair
}
