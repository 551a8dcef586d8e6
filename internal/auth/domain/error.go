package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidPassword    = errors.New("password does not meet requirements")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrUserInactive       = errors.New("user is inactive")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrLocalAuthDisabled  = errors.New("local authentication is disabled")
)
