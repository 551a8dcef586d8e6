package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Regenerate(ctx context.Context, id string) (*SecretResponse, error)
	Revoke(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type CreateRequest struct {
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Scopes           []string   `json:"scopes"`
	AllowedWorkflows []string   `json:"allowed_workflows"`
	RateLimit        int        `json:"rate_limit"`
	ExpiresAt        *time.Time `json:"expires_at"`
	OrgID            string     `json:"org_id"`
}

type Response struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	KeyPrefix        string     `json:"key_prefix"`
	OrgID            *string    `json:"org_id"`
	Scopes           []string   `json:"scopes"`
	AllowedWorkflows []string   `json:"allowed_workflows"`
	RateLimit        int        `json:"rate_limit"`
	RateLimitUsed    int        `json:"rate_limit_used"`
	RateLimitReset   *time.Time `json:"rate_limit_reset"`
	UsageCount       int64      `json:"usage_count"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	LastUsedIP       *string    `json:"last_used_ip"`
	ExpiresAt        *time.Time `json:"expires_at"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
}

// SecretResponse is the only response that ever carries the raw key.
type SecretResponse struct {
	Response
	Key string `json:"key"`
}

var (
	ErrInvalidOwner     = errors.New("invalid_owner")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidKeyID     = errors.New("invalid_key_id")
	ErrInvalidScopes    = errors.New("invalid_scopes")
	ErrInvalidRateLimit = errors.New("invalid_rate_limit")
	ErrInvalidExpiry    = errors.New("invalid_expiry")
	ErrNotFound         = errors.New("not_found")
)
