package domain

import (
	"time"

	"github.com/smallbiznis/kovra/internal/auth/autherr"
)

// Reason names why a presented key was rejected. Values match the wire
// error codes.
type Reason string

const (
	ReasonInvalid            Reason = "InvalidApiKey"
	ReasonInactive           Reason = "InactiveApiKey"
	ReasonExpired            Reason = "ExpiredApiKey"
	ReasonOrgMismatch        Reason = "OrgMismatch"
	ReasonRateLimitExceeded  Reason = "RateLimitExceeded"
	ReasonMissingScope       Reason = "MissingScope"
	ReasonWorkflowNotAllowed Reason = "WorkflowNotAllowed"
)

// ValidationRequest is one key presentation. Empty optional fields skip
// their check.
type ValidationRequest struct {
	RawKey         string
	RequiredScope  string
	ResourceID     string
	RequestedOrgID string
}

type ValidationResult struct {
	OK          bool
	Reason      Reason
	RateLimited bool
	RetryAfter  time.Duration
	Key         *APIKey
}

// RetryAfterSeconds rounds up and never returns less than one second.
func (r *ValidationResult) RetryAfterSeconds() int {
	return (&autherr.RateLimitError{RetryAfter: r.RetryAfter}).RetryAfterSeconds()
}

// Err converts a failed result to the shared auth error taxonomy.
func (r *ValidationResult) Err(requiredScope string) error {
	if r == nil || r.OK {
		return nil
	}
	switch r.Reason {
	case ReasonInactive:
		return autherr.ErrInactiveAPIKey
	case ReasonExpired:
		return autherr.ErrExpiredAPIKey
	case ReasonOrgMismatch:
		return autherr.Denied(autherr.ErrOrgMismatch, nil, r.Key.BoundOrg())
	case ReasonRateLimitExceeded:
		return &autherr.RateLimitError{RetryAfter: r.RetryAfter}
	case ReasonMissingScope:
		return autherr.Denied(autherr.ErrMissingScope, requiredScope, []string(r.Key.Scopes))
	case ReasonWorkflowNotAllowed:
		return autherr.Denied(autherr.ErrWorkflowNotAllowed, nil, []string(r.Key.AllowedWorkflows))
	default:
		return autherr.ErrInvalidAPIKey
	}
}
