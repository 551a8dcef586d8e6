package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/kovra/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	"github.com/smallbiznis/kovra/internal/auth/scope"
	organizationdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	resourcedomain "github.com/smallbiznis/kovra/internal/resource/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

// errorResponse is the single error envelope of the API.
type errorResponse struct {
	Success    bool              `json:"success"`
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Required   any               `json:"required,omitempty"`
	Current    any               `json:"current,omitempty"`
	RetryAfter int               `json:"retry_after,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// authMessages holds the generic client message of every taxonomy code.
var authMessages = map[string]string{
	"NoCredential":            "authentication required",
	"InvalidOrExpiredToken":   "invalid or expired token",
	"AuthMethodUnavailable":   "authentication method unavailable",
	"InvalidApiKey":           "invalid api key",
	"InactiveApiKey":          "api key is inactive",
	"ExpiredApiKey":           "api key has expired",
	"OrgMismatch":             "api key is not valid for this organization",
	"RateLimitExceeded":       "rate limit exceeded",
	"MissingScope":            "missing required scope",
	"WorkflowNotAllowed":      "workflow not allowed for this api key",
	"OrgAccessDenied":         "organization access denied",
	"InsufficientPermissions": "insufficient permissions",
}

// ErrorHandlingMiddleware renders the last handler error. debug adds the
// underlying error text as detail.
func ErrorHandlingMiddleware(debug bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if debug && status != http.StatusBadRequest {
			payload.Detail = lastErr.Err.Error()
		}

		var rl *autherr.RateLimitError
		if errors.As(lastErr.Err, &rl) {
			c.Header("Retry-After", strconv.Itoa(payload.RetryAfter))
		}
		if status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", `Bearer realm="kovra"`)
		}

		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: "internal server error",
		}
	}

	if status, payload, ok := mapAuthError(err); ok {
		return status, payload
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorResponse{
			Error:   "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorResponse{
			Error:   "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{
			Error:   "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authdomain.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{
			Error:   "InvalidCredentials",
			Message: "invalid email or password",
		}
	case errors.Is(err, authdomain.ErrInvalidRefresh):
		return http.StatusUnauthorized, errorResponse{
			Error:   "InvalidRefreshToken",
			Message: "invalid or expired refresh token",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorResponse{
			Error:   "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, authdomain.ErrUserExists):
		return http.StatusConflict, errorResponse{
			Error:   "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorResponse{
			Error:   "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorResponse{
			Error:   "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: "internal server error",
		}
	}
}

// mapAuthError maps the credential taxonomy to exactly 401, 403 or 429.
func mapAuthError(err error) (int, errorResponse, bool) {
	if errors.Is(err, authdomain.ErrLocalAuthDisabled) {
		err = autherr.ErrAuthMethodUnavailable
	}

	code := autherr.Code(err)
	switch code {
	case "":
		return 0, errorResponse{}, false
	case "SigningKeyNotFound", "UnsupportedKeyType", "JwksFetchFailed":
		code = "InvalidOrExpiredToken"
	}

	payload := errorResponse{Error: code, Message: authMessages[code]}

	var denied *autherr.DeniedError
	if errors.As(err, &denied) {
		payload.Required = denied.Required
		payload.Current = denied.Current
	}

	switch code {
	case "RateLimitExceeded":
		retry := 1
		var rl *autherr.RateLimitError
		if errors.As(err, &rl) {
			retry = rl.RetryAfterSeconds()
		}
		payload.RetryAfter = retry
		return http.StatusTooManyRequests, payload, true
	case "OrgMismatch", "MissingScope", "WorkflowNotAllowed", "OrgAccessDenied", "InsufficientPermissions":
		return http.StatusForbidden, payload, true
	default:
		return http.StatusUnauthorized, payload, true
	}
}

// classifyErrorForLog returns the error type and code recorded on the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return "auth", payload.Error
	case status == http.StatusBadRequest:
		return "validation", payload.Error
	case status == http.StatusNotFound:
		return "not_found", payload.Error
	case status == http.StatusConflict:
		return "conflict", payload.Error
	default:
		return "internal", payload.Error
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, authdomain.ErrInvalidPassword),
		errors.Is(err, scope.ErrInvalidScope):
		return true
	case isAPIKeyValidationError(err),
		isResourceValidationError(err),
		isOrganizationValidationError(err),
		isAuditValidationError(err):
		return true
	default:
		return false
	}
}

func isAPIKeyValidationError(err error) bool {
	switch {
	case errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidKeyID),
		errors.Is(err, apikeydomain.ErrInvalidScopes),
		errors.Is(err, apikeydomain.ErrInvalidRateLimit),
		errors.Is(err, apikeydomain.ErrInvalidExpiry),
		errors.Is(err, apikeydomain.ErrInvalidOwner):
		return true
	default:
		return false
	}
}

func isResourceValidationError(err error) bool {
	switch {
	case errors.Is(err, resourcedomain.ErrInvalidOrganization),
		errors.Is(err, resourcedomain.ErrInvalidName),
		errors.Is(err, resourcedomain.ErrInvalidType),
		errors.Is(err, resourcedomain.ErrInvalidID),
		errors.Is(err, resourcedomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isOrganizationValidationError(err error) bool {
	switch {
	case errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidUser),
		errors.Is(err, organizationdomain.ErrInvalidOrganization),
		errors.Is(err, organizationdomain.ErrInvalidRole):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch {
	case errors.Is(err, auditdomain.ErrInvalidOrganization),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, resourcedomain.ErrNotFound),
		errors.Is(err, organizationdomain.ErrNotFound),
		errors.Is(err, authdomain.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, authdomain.ErrInvalidPassword):
		return "invalid_password"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_password":
		return "password must be at least 8 characters"
	default:
		return "invalid value"
	}
}
