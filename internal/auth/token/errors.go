package token

import (
	"fmt"

	"github.com/smallbiznis/kovra/internal/auth/autherr"
)

// ErrInvalidToken covers bad signatures, malformed tokens, wrong claims and
// expiry. It matches autherr.ErrInvalidOrExpiredToken.
var ErrInvalidToken = fmt.Errorf("invalid token: %w", autherr.ErrInvalidOrExpiredToken)

func invalid(cause error) error {
	if cause == nil {
		return ErrInvalidToken
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, cause)
}
