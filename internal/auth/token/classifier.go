package token

import (
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Classifier decides, without verifying, whether a bearer token was minted by
// the external identity provider.
type Classifier struct {
	Issuer   string
	Audience string
}

var unverifiedParser = jwt.NewParser()

// LooksExternal reports whether the token's iss matches the external issuer
// or its aud contains the external audience. Malformed input is local.
func (c Classifier) LooksExternal(raw string) bool {
	issuer := strings.TrimSpace(c.Issuer)
	audience := strings.TrimSpace(c.Audience)
	if issuer == "" && audience == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return false
	}

	if issuer != "" {
		if iss, err := claims.GetIssuer(); err == nil && iss == issuer {
			return true
		}
	}
	if audience != "" {
		if aud, err := claims.GetAudience(); err == nil && slices.Contains(aud, audience) {
			return true
		}
	}
	return false
}
