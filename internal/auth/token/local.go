package token

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/principal"
)

const (
	typAccess  = "access"
	typRefresh = "refresh"
)

// Subject is the local identity a token pair is issued for.
type Subject struct {
	UserID string
	Email  string
	Name   string
	Roles  []string
}

// Membership is the org context embedded in a token pair.
type Membership struct {
	OrgID   string
	OrgRole string
	OrgIDs  []string
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// LocalConfig configures HS256 token issuance.
type LocalConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// LocalTokens issues and validates HS256 tokens signed with the local secret.
type LocalTokens struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
	parser     *jwt.Parser
}

var ErrMissingSecret = errors.New("local token secret is not configured")

func NewLocalTokens(cfg LocalConfig, clk clock.Clock) (*LocalTokens, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &LocalTokens{
		secret:     []byte(secret),
		issuer:     strings.TrimSpace(cfg.Issuer),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clk.Now),
		),
	}, nil
}

// Issue signs an access token and a refresh token for subject.
func (t *LocalTokens) Issue(subject Subject, membership *Membership) (*TokenPair, error) {
	now := t.clock.Now()
	roles := subject.Roles
	if len(roles) == 0 {
		roles = []string{principal.RoleUser}
	}

	access := jwt.MapClaims{
		"typ":    typAccess,
		"sub":    subject.UserID,
		"userId": subject.UserID,
		"email":  subject.Email,
		"name":   subject.Name,
		"roles":  roles,
		"role":   roles[0],
	}
	if membership != nil && membership.OrgID != "" {
		access["orgId"] = membership.OrgID
		access["orgRole"] = membership.OrgRole
		orgIDs := membership.OrgIDs
		if len(orgIDs) == 0 {
			orgIDs = []string{membership.OrgID}
		}
		access["orgIds"] = orgIDs
	}
	accessExp := now.Add(t.accessTTL)
	accessToken, err := t.sign(access, now, accessExp)
	if err != nil {
		return nil, err
	}

	refreshExp := now.Add(t.refreshTTL)
	refreshToken, err := t.sign(jwt.MapClaims{
		"typ": typRefresh,
		"sub": subject.UserID,
	}, now, refreshExp)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(t.accessTTL.Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *LocalTokens) sign(claims jwt.MapClaims, now, exp time.Time) (string, error) {
	claims["jti"] = ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	claims["iat"] = now.Unix()
	claims["exp"] = exp.Unix()
	if t.issuer != "" {
		claims["iss"] = t.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *LocalTokens) parse(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := t.parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, invalid(err)
	}
	if t.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != "" && iss != t.issuer {
			return nil, invalid(jwt.ErrTokenInvalidIssuer)
		}
	}
	return claims, nil
}

// Validate verifies an access token and builds a local principal.
func (t *LocalTokens) Validate(raw string) (*principal.Principal, error) {
	claims, err := t.parse(raw)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ == typRefresh {
		return nil, invalid(errors.New("refresh token used as access token"))
	}

	userID := stringClaim(claims, "userId", "id", "sub")
	if userID == "" {
		return nil, invalid(errors.New("missing subject"))
	}

	roles := stringList(claims["roles"])
	if len(roles) == 0 {
		roles = stringList(claims["role"])
	}
	if len(roles) == 0 {
		roles = []string{principal.RoleUser}
	}

	b := principal.NewBuilder(principal.SourceLocal).
		User(userID, "", stringClaim(claims, "email"), stringClaim(claims, "name")).
		Roles(roles...)
	if orgID := stringClaim(claims, "orgId"); orgID != "" {
		b.Org(orgID, "", stringClaim(claims, "orgRole"), stringList(claims["orgIds"]))
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		b.ExpiresAt(exp.Time)
	}
	return b.Build(), nil
}

// ValidateRefresh verifies a refresh token and returns its subject.
func (t *LocalTokens) ValidateRefresh(raw string) (string, error) {
	claims, err := t.parse(raw)
	if err != nil {
		return "", err
	}
	if typ, _ := claims["typ"].(string); typ != typRefresh {
		return "", invalid(errors.New("not a refresh token"))
	}
	sub, _ := claims.GetSubject()
	if strings.TrimSpace(sub) == "" {
		return "", invalid(errors.New("missing subject"))
	}
	return sub, nil
}
