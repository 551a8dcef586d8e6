package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestClassifierLooksExternal(t *testing.T) {
	c := Classifier{Issuer: "https://tah.example.com", Audience: "kovra-api"}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"issuer match", unsignedToken(t, jwt.MapClaims{"iss": "https://tah.example.com", "exp": exp}), true},
		{"audience string", unsignedToken(t, jwt.MapClaims{"aud": "kovra-api"}), true},
		{"audience list", unsignedToken(t, jwt.MapClaims{"aud": []string{"other", "kovra-api"}}), true},
		{"local token", unsignedToken(t, jwt.MapClaims{"iss": "kovra", "sub": "1"}), false},
		{"garbage", "not-a-jwt", false},
		{"empty", "", false},
		{"bad base64", "a.b.c", false},
		{"two segments", "eyJhbGciOiJIUzI1NiJ9.eyJpc3MiOiJ4In0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.LooksExternal(tt.token))
		})
	}
}

func TestClassifierUnconfigured(t *testing.T) {
	c := Classifier{}
	assert.False(t, c.LooksExternal(unsignedToken(t, jwt.MapClaims{"iss": "anything"})))
}
