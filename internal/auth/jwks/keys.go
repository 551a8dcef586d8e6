package jwks

import (
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
)

// KeySet is a decoded JWKS document. Entries that could not be decoded are
// remembered by kid so a lookup reports why the key was refused.
type KeySet struct {
	Keys     []jose.JSONWebKey
	rejected map[string]error
}

// ParseKeySet decodes a JWKS document entry by entry. A malformed or
// unknown entry does not invalidate the rest of the set.
func ParseKeySet(data []byte) (*KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	set := &KeySet{}
	for _, raw := range doc.Keys {
		var key jose.JSONWebKey
		if err := key.UnmarshalJSON(raw); err != nil {
			var head struct {
				Kid string `json:"kid"`
				Kty string `json:"kty"`
			}
			_ = json.Unmarshal(raw, &head)
			set.reject(head.Kid, fmt.Errorf("%w: kty=%q: %v", autherr.ErrUnsupportedKeyType, head.Kty, err))
			continue
		}
		set.Keys = append(set.Keys, key)
	}
	return set, nil
}

func (s *KeySet) reject(kid string, err error) {
	if kid == "" {
		return
	}
	if s.rejected == nil {
		s.rejected = make(map[string]error)
	}
	s.rejected[kid] = err
}

// kids lists the usable key ids in document order.
func (s *KeySet) kids() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		out = append(out, k.KeyID)
	}
	return out
}

// lookup returns the verification key published under kid.
func (s *KeySet) lookup(kid string) (crypto.PublicKey, error) {
	if s != nil {
		for _, k := range s.Keys {
			if k.KeyID == kid {
				return verificationKey(k)
			}
		}
		if err, ok := s.rejected[kid]; ok {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: kid=%q", autherr.ErrSigningKeyNotFound, kid)
}

// verificationKey returns the RSA key of a signing JWK. The first x5c
// certificate is the signing certificate; decoding has already checked that
// it carries the same key as n/e.
func verificationKey(k jose.JSONWebKey) (crypto.PublicKey, error) {
	if k.Use != "" && k.Use != "sig" {
		return nil, fmt.Errorf("%w: use=%q", autherr.ErrUnsupportedKeyType, k.Use)
	}
	if len(k.Certificates) > 0 {
		if pub, ok := k.Certificates[0].PublicKey.(*rsa.PublicKey); ok {
			return pub, nil
		}
	}
	switch key := k.Key.(type) {
	case *rsa.PublicKey:
		return key, nil
	case *rsa.PrivateKey:
		return &key.PublicKey, nil
	default:
		return nil, fmt.Errorf("%w: %T", autherr.ErrUnsupportedKeyType, k.Key)
	}
}

// ParsePublicKeyPEM reads a pinned verification key. PKIX and PKCS#1 public
// keys and certificates are accepted.
func ParsePublicKeyPEM(data string) (crypto.PublicKey, error) {
	return jwt.ParseRSAPublicKeyFromPEM([]byte(data))
}
