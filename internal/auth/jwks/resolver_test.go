package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func rsaJWK(kid string, pub *rsa.PublicKey) jose.JSONWebKey {
	return jose.JSONWebKey{Key: pub, KeyID: kid, Algorithm: "RS256", Use: "sig"}
}

func selfSigned(t *testing.T, key *rsa.PrivateKey) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tah"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// documentSet round-trips keys through the JWKS wire format.
func documentSet(t *testing.T, keys ...jose.JSONWebKey) *KeySet {
	t.Helper()
	raw, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	require.NoError(t, err)
	set, err := ParseKeySet(raw)
	require.NoError(t, err)
	return set
}

func staticFetcher(set *KeySet) Fetcher {
	return FetcherFunc(func(context.Context) (*KeySet, error) { return set, nil })
}

type jwksServer struct {
	*httptest.Server
	hits atomic.Int32
	fail atomic.Bool
}

func newJWKSServer(t *testing.T, set jose.JSONWebKeySet) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestResolveFetchesOnceWithinTTL(t *testing.T) {
	key := newRSAKey(t)
	srv := newJWKSServer(t, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{rsaJWK("k1", &key.PublicKey)}})
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	r := NewResolver(Options{
		TTL:     10 * time.Minute,
		Fetcher: &HTTPFetcher{URL: srv.URL, Client: srv.Client()},
		Clock:   clk,
		Logger:  zaptest.NewLogger(t),
	})

	got, err := r.ResolveSigningKey(context.Background(), "k1")
	require.NoError(t, err)
	pub, ok := got.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 0, pub.N.Cmp(key.PublicKey.N))
	assert.Equal(t, key.PublicKey.E, pub.E)

	clk.Advance(5 * time.Minute)
	_, err = r.ResolveSigningKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.hits.Load())

	clk.Advance(6 * time.Minute)
	_, err = r.ResolveSigningKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestResolveFallsBackToStaleCache(t *testing.T) {
	key := newRSAKey(t)
	srv := newJWKSServer(t, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{rsaJWK("k1", &key.PublicKey)}})
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var outcomes []string
	r := NewResolver(Options{
		TTL:      time.Minute,
		Fetcher:  &HTTPFetcher{URL: srv.URL, Client: srv.Client()},
		Clock:    clk,
		Logger:   zaptest.NewLogger(t),
		Observer: func(_ context.Context, outcome string) { outcomes = append(outcomes, outcome) },
	})

	_, err := r.ResolveSigningKey(context.Background(), "k1")
	require.NoError(t, err)

	srv.fail.Store(true)
	clk.Advance(2 * time.Minute)

	got, err := r.ResolveSigningKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, []string{"ok", "error", "stale"}, outcomes)
}

func TestResolveWithoutCacheSurfacesFetchFailure(t *testing.T) {
	r := NewResolver(Options{
		Fetcher: FetcherFunc(func(context.Context) (*KeySet, error) {
			return nil, errors.New("connection refused")
		}),
	})

	_, err := r.ResolveSigningKey(context.Background(), "k1")
	assert.ErrorIs(t, err, autherr.ErrJWKSFetchFailed)
}

func TestResolveUnknownKid(t *testing.T) {
	key := newRSAKey(t)
	r := NewResolver(Options{Fetcher: staticFetcher(documentSet(t, rsaJWK("k1", &key.PublicKey)))})

	_, err := r.ResolveSigningKey(context.Background(), "other")
	assert.ErrorIs(t, err, autherr.ErrSigningKeyNotFound)
}

func TestResolveUnsupportedKeyType(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rsaKey := newRSAKey(t)

	malformed, err := ParseKeySet([]byte(`{"keys":[{"kid":"bare-ec","kty":"EC"},{"kid":"odd","kty":"XYZ","n":"AQAB"}]}`))
	require.NoError(t, err)
	assert.Empty(t, malformed.Keys)

	tests := []struct {
		name string
		set  *KeySet
		kid  string
	}{
		{name: "ec key", set: documentSet(t, jose.JSONWebKey{Key: &ecKey.PublicKey, KeyID: "ec", Use: "sig"}), kid: "ec"},
		{name: "encryption key", set: documentSet(t, jose.JSONWebKey{Key: &rsaKey.PublicKey, KeyID: "enc", Use: "enc"}), kid: "enc"},
		{name: "incomplete ec entry", set: malformed, kid: "bare-ec"},
		{name: "unknown kty", set: malformed, kid: "odd"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(Options{Fetcher: staticFetcher(tc.set)})
			_, err := r.ResolveSigningKey(context.Background(), tc.kid)
			if !errors.Is(err, autherr.ErrUnsupportedKeyType) {
				t.Fatalf("expected ErrUnsupportedKeyType, got %v", err)
			}
		})
	}
}

func TestParseKeySetKeepsValidEntries(t *testing.T) {
	key := newRSAKey(t)
	good, err := json.Marshal(rsaJWK("good", &key.PublicKey))
	require.NoError(t, err)

	set, err := ParseKeySet([]byte(`{"keys":[{"kid":"bad","kty":"RSA","n":"!!"},` + string(good) + `]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, set.kids())

	_, err = ParseKeySet([]byte(`not json`))
	assert.Error(t, err)
}

func TestResolveCertificateChainKey(t *testing.T) {
	key := newRSAKey(t)
	cert := selfSigned(t, key)

	r := NewResolver(Options{Fetcher: staticFetcher(documentSet(t, jose.JSONWebKey{
		Key:          &key.PublicKey,
		KeyID:        "cert",
		Use:          "sig",
		Certificates: []*x509.Certificate{cert},
	}))})

	got, err := r.ResolveSigningKey(context.Background(), "cert")
	require.NoError(t, err)
	pub, ok := got.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 0, pub.N.Cmp(key.PublicKey.N))
}

func TestResolveRejectsCertificateForAnotherKey(t *testing.T) {
	published := newRSAKey(t)
	other := newRSAKey(t)

	raw, err := json.Marshal(rsaJWK("cert", &published.PublicKey))
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	entry["x5c"] = []string{base64.StdEncoding.EncodeToString(selfSigned(t, other).Raw)}
	doc, err := json.Marshal(map[string]any{"keys": []any{entry}})
	require.NoError(t, err)

	set, err := ParseKeySet(doc)
	require.NoError(t, err)
	r := NewResolver(Options{Fetcher: staticFetcher(set)})

	_, err = r.ResolveSigningKey(context.Background(), "cert")
	assert.ErrorIs(t, err, autherr.ErrUnsupportedKeyType)
}

func TestStaticKeyBypassesFetch(t *testing.T) {
	key := newRSAKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	static, err := ParsePublicKeyPEM(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	require.NoError(t, err)

	var fetched bool
	r := NewResolver(Options{
		StaticKey: static,
		Fetcher: FetcherFunc(func(context.Context) (*KeySet, error) {
			fetched = true
			return nil, errors.New("unreachable")
		}),
	})

	got, err := r.ResolveSigningKey(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, static, got)
	assert.False(t, fetched)
}

func TestParsePublicKeyPEMAcceptsCertificate(t *testing.T) {
	key := newRSAKey(t)
	cert := selfSigned(t, key)

	got, err := ParsePublicKeyPEM(string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})))
	require.NoError(t, err)
	assert.Equal(t, 0, got.(*rsa.PublicKey).N.Cmp(key.PublicKey.N))

	_, err = ParsePublicKeyPEM("not a pem block")
	assert.Error(t, err)
}

func TestInvalidateKeepsStaleFallback(t *testing.T) {
	key := newRSAKey(t)
	calls := 0
	r := NewResolver(Options{
		TTL: time.Hour,
		Fetcher: FetcherFunc(func(context.Context) (*KeySet, error) {
			calls++
			if calls > 1 {
				return nil, errors.New("down")
			}
			return documentSet(t, rsaJWK("k1", &key.PublicKey)), nil
		}),
	})

	assert.Empty(t, r.Keys())
	_, err := r.ResolveSigningKey(context.Background(), "k1")
	require.NoError(t, err)
	r.Invalidate()

	_, err = r.ResolveSigningKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"k1"}, r.Keys())
}
