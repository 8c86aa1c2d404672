package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemprice/internal/upstream"
)

const (
	testIssuer   = "https://tenant.example.com/"
	testAudience = "https://api.gemprice.test"
)

type provider struct {
	key  *rsa.PrivateKey
	kid  atomic.Value
	hits int32
	srv  *httptest.Server
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	return newGatedProvider(t, nil)
}

// newGatedProvider holds every key set request until gate is closed.
func newGatedProvider(t *testing.T, gate chan struct{}) *provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := &provider{key: key}
	p.kid.Store("key-1")
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gate != nil {
			<-gate
		}
		atomic.AddInt32(&p.hits, 1)
		pub := p.key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": p.kid.Load().(string),
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) verifier(ttl time.Duration) *Verifier {
	return NewVerifier(VerifierConfig{
		JWKSURL:  p.srv.URL + "/.well-known/jwks.json",
		Issuer:   testIssuer,
		Audience: testAudience,
		CacheTTL: ttl,
	}, upstream.NewClient(time.Second, 0))
}

func (p *provider) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	return p.signKid(t, p.kid.Load().(string), mutate)
}

func (p *provider) signKid(t *testing.T, kid string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	c := jwt.MapClaims{
		"sub":   "auth0|alice",
		"email": "alice@example.com",
		"name":  "Alice",
		"iss":   testIssuer,
		"aud":   testAudience,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(c)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(time.Minute)

	user, err := v.Verify(context.Background(), p.sign(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "auth0|alice", user.Sub)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "Alice", user.Name)

	_, err = v.Verify(context.Background(), p.sign(t, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.hits), "key set is cached")
}

func TestVerifyZeroTTLRefetches(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(0)

	for i := 0; i < 2; i++ {
		_, err := v.Verify(context.Background(), p.sign(t, nil))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.hits))
}

func TestVerifyRejects(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(time.Minute)

	cases := map[string]func(jwt.MapClaims){
		"expired":        func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() },
		"no expiry":      func(c jwt.MapClaims) { delete(c, "exp") },
		"wrong audience": func(c jwt.MapClaims) { c["aud"] = "https://other.api" },
		"wrong issuer":   func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com/" },
		"no subject":     func(c jwt.MapClaims) { delete(c, "sub") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), p.sign(t, mutate))
			assert.Error(t, err)
		})
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(time.Minute)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "auth0|mallory", "iss": testIssuer, "aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = p.kid.Load().(string)
	signed, err := tok.SignedString(other)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signed)
	assert.Error(t, err)
}

func TestVerifyRejectsHMAC(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(time.Minute)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "auth0|mallory", "iss": testIssuer, "aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = p.kid.Load().(string)
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signed)
	assert.Error(t, err)
}

func TestVerifyUnknownKidRefetches(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(time.Hour)
	now := time.Now()
	v.now = func() time.Time { return now }

	_, err := v.Verify(context.Background(), p.sign(t, nil))
	require.NoError(t, err)

	p.kid.Store("key-2")
	now = now.Add(time.Minute)
	_, err = v.Verify(context.Background(), p.sign(t, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.hits))
}

func TestVerifyUnknownKidRefetchIsThrottled(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(10 * time.Minute)
	now := time.Now()
	v.now = func() time.Time { return now }

	_, err := v.Verify(context.Background(), p.sign(t, nil))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := v.Verify(context.Background(), p.signKid(t, fmt.Sprintf("bogus-%d", i), nil))
		assert.ErrorIs(t, err, ErrUnknownKey)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.hits))

	_, err = v.Verify(context.Background(), p.sign(t, nil))
	require.NoError(t, err, "known keys still verify")

	now = now.Add(minRefetchInterval + time.Second)
	_, err = v.Verify(context.Background(), p.signKid(t, "bogus-late", nil))
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.hits))
}

func TestVerifyConcurrentColdStartFetchesOnce(t *testing.T) {
	release := make(chan struct{})
	p := newGatedProvider(t, release)
	v := p.verifier(10 * time.Minute)
	token := p.sign(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), token)
			errs <- err
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.hits))
}

func TestVerifyNotConfigured(t *testing.T) {
	v := NewVerifier(VerifierConfig{}, upstream.NewClient(time.Second, 0))
	assert.False(t, v.Configured())
	_, err := v.Verify(context.Background(), "x.y.z")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMiddleware(t *testing.T) {
	p := newProvider(t)
	mw := NewMiddleware(p.verifier(time.Minute))

	handler := mw.ValidateToken(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(user.Sub))
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + p.sign(t, nil), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rec.Body.String(), `"error"`)
			} else {
				assert.Equal(t, "auth0|alice", rec.Body.String())
			}
		})
	}
}

func TestUserFromContextEmpty(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)
}
