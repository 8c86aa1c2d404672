package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"gemprice/internal/models"
)

// minRefetchInterval throttles key set refetches caused by unknown key ids.
const minRefetchInterval = 30 * time.Second

var (
	ErrNotConfigured = errors.New("authentication is not configured")
	ErrUnknownKey    = errors.New("no matching signing key")
)

// Fetcher retrieves a JSON document.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string, target any) error
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// VerifierConfig describes the identity provider.
type VerifierConfig struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Algorithms []string
	CacheTTL   time.Duration
}

// Verifier validates RS256 bearer tokens against the provider's JWKS.
type Verifier struct {
	cfg     VerifierConfig
	fetcher Fetcher
	now     func() time.Time
	group   singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewVerifier(cfg VerifierConfig, fetcher Fetcher) *Verifier {
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{"RS256"}
	}
	return &Verifier{cfg: cfg, fetcher: fetcher, now: time.Now}
}

// Configured reports whether an identity provider is set up.
func (v *Verifier) Configured() bool {
	return v.cfg.JWKSURL != "" && v.cfg.Issuer != "" && v.cfg.Audience != ""
}

func (v *Verifier) refresh(ctx context.Context) error {
	_, err, _ := v.group.Do("jwks", func() (any, error) {
		var set jwkSet
		if err := v.fetcher.FetchJSON(ctx, v.cfg.JWKSURL, &set); err != nil {
			return nil, fmt.Errorf("fetch jwks: %w", err)
		}

		keys := make(map[string]*rsa.PublicKey, len(set.Keys))
		for _, k := range set.Keys {
			if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
				continue
			}
			pub, err := rsaKey(k.N, k.E)
			if err != nil {
				slog.Warn("Skipping malformed JWK", "kid", k.Kid, "error", err)
				continue
			}
			keys[k.Kid] = pub
		}

		v.mu.Lock()
		v.keys = keys
		v.fetchedAt = v.now()
		v.mu.Unlock()
		return nil, nil
	})
	return err
}

func (v *Verifier) lookup(kid string) (pub *rsa.PublicKey, found, loaded bool, age time.Duration) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pub, found = v.keys[kid]
	return pub, found, v.keys != nil, v.now().Sub(v.fetchedAt)
}

// key returns the public key for kid. The key set is refetched when it is
// stale, or when it lacks kid and was fetched more than minRefetchInterval
// ago. Concurrent refetches share one request.
func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	pub, found, loaded, age := v.lookup(kid)

	fresh := loaded && v.cfg.CacheTTL > 0 && age < v.cfg.CacheTTL
	if fresh && found {
		return pub, nil
	}
	if fresh && age < minRefetchInterval {
		return nil, ErrUnknownKey
	}

	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	if pub, found, _, _ = v.lookup(kid); found {
		return pub, nil
	}
	return nil, ErrUnknownKey
}

func rsaKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(eb)
	if len(nb) == 0 || !exp.IsInt64() || exp.Int64() < 3 {
		return nil, errors.New("invalid RSA parameters")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}

type claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Verify validates token and returns the authenticated user.
func (v *Verifier) Verify(ctx context.Context, token string) (models.User, error) {
	if !v.Configured() {
		return models.User{}, ErrNotConfigured
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)

	var c claims
	_, err := parser.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return v.key(ctx, kid)
	})
	if err != nil {
		return models.User{}, err
	}
	if c.Subject == "" {
		return models.User{}, errors.New("token has no subject")
	}
	return models.User{Sub: c.Subject, Email: c.Email, Name: c.Name}, nil
}
