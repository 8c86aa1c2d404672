// Command dev-issuer is a local identity provider: it publishes a JWKS and
// mints RS256 tokens so the protected endpoints can be exercised without
// an Auth0 tenant.
//
// Set AUTH0_JWKS_URL=http://localhost:8081/.well-known/jwks.json and
// AUTH0_ISSUER / AUTH0_AUDIENCE to the same values used here.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const keyID = "dev-key"

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func publicJWK(pub *rsa.PublicKey) jwk {
	return jwk{
		Kty: "RSA",
		Kid: keyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	v := viper.New()
	v.SetDefault("issuer_port", "8081")
	v.SetDefault("auth0_issuer", "http://localhost:8081/")
	v.SetDefault("auth0_audience", "gemprice-dev")
	v.SetDefault("token_ttl", "1h")
	v.AutomaticEnv()

	port := v.GetString("issuer_port")
	issuer := v.GetString("auth0_issuer")
	audience := v.GetString("auth0_audience")
	ttl := v.GetDuration("token_ttl")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("Failed to generate signing key", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string][]jwk{"keys": {publicJWK(&key.PublicKey)}})
	})

	mux.HandleFunc("GET /token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sub := q.Get("sub")
		if sub == "" {
			sub = "auth0|" + uuid.NewString()
		}

		now := time.Now()
		claims := jwt.MapClaims{
			"sub":   sub,
			"iss":   issuer,
			"aud":   audience,
			"iat":   now.Unix(),
			"exp":   now.Add(ttl).Unix(),
			"email": q.Get("email"),
			"name":  q.Get("name"),
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = keyID

		signed, err := tok.SignedString(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		slog.Info("Token issued", "sub", sub)
		writeJSON(w, map[string]any{
			"access_token": signed,
			"token_type":   "Bearer",
			"expires_in":   int(ttl.Seconds()),
		})
	})

	slog.Info("Dev issuer listening", "port", port, "issuer", issuer, "audience", audience)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
