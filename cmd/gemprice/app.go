package main

import (
	"context"
	"fmt"
	"log/slog"

	"gemprice/internal/auth"
	"gemprice/internal/cache"
	"gemprice/internal/config"
	"gemprice/internal/currency"
	"gemprice/internal/localstore"
	"gemprice/internal/pricing"
	"gemprice/internal/resilience"
	"gemprice/internal/store"
	"gemprice/internal/upstream"
)

// app holds the process-wide services built at startup.
type app struct {
	cfg       *config.Config
	redis     *cache.Client
	store     *store.Service
	generator *pricing.GeminiGenerator
	engine    *pricing.Engine
	converter *currency.Converter
	verifier  *auth.Verifier
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	local, err := localstore.New(cfg.LocalDataDir)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store.NewService(local)}

	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Warn("Redis unavailable, using local storage", "error", err)
	} else if err := a.store.Connect(ctx, store.NewRedisBackend(redisClient)); err != nil {
		slog.Warn("Primary store unavailable, using local storage", "error", err)
		_ = redisClient.Close()
	} else {
		a.redis = redisClient
	}

	a.generator, err = pricing.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL)
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}
	if !a.generator.Configured() {
		slog.Warn("GEMINI_API_KEY not set, recommendations will use fallback pricing")
	}
	breaker := resilience.NewCircuitBreaker("gemini", cfg.ModelBreakerThreshold, cfg.ModelBreakerCooldown)
	a.engine = pricing.NewEngine(a.generator, breaker, cfg.ModelTimeout)

	fetcher := upstream.NewClient(cfg.UpstreamTimeout, cfg.UpstreamRetries)

	a.converter = currency.NewConverter(cfg.ExchangeRateAPIURL, fetcher, cfg.RateCacheTTL)
	if a.redis != nil {
		a.converter.WithSharedCache(a.redis)
	}

	a.verifier = auth.NewVerifier(auth.VerifierConfig{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		Algorithms: cfg.AuthAlgorithms,
		CacheTTL:   cfg.JWKSCacheTTL,
	}, fetcher)
	if !a.verifier.Configured() {
		slog.Warn("AUTH0_DOMAIN or AUTH0_AUDIENCE not set, protected endpoints will reject every request")
	}
	return a, nil
}

func (a *app) apiStatus() map[string]string {
	active := func(ok bool) string {
		if ok {
			return "active"
		}
		return "inactive"
	}
	return map[string]string{
		"gemini":   active(a.generator.Configured()),
		"auth0":    active(a.verifier.Configured()),
		"currency": "active",
	}
}

// close disconnects the primary store, which owns the Redis connection.
func (a *app) close() {
	if err := a.store.Disconnect(); err != nil {
		slog.Error("Error closing primary store", "error", err)
		return
	}
	slog.Info("Primary store disconnected")
}
