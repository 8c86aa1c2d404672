// Package api serves the pricing HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gemprice/internal/auth"
	"gemprice/internal/batch"
	"gemprice/internal/currency"
	"gemprice/internal/models"
	"gemprice/internal/pricing"
	"gemprice/internal/store"
)

const (
	maxJSONBody       = 1 << 20
	defaultPageLimit  = 50
	maxPageLimit      = 1000
	healthPingTimeout = 2 * time.Second
)

type Recommender interface {
	Recommend(ctx context.Context, req models.PriceRequest) pricing.Result
}

type SuggestionStore interface {
	Save(ctx context.Context, user models.User, sug models.PriceSuggestion) (string, store.Source, error)
	List(ctx context.Context, user models.User, limit, skip int) ([]models.PriceSuggestion, store.Source, error)
	Stats(ctx context.Context, user models.User) (models.SuggestionStats, store.Source, error)
	GetByID(ctx context.Context, id string, user models.User) (models.PriceSuggestion, store.Source, error)
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	CheckFallback() error
}

type BatchProcessor interface {
	Process(ctx context.Context, user models.User, r io.Reader) (models.CSVUploadResponse, error)
}

type CurrencyService interface {
	Rates(ctx context.Context, base string) (models.ExchangeRateSnapshot, currency.Source)
	Convert(ctx context.Context, amount float64, from, to string) models.Conversion
}

type RateLimiter interface {
	IsRateLimited(ctx context.Context, ip string, maxRequests int) bool
}

// Deps are the collaborators of a Handler. Limiter may be nil.
type Deps struct {
	Recommender Recommender
	Store       SuggestionStore
	Batch       BatchProcessor
	Currency    CurrencyService
	Limiter     RateLimiter

	RateLimit      int
	MaxUploadBytes int64

	Version     string
	Environment string
	KeyStatus   map[string]string
	APIs        map[string]string
}

type Handler struct {
	deps    Deps
	started time.Time
	now     func() time.Time
}

func NewHandler(deps Deps) *Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}
	return &Handler{deps: deps, started: time.Now(), now: time.Now}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodePriceRequest(w http.ResponseWriter, r *http.Request) (models.PriceRequest, bool) {
	var req models.PriceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return req, false
	}
	if err := req.Validate(); err != nil {
		WriteJSONError(w, http.StatusUnprocessableEntity, "Validation error", err.Error())
		return req, false
	}
	return req, true
}

func writeRecommendation(w http.ResponseWriter, res pricing.Result) {
	w.Header().Set("X-Pricing-Tier", string(res.Tier))
	writeJSON(w, http.StatusOK, res.Recommendation)
}

func currentUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		WriteJSONError(w, http.StatusUnauthorized, "Not authenticated", "")
	}
	return user, ok
}

// RecommendPrice prices a product without persisting the result.
func (h *Handler) RecommendPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.deps.Limiter != nil && h.deps.RateLimit > 0 {
		ip := clientIP(r)
		if h.deps.Limiter.IsRateLimited(ctx, ip, h.deps.RateLimit) {
			slog.Warn("Rate limit exceeded", "ip", ip)
			WriteJSONError(w, http.StatusTooManyRequests, "Too many requests", "")
			return
		}
	}

	req, ok := decodePriceRequest(w, r)
	if !ok {
		return
	}
	writeRecommendation(w, h.deps.Recommender.Recommend(ctx, req))
}

// RecommendPriceAuth prices a product and saves it to the caller's history.
func (h *Handler) RecommendPriceAuth(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	req, ok := decodePriceRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	res := h.deps.Recommender.Recommend(ctx, req)

	id, source, err := h.deps.Store.Save(ctx, user, models.NewSuggestion(req, res.Recommendation))
	if err != nil {
		slog.Error("Failed to save suggestion", "user_id", user.Sub, "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "Error generating price recommendation", "")
		return
	}
	slog.Info("Suggestion saved", "user_id", user.Sub, "id", id, "source", source, "tier", res.Tier)
	writeRecommendation(w, res)
}

// UploadCSV prices every row of a multipart CSV upload.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSONError(w, http.StatusRequestEntityTooLarge, "File too large", "")
			return
		}
		WriteJSONError(w, http.StatusBadRequest, "No file uploaded", err.Error())
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		WriteJSONError(w, http.StatusBadRequest, "File must be a CSV file", "")
		return
	}

	resp, err := h.deps.Batch.Process(r.Context(), user, file)
	if err != nil {
		var missing *batch.MissingColumnsError
		switch {
		case errors.Is(err, batch.ErrEmptyFile):
			WriteJSONError(w, http.StatusBadRequest, "The CSV file is empty", "")
		case errors.Is(err, batch.ErrMalformed):
			WriteJSONError(w, http.StatusBadRequest, "Error parsing CSV file. Please check the file format.", err.Error())
		case errors.As(err, &missing):
			WriteJSONError(w, http.StatusBadRequest, "Missing required columns", strings.Join(missing.Columns, ", "))
		default:
			slog.Error("CSV processing failed", "user_id", user.Sub, "error", err)
			WriteJSONError(w, http.StatusInternalServerError, "Error processing CSV file", "")
		}
		return
	}

	slog.Info("CSV processed", "user_id", user.Sub, "file", header.Filename,
		"total", resp.TotalProducts, "failed", resp.FailedPredictions)
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func pageLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, ok := queryInt(r, "limit", defaultPageLimit)
	if !ok || limit == 0 || limit > maxPageLimit {
		WriteJSONError(w, http.StatusBadRequest, "Invalid limit", "limit must be between 1 and 1000")
		return 0, false
	}
	return limit, true
}

// History lists the caller's suggestions with pagination and stats.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, ok := pageLimit(w, r)
	if !ok {
		return
	}
	skip, ok := queryInt(r, "skip", 0)
	if !ok {
		WriteJSONError(w, http.StatusBadRequest, "Invalid skip", "skip must be a non-negative integer")
		return
	}

	ctx := r.Context()
	suggestions, _, err := h.deps.Store.List(ctx, user, limit, skip)
	if err != nil {
		slog.Error("Failed to list suggestions", "user_id", user.Sub, "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "Error retrieving suggestion history", "")
		return
	}
	stats, _, err := h.deps.Store.Stats(ctx, user)
	if err != nil {
		slog.Error("Failed to compute stats", "user_id", user.Sub, "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "Error retrieving suggestion history", "")
		return
	}

	writeJSON(w, http.StatusOK, models.HistoryResponse{
		Suggestions: suggestions,
		Pagination:  models.Pagination{Limit: limit, Skip: skip, Total: stats.TotalSuggestions},
		Stats:       stats,
	})
}

// HistoryDetail returns one of the caller's suggestions.
func (h *Handler) HistoryDetail(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	sug, _, err := h.deps.Store.GetByID(r.Context(), r.PathValue("id"), user)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sug)
	case errors.Is(err, store.ErrNotFound):
		WriteJSONError(w, http.StatusNotFound, "Suggestion not found", "")
	case errors.Is(err, store.ErrUnavailable):
		WriteJSONError(w, http.StatusServiceUnavailable, "Suggestion store unavailable", "")
	default:
		slog.Error("Failed to get suggestion", "user_id", user.Sub, "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "Error retrieving suggestion details", "")
	}
}

func (h *Handler) UserSuggestions(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, ok := pageLimit(w, r)
	if !ok {
		return
	}
	suggestions, _, err := h.deps.Store.List(r.Context(), user, limit, 0)
	if err != nil {
		slog.Error("Failed to list suggestions", "user_id", user.Sub, "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve suggestions", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	stats, _, err := h.deps.Store.Stats(r.Context(), user)
	if err != nil {
		slog.Error("Failed to compute stats", "user_id", user.Sub, "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve stats", "")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) SupportedCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"currencies": currency.Supported()})
}

func (h *Handler) ExchangeRates(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	snap, source := h.deps.Currency.Rates(r.Context(), base)
	writeJSON(w, http.StatusOK, map[string]any{
		"base_currency": snap.BaseCurrency,
		"rates":         snap.Rates,
		"fetched_at":    snap.FetchedAt,
		"source":        source,
	})
}

func (h *Handler) ConvertCurrency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil || amount < 0 {
		WriteJSONError(w, http.StatusBadRequest, "Invalid amount", "amount must be a non-negative number")
		return
	}
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		WriteJSONError(w, http.StatusBadRequest, "Missing currency", "from and to are required")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Currency.Convert(r.Context(), amount, from, to))
}

func (h *Handler) CurrencyInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currency.Info(r.PathValue("code")))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "gemprice-api"})
}

// AdminHealth reports store connectivity and configuration. It answers 503
// only when neither the primary nor the local store can serve writes.
func (h *Handler) AdminHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	database := "connected"
	pingErr := h.deps.Store.Ping(ctx)
	if pingErr != nil {
		database = "disconnected"
	}
	local := "ok"
	localErr := h.deps.Store.CheckFallback()
	if localErr != nil {
		local = "unavailable"
	}
	timestamp := h.now().UTC().Format(time.RFC3339)

	if pingErr != nil && localErr != nil {
		slog.Error("Health check failed", "database", pingErr, "local_storage", localErr)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"error":     localErr.Error(),
			"timestamp": timestamp,
		})
		return
	}

	status := "healthy"
	if pingErr != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"database":      database,
		"local_storage": local,
		"environment":   h.deps.KeyStatus,
		"timestamp":     timestamp,
	})
}

func (h *Handler) SystemInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	db := map[string]any{"connection": "inactive"}
	if err := h.deps.Store.Ping(ctx); err == nil {
		db["connection"] = "active"
		db["database_name"] = store.DatabaseName
		if n, err := h.deps.Store.Count(ctx); err == nil {
			db["total_price_suggestions"] = n
		} else {
			db["total_price_suggestions"] = "unknown"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"system": map[string]any{
			"api_version": h.deps.Version,
			"environment": h.deps.Environment,
			"uptime":      h.now().Sub(h.started).Round(time.Second).String(),
			"started_at":  h.started.UTC().Format(time.RFC3339),
		},
		"database": db,
		"apis":     h.deps.APIs,
	})
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Welcome to GemPrice API",
		"description": "AI-Powered Dynamic Pricing System",
		"version":     h.deps.Version,
		"features": []string{
			"AI-powered pricing with Google Gemini",
			"Multi-currency support with live exchange rates",
			"Bearer token authentication against a JWKS issuer",
			"Redis persistence with local file fallback",
			"CSV batch pricing",
		},
		"endpoints": map[string]string{
			"price_recommendation": "/api/v1/recommend-price-auth",
			"csv_upload":           "/api/v1/upload-csv",
			"user_history":         "/api/v1/user/suggestions",
			"user_stats":           "/api/v1/user/stats",
			"metrics":              "/metrics",
		},
	})
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":   "Not Found",
		"details": "The requested resource was not found",
		"path":    r.URL.Path,
	})
}
