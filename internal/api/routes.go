package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gemprice/internal/auth"
	"gemprice/internal/telemetry"
)

// NewRouter registers every route and wraps the mux in the request-id,
// logging and CORS middleware.
func NewRouter(h *Handler, authMiddleware *auth.Middleware, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())

	route := func(pattern string, handler http.HandlerFunc) {
		mux.HandleFunc(pattern, telemetry.Middleware(pattern, handler))
	}
	protected := func(pattern string, handler http.HandlerFunc) {
		route(pattern, authMiddleware.ValidateToken(handler))
	}

	route("GET /{$}", h.Index)
	route("GET /health", h.Health)
	route("GET /admin/health", h.AdminHealth)
	route("GET /admin/system-info", h.SystemInfo)

	route("POST /api/v1/recommend-price", h.RecommendPrice)
	protected("POST /api/v1/recommend-price-auth", h.RecommendPriceAuth)
	protected("POST /api/v1/upload-csv", h.UploadCSV)
	protected("GET /api/v1/history", h.History)
	protected("GET /api/v1/history/{id}", h.HistoryDetail)
	protected("GET /api/v1/user/suggestions", h.UserSuggestions)
	protected("GET /api/v1/user/stats", h.UserStats)

	route("GET /api/v1/currency/supported", h.SupportedCurrencies)
	route("GET /api/v1/currency/rates", h.ExchangeRates)
	route("GET /api/v1/currency/convert", h.ConvertCurrency)
	route("GET /api/v1/currency/{code}", h.CurrencyInfo)

	mux.HandleFunc("/", telemetry.Middleware("not_found", h.NotFound))

	return WithRequestID(WithLogging(WithCORS(corsOrigins, mux)))
}
