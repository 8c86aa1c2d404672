// Command rates-service serves the static exchange rate table in the shape of
// the public rates API, for local runs without network access.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gemprice/internal/currency"
)

type ratesResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	v := viper.New()
	v.SetDefault("rates_port", "8082")
	v.AutomaticEnv()
	port := v.GetString("rates_port")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v4/latest/{base}", func(w http.ResponseWriter, r *http.Request) {
		base := strings.ToUpper(r.PathValue("base"))
		snap := currency.FallbackRates(base, time.Now())

		slog.Info("Rates requested", "base", base)

		w.Header().Set("Content-Type", "application/json")
		resp := ratesResponse{Base: snap.BaseCurrency, Date: snap.FetchedAt.Format("2006-01-02"), Rates: snap.Rates}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	slog.Info("Rates service listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
