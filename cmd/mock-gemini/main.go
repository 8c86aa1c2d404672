// Command mock-gemini answers generateContent calls with canned pricing
// replies. Point GEMINI_BASE_URL at it to run the API without a real key.
//
// MOCK_MODE selects the reply: "ok" (default), "garbage" for unparseable
// text, or "error" for a 500.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strconv"

	"github.com/spf13/viper"
)

var costPattern = regexp.MustCompile(`Cost Price: \$([0-9]+(?:\.[0-9]+)?)`)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
	Role  string `json:"role,omitempty"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

func costFrom(req generateRequest) float64 {
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if m := costPattern.FindStringSubmatch(p.Text); m != nil {
				cost, err := strconv.ParseFloat(m[1], 64)
				if err == nil {
					return cost
				}
			}
		}
	}
	return 10
}

func reply(mode string, cost float64) (string, error) {
	switch mode {
	case "garbage":
		return "I think a fair price would be somewhere around double the cost.", nil
	case "error":
		return "", fmt.Errorf("mock failure")
	}
	rec := map[string]any{
		"suggested_price":  float64(int(cost*160+0.5)) / 100,
		"reasoning":        "Priced at a 60% markup to keep margins healthy while staying competitive.",
		"confidence_score": 0.82,
	}
	raw, err := json.Marshal(rec)
	return string(raw), err
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	v := viper.New()
	v.SetDefault("mock_port", "8083")
	v.SetDefault("mock_mode", "ok")
	v.AutomaticEnv()
	port := v.GetString("mock_port")
	mode := v.GetString("mock_mode")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1beta/models/{action}", func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cost := costFrom(req)
		slog.Info("Generate requested", "action", r.PathValue("action"), "cost", cost, "mode", mode)

		text, err := reply(mode, cost)
		if err != nil {
			http.Error(w, `{"error":{"code":500,"message":"internal error","status":"INTERNAL"}}`, http.StatusInternalServerError)
			return
		}

		resp := generateResponse{Candidates: []candidate{{
			Content:      content{Parts: []part{{Text: text}}, Role: "model"},
			FinishReason: "STOP",
		}}}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	slog.Info("Mock model listening", "port", port, "mode", mode)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
