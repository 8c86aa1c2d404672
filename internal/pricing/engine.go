// Package pricing turns product data into a price recommendation. Model
// failures never surface to callers: every call yields a recommendation,
// tagged with the tier that produced it.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gemprice/internal/models"
	"gemprice/internal/resilience"
	"gemprice/internal/telemetry"
)

// Tier names the path that produced a recommendation.
type Tier string

const (
	TierModel             Tier = "model"
	TierParseFallback     Tier = "parse_fallback"
	TierEmergencyFallback Tier = "emergency_fallback"
)

var (
	parseMarkup     = decimal.RequireFromString("1.5")
	emergencyMarkup = decimal.RequireFromString("1.4")
)

const (
	parseConfidence     = 0.6
	emergencyConfidence = 0.5
)

var errMissingFields = errors.New("missing required fields in model response")

// Result is a recommendation plus how it was obtained. Err holds the model
// failure behind a fallback tier and is nil for TierModel.
type Result struct {
	Recommendation models.PriceRecommendation
	Tier           Tier
	Err            error
}

// Degraded reports whether a fallback tier produced the recommendation.
func (r Result) Degraded() bool {
	return r.Tier != TierModel
}

type Engine struct {
	gen     Generator
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewEngine wires gen behind breaker. A nil breaker or zero timeout disables
// that guard.
func NewEngine(gen Generator, breaker *resilience.CircuitBreaker, timeout time.Duration) *Engine {
	return &Engine{gen: gen, breaker: breaker, timeout: timeout}
}

// Recommend asks the model for a price and falls back to a fixed markup on
// cost when the model cannot answer usably.
func (e *Engine) Recommend(ctx context.Context, req models.PriceRequest) Result {
	text, err := e.generate(ctx, BuildPrompt(req))
	if err != nil {
		return e.emergency(req, err)
	}

	rec, err := parseRecommendation(text)
	if err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			slog.Error("Model response is not JSON", "error", err, "raw", text)
			return e.finish(Result{
				Recommendation: markup(req.CostPrice, parseMarkup, parseConfidence,
					"Fallback pricing applied due to API parsing error. Applied 50% markup on cost price."),
				Tier: TierParseFallback,
				Err:  err,
			})
		}
		return e.emergency(req, err)
	}

	return e.finish(Result{Recommendation: rec, Tier: TierModel})
}

func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var text string
	call := func() error {
		out, err := e.gen.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errors.New("empty response from model")
		}
		text = out
		return nil
	}

	if e.breaker == nil {
		return text, call()
	}
	return text, e.breaker.Execute(call)
}

func (e *Engine) emergency(req models.PriceRequest, err error) Result {
	slog.Error("Model call failed, using emergency pricing", "error", err)
	return e.finish(Result{
		Recommendation: markup(req.CostPrice, emergencyMarkup, emergencyConfidence,
			fmt.Sprintf("Emergency fallback pricing due to API error: %v. Applied 40%% markup.", err)),
		Tier: TierEmergencyFallback,
		Err:  err,
	})
}

func (e *Engine) finish(r Result) Result {
	telemetry.RecordRecommendation(string(r.Tier))
	if r.Degraded() {
		slog.Warn("Degraded price recommendation", "tier", r.Tier)
	}
	return r
}

func markup(cost float64, factor decimal.Decimal, confidence float64, reasoning string) models.PriceRecommendation {
	price := decimal.NewFromFloat(cost).Mul(factor).Round(2).InexactFloat64()
	return models.PriceRecommendation{
		SuggestedPrice:  price,
		Reasoning:       reasoning,
		ConfidenceScore: &confidence,
	}
}

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseRecommendation decodes model output. Malformed JSON is returned as a
// *json.SyntaxError; any other problem is a plain error.
func parseRecommendation(text string) (models.PriceRecommendation, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFence(text)), &fields); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return models.PriceRecommendation{}, err
		}
		return models.PriceRecommendation{}, fmt.Errorf("unexpected model response shape: %v", err)
	}

	rawPrice, okPrice := fields["suggested_price"]
	rawReason, okReason := fields["reasoning"]
	rawConf, okConf := fields["confidence_score"]
	if !okPrice || !okReason || !okConf {
		return models.PriceRecommendation{}, errMissingFields
	}

	var rec models.PriceRecommendation
	if err := json.Unmarshal(rawPrice, &rec.SuggestedPrice); err != nil {
		return rec, fmt.Errorf("invalid suggested_price: %v", err)
	}
	if math.IsNaN(rec.SuggestedPrice) || math.IsInf(rec.SuggestedPrice, 0) || rec.SuggestedPrice <= 0 {
		return rec, fmt.Errorf("invalid suggested_price: %v", rec.SuggestedPrice)
	}
	if err := json.Unmarshal(rawReason, &rec.Reasoning); err != nil {
		return rec, fmt.Errorf("invalid reasoning: %v", err)
	}
	if strings.TrimSpace(rec.Reasoning) == "" {
		return rec, errors.New("empty reasoning")
	}

	var conf *float64
	if err := json.Unmarshal(rawConf, &conf); err != nil {
		return rec, fmt.Errorf("invalid confidence_score: %v", err)
	}
	if conf != nil {
		c := math.Min(1, math.Max(0, *conf))
		conf = &c
	}
	rec.ConfidenceScore = conf
	return rec, nil
}
