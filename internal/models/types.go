package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PriceRequest is the product data a recommendation is computed from.
type PriceRequest struct {
	CostPrice       float64  `json:"cost_price"`
	CompetitorPrice *float64 `json:"competitor_price"`
	InventoryLevel  string   `json:"inventory_level"`
	Season          string   `json:"season"`
	Category        string   `json:"category"`
}

// ValidationError reports the first invalid field of a request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (r PriceRequest) Validate() error {
	if math.IsNaN(r.CostPrice) || math.IsInf(r.CostPrice, 0) || r.CostPrice <= 0 {
		return &ValidationError{Field: "cost_price", Message: "must be greater than 0"}
	}
	if r.CompetitorPrice != nil {
		cp := *r.CompetitorPrice
		if math.IsNaN(cp) || math.IsInf(cp, 0) || cp <= 0 {
			return &ValidationError{Field: "competitor_price", Message: "must be greater than 0"}
		}
	}
	for _, f := range []struct{ name, value string }{
		{"inventory_level", r.InventoryLevel},
		{"season", r.Season},
		{"category", r.Category},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Message: "is required"}
		}
	}
	return nil
}

// PriceRecommendation is the outcome of a pricing request.
type PriceRecommendation struct {
	SuggestedPrice  float64  `json:"suggested_price"`
	Reasoning       string   `json:"reasoning"`
	ConfidenceScore *float64 `json:"confidence_score"`
}

// PriceSuggestion is a persisted recommendation owned by one user.
type PriceSuggestion struct {
	ID              string       `json:"_id"`
	UserID          string       `json:"user_id"`
	ProductData     PriceRequest `json:"product_data"`
	SuggestedPrice  float64      `json:"suggested_price"`
	Reasoning       string       `json:"reasoning"`
	ConfidenceScore *float64     `json:"confidence_score"`
	Timestamp       time.Time    `json:"timestamp"`
}

// NewSuggestion pairs a request with its recommendation for persistence.
func NewSuggestion(req PriceRequest, rec PriceRecommendation) PriceSuggestion {
	return PriceSuggestion{
		ProductData:     req,
		SuggestedPrice:  rec.SuggestedPrice,
		Reasoning:       rec.Reasoning,
		ConfidenceScore: rec.ConfidenceScore,
	}
}

type SuggestionStats struct {
	TotalSuggestions int     `json:"total_suggestions"`
	AveragePrice     float64 `json:"average_price"`
	MinPrice         float64 `json:"min_price"`
	MaxPrice         float64 `json:"max_price"`
}

// User is the caller identity resolved from a verified token.
type User struct {
	Sub   string `json:"sub"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type ExchangeRateSnapshot struct {
	BaseCurrency string             `json:"base_currency"`
	Rates        map[string]float64 `json:"rates"`
	FetchedAt    time.Time          `json:"fetched_at"`
}

const (
	RowStatusSuccess = "success"
	RowStatusFailed  = "failed"
)

// RowResult is the per-row outcome of a CSV batch.
type RowResult struct {
	RowNumber       int      `json:"row_number"`
	ProductData     any      `json:"product_data"`
	SuggestedPrice  *float64 `json:"suggested_price,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	Error           string   `json:"error,omitempty"`
	Status          string   `json:"status"`
}

type CSVUploadResponse struct {
	TotalProducts         int         `json:"total_products"`
	SuccessfulPredictions int         `json:"successful_predictions"`
	FailedPredictions     int         `json:"failed_predictions"`
	Results               []RowResult `json:"results"`
}

type Pagination struct {
	Limit int `json:"limit"`
	Skip  int `json:"skip"`
	Total int `json:"total"`
}

type HistoryResponse struct {
	Suggestions []PriceSuggestion `json:"suggestions"`
	Pagination  Pagination        `json:"pagination"`
	Stats       SuggestionStats   `json:"stats"`
}

type Conversion struct {
	Amount          float64 `json:"amount"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	ConvertedAmount float64 `json:"converted_amount"`
	Rate            float64 `json:"rate,omitempty"`
	Source          string  `json:"source,omitempty"`
	Error           string  `json:"error,omitempty"`
}

type CurrencyInfo struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}
