package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestPriceRequestValidate(t *testing.T) {
	valid := PriceRequest{CostPrice: 10, CompetitorPrice: ptr(13.5), InventoryLevel: "high", Season: "summer", Category: "skincare"}

	tests := []struct {
		name    string
		mutate  func(*PriceRequest)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(*PriceRequest) {}},
		{name: "no competitor price", mutate: func(r *PriceRequest) { r.CompetitorPrice = nil }},
		{name: "zero cost", mutate: func(r *PriceRequest) { r.CostPrice = 0 }, field: "cost_price", wantErr: true},
		{name: "negative cost", mutate: func(r *PriceRequest) { r.CostPrice = -1 }, field: "cost_price", wantErr: true},
		{name: "nan cost", mutate: func(r *PriceRequest) { r.CostPrice = math.NaN() }, field: "cost_price", wantErr: true},
		{name: "zero competitor", mutate: func(r *PriceRequest) { r.CompetitorPrice = ptr(0) }, field: "competitor_price", wantErr: true},
		{name: "blank inventory", mutate: func(r *PriceRequest) { r.InventoryLevel = " " }, field: "inventory_level", wantErr: true},
		{name: "missing season", mutate: func(r *PriceRequest) { r.Season = "" }, field: "season", wantErr: true},
		{name: "missing category", mutate: func(r *PriceRequest) { r.Category = "" }, field: "category", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNewSuggestion(t *testing.T) {
	req := PriceRequest{CostPrice: 10, InventoryLevel: "low", Season: "winter", Category: "toys"}
	rec := PriceRecommendation{SuggestedPrice: 14, Reasoning: "r", ConfidenceScore: ptr(0.5)}

	s := NewSuggestion(req, rec)
	assert.Equal(t, req, s.ProductData)
	assert.Equal(t, 14.0, s.SuggestedPrice)
	assert.Equal(t, "r", s.Reasoning)
	assert.Equal(t, 0.5, *s.ConfidenceScore)
	assert.Empty(t, s.ID)
}
