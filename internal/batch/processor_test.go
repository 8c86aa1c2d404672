package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gemprice/internal/models"
	"gemprice/internal/pricing"
	"gemprice/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type markupRecommender struct{}

func (markupRecommender) Recommend(_ context.Context, req models.PriceRequest) pricing.Result {
	conf := 0.5
	return pricing.Result{
		Recommendation: models.PriceRecommendation{
			SuggestedPrice:  req.CostPrice * 2,
			Reasoning:       "doubled",
			ConfidenceScore: &conf,
		},
		Tier: pricing.TierModel,
	}
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []models.PriceSuggestion
	err   error
}

func (s *recordingSaver) BatchSave(_ context.Context, _ models.User, sugs []models.PriceSuggestion) ([]string, store.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, store.SourceFallback, s.err
	}
	s.saved = append(s.saved, sugs...)
	ids := make([]string, len(sugs))
	return ids, store.SourcePrimary, nil
}

var user = models.User{Sub: "auth0|alice"}

func TestProcessMixedRows(t *testing.T) {
	csv := strings.Join([]string{
		"cost_price,competitor_price,inventory_level,season,category",
		"10,12.5,high,summer,skincare",
		"abc,,low,winter,makeup",
		"20,,medium,spring,haircare",
		"5,,low,fall",
	}, "\n")

	saver := &recordingSaver{}
	p := NewProcessor(markupRecommender{}, saver, 3)
	resp, err := p.Process(context.Background(), user, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 4, resp.TotalProducts)
	assert.Equal(t, 2, resp.SuccessfulPredictions)
	assert.Equal(t, 2, resp.FailedPredictions)
	require.Len(t, resp.Results, 4)

	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.RowNumber)
	}

	first := resp.Results[0]
	assert.Equal(t, models.RowStatusSuccess, first.Status)
	require.NotNil(t, first.SuggestedPrice)
	assert.Equal(t, 20.0, *first.SuggestedPrice)
	req := first.ProductData.(models.PriceRequest)
	require.NotNil(t, req.CompetitorPrice)
	assert.Equal(t, 12.5, *req.CompetitorPrice)

	bad := resp.Results[1]
	assert.Equal(t, models.RowStatusFailed, bad.Status)
	assert.Contains(t, bad.Error, "cost_price")
	assert.Equal(t, "abc", bad.ProductData.(map[string]string)["cost_price"])

	short := resp.Results[3]
	assert.Equal(t, models.RowStatusFailed, short.Status)
	assert.Contains(t, short.Error, "category")

	assert.Len(t, saver.saved, 2)
}

func TestProcessRejectsNonPositiveCost(t *testing.T) {
	csv := "cost_price,inventory_level,season,category\n0,low,summer,skincare\n"
	resp, err := NewProcessor(markupRecommender{}, nil, 1).Process(context.Background(), user, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.FailedPredictions)
	assert.Contains(t, resp.Results[0].Error, "greater than 0")
}

func TestProcessPreservesOrderUnderConcurrency(t *testing.T) {
	var b strings.Builder
	b.WriteString("cost_price,inventory_level,season,category\n")
	for i := 0; i < 50; i++ {
		b.WriteString("1,low,summer,skincare\n")
	}
	resp, err := NewProcessor(markupRecommender{}, nil, 8).Process(context.Background(), user, strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Len(t, resp.Results, 50)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.RowNumber)
	}
}

func TestProcessFileErrors(t *testing.T) {
	p := NewProcessor(markupRecommender{}, nil, 1)

	_, err := p.Process(context.Background(), user, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = p.Process(context.Background(), user, strings.NewReader("  \n\n"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = p.Process(context.Background(), user, strings.NewReader("cost_price,season\n10,summer\n"))
	var missing *MissingColumnsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"inventory_level", "category"}, missing.Columns)

	_, err = p.Process(context.Background(), user, strings.NewReader("cost_price,inventory_level,season,category\n\"10,low,summer,skincare\n"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestProcessHeaderOnly(t *testing.T) {
	resp, err := NewProcessor(markupRecommender{}, nil, 1).Process(context.Background(), user,
		strings.NewReader("\xef\xbb\xbfcost_price,inventory_level,season,category\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalProducts)
	assert.Empty(t, resp.Results)
}

func TestProcessSaveFailureIsSwallowed(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	csv := "cost_price,inventory_level,season,category\n10,low,summer,skincare\n"
	resp, err := NewProcessor(markupRecommender{}, saver, 2).Process(context.Background(), user, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SuccessfulPredictions)
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	csv := "cost_price,inventory_level,season,category\n10,low,summer,skincare\n"
	_, err := NewProcessor(markupRecommender{}, nil, 2).Process(ctx, user, strings.NewReader(csv))
	assert.ErrorIs(t, err, context.Canceled)
}
