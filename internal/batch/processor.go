// Package batch prices every row of an uploaded CSV file.
package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"gemprice/internal/models"
	"gemprice/internal/pricing"
	"gemprice/internal/store"
)

// RequiredColumns must appear in the header row.
var RequiredColumns = []string{"cost_price", "inventory_level", "season", "category"}

var (
	ErrEmptyFile = errors.New("csv file is empty")
	ErrMalformed = errors.New("malformed csv")
)

// MissingColumnsError lists required columns absent from the header.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

type Recommender interface {
	Recommend(ctx context.Context, req models.PriceRequest) pricing.Result
}

type Saver interface {
	BatchSave(ctx context.Context, user models.User, sugs []models.PriceSuggestion) ([]string, store.Source, error)
}

type Processor struct {
	rec     Recommender
	saver   Saver
	workers int
}

// NewProcessor returns a processor pricing up to workers rows at once. A nil
// saver skips persistence.
func NewProcessor(rec Recommender, saver Saver, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{rec: rec, saver: saver, workers: workers}
}

type row struct {
	number int
	raw    map[string]string
}

func readRows(r io.Reader) ([]row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	header := make([]string, len(records[0]))
	present := make(map[string]bool, len(header))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
		present[header[i]] = true
	}
	var missing []string
	for _, col := range RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	rows := make([]row, 0, len(records)-1)
	for i, rec := range records[1:] {
		raw := make(map[string]string, len(header))
		for j, col := range header {
			if j < len(rec) && col != "" {
				raw[col] = rec[j]
			}
		}
		rows = append(rows, row{number: i + 1, raw: raw})
	}
	return rows, nil
}

func parseFloat(raw map[string]string, col string) (float64, error) {
	v, ok := raw[col]
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return 0, fmt.Errorf("missing value for %s", col)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: not a number", col, v)
	}
	return f, nil
}

func parseRequest(raw map[string]string) (models.PriceRequest, error) {
	var req models.PriceRequest
	cost, err := parseFloat(raw, "cost_price")
	if err != nil {
		return req, err
	}
	req.CostPrice = cost

	if v := strings.TrimSpace(raw["competitor_price"]); v != "" {
		cp, err := parseFloat(raw, "competitor_price")
		if err != nil {
			return req, err
		}
		req.CompetitorPrice = &cp
	}

	for _, col := range []string{"inventory_level", "season", "category"} {
		if strings.TrimSpace(raw[col]) == "" {
			return req, fmt.Errorf("missing value for %s", col)
		}
	}
	req.InventoryLevel = strings.TrimSpace(raw["inventory_level"])
	req.Season = strings.TrimSpace(raw["season"])
	req.Category = strings.TrimSpace(raw["category"])

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// Process prices every data row of r for user. Row failures are reported in
// the response; only an unreadable file or a cancelled ctx returns an error.
// Successful rows are persisted best effort.
func (p *Processor) Process(ctx context.Context, user models.User, r io.Reader) (models.CSVUploadResponse, error) {
	rows, err := readRows(r)
	if err != nil {
		return models.CSVUploadResponse{}, err
	}

	results := make([]models.RowResult, len(rows))
	suggestions := make([]*models.PriceSuggestion, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, rw := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			req, err := parseRequest(rw.raw)
			if err != nil {
				results[i] = models.RowResult{
					RowNumber:   rw.number,
					ProductData: rw.raw,
					Error:       err.Error(),
					Status:      models.RowStatusFailed,
				}
				return nil
			}

			res := p.rec.Recommend(gctx, req)
			price := res.Recommendation.SuggestedPrice
			results[i] = models.RowResult{
				RowNumber:       rw.number,
				ProductData:     req,
				SuggestedPrice:  &price,
				Reasoning:       res.Recommendation.Reasoning,
				ConfidenceScore: res.Recommendation.ConfidenceScore,
				Status:          models.RowStatusSuccess,
			}
			sug := models.NewSuggestion(req, res.Recommendation)
			suggestions[i] = &sug
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.CSVUploadResponse{}, err
	}

	resp := models.CSVUploadResponse{TotalProducts: len(rows), Results: results}
	toSave := make([]models.PriceSuggestion, 0, len(rows))
	for i, res := range results {
		if res.Status == models.RowStatusSuccess {
			resp.SuccessfulPredictions++
			toSave = append(toSave, *suggestions[i])
		} else {
			resp.FailedPredictions++
		}
	}

	if p.saver != nil && len(toSave) > 0 {
		if _, source, err := p.saver.BatchSave(ctx, user, toSave); err != nil {
			slog.Error("Failed to save batch suggestions", "user_id", user.Sub, "count", len(toSave), "error", err)
		} else {
			slog.Info("Saved batch suggestions", "user_id", user.Sub, "count", len(toSave), "source", source)
		}
	}
	return resp, nil
}
