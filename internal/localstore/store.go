// Package localstore persists price suggestions as one JSON file per user.
// It is the degraded substitute for the primary store.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gemprice/internal/models"
)

// MaxPerUser is the number of suggestions retained per user; older ones are evicted.
const MaxPerUser = 100

// IDPrefix marks identifiers minted by this store.
const IDPrefix = "local_"

// timestampLayout is fixed width so timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

var ErrNotFound = errors.New("suggestion not found")

type userFile struct {
	UserID      string       `json:"user_id"`
	Suggestions []fileRecord `json:"suggestions"`
	LastUpdated string       `json:"last_updated"`
}

// fileRecord keeps suggested_price raw: files may have been edited by hand
// and carry prices such as "$1,299.00".
type fileRecord struct {
	ID              string              `json:"_id"`
	UserID          string              `json:"user_id"`
	ProductData     models.PriceRequest `json:"product_data"`
	SuggestedPrice  json.RawMessage     `json:"suggested_price"`
	Reasoning       string              `json:"reasoning"`
	ConfidenceScore *float64            `json:"confidence_score"`
	Timestamp       string              `json:"timestamp"`
}

type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// New creates the storage directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Check verifies the storage directory accepts writes.
func (s *Store) Check() error {
	f, err := os.CreateTemp(s.dir, ".check-*")
	if err != nil {
		return fmt.Errorf("local storage not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (s *Store) userPath(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		if r == '-' || r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	return filepath.Join(s.dir, fmt.Sprintf("user_%s.json", b.String()))
}

func (s *Store) load(userID string) ([]fileRecord, error) {
	data, err := os.ReadFile(s.userPath(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user file: %w", err)
	}
	var f userFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode user file: %w", err)
	}
	return f.Suggestions, nil
}

func (s *Store) write(userID string, records []fileRecord) error {
	data, err := json.MarshalIndent(userFile{
		UserID:      userID,
		Suggestions: records,
		LastUpdated: s.now().UTC().Format(timestampLayout),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user file: %w", err)
	}

	path := s.userPath(userID)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write user file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close user file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace user file: %w", err)
	}
	return nil
}

func (s *Store) newRecord(userID string, sug models.PriceSuggestion) (fileRecord, error) {
	price, err := json.Marshal(sug.SuggestedPrice)
	if err != nil {
		return fileRecord{}, fmt.Errorf("encode price: %w", err)
	}
	return fileRecord{
		ID:              IDPrefix + uuid.NewString(),
		UserID:          userID,
		ProductData:     sug.ProductData,
		SuggestedPrice:  price,
		Reasoning:       sug.Reasoning,
		ConfidenceScore: sug.ConfidenceScore,
		Timestamp:       s.now().UTC().Format(timestampLayout),
	}, nil
}

// Save appends one suggestion for user and returns its id.
func (s *Store) Save(user models.User, sug models.PriceSuggestion) (string, error) {
	ids, err := s.SaveMany(user, []models.PriceSuggestion{sug})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SaveMany appends suggestions in one file update.
func (s *Store) SaveMany(user models.User, sugs []models.PriceSuggestion) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(user.Sub)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sugs))
	for _, sug := range sugs {
		rec, err := s.newRecord(user.Sub, sug)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if len(records) > MaxPerUser {
		records = records[len(records)-MaxPerUser:]
	}

	if err := s.write(user.Sub, records); err != nil {
		return nil, err
	}
	slog.Debug("Saved suggestions to local storage", "user_id", user.Sub, "count", len(ids))
	return ids, nil
}

// List returns suggestions newest first, paginated by skip and limit.
func (s *Store) List(user models.User, limit, skip int) ([]models.PriceSuggestion, error) {
	s.mu.Lock()
	records, err := s.load(user.Sub)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})

	if skip < 0 {
		skip = 0
	}
	if skip >= len(records) || limit <= 0 {
		return []models.PriceSuggestion{}, nil
	}
	end := skip + limit
	if end > len(records) {
		end = len(records)
	}

	out := make([]models.PriceSuggestion, 0, end-skip)
	for _, rec := range records[skip:end] {
		out = append(out, rec.toModel())
	}
	return out, nil
}

// Get returns the suggestion with id if it belongs to user.
func (s *Store) Get(id string, user models.User) (models.PriceSuggestion, error) {
	s.mu.Lock()
	records, err := s.load(user.Sub)
	s.mu.Unlock()
	if err != nil {
		return models.PriceSuggestion{}, err
	}
	for _, rec := range records {
		if rec.ID == id && rec.UserID == user.Sub {
			return rec.toModel(), nil
		}
	}
	return models.PriceSuggestion{}, ErrNotFound
}

// Stats summarises the user's suggested prices. Prices that cannot be read
// as numbers are skipped but still counted in the total.
func (s *Store) Stats(user models.User) (models.SuggestionStats, error) {
	s.mu.Lock()
	records, err := s.load(user.Sub)
	s.mu.Unlock()
	if err != nil {
		return models.SuggestionStats{}, err
	}

	stats := models.SuggestionStats{TotalSuggestions: len(records)}
	sum := decimal.Zero
	n := 0
	for _, rec := range records {
		price, ok := coercePrice(rec.SuggestedPrice)
		if !ok {
			continue
		}
		if n == 0 || price < stats.MinPrice {
			stats.MinPrice = price
		}
		if n == 0 || price > stats.MaxPrice {
			stats.MaxPrice = price
		}
		sum = sum.Add(decimal.NewFromFloat(price))
		n++
	}
	if n > 0 {
		stats.AveragePrice = sum.Div(decimal.NewFromInt(int64(n))).InexactFloat64()
	}
	return stats, nil
}

// toModel converts a stored record. A price that cannot be read as a number
// is reported as 0, the same records Stats leaves out of min, max and mean.
func (r fileRecord) toModel() models.PriceSuggestion {
	price, ok := coercePrice(r.SuggestedPrice)
	if !ok {
		slog.Debug("Unreadable stored price", "id", r.ID, "user_id", r.UserID, "raw", string(r.SuggestedPrice))
	}
	ts, err := time.Parse(timestampLayout, r.Timestamp)
	if err != nil {
		ts, _ = time.Parse(time.RFC3339Nano, r.Timestamp)
	}
	return models.PriceSuggestion{
		ID:              r.ID,
		UserID:          r.UserID,
		ProductData:     r.ProductData,
		SuggestedPrice:  price,
		Reasoning:       r.Reasoning,
		ConfidenceScore: r.ConfidenceScore,
		Timestamp:       ts,
	}
}

// coercePrice reads a JSON number, or a string with currency symbols and
// thousands separators.
func coercePrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
