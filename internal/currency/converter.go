// Package currency converts amounts between currencies using live exchange
// rates, cached per base currency, with a static table when the API fails.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"gemprice/internal/models"
	"gemprice/internal/telemetry"
)

// Source names where a rate set came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceLive     Source = "live_api"
	SourceShared   Source = "shared_cache"
	SourceFallback Source = "fallback"
)

// fallbackRates are approximate USD-based rates used when the API is down.
var fallbackRates = map[string]float64{
	"USD": 1.0,
	"EUR": 0.85,
	"GBP": 0.73,
	"JPY": 110.0,
	"CAD": 1.25,
	"AUD": 1.35,
	"CHF": 0.92,
	"CNY": 6.45,
	"INR": 74.0,
	"KRW": 1180.0,
}

var currencyInfo = map[string]models.CurrencyInfo{
	"USD": {Code: "USD", Name: "US Dollar", Symbol: "$"},
	"EUR": {Code: "EUR", Name: "Euro", Symbol: "€"},
	"GBP": {Code: "GBP", Name: "British Pound", Symbol: "£"},
	"JPY": {Code: "JPY", Name: "Japanese Yen", Symbol: "¥"},
	"CAD": {Code: "CAD", Name: "Canadian Dollar", Symbol: "C$"},
	"AUD": {Code: "AUD", Name: "Australian Dollar", Symbol: "A$"},
	"CHF": {Code: "CHF", Name: "Swiss Franc", Symbol: "CHF"},
	"CNY": {Code: "CNY", Name: "Chinese Yuan", Symbol: "¥"},
	"INR": {Code: "INR", Name: "Indian Rupee", Symbol: "₹"},
	"KRW": {Code: "KRW", Name: "South Korean Won", Symbol: "₩"},
}

// Fetcher retrieves a JSON document.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string, target any) error
}

// SharedCache is an optional cross-process layer consulted on a local miss.
type SharedCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

type Converter struct {
	baseURL string
	fetcher Fetcher
	ttl     time.Duration
	shared  SharedCache
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]models.ExchangeRateSnapshot
	group singleflight.Group
}

func NewConverter(baseURL string, fetcher Fetcher, ttl time.Duration) *Converter {
	return &Converter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]models.ExchangeRateSnapshot),
	}
}

// WithSharedCache adds a shared cache layer behind the in-memory one.
func (c *Converter) WithSharedCache(sc SharedCache) *Converter {
	c.shared = sc
	return c
}

func (c *Converter) cached(base string) (models.ExchangeRateSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.cache[base]
	if !ok || c.now().Sub(snap.FetchedAt) >= c.ttl {
		return models.ExchangeRateSnapshot{}, false
	}
	return snap, true
}

func (c *Converter) store(snap models.ExchangeRateSnapshot) {
	c.mu.Lock()
	c.cache[snap.BaseCurrency] = snap
	c.mu.Unlock()
}

type apiResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Rates returns the rate set for base. It never fails: when the API cannot
// be reached the static table is returned with SourceFallback.
func (c *Converter) Rates(ctx context.Context, base string) (models.ExchangeRateSnapshot, Source) {
	base = strings.ToUpper(strings.TrimSpace(base))
	if base == "" {
		base = "USD"
	}

	if snap, ok := c.cached(base); ok {
		slog.Debug("Using cached exchange rates", "base", base)
		telemetry.RecordExchangeRateLookup(string(SourceCache))
		return snap, SourceCache
	}

	type result struct {
		snap   models.ExchangeRateSnapshot
		source Source
	}
	v, _, _ := c.group.Do(base, func() (any, error) {
		snap, source := c.load(ctx, base)
		return result{snap: snap, source: source}, nil
	})
	res := v.(result)
	telemetry.RecordExchangeRateLookup(string(res.source))
	return res.snap, res.source
}

func (c *Converter) load(ctx context.Context, base string) (models.ExchangeRateSnapshot, Source) {
	key := "exchange_rates:" + base

	if c.shared != nil {
		if raw, err := c.shared.Get(ctx, key); err == nil {
			var snap models.ExchangeRateSnapshot
			if err := json.Unmarshal(raw, &snap); err == nil && c.now().Sub(snap.FetchedAt) < c.ttl {
				c.store(snap)
				return snap, SourceShared
			}
		}
	}

	slog.Debug("Fetching live exchange rates", "base", base)
	var resp apiResponse
	if err := c.fetcher.FetchJSON(ctx, fmt.Sprintf("%s/%s", c.baseURL, base), &resp); err != nil || len(resp.Rates) == 0 {
		if err == nil {
			err = fmt.Errorf("empty rate set")
		}
		slog.Warn("Exchange rate API unavailable, using fallback rates", "base", base, "error", err)
		return FallbackRates(base, c.now()), SourceFallback
	}

	snap := models.ExchangeRateSnapshot{
		BaseCurrency: base,
		Rates:        resp.Rates,
		FetchedAt:    c.now(),
	}
	c.store(snap)

	if c.shared != nil {
		if raw, err := json.Marshal(snap); err == nil {
			if err := c.shared.Set(ctx, key, raw, c.ttl); err != nil {
				slog.Debug("Shared rate cache write failed", "base", base, "error", err)
			}
		}
	}
	return snap, SourceLive
}

// FallbackRates re-bases the static USD table onto base. Unknown bases get
// the USD table unchanged.
func FallbackRates(base string, at time.Time) models.ExchangeRateSnapshot {
	base = strings.ToUpper(base)
	baseRate, ok := fallbackRates[base]
	if !ok {
		baseRate = 1.0
	}

	rates := make(map[string]float64, len(fallbackRates))
	for code, rate := range fallbackRates {
		if base == "USD" {
			rates[code] = rate
			continue
		}
		rates[code] = rate / baseRate
	}
	return models.ExchangeRateSnapshot{BaseCurrency: base, Rates: rates, FetchedAt: at}
}

// Convert converts amount between currencies, rounding to two decimals. An
// unsupported target returns the original amount with Error set.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string) models.Conversion {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if to == "" {
		to = "USD"
	}
	conv := models.Conversion{Amount: amount, From: from, To: to}

	if from == to {
		conv.ConvertedAmount = amount
		conv.Rate = 1.0
		conv.Source = "identity"
		return conv
	}

	snap, source := c.Rates(ctx, from)
	rate, ok := snap.Rates[to]
	if !ok {
		slog.Warn("Currency not supported, returning original amount", "currency", to)
		conv.ConvertedAmount = amount
		conv.Error = fmt.Sprintf("Currency %s not supported", to)
		return conv
	}

	conv.ConvertedAmount = decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate)).Round(2).InexactFloat64()
	conv.Rate = rate
	conv.Source = string(source)
	return conv
}

// Supported lists the currencies of the static table.
func Supported() []string {
	codes := make([]string, 0, len(fallbackRates))
	for code := range fallbackRates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Info describes a currency; unknown codes echo the code as name and symbol.
func Info(code string) models.CurrencyInfo {
	code = strings.ToUpper(strings.TrimSpace(code))
	if info, ok := currencyInfo[code]; ok {
		return info
	}
	return models.CurrencyInfo{Code: code, Name: code, Symbol: code}
}
