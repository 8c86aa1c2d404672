package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gemprice/internal/cache"
	"gemprice/internal/models"
)

// DatabaseName namespaces every key the backend writes.
const DatabaseName = "gemprice"

// RedisBackend stores each suggestion as a JSON document and indexes it in a
// per-user sorted set scored by creation time in milliseconds.
type RedisBackend struct {
	conn *cache.Client
	rdb  *redis.Client
	now  func() time.Time
}

func NewRedisBackend(conn *cache.Client) *RedisBackend {
	return &RedisBackend{conn: conn, rdb: conn.Redis(), now: time.Now}
}

func docKey(id string) string {
	return fmt.Sprintf("%s:price_suggestions:%s", DatabaseName, id)
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:price_suggestions", DatabaseName, userID)
}

func totalKey() string {
	return DatabaseName + ":price_suggestions:count"
}

func (b *RedisBackend) Name() string {
	return "redis"
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.conn.Ping(ctx)
}

func (b *RedisBackend) Close() error {
	return b.conn.Close()
}

func (b *RedisBackend) prepare(user models.User, sug models.PriceSuggestion) (models.PriceSuggestion, []byte, error) {
	sug.ID = uuid.NewString()
	sug.UserID = user.Sub
	sug.Timestamp = b.now().UTC()
	doc, err := json.Marshal(sug)
	if err != nil {
		return sug, nil, fmt.Errorf("encode suggestion: %w", err)
	}
	return sug, doc, nil
}

func (b *RedisBackend) Insert(ctx context.Context, user models.User, sug models.PriceSuggestion) (string, error) {
	ids, err := b.InsertMany(ctx, user, []models.PriceSuggestion{sug})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertMany writes all documents and index entries in one MULTI/EXEC.
func (b *RedisBackend) InsertMany(ctx context.Context, user models.User, sugs []models.PriceSuggestion) ([]string, error) {
	type entry struct {
		sug models.PriceSuggestion
		doc []byte
	}
	entries := make([]entry, 0, len(sugs))
	for _, s := range sugs {
		prepared, doc, err := b.prepare(user, s)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{sug: prepared, doc: doc})
	}

	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.Set(ctx, docKey(e.sug.ID), e.doc, 0)
			pipe.ZAdd(ctx, userIndexKey(user.Sub), &redis.Z{
				Score:  float64(e.sug.Timestamp.UnixMilli()),
				Member: e.sug.ID,
			})
		}
		pipe.IncrBy(ctx, totalKey(), int64(len(entries)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert suggestions: %w", err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.sug.ID
	}
	return ids, nil
}

func (b *RedisBackend) fetch(ctx context.Context, ids []string) ([]models.PriceSuggestion, error) {
	if len(ids) == 0 {
		return []models.PriceSuggestion{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(id)
	}
	vals, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load suggestions: %w", err)
	}

	out := make([]models.PriceSuggestion, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s models.PriceSuggestion
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode suggestion: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// List returns the user's suggestions newest first.
func (b *RedisBackend) List(ctx context.Context, user models.User, limit, skip int) ([]models.PriceSuggestion, error) {
	if limit <= 0 {
		return []models.PriceSuggestion{}, nil
	}
	if skip < 0 {
		skip = 0
	}
	ids, err := b.rdb.ZRevRange(ctx, userIndexKey(user.Sub), int64(skip), int64(skip+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	return b.fetch(ctx, ids)
}

func (b *RedisBackend) Get(ctx context.Context, id string, user models.User) (models.PriceSuggestion, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.PriceSuggestion{}, ErrNotFound
	}
	raw, err := b.rdb.Get(ctx, docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PriceSuggestion{}, ErrNotFound
	}
	if err != nil {
		return models.PriceSuggestion{}, fmt.Errorf("get suggestion: %w", err)
	}
	var s models.PriceSuggestion
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.PriceSuggestion{}, fmt.Errorf("decode suggestion: %w", err)
	}
	if s.UserID != user.Sub {
		return models.PriceSuggestion{}, ErrNotFound
	}
	return s, nil
}

// Stats aggregates over every document in the user's index.
func (b *RedisBackend) Stats(ctx context.Context, user models.User) (models.SuggestionStats, error) {
	ids, err := b.rdb.ZRange(ctx, userIndexKey(user.Sub), 0, -1).Result()
	if err != nil {
		return models.SuggestionStats{}, fmt.Errorf("stats index: %w", err)
	}
	docs, err := b.fetch(ctx, ids)
	if err != nil {
		return models.SuggestionStats{}, err
	}

	// Index members whose document is gone are not counted.
	stats := models.SuggestionStats{TotalSuggestions: len(docs)}
	if len(docs) == 0 {
		return stats, nil
	}
	sum := decimal.Zero
	for i, d := range docs {
		if i == 0 || d.SuggestedPrice < stats.MinPrice {
			stats.MinPrice = d.SuggestedPrice
		}
		if i == 0 || d.SuggestedPrice > stats.MaxPrice {
			stats.MaxPrice = d.SuggestedPrice
		}
		sum = sum.Add(decimal.NewFromFloat(d.SuggestedPrice))
	}
	stats.AveragePrice = sum.Div(decimal.NewFromInt(int64(len(docs)))).InexactFloat64()
	return stats, nil
}

// Count returns the number of suggestions across all users.
func (b *RedisBackend) Count(ctx context.Context) (int64, error) {
	n, err := b.rdb.Get(ctx, totalKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
