// Package store persists price suggestions in the primary document store and
// falls back to the local file store whenever the primary cannot serve a call.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gemprice/internal/localstore"
	"gemprice/internal/models"
	"gemprice/internal/telemetry"
)

var (
	ErrNotFound    = errors.New("suggestion not found")
	ErrUnavailable = errors.New("primary store unavailable")
)

// Source names the backend that served an operation.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// Backend is a primary document store.
type Backend interface {
	Name() string
	Ping(ctx context.Context) error
	Insert(ctx context.Context, user models.User, s models.PriceSuggestion) (string, error)
	InsertMany(ctx context.Context, user models.User, s []models.PriceSuggestion) ([]string, error)
	List(ctx context.Context, user models.User, limit, skip int) ([]models.PriceSuggestion, error)
	Get(ctx context.Context, id string, user models.User) (models.PriceSuggestion, error)
	Stats(ctx context.Context, user models.User) (models.SuggestionStats, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Service is the process-wide data store. It is created once at startup and
// passed to handlers; Connect and Disconnect bracket the primary backend.
type Service struct {
	mu      sync.RWMutex
	primary Backend
	local   *localstore.Store
}

func NewService(local *localstore.Store) *Service {
	return &Service{local: local}
}

// Connect verifies b is reachable and makes it the primary backend. On error
// the service keeps serving from the local store.
func (s *Service) Connect(ctx context.Context, b Backend) error {
	if err := b.Ping(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", b.Name(), err)
	}
	s.mu.Lock()
	s.primary = b
	s.mu.Unlock()
	slog.Info("Primary store connected", "backend", b.Name())
	return nil
}

// Disconnect closes and detaches the primary backend.
func (s *Service) Disconnect() error {
	s.mu.Lock()
	b := s.primary
	s.primary = nil
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

func (s *Service) backend() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

// Connected reports whether a primary backend is attached.
func (s *Service) Connected() bool {
	return s.backend() != nil
}

func (s *Service) degrade(op string, err error) {
	slog.Warn("Primary store failed, using local storage", "operation", op, "error", err)
	telemetry.RecordStorage(op, string(SourceFallback))
}

func (s *Service) served(op string) {
	telemetry.RecordStorage(op, string(SourcePrimary))
}

// Save persists one suggestion. Exactly one backend receives it; a local
// store failure is returned to the caller.
func (s *Service) Save(ctx context.Context, user models.User, sug models.PriceSuggestion) (string, Source, error) {
	if b := s.backend(); b != nil {
		id, err := b.Insert(ctx, user, sug)
		if err == nil {
			s.served("save")
			return id, SourcePrimary, nil
		}
		s.degrade("save", err)
	} else {
		s.degrade("save", ErrUnavailable)
	}

	id, err := s.local.Save(user, sug)
	if err != nil {
		return "", SourceFallback, fmt.Errorf("save suggestion: %w", err)
	}
	return id, SourceFallback, nil
}

// BatchSave persists suggestions atomically in one backend.
func (s *Service) BatchSave(ctx context.Context, user models.User, sugs []models.PriceSuggestion) ([]string, Source, error) {
	if len(sugs) == 0 {
		return nil, SourcePrimary, nil
	}
	if b := s.backend(); b != nil {
		ids, err := b.InsertMany(ctx, user, sugs)
		if err == nil {
			s.served("batch_save")
			return ids, SourcePrimary, nil
		}
		s.degrade("batch_save", err)
	} else {
		s.degrade("batch_save", ErrUnavailable)
	}

	ids, err := s.local.SaveMany(user, sugs)
	if err != nil {
		return nil, SourceFallback, fmt.Errorf("batch save suggestions: %w", err)
	}
	return ids, SourceFallback, nil
}

// List returns the user's suggestions newest first.
func (s *Service) List(ctx context.Context, user models.User, limit, skip int) ([]models.PriceSuggestion, Source, error) {
	if b := s.backend(); b != nil {
		out, err := b.List(ctx, user, limit, skip)
		if err == nil {
			s.served("list")
			return out, SourcePrimary, nil
		}
		s.degrade("list", err)
	} else {
		s.degrade("list", ErrUnavailable)
	}

	out, err := s.local.List(user, limit, skip)
	if err != nil {
		return nil, SourceFallback, fmt.Errorf("list suggestions: %w", err)
	}
	return out, SourceFallback, nil
}

// Stats aggregates the user's suggested prices.
func (s *Service) Stats(ctx context.Context, user models.User) (models.SuggestionStats, Source, error) {
	if b := s.backend(); b != nil {
		stats, err := b.Stats(ctx, user)
		if err == nil {
			s.served("stats")
			return stats, SourcePrimary, nil
		}
		s.degrade("stats", err)
	} else {
		s.degrade("stats", ErrUnavailable)
	}

	stats, err := s.local.Stats(user)
	if err != nil {
		return models.SuggestionStats{}, SourceFallback, fmt.Errorf("suggestion stats: %w", err)
	}
	return stats, SourceFallback, nil
}

// GetByID returns one of the user's suggestions. Ids minted by the local
// store are looked up there; all others only in the primary store.
func (s *Service) GetByID(ctx context.Context, id string, user models.User) (models.PriceSuggestion, Source, error) {
	if strings.HasPrefix(id, localstore.IDPrefix) {
		sug, err := s.local.Get(id, user)
		if errors.Is(err, localstore.ErrNotFound) {
			return models.PriceSuggestion{}, SourceFallback, ErrNotFound
		}
		if err != nil {
			return models.PriceSuggestion{}, SourceFallback, fmt.Errorf("get suggestion: %w", err)
		}
		return sug, SourceFallback, nil
	}

	b := s.backend()
	if b == nil {
		return models.PriceSuggestion{}, SourcePrimary, ErrUnavailable
	}
	sug, err := b.Get(ctx, id, user)
	if err != nil {
		return models.PriceSuggestion{}, SourcePrimary, err
	}
	s.served("get")
	return sug, SourcePrimary, nil
}

// Ping checks the primary backend.
func (s *Service) Ping(ctx context.Context) error {
	b := s.backend()
	if b == nil {
		return ErrUnavailable
	}
	return b.Ping(ctx)
}

// CheckFallback verifies the local store can take writes.
func (s *Service) CheckFallback() error {
	return s.local.Check()
}

// Count returns the number of suggestions held by the primary backend.
func (s *Service) Count(ctx context.Context) (int64, error) {
	b := s.backend()
	if b == nil {
		return 0, ErrUnavailable
	}
	return b.Count(ctx)
}
