// Package catalog is the engine's read-only view of the character catalog.
// Profiles change rarely, so reads go through the content cache with a short
// TTL instead of hitting the store on every request.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-engine/internal/cache"
	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
)

// Service exposes cached character lookups.
type Service interface {
	// Get returns one character profile. Returns models.ErrNotFound if missing.
	Get(ctx context.Context, id uuid.UUID) (*models.Character, error)

	// List returns the full catalog ordered by name.
	List(ctx context.Context) ([]models.Character, error)
}

type service struct {
	querier    interfaces.DBTX
	characters interfaces.CharacterRepository
	cache      *cache.ContentCache
	ttl        time.Duration
	logger     *zap.Logger
}

var _ Service = (*service)(nil)

// NewService создает каталог персонажей с кэшированием профилей.
func NewService(
	querier interfaces.DBTX,
	characters interfaces.CharacterRepository,
	profileCache *cache.ContentCache,
	ttl time.Duration,
	logger *zap.Logger,
) Service {
	return &service{
		querier:    querier,
		characters: characters,
		cache:      profileCache,
		ttl:        ttl,
		logger:     logger.Named("CharacterCatalog"),
	}
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Character, error) {
	key := "character:" + id.String()
	value, err := s.cache.GetOrCompute(ctx, key, s.ttl, func(ctx context.Context) (any, error) {
		return s.characters.GetByID(ctx, s.querier, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get character %s: %w", id, err)
	}
	return value.(*models.Character), nil
}

func (s *service) List(ctx context.Context) ([]models.Character, error) {
	value, err := s.cache.GetOrCompute(ctx, "characters:all", s.ttl, func(ctx context.Context) (any, error) {
		return s.characters.List(ctx, s.querier)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return value.([]models.Character), nil
}
