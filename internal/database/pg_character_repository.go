package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	pgxV5 "github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
)

const (
	characterFields = `id, name, personality, background, traits, emotions, expressions, created_at`

	getCharacterByIDQuery = `SELECT ` + characterFields + ` FROM characters WHERE id = $1`
	listCharactersQuery   = `SELECT ` + characterFields + ` FROM characters ORDER BY name`
)

// Compile-time check to ensure pgCharacterRepository implements the interface
var _ interfaces.CharacterRepository = (*pgCharacterRepository)(nil)

// pgCharacterRepository читает каталог персонажей. Каталог наполняется
// админкой; движок его не изменяет.
type pgCharacterRepository struct {
	logger *zap.Logger
}

// NewPgCharacterRepository creates a new repository instance.
func NewPgCharacterRepository(logger *zap.Logger) interfaces.CharacterRepository {
	return &pgCharacterRepository{logger: logger.Named("PgCharacterRepo")}
}

func (r *pgCharacterRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Character, error) {
	var character models.Character
	err := pgxscan.Get(ctx, querier, &character, getCharacterByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgxV5.ErrNoRows) {
			r.logger.Debug("Character not found", zap.String("characterID", id.String()))
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get character", zap.Error(err), zap.String("characterID", id.String()))
		return nil, fmt.Errorf("failed to get character %s: %w", id, err)
	}
	return &character, nil
}

func (r *pgCharacterRepository) List(ctx context.Context, querier interfaces.DBTX) ([]models.Character, error) {
	var characters []models.Character
	if err := pgxscan.Select(ctx, querier, &characters, listCharactersQuery); err != nil {
		r.logger.Error("Failed to list characters", zap.Error(err))
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return characters, nil
}
