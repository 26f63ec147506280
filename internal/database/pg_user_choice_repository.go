package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
)

const (
	userChoiceFields = `id, user_id, scene_id, choice_index, choice_text, created_at`

	insertUserChoiceQuery = `
        INSERT INTO user_choices (id, user_id, scene_id, choice_index, choice_text, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	getUserChoiceByUserAndSceneQuery = `
        SELECT ` + userChoiceFields + `
        FROM user_choices
        WHERE user_id = $1 AND scene_id = $2`

	// Последняя сцена персонажа, на которой пользователь уже принял решение.
	// Определяет персистентную позицию игрока.
	latestDecidedSceneQuery = `
        SELECT ` + "s.id, s.character_id, s.chapter, s.scene_number, s.scene_type, s.content, s.choices, s.background_image, s.character_image, s.requires_ai, s.status, s.nft_minted, s.mint_tx_hash, s.created_at" + `
        FROM user_choices uc
        JOIN scenes s ON s.id = uc.scene_id
        WHERE uc.user_id = $1 AND s.character_id = $2
        ORDER BY s.chapter DESC, s.scene_number DESC
        LIMIT 1`

	listChoiceTextsQuery = `
        SELECT uc.choice_text
        FROM user_choices uc
        JOIN scenes s ON s.id = uc.scene_id
        WHERE uc.user_id = $1 AND s.character_id = $2
        ORDER BY s.chapter DESC, s.scene_number DESC
        LIMIT $3`
)

// Compile-time check to ensure pgUserChoiceRepository implements the interface
var _ interfaces.UserChoiceRepository = (*pgUserChoiceRepository)(nil)

type pgUserChoiceRepository struct {
	logger *zap.Logger
}

// NewPgUserChoiceRepository creates a new repository instance.
func NewPgUserChoiceRepository(logger *zap.Logger) interfaces.UserChoiceRepository {
	return &pgUserChoiceRepository{logger: logger.Named("PgUserChoiceRepo")}
}

// Create inserts a committed choice. The unique (user_id, scene_id)
// constraint guarantees a decided scene is never overwritten.
func (r *pgUserChoiceRepository) Create(ctx context.Context, querier interfaces.DBTX, choice *models.UserChoice) error {
	if choice.ID == uuid.Nil {
		choice.ID = uuid.New()
	}
	if choice.CreatedAt.IsZero() {
		choice.CreatedAt = time.Now().UTC()
	}

	_, err := querier.Exec(ctx, insertUserChoiceQuery,
		choice.ID,
		choice.UserID,
		choice.SceneID,
		choice.ChoiceIndex,
		choice.ChoiceText,
		choice.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			r.logger.Debug("Choice already recorded",
				zap.String("userID", choice.UserID.String()),
				zap.String("sceneID", choice.SceneID.String()))
			return models.ErrChoiceAlreadyMade
		}
		r.logger.Error("Failed to create user choice", zap.Error(err),
			zap.String("userID", choice.UserID.String()),
			zap.String("sceneID", choice.SceneID.String()))
		return fmt.Errorf("failed to create user choice: %w", err)
	}
	return nil
}

func (r *pgUserChoiceRepository) GetByUserAndScene(ctx context.Context, querier interfaces.DBTX, userID, sceneID uuid.UUID) (*models.UserChoice, error) {
	choice := &models.UserChoice{}
	err := querier.QueryRow(ctx, getUserChoiceByUserAndSceneQuery, userID, sceneID).Scan(
		&choice.ID,
		&choice.UserID,
		&choice.SceneID,
		&choice.ChoiceIndex,
		&choice.ChoiceText,
		&choice.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get user choice", zap.Error(err),
			zap.String("userID", userID.String()), zap.String("sceneID", sceneID.String()))
		return nil, fmt.Errorf("failed to get user choice: %w", err)
	}
	return choice, nil
}

func (r *pgUserChoiceRepository) LatestDecidedScene(ctx context.Context, querier interfaces.DBTX, userID, characterID uuid.UUID) (*models.Scene, error) {
	scene := &models.Scene{}
	err := querier.QueryRow(ctx, latestDecidedSceneQuery, userID, characterID).Scan(
		&scene.ID,
		&scene.CharacterID,
		&scene.Chapter,
		&scene.SceneNumber,
		&scene.SceneType,
		&scene.Content,
		&scene.Choices,
		&scene.BackgroundImage,
		&scene.CharacterImage,
		&scene.RequiresAI,
		&scene.Status,
		&scene.NFTMinted,
		&scene.MintTxHash,
		&scene.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get latest decided scene", zap.Error(err),
			zap.String("userID", userID.String()), zap.String("characterID", characterID.String()))
		return nil, fmt.Errorf("failed to get latest decided scene: %w", err)
	}
	return scene, nil
}

func (r *pgUserChoiceRepository) ListTextsForCharacter(ctx context.Context, querier interfaces.DBTX, userID, characterID uuid.UUID, limit int) ([]string, error) {
	rows, err := querier.Query(ctx, listChoiceTextsQuery, userID, characterID, limit)
	if err != nil {
		r.logger.Error("Failed to list choice texts", zap.Error(err), zap.String("userID", userID.String()))
		return nil, fmt.Errorf("failed to list choice texts: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan choice text: %w", err)
		}
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate choice texts: %w", err)
	}

	// Запрос отсортирован от новых к старым; для контекста промпта
	// возвращаем в хронологическом порядке.
	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return texts, nil
}
