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
	sceneFields = `id, character_id, chapter, scene_number, scene_type, content, choices, background_image, character_image, requires_ai, status, nft_minted, mint_tx_hash, created_at`

	insertSceneQuery = `
        INSERT INTO scenes
            (id, character_id, chapter, scene_number, scene_type, content, choices, background_image, character_image, requires_ai, status, nft_minted, created_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getSceneByKeyQuery = `
        SELECT ` + sceneFields + `
        FROM scenes
        WHERE character_id = $1 AND chapter = $2 AND scene_number = $3`

	getSceneByIDQuery = `SELECT ` + sceneFields + ` FROM scenes WHERE id = $1`

	// nft_minted допускает ровно один переход false -> true
	setSceneMintedQuery = `
        UPDATE scenes SET nft_minted = TRUE, mint_tx_hash = $2
        WHERE id = $1 AND nft_minted = FALSE`
)

// Compile-time check to ensure pgSceneRepository implements the interface
var _ interfaces.SceneRepository = (*pgSceneRepository)(nil)

type pgSceneRepository struct {
	logger *zap.Logger
}

// NewPgSceneRepository creates a new repository instance.
func NewPgSceneRepository(logger *zap.Logger) interfaces.SceneRepository {
	return &pgSceneRepository{logger: logger.Named("PgSceneRepo")}
}

// Create inserts a new scene. The unique (character_id, chapter, scene_number)
// constraint makes this a compare-and-create: the loser of a concurrent race
// gets models.ErrSceneConflict and must re-read the winner's row.
func (r *pgSceneRepository) Create(ctx context.Context, querier interfaces.DBTX, scene *models.Scene) error {
	if scene.ID == uuid.Nil {
		scene.ID = uuid.New()
	}
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = time.Now().UTC()
	}

	logFields := []zap.Field{
		zap.String("characterID", scene.CharacterID.String()),
		zap.Int("chapter", scene.Chapter),
		zap.Int("sceneNumber", scene.SceneNumber),
	}

	_, err := querier.Exec(ctx, insertSceneQuery,
		scene.ID,
		scene.CharacterID,
		scene.Chapter,
		scene.SceneNumber,
		scene.SceneType,
		scene.Content,
		scene.Choices,
		scene.BackgroundImage,
		scene.CharacterImage,
		scene.RequiresAI,
		scene.Status,
		scene.NFTMinted,
		scene.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			r.logger.Debug("Scene already exists for key", logFields...)
			return models.ErrSceneConflict
		}
		r.logger.Error("Failed to create scene", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to create scene: %w", err)
	}
	r.logger.Info("Scene created", append(logFields, zap.String("sceneID", scene.ID.String()))...)
	return nil
}

func (r *pgSceneRepository) GetByKey(ctx context.Context, querier interfaces.DBTX, key models.SceneKey) (*models.Scene, error) {
	logFields := []zap.Field{
		zap.String("characterID", key.CharacterID.String()),
		zap.Int("chapter", key.Chapter),
		zap.Int("sceneNumber", key.SceneNumber),
	}
	scene, err := r.scanScene(querier.QueryRow(ctx, getSceneByKeyQuery, key.CharacterID, key.Chapter, key.SceneNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Scene not found by key", logFields...)
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get scene by key", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("failed to get scene by key: %w", err)
	}
	return scene, nil
}

func (r *pgSceneRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Scene, error) {
	scene, err := r.scanScene(querier.QueryRow(ctx, getSceneByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Scene not found by ID", zap.String("sceneID", id.String()))
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get scene by ID", zap.Error(err), zap.String("sceneID", id.String()))
		return nil, fmt.Errorf("failed to get scene %s: %w", id, err)
	}
	return scene, nil
}

func (r *pgSceneRepository) SetMinted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, txHash string) error {
	tag, err := querier.Exec(ctx, setSceneMintedQuery, id, txHash)
	if err != nil {
		r.logger.Error("Failed to mark scene minted", zap.Error(err), zap.String("sceneID", id.String()))
		return fmt.Errorf("failed to mark scene %s minted: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the scene does not exist or it was minted already;
		// disambiguate for the caller.
		if _, getErr := r.GetByID(ctx, querier, id); getErr != nil {
			return getErr
		}
		return models.ErrAlreadyMinted
	}
	r.logger.Info("Scene marked as minted", zap.String("sceneID", id.String()), zap.String("txHash", txHash))
	return nil
}

func (r *pgSceneRepository) scanScene(row pgx.Row) (*models.Scene, error) {
	scene := &models.Scene{}
	err := row.Scan(
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
		return nil, err
	}
	return scene, nil
}
