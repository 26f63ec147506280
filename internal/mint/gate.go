// Package mint gates NFT minting of committed scenes. The gate is the only
// writer of the nft_minted flag; scene content is never touched here.
package mint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/messaging"
	"novel-engine/internal/models"
)

// Gate exposes mint eligibility checks and result recording.
type Gate interface {
	// CheckEligibility returns nil when the scene can be minted:
	// generation completed, not yet minted, and it has an image to mint.
	CheckEligibility(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error)

	// RecordMintResult flips nft_minted and stores the external transaction
	// hash, then publishes a mint event. Returns models.ErrAlreadyMinted on
	// a repeated attempt.
	RecordMintResult(ctx context.Context, userID, sceneID uuid.UUID, txHash string) (*models.Scene, error)
}

type gate struct {
	querier   interfaces.DBTX
	txManager interfaces.TxManager
	scenes    interfaces.SceneRepository
	publisher messaging.EventPublisher
	logger    *zap.Logger
}

var _ Gate = (*gate)(nil)

// NewGate создает mint-гейт.
func NewGate(
	querier interfaces.DBTX,
	txManager interfaces.TxManager,
	scenes interfaces.SceneRepository,
	publisher messaging.EventPublisher,
	logger *zap.Logger,
) Gate {
	return &gate{
		querier:   querier,
		txManager: txManager,
		scenes:    scenes,
		publisher: publisher,
		logger:    logger.Named("MintGate"),
	}
}

func (g *gate) CheckEligibility(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error) {
	scene, err := g.scenes.GetByID(ctx, g.querier, sceneID)
	if err != nil {
		return nil, err
	}
	if err := eligible(scene); err != nil {
		return nil, err
	}
	return scene, nil
}

func (g *gate) RecordMintResult(ctx context.Context, userID, sceneID uuid.UUID, txHash string) (*models.Scene, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: empty transaction hash", models.ErrInvalidInput)
	}

	var scene *models.Scene
	err := g.txManager.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		var err error
		scene, err = g.scenes.GetByID(ctx, tx, sceneID)
		if err != nil {
			return err
		}
		if err := eligible(scene); err != nil {
			return err
		}
		return g.scenes.SetMinted(ctx, tx, sceneID, txHash)
	})
	if err != nil {
		return nil, err
	}

	scene.NFTMinted = true
	scene.MintTxHash = &txHash

	g.logger.Info("Scene mint recorded",
		zap.String("scene_id", sceneID.String()),
		zap.String("tx_hash", txHash))

	publishErr := g.publisher.PublishMintEvent(ctx, messaging.MintEventPayload{
		SceneID:     scene.ID,
		CharacterID: scene.CharacterID,
		UserID:      userID,
		TxHash:      txHash,
		MintedAt:    time.Now().UTC(),
	})
	if publishErr != nil {
		// Запись уже зафиксирована, событие не критично
		g.logger.Warn("Failed to publish mint event", zap.Error(publishErr))
	}
	return scene, nil
}

// eligible enforces the mint preconditions on a loaded scene.
func eligible(scene *models.Scene) error {
	if scene.NFTMinted {
		return models.ErrAlreadyMinted
	}
	if scene.Status != models.SceneStatusCompleted {
		return fmt.Errorf("%w: scene is %s", models.ErrSceneNotMintable, scene.Status)
	}
	if scene.BackgroundImage == "" && scene.CharacterImage == "" {
		return fmt.Errorf("%w: scene has no image", models.ErrSceneNotMintable)
	}
	return nil
}
