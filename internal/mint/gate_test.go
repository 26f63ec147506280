package mint

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-engine/internal/interfaces/mocks"
	"novel-engine/internal/messaging"
	"novel-engine/internal/models"
)

type recordingPublisher struct {
	mintEvents []messaging.MintEventPayload
	publishErr error
}

func (p *recordingPublisher) PublishMintEvent(ctx context.Context, payload messaging.MintEventPayload) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.mintEvents = append(p.mintEvents, payload)
	return nil
}

func (p *recordingPublisher) PublishPregenTask(ctx context.Context, payload messaging.PregenTaskPayload) error {
	return nil
}

func mintableScene() *models.Scene {
	return &models.Scene{
		ID:              uuid.New(),
		CharacterID:     uuid.New(),
		Chapter:         1,
		SceneNumber:     3,
		Status:          models.SceneStatusCompleted,
		BackgroundImage: "https://cdn.example.com/scene.png",
		CharacterImage:  "https://cdn.example.com/mei.png",
	}
}

func TestCheckEligibility(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(s *models.Scene)
		wantErr error
	}{
		{
			name:   "completed scene with images is mintable",
			mutate: func(s *models.Scene) {},
		},
		{
			name:    "already minted",
			mutate:  func(s *models.Scene) { s.NFTMinted = true },
			wantErr: models.ErrAlreadyMinted,
		},
		{
			name:    "still generating",
			mutate:  func(s *models.Scene) { s.Status = models.SceneStatusGenerating },
			wantErr: models.ErrSceneNotMintable,
		},
		{
			name:    "failed generation",
			mutate:  func(s *models.Scene) { s.Status = models.SceneStatusFailed },
			wantErr: models.ErrSceneNotMintable,
		},
		{
			name: "no images at all",
			mutate: func(s *models.Scene) {
				s.BackgroundImage = ""
				s.CharacterImage = ""
			},
			wantErr: models.ErrSceneNotMintable,
		},
		{
			name: "character image alone is enough",
			mutate: func(s *models.Scene) {
				s.BackgroundImage = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenes := new(mocks.SceneRepository)
			g := NewGate(nil, new(mocks.TxManager), scenes, &recordingPublisher{}, zap.NewNop())

			scene := mintableScene()
			tt.mutate(scene)
			scenes.On("GetByID", ctx, nil, scene.ID).Return(scene, nil)

			got, err := g.CheckEligibility(ctx, scene.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Same(t, scene, got)
		})
	}
}

func TestRecordMintResult(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("records the hash and publishes a mint event", func(t *testing.T) {
		scenes := new(mocks.SceneRepository)
		publisher := &recordingPublisher{}
		g := NewGate(nil, new(mocks.TxManager), scenes, publisher, zap.NewNop())

		scene := mintableScene()
		scenes.On("GetByID", ctx, nil, scene.ID).Return(scene, nil)
		scenes.On("SetMinted", ctx, nil, scene.ID, "0xabc123").Return(nil)

		got, err := g.RecordMintResult(ctx, userID, scene.ID, "0xabc123")
		require.NoError(t, err)
		assert.True(t, got.NFTMinted)
		require.NotNil(t, got.MintTxHash)
		assert.Equal(t, "0xabc123", *got.MintTxHash)

		require.Len(t, publisher.mintEvents, 1)
		assert.Equal(t, scene.ID, publisher.mintEvents[0].SceneID)
		assert.Equal(t, userID, publisher.mintEvents[0].UserID)
		assert.Equal(t, "0xabc123", publisher.mintEvents[0].TxHash)
		scenes.AssertExpectations(t)
	})

	t.Run("second mint attempt is rejected without a write", func(t *testing.T) {
		scenes := new(mocks.SceneRepository)
		g := NewGate(nil, new(mocks.TxManager), scenes, &recordingPublisher{}, zap.NewNop())

		scene := mintableScene()
		scene.NFTMinted = true
		scenes.On("GetByID", ctx, nil, scene.ID).Return(scene, nil)

		_, err := g.RecordMintResult(ctx, userID, scene.ID, "0xabc123")
		assert.ErrorIs(t, err, models.ErrAlreadyMinted)
		scenes.AssertNotCalled(t, "SetMinted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty hash is invalid input", func(t *testing.T) {
		g := NewGate(nil, new(mocks.TxManager), new(mocks.SceneRepository), &recordingPublisher{}, zap.NewNop())
		_, err := g.RecordMintResult(ctx, userID, uuid.New(), "")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("publish failure does not fail the mint", func(t *testing.T) {
		scenes := new(mocks.SceneRepository)
		publisher := &recordingPublisher{publishErr: errors.New("broker down")}
		g := NewGate(nil, new(mocks.TxManager), scenes, publisher, zap.NewNop())

		scene := mintableScene()
		scenes.On("GetByID", ctx, nil, scene.ID).Return(scene, nil)
		scenes.On("SetMinted", ctx, nil, scene.ID, "0xabc123").Return(nil)

		got, err := g.RecordMintResult(ctx, userID, scene.ID, "0xabc123")
		require.NoError(t, err)
		assert.True(t, got.NFTMinted)
	})
}
