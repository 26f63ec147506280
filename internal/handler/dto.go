package handler

import (
	"github.com/google/uuid"

	"novel-engine/internal/models"
)

// APIError is the uniform error body.
type APIError struct {
	Message string `json:"message"`
}

// AdvanceRequest is the body of POST /api/story/advance.
type AdvanceRequest struct {
	CharacterID    uuid.UUID  `json:"character_id" binding:"required"`
	CurrentSceneID *uuid.UUID `json:"current_scene_id,omitempty"`
	ChoiceIndex    *int       `json:"choice_index,omitempty"`
}

// SceneResponse is the scene shape returned to clients. Generation internals
// (status, requires_ai) stay server-side.
type SceneResponse struct {
	ID              uuid.UUID            `json:"id"`
	CharacterID     uuid.UUID            `json:"character_id"`
	Chapter         int                  `json:"chapter"`
	SceneNumber     int                  `json:"scene_number"`
	SceneType       models.SceneType     `json:"scene_type"`
	Content         string               `json:"content"`
	Choices         []models.SceneChoice `json:"choices"`
	BackgroundImage string               `json:"background_image,omitempty"`
	CharacterImage  string               `json:"character_image,omitempty"`
	NFTMinted       bool                 `json:"nft_minted"`
}

func toSceneResponse(s *models.Scene) SceneResponse {
	return SceneResponse{
		ID:              s.ID,
		CharacterID:     s.CharacterID,
		Chapter:         s.Chapter,
		SceneNumber:     s.SceneNumber,
		SceneType:       s.SceneType,
		Content:         s.Content,
		Choices:         s.Choices,
		BackgroundImage: s.BackgroundImage,
		CharacterImage:  s.CharacterImage,
		NFTMinted:       s.NFTMinted,
	}
}

// BalanceResponse is the body of GET /api/stamina.
type BalanceResponse struct {
	Current int                     `json:"current"`
	Max     int                     `json:"max"`
	Tier    models.SubscriptionTier `json:"tier"`
}

// PurchaseRequest is the body of POST /api/stamina/purchase.
type PurchaseRequest struct {
	Amount int `json:"amount" binding:"required,gt=0"`
}

// UpgradeRequest is the body of POST /api/subscription/upgrade.
type UpgradeRequest struct {
	Tier models.SubscriptionTier `json:"tier" binding:"required"`
}

// MintRequest is the body of POST /api/scenes/:id/mint.
type MintRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// CharacterResponse hides nothing today but keeps the wire shape decoupled
// from the storage model.
type CharacterResponse struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Personality string            `json:"personality"`
	Background  string            `json:"background"`
	Traits      []string          `json:"traits"`
	Emotions    map[string]string `json:"emotions,omitempty"`
	Expressions map[string]string `json:"expressions,omitempty"`
}

func toCharacterResponse(c *models.Character) CharacterResponse {
	return CharacterResponse{
		ID:          c.ID,
		Name:        c.Name,
		Personality: c.Personality,
		Background:  c.Background,
		Traits:      c.Traits,
		Emotions:    c.Emotions,
		Expressions: c.Expressions,
	}
}
