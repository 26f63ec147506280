package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxSceneNumber — последний номер сцены в главе. Следующий выбор
// переводит игрока в (chapter+1, 1).
const MaxSceneNumber = 10

// SceneStatus определяет статус генерации сцены.
// Совпадает с типом ENUM 'scene_status' в БД.
type SceneStatus string

const (
	SceneStatusGenerating SceneStatus = "GENERATING"
	SceneStatusCompleted  SceneStatus = "COMPLETED"
	SceneStatusFailed     SceneStatus = "FAILED"
)

// SceneType классифицирует содержимое сцены; от типа зависит
// деградационная реплика при недоступности провайдера.
type SceneType string

const (
	SceneTypeDialogue SceneType = "dialogue"
	SceneTypeEvent    SceneType = "event"
	SceneTypeChoice   SceneType = "choice"
)

// SceneKey is the natural key of a scene: (characterID, chapter, sceneNumber).
// Scene creation is a compare-and-create against the unique constraint on
// this triple.
type SceneKey struct {
	CharacterID uuid.UUID `json:"character_id"`
	Chapter     int       `json:"chapter"`
	SceneNumber int       `json:"scene_number"`
}

// SceneChoice is a single selectable option within a scene. An explicit
// NextChapter/NextSceneNumber pair overrides the linear progression default.
type SceneChoice struct {
	Text            string         `json:"text"`
	NextChapter     *int           `json:"next_chapter,omitempty"`
	NextSceneNumber *int           `json:"next_scene_number,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"` // validated bag for unmodeled keys
}

// Scene represents one unit of narrative content. Immutable once
// Status == COMPLETED, except for the NFTMinted flag owned by the mint gate.
type Scene struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	CharacterID     uuid.UUID     `json:"character_id" db:"character_id"`
	Chapter         int           `json:"chapter" db:"chapter"`
	SceneNumber     int           `json:"scene_number" db:"scene_number"`
	SceneType       SceneType     `json:"scene_type" db:"scene_type"`
	Content         string        `json:"content" db:"content"`
	Choices         []SceneChoice `json:"choices" db:"choices"`
	BackgroundImage string        `json:"background_image" db:"background_image"`
	CharacterImage  string        `json:"character_image" db:"character_image"`
	RequiresAI      bool          `json:"requires_ai" db:"requires_ai"`
	Status          SceneStatus   `json:"status" db:"status"`
	NFTMinted       bool          `json:"nft_minted" db:"nft_minted"`
	MintTxHash      *string       `json:"mint_tx_hash,omitempty" db:"mint_tx_hash"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}

// Key returns the natural key of the scene.
func (s *Scene) Key() SceneKey {
	return SceneKey{CharacterID: s.CharacterID, Chapter: s.Chapter, SceneNumber: s.SceneNumber}
}
