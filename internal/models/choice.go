package models

import (
	"time"

	"github.com/google/uuid"
)

// UserChoice records the option a user picked on a scene. At most one choice
// per (user_id, scene_id) — enforced by a unique constraint; a committed
// choice is never overwritten.
type UserChoice struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	SceneID     uuid.UUID `json:"scene_id" db:"scene_id"`
	ChoiceIndex int       `json:"choice_index" db:"choice_index"`
	ChoiceText  string    `json:"choice_text" db:"choice_text"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
