package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier определяет уровень подписки пользователя.
// Совпадает с типом ENUM 'subscription_tier' в БД.
type SubscriptionTier string

const (
	TierFree      SubscriptionTier = "FREE"
	TierPremium   SubscriptionTier = "PREMIUM"
	TierUnlimited SubscriptionTier = "UNLIMITED"
)

// Valid reports whether the tier is one of the known enum values.
func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierUnlimited:
		return true
	}
	return false
}

// User represents a player in the narrative engine.
// Stamina fields are a cached projection of the stamina_transactions ledger;
// the ledger is the source of truth.
type User struct {
	ID                  uuid.UUID        `json:"id" db:"id"`
	SubscriptionTier    SubscriptionTier `json:"subscription_tier" db:"subscription_tier"`
	Stamina             int              `json:"stamina" db:"stamina"`
	LastStaminaUpdate   time.Time        `json:"last_stamina_update" db:"last_stamina_update"`
	LastStaminaReset    time.Time        `json:"last_stamina_reset" db:"last_stamina_reset"`
	SelectedCharacterID *uuid.UUID       `json:"selected_character_id,omitempty" db:"selected_character_id"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at" db:"updated_at"`
}

// StaminaBalance is the result of a balance computation for a user.
type StaminaBalance struct {
	Current int              `json:"current"`
	Max     int              `json:"max"`
	Tier    SubscriptionTier `json:"tier"`
}
