package models

import (
	"time"

	"github.com/google/uuid"
)

// StaminaReason классифицирует записи в леджере стамины.
// Совпадает с типом ENUM 'stamina_reason' в БД.
type StaminaReason string

const (
	StaminaReasonInitial             StaminaReason = "INITIAL"
	StaminaReasonRegen               StaminaReason = "REGEN"
	StaminaReasonPurchase            StaminaReason = "PURCHASE"
	StaminaReasonUsage               StaminaReason = "USAGE"
	StaminaReasonSubscriptionUpgrade StaminaReason = "SUBSCRIPTION_UPGRADE"
)

// StaminaTransaction is an immutable, append-only ledger entry. A user's
// balance equals the clamped sum of their transactions; entries are never
// updated or deleted.
type StaminaTransaction struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	UserID    uuid.UUID      `json:"user_id" db:"user_id"`
	Amount    int            `json:"amount" db:"amount"` // signed: debits are negative
	Reason    StaminaReason  `json:"reason" db:"reason"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
