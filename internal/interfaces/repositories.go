package interfaces

import (
	"context"
	"time"

	"novel-engine/internal/models"

	"github.com/google/uuid"
)

// UserRepository defines persistence for users and their cached stamina
// projection.
//
//go:generate mockery --name UserRepository --output ./mocks --outpkg mocks --case=underscore
type UserRepository interface {
	// Create inserts a new user row.
	Create(ctx context.Context, querier DBTX, user *models.User) error

	// GetByID retrieves a user. Returns models.ErrNotFound if missing.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*models.User, error)

	// GetByIDForUpdate retrieves a user with a row lock (SELECT ... FOR UPDATE).
	// Must be called inside a transaction; concurrent debits serialize on
	// this lock.
	GetByIDForUpdate(ctx context.Context, querier DBTX, id uuid.UUID) (*models.User, error)

	// UpdateStamina writes the cached balance projection and its timestamps.
	UpdateStamina(ctx context.Context, querier DBTX, id uuid.UUID, stamina int, lastUpdate, lastReset time.Time) error

	// UpdateTier changes the subscription tier.
	UpdateTier(ctx context.Context, querier DBTX, id uuid.UUID, tier models.SubscriptionTier) error
}

// CharacterRepository reads the character catalog.
//
//go:generate mockery --name CharacterRepository --output ./mocks --outpkg mocks --case=underscore
type CharacterRepository interface {
	// GetByID retrieves one character. Returns models.ErrNotFound if missing.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*models.Character, error)

	// List returns the full catalog ordered by name.
	List(ctx context.Context, querier DBTX) ([]models.Character, error)
}

// SceneRepository persists generated scenes.
//
//go:generate mockery --name SceneRepository --output ./mocks --outpkg mocks --case=underscore
type SceneRepository interface {
	// Create inserts a scene. Returns models.ErrSceneConflict when a row
	// already exists for the (character_id, chapter, scene_number) key.
	Create(ctx context.Context, querier DBTX, scene *models.Scene) error

	// GetByKey retrieves a scene by its natural key. Returns
	// models.ErrNotFound if missing.
	GetByKey(ctx context.Context, querier DBTX, key models.SceneKey) (*models.Scene, error)

	// GetByID retrieves a scene by ID. Returns models.ErrNotFound if missing.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*models.Scene, error)

	// SetMinted flips nft_minted to true and records the external transaction
	// hash. Returns models.ErrAlreadyMinted when the flag is already set.
	// The only scene mutation allowed after COMPLETED.
	SetMinted(ctx context.Context, querier DBTX, id uuid.UUID, txHash string) error
}

// UserChoiceRepository persists committed choices.
//
//go:generate mockery --name UserChoiceRepository --output ./mocks --outpkg mocks --case=underscore
type UserChoiceRepository interface {
	// Create inserts a choice. Returns models.ErrChoiceAlreadyMade when a
	// choice already exists for the (user_id, scene_id) key.
	Create(ctx context.Context, querier DBTX, choice *models.UserChoice) error

	// GetByUserAndScene retrieves the committed choice for a scene. Returns
	// models.ErrNotFound if the user has not decided yet.
	GetByUserAndScene(ctx context.Context, querier DBTX, userID, sceneID uuid.UUID) (*models.UserChoice, error)

	// LatestDecidedScene returns the scene with the highest
	// (chapter, scene_number) the user has committed a choice on for the
	// given character. Returns models.ErrNotFound when the user has not
	// chosen anywhere yet.
	LatestDecidedScene(ctx context.Context, querier DBTX, userID, characterID uuid.UUID) (*models.Scene, error)

	// ListTextsForCharacter returns the texts of the user's committed choices
	// for a character in progression order, for prompt context.
	ListTextsForCharacter(ctx context.Context, querier DBTX, userID, characterID uuid.UUID, limit int) ([]string, error)
}

// StaminaTransactionRepository is the append-only stamina ledger. There are
// deliberately no update or delete operations.
//
//go:generate mockery --name StaminaTransactionRepository --output ./mocks --outpkg mocks --case=underscore
type StaminaTransactionRepository interface {
	// Append inserts one ledger entry.
	Append(ctx context.Context, querier DBTX, tx *models.StaminaTransaction) error

	// SumByUser returns the unclamped sum of all entry amounts for a user.
	SumByUser(ctx context.Context, querier DBTX, userID uuid.UUID) (int, error)

	// ListByUser returns the most recent entries, newest first.
	ListByUser(ctx context.Context, querier DBTX, userID uuid.UUID, limit int) ([]models.StaminaTransaction, error)
}
