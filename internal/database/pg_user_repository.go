package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
)

const (
	userFields = `id, subscription_tier, stamina, last_stamina_update, last_stamina_reset, selected_character_id, created_at, updated_at`

	insertUserQuery = `
        INSERT INTO users (id, subscription_tier, stamina, last_stamina_update, last_stamina_reset, selected_character_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getUserByIDQuery = `SELECT ` + userFields + ` FROM users WHERE id = $1`

	// FOR UPDATE: конкурентные списания сериализуются на блокировке строки
	getUserByIDForUpdateQuery = `SELECT ` + userFields + ` FROM users WHERE id = $1 FOR UPDATE`

	updateUserStaminaQuery = `
        UPDATE users SET
            stamina = $2,
            last_stamina_update = $3,
            last_stamina_reset = $4,
            updated_at = NOW()
        WHERE id = $1`

	updateUserTierQuery = `UPDATE users SET subscription_tier = $2, updated_at = NOW() WHERE id = $1`
)

// Compile-time check to ensure pgUserRepository implements the interface
var _ interfaces.UserRepository = (*pgUserRepository)(nil)

type pgUserRepository struct {
	logger *zap.Logger
}

// NewPgUserRepository creates a new repository instance.
func NewPgUserRepository(logger *zap.Logger) interfaces.UserRepository {
	return &pgUserRepository{logger: logger.Named("PgUserRepo")}
}

func (r *pgUserRepository) Create(ctx context.Context, querier interfaces.DBTX, user *models.User) error {
	now := time.Now().UTC()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.LastStaminaUpdate.IsZero() {
		user.LastStaminaUpdate = now
	}
	if user.LastStaminaReset.IsZero() {
		user.LastStaminaReset = now
	}

	_, err := querier.Exec(ctx, insertUserQuery,
		user.ID,
		user.SubscriptionTier,
		user.Stamina,
		user.LastStaminaUpdate,
		user.LastStaminaReset,
		user.SelectedCharacterID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create user", zap.Error(err), zap.String("userID", user.ID.String()))
		return fmt.Errorf("failed to create user: %w", err)
	}
	r.logger.Info("User created", zap.String("userID", user.ID.String()), zap.String("tier", string(user.SubscriptionTier)))
	return nil
}

func (r *pgUserRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.User, error) {
	return r.scanOne(ctx, querier, getUserByIDQuery, id)
}

func (r *pgUserRepository) GetByIDForUpdate(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.User, error) {
	return r.scanOne(ctx, querier, getUserByIDForUpdateQuery, id)
}

func (r *pgUserRepository) scanOne(ctx context.Context, querier interfaces.DBTX, query string, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := querier.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.SubscriptionTier,
		&user.Stamina,
		&user.LastStaminaUpdate,
		&user.LastStaminaReset,
		&user.SelectedCharacterID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("User not found", zap.String("userID", id.String()))
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get user", zap.Error(err), zap.String("userID", id.String()))
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return user, nil
}

func (r *pgUserRepository) UpdateStamina(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, stamina int, lastUpdate, lastReset time.Time) error {
	tag, err := querier.Exec(ctx, updateUserStaminaQuery, id, stamina, lastUpdate, lastReset)
	if err != nil {
		r.logger.Error("Failed to update user stamina", zap.Error(err), zap.String("userID", id.String()))
		return fmt.Errorf("failed to update stamina for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *pgUserRepository) UpdateTier(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, tier models.SubscriptionTier) error {
	tag, err := querier.Exec(ctx, updateUserTierQuery, id, tier)
	if err != nil {
		r.logger.Error("Failed to update user tier", zap.Error(err), zap.String("userID", id.String()), zap.String("tier", string(tier)))
		return fmt.Errorf("failed to update tier for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	r.logger.Info("User tier updated", zap.String("userID", id.String()), zap.String("tier", string(tier)))
	return nil
}
