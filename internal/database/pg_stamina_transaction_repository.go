package database

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
)

const (
	insertStaminaTransactionQuery = `
        INSERT INTO stamina_transactions (id, user_id, amount, reason, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	sumStaminaByUserQuery = `SELECT COALESCE(SUM(amount), 0) FROM stamina_transactions WHERE user_id = $1`

	listStaminaByUserQuery = `
        SELECT id, user_id, amount, reason, metadata, created_at
        FROM stamina_transactions
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2`
)

// Compile-time check to ensure pgStaminaTransactionRepository implements the interface
var _ interfaces.StaminaTransactionRepository = (*pgStaminaTransactionRepository)(nil)

// pgStaminaTransactionRepository — append-only леджер. UPDATE и DELETE
// отсутствуют намеренно: записи неизменяемы.
type pgStaminaTransactionRepository struct {
	logger *zap.Logger
}

// NewPgStaminaTransactionRepository creates a new repository instance.
func NewPgStaminaTransactionRepository(logger *zap.Logger) interfaces.StaminaTransactionRepository {
	return &pgStaminaTransactionRepository{logger: logger.Named("PgStaminaTxRepo")}
}

func (r *pgStaminaTransactionRepository) Append(ctx context.Context, querier interfaces.DBTX, tx *models.StaminaTransaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Metadata == nil {
		tx.Metadata = map[string]any{}
	}

	_, err := querier.Exec(ctx, insertStaminaTransactionQuery,
		tx.ID,
		tx.UserID,
		tx.Amount,
		tx.Reason,
		tx.Metadata,
		tx.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append stamina transaction", zap.Error(err),
			zap.String("userID", tx.UserID.String()),
			zap.String("reason", string(tx.Reason)),
			zap.Int("amount", tx.Amount))
		return fmt.Errorf("failed to append stamina transaction: %w", err)
	}
	r.logger.Debug("Stamina transaction appended",
		zap.String("userID", tx.UserID.String()),
		zap.String("reason", string(tx.Reason)),
		zap.Int("amount", tx.Amount))
	return nil
}

func (r *pgStaminaTransactionRepository) SumByUser(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) (int, error) {
	var sum int
	if err := querier.QueryRow(ctx, sumStaminaByUserQuery, userID).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum stamina transactions", zap.Error(err), zap.String("userID", userID.String()))
		return 0, fmt.Errorf("failed to sum stamina transactions: %w", err)
	}
	return sum, nil
}

func (r *pgStaminaTransactionRepository) ListByUser(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID, limit int) ([]models.StaminaTransaction, error) {
	var txs []models.StaminaTransaction
	if err := pgxscan.Select(ctx, querier, &txs, listStaminaByUserQuery, userID, limit); err != nil {
		r.logger.Error("Failed to list stamina transactions", zap.Error(err), zap.String("userID", userID.String()))
		return nil, fmt.Errorf("failed to list stamina transactions: %w", err)
	}
	return txs, nil
}
