// Package stamina implements the resource ledger gating content generation.
// The ledger is append-only: a user's balance is the sum of their
// transactions, clamped to the tier cap, with a cached projection on the user
// row for cheap reads. All mutations serialize on a row lock so concurrent
// debits cannot both succeed past zero.
package stamina

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
)

// retryBackoff - пауза перед единственным повтором при сбое записи.
const retryBackoff = 100 * time.Millisecond

// Limits carries the tier caps and regen policy from configuration.
type Limits struct {
	RegenPerHour int
	InitialGrant int
	FreeMax      int
	PremiumMax   int
	UnlimitedMax int
}

// TierMax returns the balance cap for a tier.
func (l Limits) TierMax(tier models.SubscriptionTier) int {
	switch tier {
	case models.TierPremium:
		return l.PremiumMax
	case models.TierUnlimited:
		return l.UnlimitedMax
	default:
		return l.FreeMax
	}
}

// Ledger is the stamina call surface used by the engine and handlers.
type Ledger interface {
	// EnsureUser returns the user, creating the row with the initial stamina
	// grant on first sight.
	EnsureUser(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// Balance lazily applies regeneration and returns the current balance.
	Balance(ctx context.Context, userID uuid.UUID) (*models.StaminaBalance, error)

	// Debit atomically charges cost against the balance. Returns
	// models.ErrInsufficientStamina without any write when the balance cannot
	// cover it. UNLIMITED tier bypasses the check but still logs usage.
	Debit(ctx context.Context, userID uuid.UUID, cost int, metadata map[string]any) (int, error)

	// Credit appends a positive transaction and raises the balance, clamped
	// to the tier cap.
	Credit(ctx context.Context, userID uuid.UUID, amount int, reason models.StaminaReason, metadata map[string]any) (int, error)

	// ChangeTier switches the subscription tier and moves the balance to the
	// new cap: upgrades top up, downgrades clamp down. Either adjustment is
	// journaled so the balance stays within [0, tierMax] at all times.
	ChangeTier(ctx context.Context, userID uuid.UUID, tier models.SubscriptionTier) (*models.StaminaBalance, error)

	// History returns the most recent ledger entries, newest first.
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.StaminaTransaction, error)
}

type ledger struct {
	querier   interfaces.DBTX // внетранзакционные чтения
	txManager interfaces.TxManager
	users     interfaces.UserRepository
	txRepo    interfaces.StaminaTransactionRepository
	limits    Limits
	logger    *zap.Logger
	now       func() time.Time
}

var _ Ledger = (*ledger)(nil)

// NewLedger создает леджер выносливости.
func NewLedger(
	querier interfaces.DBTX,
	txManager interfaces.TxManager,
	users interfaces.UserRepository,
	txRepo interfaces.StaminaTransactionRepository,
	limits Limits,
	logger *zap.Logger,
) Ledger {
	return &ledger{
		querier:   querier,
		txManager: txManager,
		users:     users,
		txRepo:    txRepo,
		limits:    limits,
		logger:    logger.Named("StaminaLedger"),
		now:       time.Now,
	}
}

func (l *ledger) EnsureUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := l.users.GetByID(ctx, l.querier, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	now := l.now().UTC()
	created := &models.User{
		ID:                userID,
		SubscriptionTier:  models.TierFree,
		Stamina:           l.limits.InitialGrant,
		LastStaminaUpdate: now,
		LastStaminaReset:  now,
	}
	err = l.withRetry(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		if err := l.users.Create(ctx, tx, created); err != nil {
			return err
		}
		return l.txRepo.Append(ctx, tx, &models.StaminaTransaction{
			ID:     uuid.New(),
			UserID: userID,
			Amount: l.limits.InitialGrant,
			Reason: models.StaminaReasonInitial,
		})
	})
	if err != nil {
		// Возможна гонка двух первых запросов одного пользователя
		if existing, getErr := l.users.GetByID(ctx, l.querier, userID); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to bootstrap user %s: %w", userID, err)
	}
	l.logger.Info("User bootstrapped with initial stamina grant",
		zap.String("user_id", userID.String()),
		zap.Int("amount", l.limits.InitialGrant))
	return created, nil
}

func (l *ledger) Balance(ctx context.Context, userID uuid.UUID) (*models.StaminaBalance, error) {
	var balance *models.StaminaBalance
	err := l.withRetry(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		user, err := l.users.GetByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := l.applyRegen(ctx, tx, user); err != nil {
			return err
		}
		balance = &models.StaminaBalance{
			Current: user.Stamina,
			Max:     l.limits.TierMax(user.SubscriptionTier),
			Tier:    user.SubscriptionTier,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (l *ledger) Debit(ctx context.Context, userID uuid.UUID, cost int, metadata map[string]any) (int, error) {
	if cost <= 0 {
		return 0, fmt.Errorf("%w: debit cost must be positive, got %d", models.ErrInvalidInput, cost)
	}

	var newBalance int
	err := l.withRetry(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		user, err := l.users.GetByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := l.applyRegen(ctx, tx, user); err != nil {
			return err
		}

		// UNLIMITED платит из практически бесконечного пула, но запись
		// USAGE все равно ведется для аудита
		if user.SubscriptionTier != models.TierUnlimited && user.Stamina < cost {
			return models.ErrInsufficientStamina
		}

		user.Stamina -= cost
		if user.Stamina < 0 {
			user.Stamina = 0
		}
		user.LastStaminaUpdate = l.now().UTC()

		if err := l.users.UpdateStamina(ctx, tx, user.ID, user.Stamina, user.LastStaminaUpdate, user.LastStaminaReset); err != nil {
			return err
		}
		if err := l.txRepo.Append(ctx, tx, &models.StaminaTransaction{
			ID:       uuid.New(),
			UserID:   userID,
			Amount:   -cost,
			Reason:   models.StaminaReasonUsage,
			Metadata: metadata,
		}); err != nil {
			return err
		}
		newBalance = user.Stamina
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (l *ledger) Credit(ctx context.Context, userID uuid.UUID, amount int, reason models.StaminaReason, metadata map[string]any) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: credit amount must be positive, got %d", models.ErrInvalidInput, amount)
	}

	var newBalance int
	err := l.withRetry(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		user, err := l.users.GetByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		max := l.limits.TierMax(user.SubscriptionTier)
		user.Stamina += amount
		if user.Stamina > max {
			user.Stamina = max
		}
		user.LastStaminaUpdate = l.now().UTC()

		if err := l.users.UpdateStamina(ctx, tx, user.ID, user.Stamina, user.LastStaminaUpdate, user.LastStaminaReset); err != nil {
			return err
		}
		// В журнал пишется полный запрошенный amount, клампится только баланс
		if err := l.txRepo.Append(ctx, tx, &models.StaminaTransaction{
			ID:       uuid.New(),
			UserID:   userID,
			Amount:   amount,
			Reason:   reason,
			Metadata: metadata,
		}); err != nil {
			return err
		}
		newBalance = user.Stamina
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (l *ledger) ChangeTier(ctx context.Context, userID uuid.UUID, tier models.SubscriptionTier) (*models.StaminaBalance, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", models.ErrInvalidInput, tier)
	}

	var balance *models.StaminaBalance
	err := l.withRetry(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		user, err := l.users.GetByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := l.users.UpdateTier(ctx, tx, user.ID, tier); err != nil {
			return err
		}
		user.SubscriptionTier = tier

		// Переход на новый тариф сразу приводит баланс к его потолку:
		// апгрейд доливает, даунгрейд срезает излишек. Отрицательная запись
		// в журнале держит сумму проводок согласованной с балансом.
		newMax := l.limits.TierMax(tier)
		adjustment := newMax - user.Stamina
		if adjustment != 0 {
			user.Stamina = newMax
			user.LastStaminaUpdate = l.now().UTC()
			if err := l.users.UpdateStamina(ctx, tx, user.ID, user.Stamina, user.LastStaminaUpdate, user.LastStaminaReset); err != nil {
				return err
			}
			if err := l.txRepo.Append(ctx, tx, &models.StaminaTransaction{
				ID:     uuid.New(),
				UserID: userID,
				Amount: adjustment,
				Reason: models.StaminaReasonSubscriptionUpgrade,
				Metadata: map[string]any{
					"tier": string(tier),
				},
			}); err != nil {
				return err
			}
		}
		balance = &models.StaminaBalance{Current: user.Stamina, Max: newMax, Tier: tier}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("Subscription tier changed",
		zap.String("user_id", userID.String()),
		zap.String("tier", string(tier)))
	return balance, nil
}

func (l *ledger) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.StaminaTransaction, error) {
	return l.txRepo.ListByUser(ctx, l.querier, userID, limit)
}

// applyRegen lazily applies at most one regeneration rule to the locked user
// row. Crossing a UTC day boundary since the last reset hard-resets the
// balance to the tier cap; otherwise whole elapsed hours accrue at the
// configured rate. Exactly one rule fires per call, so repeated calls within
// the same window never double-credit.
func (l *ledger) applyRegen(ctx context.Context, tx interfaces.DBTX, user *models.User) error {
	now := l.now().UTC()
	max := l.limits.TierMax(user.SubscriptionTier)

	if crossedDayBoundary(user.LastStaminaReset, now) {
		delta := max - user.Stamina
		user.Stamina = max
		user.LastStaminaReset = now
		user.LastStaminaUpdate = now
		if err := l.users.UpdateStamina(ctx, tx, user.ID, user.Stamina, user.LastStaminaUpdate, user.LastStaminaReset); err != nil {
			return err
		}
		if delta > 0 {
			return l.txRepo.Append(ctx, tx, &models.StaminaTransaction{
				ID:       uuid.New(),
				UserID:   user.ID,
				Amount:   delta,
				Reason:   models.StaminaReasonRegen,
				Metadata: map[string]any{"rule": "daily_reset"},
			})
		}
		return nil
	}

	hours := int(now.Sub(user.LastStaminaUpdate).Hours())
	if hours < 1 || user.Stamina >= max {
		return nil
	}

	delta := hours * l.limits.RegenPerHour
	if user.Stamina+delta > max {
		delta = max - user.Stamina
	}
	user.Stamina += delta
	// Сдвигаем отметку на целые часы, остаток копится дальше
	user.LastStaminaUpdate = user.LastStaminaUpdate.Add(time.Duration(hours) * time.Hour)

	if err := l.users.UpdateStamina(ctx, tx, user.ID, user.Stamina, user.LastStaminaUpdate, user.LastStaminaReset); err != nil {
		return err
	}
	return l.txRepo.Append(ctx, tx, &models.StaminaTransaction{
		ID:       uuid.New(),
		UserID:   user.ID,
		Amount:   delta,
		Reason:   models.StaminaReasonRegen,
		Metadata: map[string]any{"rule": "hourly"},
	})
}

// crossedDayBoundary reports whether now falls on a later UTC calendar day
// than last.
func crossedDayBoundary(last, now time.Time) bool {
	ly, lm, ld := last.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	if ny != ly {
		return ny > ly
	}
	if nm != lm {
		return nm > lm
	}
	return nd > ld
}

// withRetry runs fn in a transaction, retrying once with backoff on
// infrastructure failures. Domain errors surface immediately: skipping a
// failed ledger write would let generation proceed unpaid.
func (l *ledger) withRetry(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) error {
	err := l.txManager.WithTransaction(ctx, fn)
	if err == nil || isDomainError(err) {
		return err
	}

	l.logger.Warn("Ledger write failed, retrying once", zap.Error(err))
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}

	if retryErr := l.txManager.WithTransaction(ctx, fn); retryErr != nil {
		return fmt.Errorf("ledger write failed after retry: %w", retryErr)
	}
	return nil
}

func isDomainError(err error) bool {
	return errors.Is(err, models.ErrInsufficientStamina) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidInput)
}
