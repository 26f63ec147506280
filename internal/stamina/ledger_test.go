package stamina

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-engine/internal/interfaces/mocks"
	"novel-engine/internal/models"
)

var testLimits = Limits{
	RegenPerHour: 10,
	InitialGrant: 100,
	FreeMax:      100,
	PremiumMax:   300,
	UnlimitedMax: 1000000,
}

type ledgerFixture struct {
	users  *mocks.UserRepository
	txRepo *mocks.StaminaTransactionRepository
	ledger *ledger
	now    time.Time
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		users:  new(mocks.UserRepository),
		txRepo: new(mocks.StaminaTransactionRepository),
		now:    time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC),
	}
	l := NewLedger(nil, new(mocks.TxManager), f.users, f.txRepo, testLimits, zap.NewNop()).(*ledger)
	l.now = func() time.Time { return f.now }
	f.ledger = l
	return f
}

// freshUser возвращает пользователя без накопленного реджена на момент f.now.
func (f *ledgerFixture) freshUser(tier models.SubscriptionTier, staminaValue int) *models.User {
	return &models.User{
		ID:                uuid.New(),
		SubscriptionTier:  tier,
		Stamina:           staminaValue,
		LastStaminaUpdate: f.now,
		LastStaminaReset:  f.now,
	}
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("charges and appends usage transaction", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 100)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 90, mock.Anything, mock.Anything).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == -10 && tx.Reason == models.StaminaReasonUsage
		})).Return(nil)

		newBalance, err := f.ledger.Debit(ctx, user.ID, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, 90, newBalance)
		f.users.AssertExpectations(t)
		f.txRepo.AssertExpectations(t)
	})

	t.Run("insufficient stamina leaves balance untouched", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 5)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)

		_, err := f.ledger.Debit(ctx, user.ID, 10, nil)
		assert.ErrorIs(t, err, models.ErrInsufficientStamina)
		assert.Equal(t, 5, user.Stamina)
		f.users.AssertNotCalled(t, "UpdateStamina", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.txRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unlimited tier bypasses the check but logs usage", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierUnlimited, 3)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 0, mock.Anything, mock.Anything).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == -10 && tx.Reason == models.StaminaReasonUsage
		})).Return(nil)

		newBalance, err := f.ledger.Debit(ctx, user.ID, 10, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, newBalance, 0, "balance never goes negative")
		f.txRepo.AssertExpectations(t)
	})

	t.Run("rejects non-positive cost", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.ledger.Debit(ctx, uuid.New(), 0, nil)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("retries once on infrastructure failure", func(t *testing.T) {
		f := newLedgerFixture(t)
		infra := errors.New("connection reset")

		// Каждая попытка перечитывает строку, поэтому отдаем свежего пользователя
		first := f.freshUser(models.TierFree, 100)
		second := f.freshUser(models.TierFree, 100)
		second.ID = first.ID

		f.users.On("GetByIDForUpdate", ctx, nil, first.ID).Return(first, nil).Once()
		f.users.On("GetByIDForUpdate", ctx, nil, first.ID).Return(second, nil).Once()
		f.users.On("UpdateStamina", ctx, nil, first.ID, 90, mock.Anything, mock.Anything).
			Return(infra).Once()
		f.users.On("UpdateStamina", ctx, nil, first.ID, 90, mock.Anything, mock.Anything).
			Return(nil).Once()
		f.txRepo.On("Append", ctx, nil, mock.Anything).Return(nil).Once()

		newBalance, err := f.ledger.Debit(ctx, first.ID, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, 90, newBalance)
		f.users.AssertExpectations(t)
	})
}

func TestCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("appends full amount and clamps balance to tier max", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 95)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 100, mock.Anything, mock.Anything).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == 10 && tx.Reason == models.StaminaReasonPurchase
		})).Return(nil)

		newBalance, err := f.ledger.Credit(ctx, user.ID, 10, models.StaminaReasonPurchase, nil)
		require.NoError(t, err)
		assert.Equal(t, 100, newBalance, "balance is clamped, transaction is not")
		f.txRepo.AssertExpectations(t)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.ledger.Credit(ctx, uuid.New(), -5, models.StaminaReasonPurchase, nil)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestRegen(t *testing.T) {
	ctx := context.Background()

	t.Run("accrues whole hours since last update", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 40)
		user.LastStaminaUpdate = f.now.Add(-150 * time.Minute) // 2.5 часа назад

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 60, mock.Anything, mock.Anything).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == 20 && tx.Reason == models.StaminaReasonRegen && tx.Metadata["rule"] == "hourly"
		})).Return(nil)

		balance, err := f.ledger.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 60, balance.Current)
		// Остаток получаса сохраняется для следующего начисления
		assert.Equal(t, f.now.Add(-30*time.Minute), user.LastStaminaUpdate)
		f.txRepo.AssertExpectations(t)
	})

	t.Run("accrual clamps at tier max", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 95)
		user.LastStaminaUpdate = f.now.Add(-3 * time.Hour)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 100, mock.Anything, mock.Anything).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == 5 && tx.Reason == models.StaminaReasonRegen
		})).Return(nil)

		balance, err := f.ledger.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, balance.Current)
	})

	t.Run("day boundary hard-resets to tier max and wins over accrual", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 15)
		user.LastStaminaReset = f.now.Add(-26 * time.Hour)
		user.LastStaminaUpdate = f.now.Add(-26 * time.Hour)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 100, mock.Anything, mock.Anything).Return(nil)
		// Ровно одна запись REGEN, и это daily_reset, не 26 часов начисления
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == 85 && tx.Metadata["rule"] == "daily_reset"
		})).Return(nil).Once()

		balance, err := f.ledger.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, balance.Current)
		f.txRepo.AssertExpectations(t)
	})

	t.Run("no double-crediting within the same window", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 40)
		user.LastStaminaUpdate = f.now.Add(-1 * time.Hour)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 50, mock.Anything, mock.Anything).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.Anything).Return(nil).Once()

		_, err := f.ledger.Balance(ctx, user.ID)
		require.NoError(t, err)

		// Второй вызов в ту же секунду: правила уже не срабатывают
		balance, err := f.ledger.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 50, balance.Current)
		f.txRepo.AssertNumberOfCalls(t, "Append", 1)
	})
}

func TestChangeTier(t *testing.T) {
	ctx := context.Background()

	t.Run("upgrade tops up to the new cap", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 40)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateTier", ctx, nil, user.ID, models.TierPremium).Return(nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 300, mock.Anything, mock.Anything).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == 260 && tx.Reason == models.StaminaReasonSubscriptionUpgrade
		})).Return(nil)

		balance, err := f.ledger.ChangeTier(ctx, user.ID, models.TierPremium)
		require.NoError(t, err)
		assert.Equal(t, 300, balance.Current)
		assert.Equal(t, 300, balance.Max)
		assert.Equal(t, models.TierPremium, balance.Tier)
		f.txRepo.AssertExpectations(t)
	})

	t.Run("downgrade clamps the balance to the new cap", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierPremium, 300)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateTier", ctx, nil, user.ID, models.TierFree).Return(nil)
		f.users.On("UpdateStamina", ctx, nil, user.ID, 100, mock.Anything, mock.Anything).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == -200 && tx.Reason == models.StaminaReasonSubscriptionUpgrade
		})).Return(nil)

		balance, err := f.ledger.ChangeTier(ctx, user.ID, models.TierFree)
		require.NoError(t, err)
		assert.Equal(t, 100, balance.Current)
		assert.Equal(t, 100, balance.Max)
		assert.LessOrEqual(t, balance.Current, balance.Max)
		f.txRepo.AssertExpectations(t)
	})

	t.Run("no adjustment when balance already at the new cap", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 100)

		f.users.On("GetByIDForUpdate", ctx, nil, user.ID).Return(user, nil)
		f.users.On("UpdateTier", ctx, nil, user.ID, models.TierFree).Return(nil)

		balance, err := f.ledger.ChangeTier(ctx, user.ID, models.TierFree)
		require.NoError(t, err)
		assert.Equal(t, 100, balance.Current)
		f.txRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects unknown tier", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.ledger.ChangeTier(ctx, uuid.New(), models.SubscriptionTier("GOLD"))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestEnsureUser(t *testing.T) {
	ctx := context.Background()

	t.Run("returns existing user without writes", func(t *testing.T) {
		f := newLedgerFixture(t)
		user := f.freshUser(models.TierFree, 80)

		f.users.On("GetByID", ctx, nil, user.ID).Return(user, nil)

		got, err := f.ledger.EnsureUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Same(t, user, got)
		f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("bootstraps new user with initial grant", func(t *testing.T) {
		f := newLedgerFixture(t)
		userID := uuid.New()

		f.users.On("GetByID", ctx, nil, userID).Return(nil, models.ErrNotFound)
		f.users.On("Create", ctx, nil, mock.MatchedBy(func(u *models.User) bool {
			return u.ID == userID && u.Stamina == testLimits.InitialGrant && u.SubscriptionTier == models.TierFree
		})).Return(nil)
		f.txRepo.On("Append", ctx, nil, mock.MatchedBy(func(tx *models.StaminaTransaction) bool {
			return tx.Amount == testLimits.InitialGrant && tx.Reason == models.StaminaReasonInitial
		})).Return(nil)

		got, err := f.ledger.EnsureUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, testLimits.InitialGrant, got.Stamina)
		f.users.AssertExpectations(t)
		f.txRepo.AssertExpectations(t)
	})
}
