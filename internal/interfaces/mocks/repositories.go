package mocks

import (
	"context"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock UserRepository
type UserRepository struct {
	mock.Mock
}

func (m *UserRepository) Create(ctx context.Context, querier interfaces.DBTX, user *models.User) error {
	args := m.Called(ctx, querier, user)
	return args.Error(0)
}
func (m *UserRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, querier, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}
func (m *UserRepository) GetByIDForUpdate(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, querier, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}
func (m *UserRepository) UpdateStamina(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, stamina int, lastUpdate, lastReset time.Time) error {
	args := m.Called(ctx, querier, id, stamina, lastUpdate, lastReset)
	return args.Error(0)
}
func (m *UserRepository) UpdateTier(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, tier models.SubscriptionTier) error {
	args := m.Called(ctx, querier, id, tier)
	return args.Error(0)
}

// Mock CharacterRepository
type CharacterRepository struct {
	mock.Mock
}

func (m *CharacterRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Character, error) {
	args := m.Called(ctx, querier, id)
	character, _ := args.Get(0).(*models.Character)
	return character, args.Error(1)
}
func (m *CharacterRepository) List(ctx context.Context, querier interfaces.DBTX) ([]models.Character, error) {
	args := m.Called(ctx, querier)
	characters, _ := args.Get(0).([]models.Character)
	return characters, args.Error(1)
}

// Mock SceneRepository
type SceneRepository struct {
	mock.Mock
}

func (m *SceneRepository) Create(ctx context.Context, querier interfaces.DBTX, scene *models.Scene) error {
	args := m.Called(ctx, querier, scene)
	return args.Error(0)
}
func (m *SceneRepository) GetByKey(ctx context.Context, querier interfaces.DBTX, key models.SceneKey) (*models.Scene, error) {
	args := m.Called(ctx, querier, key)
	scene, _ := args.Get(0).(*models.Scene)
	return scene, args.Error(1)
}
func (m *SceneRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Scene, error) {
	args := m.Called(ctx, querier, id)
	scene, _ := args.Get(0).(*models.Scene)
	return scene, args.Error(1)
}
func (m *SceneRepository) SetMinted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, txHash string) error {
	args := m.Called(ctx, querier, id, txHash)
	return args.Error(0)
}

// Mock UserChoiceRepository
type UserChoiceRepository struct {
	mock.Mock
}

func (m *UserChoiceRepository) Create(ctx context.Context, querier interfaces.DBTX, choice *models.UserChoice) error {
	args := m.Called(ctx, querier, choice)
	return args.Error(0)
}
func (m *UserChoiceRepository) GetByUserAndScene(ctx context.Context, querier interfaces.DBTX, userID, sceneID uuid.UUID) (*models.UserChoice, error) {
	args := m.Called(ctx, querier, userID, sceneID)
	choice, _ := args.Get(0).(*models.UserChoice)
	return choice, args.Error(1)
}
func (m *UserChoiceRepository) LatestDecidedScene(ctx context.Context, querier interfaces.DBTX, userID, characterID uuid.UUID) (*models.Scene, error) {
	args := m.Called(ctx, querier, userID, characterID)
	scene, _ := args.Get(0).(*models.Scene)
	return scene, args.Error(1)
}
func (m *UserChoiceRepository) ListTextsForCharacter(ctx context.Context, querier interfaces.DBTX, userID, characterID uuid.UUID, limit int) ([]string, error) {
	args := m.Called(ctx, querier, userID, characterID, limit)
	texts, _ := args.Get(0).([]string)
	return texts, args.Error(1)
}

// Mock StaminaTransactionRepository
type StaminaTransactionRepository struct {
	mock.Mock
}

func (m *StaminaTransactionRepository) Append(ctx context.Context, querier interfaces.DBTX, tx *models.StaminaTransaction) error {
	args := m.Called(ctx, querier, tx)
	return args.Error(0)
}
func (m *StaminaTransactionRepository) SumByUser(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, querier, userID)
	return args.Int(0), args.Error(1)
}
func (m *StaminaTransactionRepository) ListByUser(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID, limit int) ([]models.StaminaTransaction, error) {
	args := m.Called(ctx, querier, userID, limit)
	txs, _ := args.Get(0).([]models.StaminaTransaction)
	return txs, args.Error(1)
}

// TxManager executes the transactional function inline, without a real
// transaction, so service tests can assert repository calls directly.
type TxManager struct {
	mock.Mock
	// BeginErr, when set, is returned instead of running the function.
	BeginErr error
}

func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) error {
	if m.BeginErr != nil {
		return m.BeginErr
	}
	return fn(ctx, nil)
}
