package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-engine/internal/engine"
	"novel-engine/internal/models"
)

const testJWTSecret = "test-secret"

type stubEngine struct {
	scene *models.Scene
	err   error
}

func (s *stubEngine) Advance(ctx context.Context, req engine.AdvanceRequest) (*models.Scene, error) {
	return s.scene, s.err
}

func (s *stubEngine) GetScene(ctx context.Context, id uuid.UUID) (*models.Scene, error) {
	return s.scene, s.err
}

type stubLedger struct {
	balance *models.StaminaBalance
	err     error
}

func (s *stubLedger) EnsureUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return &models.User{ID: userID}, nil
}

func (s *stubLedger) Balance(ctx context.Context, userID uuid.UUID) (*models.StaminaBalance, error) {
	return s.balance, s.err
}

func (s *stubLedger) Debit(ctx context.Context, userID uuid.UUID, cost int, metadata map[string]any) (int, error) {
	return 0, s.err
}

func (s *stubLedger) Credit(ctx context.Context, userID uuid.UUID, amount int, reason models.StaminaReason, metadata map[string]any) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.balance.Current + amount, nil
}

func (s *stubLedger) ChangeTier(ctx context.Context, userID uuid.UUID, tier models.SubscriptionTier) (*models.StaminaBalance, error) {
	return s.balance, s.err
}

func (s *stubLedger) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.StaminaTransaction, error) {
	return nil, s.err
}

type stubCatalog struct {
	character *models.Character
	err       error
}

func (s *stubCatalog) Get(ctx context.Context, id uuid.UUID) (*models.Character, error) {
	return s.character, s.err
}

func (s *stubCatalog) List(ctx context.Context) ([]models.Character, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.Character{*s.character}, nil
}

type stubGate struct {
	scene *models.Scene
	err   error
}

func (s *stubGate) CheckEligibility(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error) {
	return s.scene, s.err
}

func (s *stubGate) RecordMintResult(ctx context.Context, userID, sceneID uuid.UUID, txHash string) (*models.Scene, error) {
	return s.scene, s.err
}

type testDeps struct {
	engine  *stubEngine
	ledger  *stubLedger
	catalog *stubCatalog
	gate    *stubGate
}

func newTestRouter(t *testing.T) (*gin.Engine, *testDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := &testDeps{
		engine: &stubEngine{scene: &models.Scene{
			ID:          uuid.New(),
			CharacterID: uuid.New(),
			Chapter:     1,
			SceneNumber: 1,
			SceneType:   models.SceneTypeDialogue,
			Content:     "hello",
			Status:      models.SceneStatusCompleted,
		}},
		ledger:  &stubLedger{balance: &models.StaminaBalance{Current: 90, Max: 100, Tier: models.TierFree}},
		catalog: &stubCatalog{character: &models.Character{ID: uuid.New(), Name: "Mei"}},
		gate:    &stubGate{},
	}
	deps.gate.scene = deps.engine.scene

	router := gin.New()
	h := NewHandler(deps.engine, deps.ledger, deps.catalog, deps.gate, testJWTSecret, zap.NewNop())
	h.RegisterRoutes(router)
	return router, deps
}

func signToken(t *testing.T, userID uuid.UUID, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	router, _ := newTestRouter(t)
	userID := uuid.New()

	t.Run("missing token", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/stamina", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/stamina", signToken(t, userID, "wrong"), nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/stamina", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token passes through", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/stamina", signToken(t, userID, testJWTSecret), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAdvanceEndpoint(t *testing.T) {
	userID := uuid.New()

	t.Run("returns the scene without generation internals", func(t *testing.T) {
		router, deps := newTestRouter(t)
		w := doRequest(t, router, http.MethodPost, "/api/story/advance",
			signToken(t, userID, testJWTSecret),
			gin.H{"character_id": deps.engine.scene.CharacterID})
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "hello", body["content"])
		assert.NotContains(t, body, "status")
		assert.NotContains(t, body, "requires_ai")
	})

	t.Run("missing character_id is a 400", func(t *testing.T) {
		router, _ := newTestRouter(t)
		w := doRequest(t, router, http.MethodPost, "/api/story/advance",
			signToken(t, userID, testJWTSecret), gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("domain errors map to statuses", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{models.ErrInsufficientStamina, http.StatusPaymentRequired},
			{models.ErrNotFound, http.StatusNotFound},
			{models.ErrChoiceAlreadyMade, http.StatusConflict},
			{models.ErrOutOfOrderAdvance, http.StatusConflict},
			{models.ErrSceneConflict, http.StatusConflict},
			{models.ErrInvalidChoiceIndex, http.StatusBadRequest},
			{fmt.Errorf("wrapped: %w", models.ErrInvalidInput), http.StatusBadRequest},
			{errors.New("pool exhausted"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.err.Error(), func(t *testing.T) {
				router, deps := newTestRouter(t)
				deps.engine.err = tt.err
				deps.engine.scene = nil
				w := doRequest(t, router, http.MethodPost, "/api/story/advance",
					signToken(t, userID, testJWTSecret),
					gin.H{"character_id": uuid.New()})
				assert.Equal(t, tt.want, w.Code)
			})
		}
	})
}

func TestStaminaEndpoints(t *testing.T) {
	userID := uuid.New()

	t.Run("balance", func(t *testing.T) {
		router, _ := newTestRouter(t)
		w := doRequest(t, router, http.MethodGet, "/api/stamina", signToken(t, userID, testJWTSecret), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body BalanceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 90, body.Current)
		assert.Equal(t, 100, body.Max)
		assert.Equal(t, models.TierFree, body.Tier)
	})

	t.Run("purchase rejects non-positive amounts at binding", func(t *testing.T) {
		router, _ := newTestRouter(t)
		w := doRequest(t, router, http.MethodPost, "/api/stamina/purchase",
			signToken(t, userID, testJWTSecret), gin.H{"amount": -5})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("purchase credits the balance", func(t *testing.T) {
		router, _ := newTestRouter(t)
		w := doRequest(t, router, http.MethodPost, "/api/stamina/purchase",
			signToken(t, userID, testJWTSecret), gin.H{"amount": 10})
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, float64(100), body["current"])
	})
}

func TestMintableEndpoint(t *testing.T) {
	userID := uuid.New()

	t.Run("not mintable is a 200 with a reason", func(t *testing.T) {
		router, deps := newTestRouter(t)
		deps.gate.scene = nil
		deps.gate.err = fmt.Errorf("%w: scene is GENERATING", models.ErrSceneNotMintable)

		w := doRequest(t, router, http.MethodGet, "/api/scenes/"+uuid.NewString()+"/mintable",
			signToken(t, userID, testJWTSecret), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, false, body["mintable"])
		assert.NotEmpty(t, body["reason"])
	})

	t.Run("mintable scene", func(t *testing.T) {
		router, _ := newTestRouter(t)
		w := doRequest(t, router, http.MethodGet, "/api/scenes/"+uuid.NewString()+"/mintable",
			signToken(t, userID, testJWTSecret), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, true, body["mintable"])
	})

	t.Run("bad scene id", func(t *testing.T) {
		router, _ := newTestRouter(t)
		w := doRequest(t, router, http.MethodGet, "/api/scenes/not-a-uuid/mintable",
			signToken(t, userID, testJWTSecret), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
