package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-engine/internal/catalog"
	"novel-engine/internal/engine"
	"novel-engine/internal/mint"
	"novel-engine/internal/models"
	"novel-engine/internal/stamina"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	engine    engine.Engine
	ledger    stamina.Ledger
	catalog   catalog.Service
	mintGate  mint.Gate
	jwtSecret string
	logger    *zap.Logger
}

// NewHandler создает HTTP-обработчик.
func NewHandler(
	eng engine.Engine,
	ledger stamina.Ledger,
	catalogSvc catalog.Service,
	mintGate mint.Gate,
	jwtSecret string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:    eng,
		ledger:    ledger,
		catalog:   catalogSvc,
		mintGate:  mintGate,
		jwtSecret: jwtSecret,
		logger:    logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes регистрирует маршруты движка.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(JWTAuthMiddleware(h.jwtSecret, h.logger))
	{
		api.POST("/story/advance", h.advance)
		api.GET("/scenes/:id", h.getScene)
		api.GET("/scenes/:id/mintable", h.checkMintable)
		api.POST("/scenes/:id/mint", h.mintScene)

		api.GET("/stamina", h.getBalance)
		api.GET("/stamina/history", h.getStaminaHistory)
		api.POST("/stamina/purchase", h.purchaseStamina)
		api.POST("/subscription/upgrade", h.upgradeSubscription)

		api.GET("/characters", h.listCharacters)
		api.GET("/characters/:id", h.getCharacter)
	}
}

func (h *Handler) advance(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, APIError{Message: "user identity missing"})
		return
	}

	var req AdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	scene, err := h.engine.Advance(c.Request.Context(), engine.AdvanceRequest{
		UserID:         userID,
		CharacterID:    req.CharacterID,
		CurrentSceneID: req.CurrentSceneID,
		ChoiceIndex:    req.ChoiceIndex,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSceneResponse(scene))
}

func (h *Handler) getScene(c *gin.Context) {
	sceneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid scene ID format"})
		return
	}
	scene, err := h.engine.GetScene(c.Request.Context(), sceneID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSceneResponse(scene))
}

func (h *Handler) checkMintable(c *gin.Context) {
	sceneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid scene ID format"})
		return
	}
	scene, err := h.mintGate.CheckEligibility(c.Request.Context(), sceneID)
	if err != nil {
		if errors.Is(err, models.ErrSceneNotMintable) || errors.Is(err, models.ErrAlreadyMinted) {
			c.JSON(http.StatusOK, gin.H{"mintable": false, "reason": err.Error()})
			return
		}
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mintable": true, "scene": toSceneResponse(scene)})
}

func (h *Handler) mintScene(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, APIError{Message: "user identity missing"})
		return
	}
	sceneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid scene ID format"})
		return
	}
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	scene, err := h.mintGate.RecordMintResult(c.Request.Context(), userID, sceneID, req.TxHash)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSceneResponse(scene))
}

func (h *Handler) getBalance(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, APIError{Message: "user identity missing"})
		return
	}
	if _, err := h.ledger.EnsureUser(c.Request.Context(), userID); err != nil {
		h.handleError(c, err)
		return
	}
	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{Current: balance.Current, Max: balance.Max, Tier: balance.Tier})
}

func (h *Handler) getStaminaHistory(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, APIError{Message: "user identity missing"})
		return
	}
	history, err := h.ledger.History(c.Request.Context(), userID, 50)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) purchaseStamina(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, APIError{Message: "user identity missing"})
		return
	}
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	if _, err := h.ledger.EnsureUser(c.Request.Context(), userID); err != nil {
		h.handleError(c, err)
		return
	}
	newBalance, err := h.ledger.Credit(c.Request.Context(), userID, req.Amount,
		models.StaminaReasonPurchase, map[string]any{"source": "api"})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": newBalance})
}

func (h *Handler) upgradeSubscription(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, APIError{Message: "user identity missing"})
		return
	}
	var req UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	if _, err := h.ledger.EnsureUser(c.Request.Context(), userID); err != nil {
		h.handleError(c, err)
		return
	}
	balance, err := h.ledger.ChangeTier(c.Request.Context(), userID, req.Tier)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{Current: balance.Current, Max: balance.Max, Tier: balance.Tier})
}

func (h *Handler) listCharacters(c *gin.Context) {
	characters, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	out := make([]CharacterResponse, 0, len(characters))
	for i := range characters {
		out = append(out, toCharacterResponse(&characters[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getCharacter(c *gin.Context) {
	characterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid character ID format"})
		return
	}
	character, err := h.catalog.Get(c.Request.Context(), characterID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCharacterResponse(character))
}

// handleError maps domain errors to HTTP statuses. Insufficient stamina is
// 402: the client renders a purchase prompt off it. Conflict-family errors
// are 409 so clients re-read state instead of retrying blindly.
func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientStamina):
		c.JSON(http.StatusPaymentRequired, APIError{Message: "Insufficient stamina"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, APIError{Message: "Not found"})
	case errors.Is(err, models.ErrChoiceAlreadyMade):
		c.JSON(http.StatusConflict, APIError{Message: "Choice already recorded for this scene"})
	case errors.Is(err, models.ErrOutOfOrderAdvance):
		c.JSON(http.StatusConflict, APIError{Message: "Cannot skip ahead of committed progress"})
	case errors.Is(err, models.ErrSceneConflict):
		c.JSON(http.StatusConflict, APIError{Message: "Scene already exists"})
	case errors.Is(err, models.ErrAlreadyMinted):
		c.JSON(http.StatusConflict, APIError{Message: "Scene is already minted"})
	case errors.Is(err, models.ErrSceneNotMintable):
		c.JSON(http.StatusConflict, APIError{Message: "Scene is not eligible for minting"})
	case errors.Is(err, models.ErrInvalidChoiceIndex), errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
	default:
		h.logger.Error("Unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "Internal server error"})
	}
}
