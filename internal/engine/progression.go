// Package engine implements the progression orchestrator: every player
// request flows through Advance, which debits stamina, resolves the next
// scene, materializes its content and commits the result atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-engine/internal/catalog"
	"novel-engine/internal/interfaces"
	"novel-engine/internal/messaging"
	"novel-engine/internal/models"
	"novel-engine/internal/provider"
	"novel-engine/internal/scenegraph"
	"novel-engine/internal/stamina"
)

// commitRetryBackoff - пауза перед единственным повтором коммита.
const commitRetryBackoff = 150 * time.Millisecond

// choiceHistoryLimit bounds how much committed-choice context goes into
// generation prompts.
const choiceHistoryLimit = 10

// AdvanceRequest carries one progression step. A nil CurrentSceneID starts
// the story at chapter 1, scene 1. ChoiceIndex is required whenever the
// current scene offers choices.
type AdvanceRequest struct {
	UserID         uuid.UUID
	CharacterID    uuid.UUID
	CurrentSceneID *uuid.UUID
	ChoiceIndex    *int
}

// Engine is the top-level progression surface.
type Engine interface {
	// Advance moves the user one scene forward. Idempotent: repeating a
	// committed step returns the existing scene without a second debit.
	Advance(ctx context.Context, req AdvanceRequest) (*models.Scene, error)

	// GetScene returns a scene by ID.
	GetScene(ctx context.Context, id uuid.UUID) (*models.Scene, error)
}

type engine struct {
	querier         interfaces.DBTX
	txManager       interfaces.TxManager
	scenes          interfaces.SceneRepository
	choices         interfaces.UserChoiceRepository
	catalog         catalog.Service
	ledger          stamina.Ledger
	gateway         provider.Gateway
	publisher       messaging.EventPublisher
	sceneCost       int
	providerTimeout time.Duration
	logger          *zap.Logger
}

var _ Engine = (*engine)(nil)

// NewEngine wires the progression engine.
func NewEngine(
	querier interfaces.DBTX,
	txManager interfaces.TxManager,
	scenes interfaces.SceneRepository,
	choices interfaces.UserChoiceRepository,
	catalogSvc catalog.Service,
	ledger stamina.Ledger,
	gateway provider.Gateway,
	publisher messaging.EventPublisher,
	sceneCost int,
	providerTimeout time.Duration,
	logger *zap.Logger,
) Engine {
	return &engine{
		querier:         querier,
		txManager:       txManager,
		scenes:          scenes,
		choices:         choices,
		catalog:         catalogSvc,
		ledger:          ledger,
		gateway:         gateway,
		publisher:       publisher,
		sceneCost:       sceneCost,
		providerTimeout: providerTimeout,
		logger:          logger.Named("ProgressionEngine"),
	}
}

func (e *engine) GetScene(ctx context.Context, id uuid.UUID) (*models.Scene, error) {
	return e.scenes.GetByID(ctx, e.querier, id)
}

func (e *engine) Advance(ctx context.Context, req AdvanceRequest) (*models.Scene, error) {
	log := e.logger.With(
		zap.String("user_id", req.UserID.String()),
		zap.String("character_id", req.CharacterID.String()))

	if _, err := e.ledger.EnsureUser(ctx, req.UserID); err != nil {
		return nil, err
	}
	character, err := e.catalog.Get(ctx, req.CharacterID)
	if err != nil {
		return nil, err
	}

	current, chosen, err := e.resolveCurrent(ctx, req)
	if err != nil {
		return nil, err
	}

	var targetKey models.SceneKey
	if current == nil {
		targetKey = models.SceneKey{CharacterID: req.CharacterID, Chapter: 1, SceneNumber: 1}
	} else {
		targetKey = scenegraph.ResolveNext(current.Key(), chosen)
	}

	// Ordering first: scenes are shared rows, so an existing target must not
	// let a user claim a current scene they never reached. Legitimate replays
	// pass because a replayed current compares <= the latest decided scene.
	if err := e.checkOrdering(ctx, req, current); err != nil {
		return nil, err
	}

	// Idempotent read: a committed scene at the target key is returned as-is,
	// without debit or regeneration.
	if existing, err := e.scenes.GetByKey(ctx, e.querier, targetKey); err == nil {
		if current != nil && chosen != nil {
			if err := e.recordChoice(ctx, req, current, chosen); err != nil {
				return nil, err
			}
		}
		log.Debug("Advance resolved idempotently",
			zap.Int("chapter", targetKey.Chapter),
			zap.Int("scene_number", targetKey.SceneNumber))
		return existing, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check target scene: %w", err)
	}

	// Debit before generation: no content is produced unpaid. Everything
	// after this point must refund on failure.
	if _, err := e.ledger.Debit(ctx, req.UserID, e.sceneCost, map[string]any{
		"character_id": req.CharacterID.String(),
		"chapter":      targetKey.Chapter,
		"scene_number": targetKey.SceneNumber,
	}); err != nil {
		return nil, err
	}

	// The debit is already taken, so a client disconnect must not abandon
	// the generation mid-flight. Provider calls run under their own timeout
	// detached from the request context.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.providerTimeout)
	defer cancel()

	scene, err := e.materialize(genCtx, character, targetKey, current, chosen, req.UserID)
	if err != nil {
		e.refund(genCtx, req.UserID, targetKey, "materialize_failed")
		return nil, err
	}

	var userChoice *models.UserChoice
	if current != nil && chosen != nil {
		userChoice = &models.UserChoice{
			ID:          uuid.New(),
			UserID:      req.UserID,
			SceneID:     current.ID,
			ChoiceIndex: *req.ChoiceIndex,
			ChoiceText:  chosen.Text,
		}
	}

	if err := e.commit(genCtx, scene, userChoice); err != nil {
		switch {
		case errors.Is(err, models.ErrSceneConflict):
			// Проигравший гонки выбрасывает свой контент и читает победителя
			e.refund(genCtx, req.UserID, targetKey, "creation_race_lost")
			winner, readErr := e.scenes.GetByKey(genCtx, e.querier, targetKey)
			if readErr != nil {
				return nil, fmt.Errorf("failed to read winning scene after conflict: %w", readErr)
			}
			if current != nil && chosen != nil {
				if err := e.recordChoice(genCtx, req, current, chosen); err != nil {
					return nil, err
				}
			}
			log.Info("Scene creation race lost, returning winner",
				zap.Int("chapter", targetKey.Chapter),
				zap.Int("scene_number", targetKey.SceneNumber))
			return winner, nil

		case errors.Is(err, models.ErrChoiceAlreadyMade):
			e.refund(genCtx, req.UserID, targetKey, "choice_conflict")
			return nil, err

		default:
			e.refund(genCtx, req.UserID, targetKey, "commit_failed")
			return nil, fmt.Errorf("failed to commit scene: %w", err)
		}
	}

	log.Info("Scene advanced",
		zap.Int("chapter", scene.Chapter),
		zap.Int("scene_number", scene.SceneNumber),
		zap.String("scene_id", scene.ID.String()))

	e.publishPregenHint(genCtx, req, scene)
	return scene, nil
}

// resolveCurrent loads the scene being advanced from and the chosen option.
// Returns (nil, nil, nil) for a fresh start.
func (e *engine) resolveCurrent(ctx context.Context, req AdvanceRequest) (*models.Scene, *models.SceneChoice, error) {
	if req.CurrentSceneID == nil {
		return nil, nil, nil
	}

	current, err := e.scenes.GetByID(ctx, e.querier, *req.CurrentSceneID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load current scene: %w", err)
	}
	if current.CharacterID != req.CharacterID {
		return nil, nil, fmt.Errorf("%w: scene %s belongs to another character",
			models.ErrInvalidInput, current.ID)
	}
	if err := scenegraph.Validate(current); err != nil {
		return nil, nil, err
	}

	if len(current.Choices) == 0 {
		return current, nil, nil
	}
	if req.ChoiceIndex == nil {
		return nil, nil, fmt.Errorf("%w: scene %s requires a choice",
			models.ErrInvalidChoiceIndex, current.ID)
	}
	chosen, err := scenegraph.ChoiceAt(current, *req.ChoiceIndex)
	if err != nil {
		return nil, nil, err
	}
	return current, chosen, nil
}

// checkOrdering rejects attempts to skip ahead of the user's committed
// progress. The scene being decided must be no further than one resolved step
// past the latest scene the user has already chosen on.
func (e *engine) checkOrdering(ctx context.Context, req AdvanceRequest, current *models.Scene) error {
	if current == nil {
		// Создание (1,1) никогда не является прыжком вперед
		return nil
	}

	latest, err := e.choices.LatestDecidedScene(ctx, e.querier, req.UserID, req.CharacterID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Нет зафиксированных выборов: можно решать только первую сцену
			if current.Chapter == 1 && current.SceneNumber == 1 {
				return nil
			}
			return models.ErrOutOfOrderAdvance
		}
		return fmt.Errorf("failed to check progression order: %w", err)
	}

	if keyCompare(current.Key(), latest.Key()) <= 0 {
		// Повторное решение уже пройденной сцены ловится на записи выбора
		return nil
	}

	latestChoice, err := e.choices.GetByUserAndScene(ctx, e.querier, req.UserID, latest.ID)
	if err != nil {
		return fmt.Errorf("failed to load latest committed choice: %w", err)
	}
	var latestChosen *models.SceneChoice
	if c, err := scenegraph.ChoiceAt(latest, latestChoice.ChoiceIndex); err == nil {
		latestChosen = c
	}
	expected := scenegraph.ResolveNext(latest.Key(), latestChosen)

	if keyCompare(current.Key(), expected) > 0 {
		return models.ErrOutOfOrderAdvance
	}
	return nil
}

// materialize produces the scene content: text and image in parallel, both
// behind the gateway's fallback chains so neither can fail the request.
func (e *engine) materialize(
	ctx context.Context,
	character *models.Character,
	key models.SceneKey,
	current *models.Scene,
	chosen *models.SceneChoice,
	userID uuid.UUID,
) (*models.Scene, error) {
	previousChoices, err := e.choices.ListTextsForCharacter(ctx, e.querier, userID, key.CharacterID, choiceHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load choice history: %w", err)
	}

	sceneType := sceneTypeFor(key)
	sourceImage := character.PortraitFor("neutral")
	previousChoiceText := ""
	if chosen != nil {
		previousChoiceText = chosen.Text
	}

	var (
		wg       sync.WaitGroup
		content  string
		imageURL string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		content = e.gateway.GenerateDialogue(ctx, character, provider.DialogueRequest{
			Key:             key,
			SceneType:       sceneType,
			RequiresAI:      true,
			PreviousChoices: previousChoices,
		})
	}()
	go func() {
		defer wg.Done()
		title := fmt.Sprintf("%s, chapter %d", character.Name, key.Chapter)
		imageURL = e.gateway.GenerateImage(ctx, sourceImage, title, "", previousChoiceText)
	}()
	wg.Wait()

	scene := &models.Scene{
		ID:              uuid.New(),
		CharacterID:     key.CharacterID,
		Chapter:         key.Chapter,
		SceneNumber:     key.SceneNumber,
		SceneType:       sceneType,
		Content:         content,
		Choices:         choicesFor(key),
		BackgroundImage: imageURL,
		CharacterImage:  sourceImage,
		RequiresAI:      true,
		Status:          models.SceneStatusCompleted,
	}
	if err := scenegraph.Validate(scene); err != nil {
		return nil, err
	}
	return scene, nil
}

// commit persists the scene and its triggering choice in one transaction,
// retrying once with backoff on infrastructure failures. Conflict errors
// surface immediately for the race-resolution paths.
func (e *engine) commit(ctx context.Context, scene *models.Scene, choice *models.UserChoice) error {
	run := func() error {
		return e.txManager.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
			if err := e.scenes.Create(ctx, tx, scene); err != nil {
				return err
			}
			if choice != nil {
				if err := e.choices.Create(ctx, tx, choice); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := run()
	if err == nil ||
		errors.Is(err, models.ErrSceneConflict) ||
		errors.Is(err, models.ErrChoiceAlreadyMade) {
		return err
	}

	e.logger.Warn("Scene commit failed, retrying once", zap.Error(err))
	select {
	case <-time.After(commitRetryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return run()
}

// recordChoice commits the user's choice on an already-persisted target.
// A pre-existing identical record is fine; a different one is a conflict.
func (e *engine) recordChoice(ctx context.Context, req AdvanceRequest, current *models.Scene, chosen *models.SceneChoice) error {
	err := e.txManager.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return e.choices.Create(ctx, tx, &models.UserChoice{
			ID:          uuid.New(),
			UserID:      req.UserID,
			SceneID:     current.ID,
			ChoiceIndex: *req.ChoiceIndex,
			ChoiceText:  chosen.Text,
		})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrChoiceAlreadyMade) {
		existing, getErr := e.choices.GetByUserAndScene(ctx, e.querier, req.UserID, current.ID)
		if getErr != nil {
			return fmt.Errorf("failed to load existing choice: %w", getErr)
		}
		if existing.ChoiceIndex == *req.ChoiceIndex {
			return nil // идемпотентный повтор того же выбора
		}
		return models.ErrChoiceAlreadyMade
	}
	return fmt.Errorf("failed to record choice: %w", err)
}

// refund compensates a stamina debit after a failed or lost commit.
func (e *engine) refund(ctx context.Context, userID uuid.UUID, key models.SceneKey, cause string) {
	_, err := e.ledger.Credit(ctx, userID, e.sceneCost, models.StaminaReasonUsage, map[string]any{
		"refund":       true,
		"cause":        cause,
		"character_id": key.CharacterID.String(),
		"chapter":      key.Chapter,
		"scene_number": key.SceneNumber,
	})
	if err != nil {
		// Потерянный рефанд: алертим, руками не чиним
		e.logger.Error("Failed to refund stamina debit",
			zap.String("user_id", userID.String()),
			zap.String("cause", cause),
			zap.Error(err))
	}
}

// publishPregenHint tells the background pipeline which scene the user will
// most likely request next. Best effort: broker failures never fail advance.
func (e *engine) publishPregenHint(ctx context.Context, req AdvanceRequest, scene *models.Scene) {
	next := scenegraph.ResolveNext(scene.Key(), nil)
	err := e.publisher.PublishPregenTask(ctx, messaging.PregenTaskPayload{
		UserID:      req.UserID,
		CharacterID: req.CharacterID,
		Chapter:     next.Chapter,
		SceneNumber: next.SceneNumber,
	})
	if err != nil {
		e.logger.Warn("Failed to publish pregen hint", zap.Error(err))
	}
}

// keyCompare orders scene keys by (chapter, sceneNumber).
func keyCompare(a, b models.SceneKey) int {
	if a.Chapter != b.Chapter {
		return a.Chapter - b.Chapter
	}
	return a.SceneNumber - b.SceneNumber
}

// sceneTypeFor derives the scene type from its position: every fifth scene
// is a decision point, every third a narrated event, the rest dialogue.
func sceneTypeFor(key models.SceneKey) models.SceneType {
	switch {
	case key.SceneNumber%5 == 0:
		return models.SceneTypeChoice
	case key.SceneNumber%3 == 0:
		return models.SceneTypeEvent
	default:
		return models.SceneTypeDialogue
	}
}

var choiceTemplates = [][]models.SceneChoice{
	{{Text: "Stay and keep talking"}, {Text: "Suggest a walk outside"}},
	{{Text: "Tell her what is on your mind"}, {Text: "Keep it to yourself for now"}},
	{{Text: "Ask about her day"}, {Text: "Share something about yours"}},
	{{Text: "Move a little closer"}, {Text: "Give her some space"}},
}

// choicesFor returns the selectable options for a new scene. Deterministic
// per key so concurrent generators produce identical rows.
func choicesFor(key models.SceneKey) []models.SceneChoice {
	tpl := choiceTemplates[(key.Chapter+key.SceneNumber)%len(choiceTemplates)]
	out := make([]models.SceneChoice, len(tpl))
	copy(out, tpl)
	return out
}
