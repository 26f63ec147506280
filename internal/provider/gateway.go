package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"novel-engine/internal/cache"
	"novel-engine/internal/models"
)

// maxBatchAttempts bounds the unique-name retry loop in character batch
// generation; past the cap the seeded pool fills the remaining slots.
const maxBatchAttempts = 3

// TextProvider is the text-completion capability. Implementations are
// interchangeable links in the gateway's fallback chain.
type TextProvider interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ImageProvider is the image-transformation capability: source image plus a
// prompt in, public URL of the result out.
type ImageProvider interface {
	Name() string
	Transform(ctx context.Context, sourceURL, prompt string) (string, error)
}

// DialogueRequest carries everything the gateway needs to produce scene text.
type DialogueRequest struct {
	Key             models.SceneKey
	SceneType       models.SceneType
	RequiresAI      bool
	StaticContent   string
	PreviousChoices []string
}

// Gateway orchestrates generative providers behind ordered fallback chains.
// No method ever fails: every path degrades to a deterministic fallback so
// content generation never blocks progression.
type Gateway interface {
	// GenerateDialogue returns scene text. Scenes with RequiresAI=false get
	// their static content back verbatim without any provider call.
	GenerateDialogue(ctx context.Context, character *models.Character, req DialogueRequest) string
	// GenerateImage runs the primary -> secondary -> identity chain and
	// always returns a usable URL (worst case the source URL unchanged).
	GenerateImage(ctx context.Context, sourceImageURL, title, content, previousChoice string) string
	// GenerateCharacterBatch produces count characters with names unique
	// within the batch and distinct from existingNames, falling back to a
	// seeded pool when providers cannot deliver.
	GenerateCharacterBatch(ctx context.Context, count int, existingNames []string) []models.Character
}

type gateway struct {
	textChain     []TextProvider
	imageChain    []ImageProvider
	dialogueCache *cache.ContentCache
	styleSuffix   string
	logger        *zap.Logger
}

var _ Gateway = (*gateway)(nil)

// NewGateway собирает шлюз из цепочек провайдеров; nil-провайдеры
// (не сконфигурированные) отбрасываются.
func NewGateway(
	textProviders []TextProvider,
	imageProviders []ImageProvider,
	dialogueCache *cache.ContentCache,
	styleSuffix string,
	logger *zap.Logger,
) Gateway {
	g := &gateway{
		dialogueCache: dialogueCache,
		styleSuffix:   styleSuffix,
		logger:        logger.Named("ProviderGateway"),
	}
	for _, p := range textProviders {
		if p != nil {
			g.textChain = append(g.textChain, p)
		}
	}
	for _, p := range imageProviders {
		if p != nil {
			g.imageChain = append(g.imageChain, p)
		}
	}
	return g
}

func (g *gateway) GenerateDialogue(ctx context.Context, character *models.Character, req DialogueRequest) string {
	if !req.RequiresAI {
		return req.StaticContent
	}

	cacheKey := fmt.Sprintf("dialogue:%s:%d:%d", req.Key.CharacterID, req.Key.Chapter, req.Key.SceneNumber)
	value, err := g.dialogueCache.GetOrCompute(ctx, cacheKey, 0, func(ctx context.Context) (any, error) {
		return g.completeChain(ctx, req.SceneType,
			buildDialogueSystemPrompt(character, req.SceneType),
			buildDialogueUserPrompt(req.Key, req.PreviousChoices)), nil
	})
	if err != nil {
		// compute никогда не возвращает ошибку, ветка на случай отмены контекста
		g.logger.Warn("Dialogue cache compute failed", zap.String("key", cacheKey), zap.Error(err))
		return FallbackLine(req.SceneType)
	}
	return value.(string)
}

// completeChain walks the text providers in order and returns the first
// successful completion, or the canned line for the scene type.
func (g *gateway) completeChain(ctx context.Context, sceneType models.SceneType, systemPrompt, userPrompt string) string {
	for _, p := range g.textChain {
		text, err := p.Complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			return strings.TrimSpace(text)
		}
		g.logger.Warn("Text provider failed, trying next in chain",
			zap.String("provider", p.Name()), zap.Error(err))
	}
	providerRequestsTotal.With(prometheus.Labels{"provider": "canned", "status": "fallback"}).Inc()
	g.logger.Warn("All text providers failed, using canned line",
		zap.String("scene_type", string(sceneType)))
	return FallbackLine(sceneType)
}

func (g *gateway) GenerateImage(ctx context.Context, sourceImageURL, title, content, previousChoice string) string {
	prompt := buildImagePrompt(title, content, previousChoice, g.styleSuffix)
	for _, p := range g.imageChain {
		resultURL, err := p.Transform(ctx, sourceImageURL, prompt)
		if err == nil {
			return resultURL
		}
		g.logger.Warn("Image provider failed, trying next in chain",
			zap.String("provider", p.Name()), zap.Error(err))
	}
	// Identity fallback: исходный URL вместо пустого или битого
	providerRequestsTotal.With(prometheus.Labels{"provider": "identity", "status": "fallback"}).Inc()
	return sourceImageURL
}

// generatedCharacter is the wire shape expected back from text providers.
type generatedCharacter struct {
	Name        string   `json:"name"`
	Personality string   `json:"personality"`
	Background  string   `json:"background"`
	Traits      []string `json:"traits"`
}

func (g *gateway) GenerateCharacterBatch(ctx context.Context, count int, existingNames []string) []models.Character {
	taken := make(map[string]bool, len(existingNames)+count)
	for _, name := range existingNames {
		taken[strings.ToLower(name)] = true
	}

	result := make([]models.Character, 0, count)
	for attempt := 0; attempt < maxBatchAttempts && len(result) < count; attempt++ {
		exclude := make([]string, 0, len(taken))
		for name := range taken {
			exclude = append(exclude, name)
		}
		systemPrompt, userPrompt := buildCharacterBatchPrompt(count-len(result), exclude)

		raw := g.completeChain(ctx, models.SceneTypeEvent, systemPrompt, userPrompt)
		candidates, err := parseCharacterBatch(raw)
		if err != nil {
			g.logger.Warn("Failed to parse character batch response",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		for _, c := range candidates {
			name := strings.TrimSpace(c.Name)
			if name == "" || taken[strings.ToLower(name)] {
				continue
			}
			taken[strings.ToLower(name)] = true
			result = append(result, models.Character{
				ID:          uuid.New(),
				Name:        name,
				Personality: c.Personality,
				Background:  c.Background,
				Traits:      c.Traits,
			})
			if len(result) == count {
				break
			}
		}
	}

	// Добираем недостающие слоты из предзаданного пула
	for _, seed := range seededCharacterPool {
		if len(result) == count {
			break
		}
		if taken[strings.ToLower(seed.Name)] {
			continue
		}
		taken[strings.ToLower(seed.Name)] = true
		c := seed
		c.ID = uuid.New()
		result = append(result, c)
	}

	return result
}

// parseCharacterBatch tolerates prose or code fences around the JSON array.
func parseCharacterBatch(raw string) ([]generatedCharacter, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var parsed []generatedCharacter
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode character batch: %w", err)
	}
	return parsed, nil
}
