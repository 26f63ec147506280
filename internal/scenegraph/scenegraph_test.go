package scenegraph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-engine/internal/models"
)

func intPtr(v int) *int { return &v }

func TestResolveNext(t *testing.T) {
	characterID := uuid.New()
	key := func(chapter, number int) models.SceneKey {
		return models.SceneKey{CharacterID: characterID, Chapter: chapter, SceneNumber: number}
	}

	t.Run("linear progression", func(t *testing.T) {
		next := ResolveNext(key(1, 4), nil)
		assert.Equal(t, key(1, 5), next)
	})

	t.Run("chapter rollover after last scene", func(t *testing.T) {
		next := ResolveNext(key(1, models.MaxSceneNumber), nil)
		assert.Equal(t, key(2, 1), next)
	})

	t.Run("rollover with a plain choice", func(t *testing.T) {
		next := ResolveNext(key(3, models.MaxSceneNumber), &models.SceneChoice{Text: "go on"})
		assert.Equal(t, key(4, 1), next)
	})

	t.Run("explicit choice target overrides default", func(t *testing.T) {
		choice := &models.SceneChoice{
			Text:            "flashback",
			NextChapter:     intPtr(1),
			NextSceneNumber: intPtr(7),
		}
		next := ResolveNext(key(2, 3), choice)
		assert.Equal(t, key(1, 7), next)
	})

	t.Run("partial override keeps default for the rest", func(t *testing.T) {
		choice := &models.SceneChoice{Text: "skip", NextSceneNumber: intPtr(9)}
		next := ResolveNext(key(2, 3), choice)
		assert.Equal(t, key(2, 9), next)
	})

	t.Run("character carries through", func(t *testing.T) {
		next := ResolveNext(key(1, 1), nil)
		assert.Equal(t, characterID, next.CharacterID)
	})
}

func TestValidate(t *testing.T) {
	base := func() *models.Scene {
		return &models.Scene{
			ID:          uuid.New(),
			CharacterID: uuid.New(),
			Chapter:     1,
			SceneNumber: 5,
			Choices: []models.SceneChoice{
				{Text: "stay"},
				{Text: "leave", NextChapter: intPtr(2), NextSceneNumber: intPtr(1)},
			},
		}
	}

	t.Run("well-formed scene passes", func(t *testing.T) {
		assert.NoError(t, Validate(base()))
	})

	t.Run("scene number below range", func(t *testing.T) {
		s := base()
		s.SceneNumber = 0
		assert.ErrorIs(t, Validate(s), models.ErrGraphIntegrity)
	})

	t.Run("scene number above range", func(t *testing.T) {
		s := base()
		s.SceneNumber = models.MaxSceneNumber + 1
		assert.ErrorIs(t, Validate(s), models.ErrGraphIntegrity)
	})

	t.Run("chapter below one", func(t *testing.T) {
		s := base()
		s.Chapter = 0
		assert.ErrorIs(t, Validate(s), models.ErrGraphIntegrity)
	})

	t.Run("choice with empty text", func(t *testing.T) {
		s := base()
		s.Choices[0].Text = ""
		assert.ErrorIs(t, Validate(s), models.ErrGraphIntegrity)
	})

	t.Run("choice targeting uncreatable scene number", func(t *testing.T) {
		s := base()
		s.Choices[1].NextSceneNumber = intPtr(models.MaxSceneNumber + 3)
		assert.ErrorIs(t, Validate(s), models.ErrGraphIntegrity)
	})

	t.Run("choice targeting chapter zero", func(t *testing.T) {
		s := base()
		s.Choices[1].NextChapter = intPtr(0)
		assert.ErrorIs(t, Validate(s), models.ErrGraphIntegrity)
	})
}

func TestChoiceAt(t *testing.T) {
	scene := &models.Scene{
		Choices: []models.SceneChoice{{Text: "first"}, {Text: "second"}},
	}

	choice, err := ChoiceAt(scene, 1)
	require.NoError(t, err)
	assert.Equal(t, "second", choice.Text)

	_, err = ChoiceAt(scene, 2)
	assert.ErrorIs(t, err, models.ErrInvalidChoiceIndex)

	_, err = ChoiceAt(scene, -1)
	assert.ErrorIs(t, err, models.ErrInvalidChoiceIndex)
}
