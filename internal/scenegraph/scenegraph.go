// Package scenegraph resolves transitions between scenes and validates scene
// data before it is committed. Scenes form a DAG keyed by (chapter,
// sceneNumber) with optional cross-links through explicit choice targets.
// Everything here is pure: the graph holds no state and is safe to share.
package scenegraph

import (
	"fmt"

	"novel-engine/internal/models"
)

// ResolveNext returns the key of the scene that follows current. The linear
// default is (chapter, sceneNumber+1), rolling over to (chapter+1, 1) after
// the last scene of a chapter. An explicit target on the chosen choice
// overrides the default: branching takes precedence over linear progression.
func ResolveNext(current models.SceneKey, choice *models.SceneChoice) models.SceneKey {
	next := models.SceneKey{
		CharacterID: current.CharacterID,
		Chapter:     current.Chapter,
		SceneNumber: current.SceneNumber + 1,
	}
	if current.SceneNumber >= models.MaxSceneNumber {
		next.Chapter = current.Chapter + 1
		next.SceneNumber = 1
	}

	if choice != nil {
		if choice.NextChapter != nil {
			next.Chapter = *choice.NextChapter
		}
		if choice.NextSceneNumber != nil {
			next.SceneNumber = *choice.NextSceneNumber
		}
	}
	return next
}

// Validate checks that a scene is well-formed before it enters the store.
// Malformed data is a fatal integrity error, never silently coerced.
func Validate(scene *models.Scene) error {
	if scene.Chapter < 1 {
		return fmt.Errorf("%w: chapter %d is below 1", models.ErrGraphIntegrity, scene.Chapter)
	}
	if scene.SceneNumber < 1 || scene.SceneNumber > models.MaxSceneNumber {
		return fmt.Errorf("%w: scene number %d is outside [1, %d]",
			models.ErrGraphIntegrity, scene.SceneNumber, models.MaxSceneNumber)
	}
	for i, choice := range scene.Choices {
		if choice.Text == "" {
			return fmt.Errorf("%w: choice %d has empty text", models.ErrGraphIntegrity, i)
		}
		if choice.NextChapter != nil && *choice.NextChapter < 1 {
			return fmt.Errorf("%w: choice %d targets chapter %d",
				models.ErrGraphIntegrity, i, *choice.NextChapter)
		}
		if choice.NextSceneNumber != nil &&
			(*choice.NextSceneNumber < 1 || *choice.NextSceneNumber > models.MaxSceneNumber) {
			return fmt.Errorf("%w: choice %d targets scene number %d",
				models.ErrGraphIntegrity, i, *choice.NextSceneNumber)
		}
	}
	return nil
}

// ChoiceAt returns the scene's choice at index, or an error when the index is
// out of range for the scene's choice list.
func ChoiceAt(scene *models.Scene, index int) (*models.SceneChoice, error) {
	if index < 0 || index >= len(scene.Choices) {
		return nil, fmt.Errorf("%w: index %d, scene has %d choices",
			models.ErrInvalidChoiceIndex, index, len(scene.Choices))
	}
	return &scene.Choices[index], nil
}
