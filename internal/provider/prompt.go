package provider

import (
	"fmt"
	"strings"

	"novel-engine/internal/models"
)

// buildDialogueSystemPrompt assembles the system prompt for a scene from the
// character profile. The profile fields are the only dynamic inputs; the frame
// around them stays fixed so cached results remain comparable.
func buildDialogueSystemPrompt(character *models.Character, sceneType models.SceneType) string {
	var b strings.Builder
	b.WriteString("You are writing a scene for a romance visual novel.\n")
	fmt.Fprintf(&b, "Character: %s.\n", character.Name)
	if character.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", character.Personality)
	}
	if character.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", character.Background)
	}
	if len(character.Traits) > 0 {
		fmt.Fprintf(&b, "Traits: %s.\n", strings.Join(character.Traits, ", "))
	}

	switch sceneType {
	case models.SceneTypeEvent:
		b.WriteString("Write a short narrated event scene (2-4 sentences) advancing the story. No dialogue tags.\n")
	case models.SceneTypeChoice:
		b.WriteString("Write a short scene (2-4 sentences) that naturally leads up to a decision the player must make.\n")
	default:
		fmt.Fprintf(&b, "Write %s's next lines of dialogue (2-4 sentences), in her voice, second person toward the player.\n", character.Name)
	}
	b.WriteString("Return only the scene text, no headers or markup.")
	return b.String()
}

// buildDialogueUserPrompt folds scene position and the player's recent choices
// into the user message so the model keeps continuity.
func buildDialogueUserPrompt(key models.SceneKey, previousChoices []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d, scene %d of %d.", key.Chapter, key.SceneNumber, models.MaxSceneNumber)
	if len(previousChoices) > 0 {
		// Достаточно хвоста истории, полный список раздувает промт
		tail := previousChoices
		if len(tail) > 5 {
			tail = tail[len(tail)-5:]
		}
		b.WriteString(" The player's recent choices, oldest first: ")
		b.WriteString(strings.Join(tail, "; "))
		b.WriteString(".")
	}
	return b.String()
}

// buildImagePrompt produces the transformation prompt for image providers.
func buildImagePrompt(title, content, previousChoice, styleSuffix string) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "%s. ", title)
	}
	b.WriteString(content)
	if previousChoice != "" {
		fmt.Fprintf(&b, " The player just chose: %s.", previousChoice)
	}
	if styleSuffix != "" {
		b.WriteString(" ")
		b.WriteString(styleSuffix)
	}
	return b.String()
}

// buildCharacterBatchPrompt asks for a JSON array of fresh character profiles.
// excludeNames are names already taken in this batch or the catalog.
func buildCharacterBatchPrompt(count int, excludeNames []string) (system, user string) {
	system = "You create original characters for a romance visual novel. " +
		"Respond with a JSON array only, no prose. Each element: " +
		`{"name": string, "personality": string, "background": string, "traits": [string]}.`
	user = fmt.Sprintf("Create %d distinct characters with unique names.", count)
	if len(excludeNames) > 0 {
		user += " Do not use these names: " + strings.Join(excludeNames, ", ") + "."
	}
	return system, user
}
