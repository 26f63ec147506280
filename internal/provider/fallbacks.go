package provider

import "novel-engine/internal/models"

// Canned lines returned when every text provider in the chain fails.
// One distinct line per scene type so the narrative keeps moving.
var fallbackLines = map[models.SceneType]string{
	models.SceneTypeDialogue: "She pauses for a moment, collecting her thoughts, then smiles at you softly.",
	models.SceneTypeEvent:    "The evening settles quietly around you both, and the moment passes without a word.",
	models.SceneTypeChoice:   "She looks at you expectantly, waiting to see what you will do next.",
}

// FallbackLine returns the canned text for a scene type; unknown types get the
// dialogue line so the result is never empty.
func FallbackLine(sceneType models.SceneType) string {
	if line, ok := fallbackLines[sceneType]; ok {
		return line
	}
	return fallbackLines[models.SceneTypeDialogue]
}

// Pre-seeded character profiles used when batch generation cannot produce
// enough unique names within the attempt cap.
var seededCharacterPool = []models.Character{
	{
		Name:        "Mei",
		Personality: "Gentle and observant, with a dry sense of humor that surfaces when least expected.",
		Background:  "A literature student who works evenings at a small jazz cafe near the university.",
		Traits:      []string{"bookish", "loyal", "quietly stubborn"},
	},
	{
		Name:        "Akira",
		Personality: "Confident and direct, quick to tease but fiercely protective of the people she trusts.",
		Background:  "A kendo club captain balancing tournament season with a part-time courier job.",
		Traits:      []string{"athletic", "blunt", "protective"},
	},
	{
		Name:        "Yuki",
		Personality: "Dreamy and soft-spoken, prone to wandering off mid-conversation after a new idea.",
		Background:  "An art school dropout who paints murals around the city under a pseudonym.",
		Traits:      []string{"creative", "absent-minded", "warm"},
	},
	{
		Name:        "Hana",
		Personality: "Cheerful on the surface with a meticulous, calculating streak underneath.",
		Background:  "Heir to a family-run confectionery, secretly studying economics against her parents' wishes.",
		Traits:      []string{"ambitious", "sweet-toothed", "sharp"},
	},
	{
		Name:        "Rin",
		Personality: "Reserved and precise, thaws slowly but never forgets a kindness.",
		Background:  "A transfer student and amateur astronomer who maps the night sky from the school roof.",
		Traits:      []string{"analytical", "night owl", "earnest"},
	},
}
