package models

import (
	"time"

	"github.com/google/uuid"
)

// Character представляет профиль персонажа из каталога.
// Каталог read-only со стороны движка: записи создаются админкой,
// движок только читает их (через кэш профилей).
type Character struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Personality string            `json:"personality" db:"personality"`
	Background  string            `json:"background" db:"background"`
	Traits      []string          `json:"traits" db:"traits"`
	Emotions    map[string]string `json:"emotions" db:"emotions"`       // имя эмоции -> описание
	Expressions map[string]string `json:"expressions" db:"expressions"` // настроение -> URL изображения
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// PortraitFor returns the expression image for the given mood, falling back
// to the "neutral" expression and then to any available one.
func (c *Character) PortraitFor(mood string) string {
	if url, ok := c.Expressions[mood]; ok && url != "" {
		return url
	}
	if url, ok := c.Expressions["neutral"]; ok && url != "" {
		return url
	}
	for _, url := range c.Expressions {
		if url != "" {
			return url
		}
	}
	return ""
}
