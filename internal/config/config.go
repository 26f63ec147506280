package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию для Narrative Engine
type Config struct {
	// Настройки сервера
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Настройки PostgreSQL
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns int    `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string

	// Настройки RabbitMQ (опционально: без URL события не публикуются)
	RabbitMQURL          string `envconfig:"RABBITMQ_URL" default:""`
	MintEventsQueueName  string `envconfig:"MINT_EVENTS_QUEUE_NAME" default:"scene_mint_events"`
	PregenTasksQueueName string `envconfig:"PREGEN_TASKS_QUEUE_NAME" default:"scene_pregen_tasks"`

	// Настройки текстового провайдера (OpenRouter-совместимый API)
	TextAPIBaseURL  string        `envconfig:"TEXT_API_BASE_URL" default:"https://openrouter.ai/api/v1"`
	TextModel       string        `envconfig:"TEXT_MODEL" default:"deepseek/deepseek-chat-v3-0324:free"`
	OllamaHost      string        `envconfig:"OLLAMA_HOST" default:""`
	OllamaModel     string        `envconfig:"OLLAMA_MODEL" default:"llama3.1"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"45s"`
	// Секретное поле БЕЗ envconfig тега
	TextAPIKey string

	// Настройки графических провайдеров
	ImagePrimaryURL   string `envconfig:"IMAGE_PRIMARY_URL" default:""`
	ImageSecondaryURL string `envconfig:"IMAGE_SECONDARY_URL" default:""`
	ImageStyleSuffix  string `envconfig:"IMAGE_STYLE_SUFFIX" default:", visual novel illustration, soft lighting"`

	// Экономика стамины
	SceneCost        int `envconfig:"STAMINA_SCENE_COST" default:"10"`
	RegenPerHour     int `envconfig:"STAMINA_REGEN_PER_HOUR" default:"10"`
	InitialGrant     int `envconfig:"STAMINA_INITIAL_GRANT" default:"100"`
	FreeTierMax      int `envconfig:"STAMINA_FREE_MAX" default:"100"`
	PremiumTierMax   int `envconfig:"STAMINA_PREMIUM_MAX" default:"300"`
	UnlimitedTierMax int `envconfig:"STAMINA_UNLIMITED_MAX" default:"1000000"`

	// Настройки кэша контента
	ProfileCacheTTL   time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"5m"`
	DialogueCacheSize int           `envconfig:"DIALOGUE_CACHE_SIZE" default:"512"`

	// Настройки JWT (для проверки токена пользователя в middleware)
	// Секретное поле БЕЗ envconfig тега
	JWTSecret string
}

// DSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	var loadErr error
	cfg.DBPassword, loadErr = readSecret("db_password")
	if loadErr != nil {
		return nil, loadErr
	}

	cfg.JWTSecret, loadErr = readSecret("jwt_secret")
	if loadErr != nil {
		return nil, loadErr
	}

	// Ключ текстового провайдера опционален: без него шлюз сразу уходит
	// в деградационные реплики.
	cfg.TextAPIKey, _ = readSecret("text_api_key")

	return &cfg, nil
}

// readSecret читает секрет из файла в стандартном пути Docker Secrets,
// с fallback на переменную окружения с тем же именем в верхнем регистре.
func readSecret(secretName string) (string, error) {
	filePath := fmt.Sprintf("/run/secrets/%s", secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err == nil {
		secret := strings.TrimSpace(string(secretBytes))
		if secret != "" {
			return secret, nil
		}
	}
	if v := strings.TrimSpace(os.Getenv(strings.ToUpper(secretName))); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not found in %s or environment", secretName, filePath)
}
