package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию для API-сервера и воркера анализа.
type Config struct {
	// Настройки сервера
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Настройки PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" required:"true"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" required:"true"`
	DBName        string        `envconfig:"DB_NAME" required:"true"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string

	// Настройки Redis (статусы прогонов)
	RedisAddr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB      int           `envconfig:"REDIS_DB" default:"0"`
	RunStatusTTL time.Duration `envconfig:"RUN_STATUS_TTL" default:"24h"`
	// Секретное поле БЕЗ envconfig тега
	RedisPassword string

	// Настройки RabbitMQ
	RabbitMQURL      string `envconfig:"RABBITMQ_URL" required:"true"`
	AnalysisQueue    string `envconfig:"ANALYSIS_TASK_QUEUE" default:"analysis_tasks"`
	RunUpdatesQueue  string `envconfig:"RUN_UPDATES_QUEUE" default:"run_updates"`
	ConsumerPrefetch int    `envconfig:"CONSUMER_PREFETCH" default:"1"`

	// Настройки LLM (аугментация высокорисковых сцен)
	AIEnabled    bool   `envconfig:"AI_ENABLED" default:"true"`
	AIBaseURL    string `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIModelName  string `envconfig:"AI_MODEL_NAME" default:"google/gemini-2.0-flash-001"`
	AITimeout    int    `envconfig:"AI_TIMEOUT_SECONDS" default:"60"`
	AIMaxRetries int    `envconfig:"AI_MAX_RETRIES" default:"3"`
	// Секретное поле БЕЗ envconfig тега
	AIAPIKey string

	// Настройки JWT (проверка токена пользователя в middleware)
	// Секретное поле БЕЗ envconfig тега
	JWTSecret string
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// Load загружает конфигурацию из переменных окружения и секретов.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	var err error
	cfg.DBPassword, err = readSecret("db_password", true)
	if err != nil {
		return nil, err
	}
	cfg.JWTSecret, err = readSecret("jwt_secret", true)
	if err != nil {
		return nil, err
	}
	// Пароль Redis и ключ LLM опциональны (локальная разработка / AI_ENABLED=false)
	cfg.RedisPassword, _ = readSecret("redis_password", false)
	cfg.AIAPIKey, _ = readSecret("ai_api_key", false)
	if cfg.AIEnabled && cfg.AIAPIKey == "" {
		return nil, fmt.Errorf("AI_ENABLED=true, но секрет ai_api_key не задан")
	}

	return &cfg, nil
}

// readSecret читает секрет из файла в стандартном пути Docker Secrets.
// Для локальной разработки допускается fallback на переменную окружения SECRET_<NAME>.
func readSecret(secretName string, required bool) (string, error) {
	filePath := fmt.Sprintf("/run/secrets/%s", secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err == nil {
		secret := strings.TrimSpace(string(secretBytes))
		if secret != "" {
			return secret, nil
		}
	}
	if env := strings.TrimSpace(os.Getenv("SECRET_" + strings.ToUpper(secretName))); env != "" {
		return env, nil
	}
	if required {
		return "", fmt.Errorf("не удалось прочитать секрет %s (файл %s или SECRET_%s)",
			secretName, filePath, strings.ToUpper(secretName))
	}
	return "", nil
}
