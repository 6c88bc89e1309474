package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

var log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

const (
	// defaultModel — модель по умолчанию на OpenRouter.
	defaultModel = "google/gemini-2.0-flash-001"
	// maxPromptTokens — жёсткий потолок длины промпта; длинные сценарии усекаются.
	maxPromptTokens = 30000
	// tokenizerEncoding — кодировка для подсчёта токенов промпта.
	tokenizerEncoding = "cl100k_base"
)

// Client предоставляет интерфейс для работы с API нейросети
type Client struct {
	client     *openai.Client
	modelName  string
	timeout    time.Duration
	maxRetries int
}

// Config содержит конфигурацию для клиента нейросети
type Config struct {
	APIKey     string
	BaseURL    string
	ModelName  string
	Timeout    int
	MaxRetries int
}

// New создает новый экземпляр клиента нейросети
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("не указан API ключ для OpenRouter")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}

	if cfg.ModelName == "" {
		cfg.ModelName = defaultModel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL

	return &Client{
		client:     openai.NewClientWithConfig(config),
		modelName:  cfg.ModelName,
		timeout:    time.Duration(cfg.Timeout) * time.Second,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// CallModel выполняет один запрос к модели и возвращает сырой текст ответа.
// Ограниченное число попыток; ошибка после всех попыток не фатальна для
// вызывающего пайплайна — он обязан откатиться на детерминированный путь.
func (c *Client) CallModel(ctx context.Context, prompt string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt = truncatePrompt(prompt)

	attempts := 0
	for attempts < c.maxRetries {
		attempts++

		req := openai.ChatCompletionRequest{
			Model: c.modelName,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: temperature,
			TopP:        0.95,
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempts).Msg("LLM call failed")
			if attempts >= c.maxRetries {
				return "", fmt.Errorf("ошибка при вызове модели: %w", err)
			}
			continue
		}

		if len(resp.Choices) == 0 {
			if attempts >= c.maxRetries {
				return "", errors.New("пустой ответ от API: не получены варианты")
			}
			continue
		}

		return resp.Choices[0].Message.Content, nil
	}

	return "", errors.New("не удалось получить ответ от API после нескольких попыток")
}

// truncatePrompt усекает промпт до maxPromptTokens. Ошибка токенизатора не
// мешает вызову: промпт уходит как есть.
func truncatePrompt(prompt string) string {
	enc, err := tiktoken.GetEncoding(tokenizerEncoding)
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, sending prompt untruncated")
		return prompt
	}

	tokens := enc.Encode(prompt, nil, nil)
	if len(tokens) <= maxPromptTokens {
		return prompt
	}

	log.Warn().
		Int("tokens", len(tokens)).
		Int("limit", maxPromptTokens).
		Msg("Prompt exceeds token limit, truncating")
	return enc.Decode(tokens[:maxPromptTokens])
}
