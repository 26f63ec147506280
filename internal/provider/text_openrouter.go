package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openRouterClient реализует TextProvider поверх OpenRouter-совместимого API.
type openRouterClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

var _ TextProvider = (*openRouterClient)(nil)

// NewOpenRouterClient создает клиент для OpenRouter-совместимого chat completion API.
// Возвращает nil, если API-ключ не задан — шлюз пропустит этого провайдера в цепочке.
func NewOpenRouterClient(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) TextProvider {
	if strings.TrimSpace(apiKey) == "" {
		logger.Warn("Text API key is not configured, remote text provider disabled")
		return nil
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	config.HTTPClient = &http.Client{Timeout: timeout}

	return &openRouterClient{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		timeout: timeout,
		logger:  logger.Named("OpenRouterClient"),
	}
}

func (c *openRouterClient) Name() string { return "openrouter" }

func (c *openRouterClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		providerRequestsTotal.With(prometheus.Labels{"provider": c.Name(), "status": "error"}).Inc()
		return "", fmt.Errorf("empty system prompt")
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(requestCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.8,
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Text API request failed",
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.Error(err))
		providerRequestsTotal.With(prometheus.Labels{"provider": c.Name(), "status": "error"}).Inc()
		return "", fmt.Errorf("openrouter chat completion: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		c.logger.Warn("Text API returned empty response", zap.String("model", c.model))
		providerRequestsTotal.With(prometheus.Labels{"provider": c.Name(), "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("openrouter returned empty response")
	}

	generated := resp.Choices[0].Message.Content

	providerRequestsTotal.With(prometheus.Labels{"provider": c.Name(), "status": "success"}).Inc()
	providerRequestDuration.With(prometheus.Labels{"provider": c.Name()}).Observe(duration.Seconds())
	c.observeTokens(resp.Usage, systemPrompt+userPrompt, generated)

	return generated, nil
}

// observeTokens отдает предпочтение Usage из ответа API; при его отсутствии
// считает токены локально через tiktoken (менее точно, но достаточно для метрик).
func (c *openRouterClient) observeTokens(usage openai.Usage, prompt, completion string) {
	promptTokens := usage.PromptTokens
	completionTokens := usage.CompletionTokens
	if usage.TotalTokens == 0 {
		tke, err := tiktoken.EncodingForModel("gpt-4")
		if err != nil {
			return
		}
		promptTokens = len(tke.Encode(prompt, nil, nil))
		completionTokens = len(tke.Encode(completion, nil, nil))
	}
	providerPromptTokens.With(prometheus.Labels{"provider": c.Name()}).Observe(float64(promptTokens))
	providerCompletionTokens.With(prometheus.Labels{"provider": c.Name()}).Observe(float64(completionTokens))
}
