package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ollamaClient реализует TextProvider поверх локального Ollama.
type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

var _ TextProvider = (*ollamaClient)(nil)

// NewOllamaClient создает клиент для локальной модели Ollama.
// Возвращает nil при пустом или невалидном хосте — цепочка продолжит без него.
func NewOllamaClient(host, model string, timeout time.Duration, logger *zap.Logger) TextProvider {
	if strings.TrimSpace(host) == "" {
		logger.Warn("Ollama host is not configured, local text provider disabled")
		return nil
	}

	// api.NewClient требует URL без суффикса /v1
	base := strings.TrimSuffix(host, "/v1")
	base = strings.TrimSuffix(base, "/")

	parsedURL, err := url.Parse(base)
	if err != nil {
		logger.Warn("Invalid Ollama host, local text provider disabled",
			zap.String("host", host), zap.Error(err))
		return nil
	}

	httpClient := &http.Client{Timeout: timeout}

	return &ollamaClient{
		client:  api.NewClient(parsedURL, httpClient),
		model:   model,
		timeout: timeout,
		logger:  logger.Named("OllamaClient"),
	}
}

func (c *ollamaClient) Name() string { return "ollama" }

func (c *ollamaClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []api.Message{
		{Role: "system", Content: systemPrompt},
	}
	if userPrompt != "" {
		messages = append(messages, api.Message{Role: "user", Content: userPrompt})
	}

	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   func(b bool) *bool { return &b }(false), // Не стримим
		Options: map[string]interface{}{
			"temperature": 0.8,
		},
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r // При Stream=false приходит один полный ответ
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Ollama request failed",
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.Error(err))
		providerRequestsTotal.With(prometheus.Labels{"provider": c.Name(), "status": "error"}).Inc()
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	if resp.Message.Content == "" {
		c.logger.Warn("Ollama returned empty response", zap.String("model", c.model))
		providerRequestsTotal.With(prometheus.Labels{"provider": c.Name(), "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("ollama returned empty response")
	}

	providerRequestsTotal.With(prometheus.Labels{"provider": c.Name(), "status": "success"}).Inc()
	providerRequestDuration.With(prometheus.Labels{"provider": c.Name()}).Observe(duration.Seconds())
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		providerPromptTokens.With(prometheus.Labels{"provider": c.Name()}).Observe(float64(resp.PromptEvalCount))
		providerCompletionTokens.With(prometheus.Labels{"provider": c.Name()}).Observe(float64(resp.EvalCount))
	}

	return resp.Message.Content, nil
}
