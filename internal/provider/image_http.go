package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// imageTransformRequest - тело запроса к image API.
type imageTransformRequest struct {
	SourceURL string `json:"source_url"`
	Prompt    string `json:"prompt"`
}

// imageTransformResponse - ответ image API с публичным URL результата.
type imageTransformResponse struct {
	ImageURL string `json:"image_url"`
}

// httpImageClient реализует ImageProvider поверх HTTP JSON API генерации изображений.
// Один и тот же тип обслуживает и основной, и резервный endpoint.
type httpImageClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ ImageProvider = (*httpImageClient)(nil)

// NewHTTPImageClient создает клиент image API. Возвращает nil при пустом URL.
func NewHTTPImageClient(name, baseURL string, timeout time.Duration, logger *zap.Logger) ImageProvider {
	if strings.TrimSpace(baseURL) == "" {
		logger.Warn("Image provider URL is not configured, provider disabled", zap.String("provider", name))
		return nil
	}
	return &httpImageClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("HTTPImageClient").With(zap.String("provider", name)),
	}
}

func (c *httpImageClient) Name() string { return c.name }

func (c *httpImageClient) Transform(ctx context.Context, sourceURL, prompt string) (string, error) {
	reqBodyBytes, err := json.Marshal(imageTransformRequest{SourceURL: sourceURL, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := c.baseURL + "/transform"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		c.logger.Warn("Image API request failed", zap.String("url", endpointURL), zap.Error(err))
		providerRequestsTotal.With(prometheus.Labels{"provider": c.name, "status": "error"}).Inc()
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Image API returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", bodyBytes))
		providerRequestsTotal.With(prometheus.Labels{"provider": c.name, "status": "error"}).Inc()
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if readErr != nil {
		providerRequestsTotal.With(prometheus.Labels{"provider": c.name, "status": "error"}).Inc()
		return "", fmt.Errorf("failed to read response body: %w", readErr)
	}

	var parsed imageTransformResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		providerRequestsTotal.With(prometheus.Labels{"provider": c.name, "status": "error"}).Inc()
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.ImageURL == "" {
		providerRequestsTotal.With(prometheus.Labels{"provider": c.name, "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("API returned empty image URL")
	}

	providerRequestsTotal.With(prometheus.Labels{"provider": c.name, "status": "success"}).Inc()
	providerRequestDuration.With(prometheus.Labels{"provider": c.name}).Observe(duration.Seconds())

	return parsed.ImageURL, nil
}
