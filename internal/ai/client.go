// Package ai talks to an OpenAI-compatible chat-completions endpoint to find
// emphasized snippets in images and to generate protonotes from them.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/metrics"
	"github.com/SF-300/vigilant-disco/internal/retry"
)

const (
	defaultBaseURL           = "https://api.openai.com/v1"
	defaultModel             = "gpt-4o-mini"
	defaultTimeout           = 60 * time.Second
	defaultRequestsPerMinute = 30
	maxErrorBody             = 4 << 10
)

// Config controls the AI client.
type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	// Retry governs attempts after transport errors, 408, 429 and 5xx answers.
	Retry retry.Policy `mapstructure:"retry"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the request may succeed when sent again.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// Client calls the chat-completions API under a request rate limit.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	ids     cards.IDGenerator
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, ids cards.IDGenerator, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if ids == nil {
		return nil, errors.New("ai client requires an id generator")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), cfg.Burst),
		ids:     ids,
		logger:  logger.Named("ai"),
	}, nil
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func textPart(text string) contentPart {
	return contentPart{Type: "text", Text: text}
}

func imagePart(img cards.Image) contentPart {
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return contentPart{
		Type:     "image_url",
		ImageURL: &imageURL{URL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)},
	}
}

// complete sends one user message and decodes the JSON object the model
// returned into out. Transient failures are retried under cfg.Retry.
func (c *Client) complete(ctx context.Context, parts []contentPart, out any) error {
	body, err := json.Marshal(chatRequest{
		Model:          c.cfg.Model,
		Messages:       []chatMessage{{Role: "user", Content: parts}},
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return errors.Wrap(err, "marshal chat request")
	}
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context, _ int) error {
		return c.send(ctx, body, out)
	}, func(attempt int, err error) {
		metrics.ObserveAIRetry()
		c.logger.Warn("ai request failed; retrying", zap.Int("attempt", attempt), zap.Error(err))
	})
}

func (c *Client) send(ctx context.Context, body []byte, out any) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return retry.Permanent(errors.Wrap(err, "wait for ai rate limit"))
	}
	metrics.ObserveRateLimitDelay(time.Since(start))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send chat request")
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if !statusErr.Transient() {
			return retry.Permanent(statusErr)
		}
		return statusErr
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return errors.Wrap(err, "decode chat response")
	}
	if len(chat.Choices) == 0 {
		return errors.New("chat response has no choices")
	}
	c.logger.Debug("chat completion received",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_bytes", len(chat.Choices[0].Message.Content)))
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), out); err != nil {
		return errors.Wrap(err, "decode model output")
	}
	return nil
}
