package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/po-workflow/internal/application/port"
)

// Config holds the SMS gateway settings
type Config struct {
	GatewayURL string
	APIKey     string
	Sender     string
	// RatePerSecond and Burst bound outbound requests to the gateway
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// Client implements port.SMSSender against a JSON HTTP gateway
type Client struct {
	baseURL     string
	apiKey      string
	sender      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

var _ port.SMSSender = (*Client)(nil)

type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type sendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewClient creates a new SMS gateway client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.GatewayURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("gateway URL and API key are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Every(time.Second)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.GatewayURL, "/"),
		apiKey:      cfg.APIKey,
		sender:      cfg.Sender,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(limit, burst),
		logger:      logger,
	}, nil
}

// SendSMS posts a single message to the gateway
func (c *Client) SendSMS(ctx context.Context, to string, message string) error {
	if to == "" {
		return fmt.Errorf("phone number cannot be empty")
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	payload, err := json.Marshal(sendRequest{To: to, From: c.sender, Body: message})
	if err != nil {
		return fmt.Errorf("failed to encode sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("SMS gateway request failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var result sendResponse
	_ = json.Unmarshal(body, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := result.Error
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		c.logger.Error("SMS gateway rejected message",
			zap.String("to", to),
			zap.Int("status", resp.StatusCode),
			zap.String("error", detail))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, detail)
	}

	c.logger.Info("SMS sent",
		zap.String("to", to),
		zap.String("message_id", result.ID),
		zap.String("status", result.Status))
	return nil
}
