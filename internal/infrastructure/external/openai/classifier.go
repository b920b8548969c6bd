package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// Config holds OpenAI connection settings
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// RejectionClassifier implements port.RejectionClassifier using chat completions
type RejectionClassifier struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

var _ port.RejectionClassifier = (*RejectionClassifier)(nil)

type reasonOption struct {
	Code          entity.RejectionReason
	Label         string
	Subcategories []string
}

type classification struct {
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// NewRejectionClassifier creates a new classifier
func NewRejectionClassifier(cfg Config, prompts *PromptConfig, logger *zap.Logger) *RejectionClassifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &RejectionClassifier{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
}

// Classify maps free-text supplier notes onto the rejection taxonomy.
// Answers outside the taxonomy come back as other.
func (c *RejectionClassifier) Classify(ctx context.Context, notes string) (entity.RejectionReason, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return entity.ReasonOther, nil
	}

	p := &c.prompts.RejectionClassification
	prompt, err := p.RenderUser(map[string]interface{}{
		"Notes":   notes,
		"Reasons": reasonOptions(),
	})
	if err != nil {
		return "", err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content

	var result classification
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		jsonStr := extractJSON(content)
		if jsonStr == "" || json.Unmarshal([]byte(jsonStr), &result) != nil {
			c.logger.Error("Failed to parse OpenAI response",
				zap.Error(err),
				zap.String("content", content))
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
	}

	reason := entity.RejectionReason(strings.ToLower(strings.TrimSpace(result.Reason)))
	if !reason.IsValid() {
		c.logger.Info("Classifier answered outside the taxonomy",
			zap.String("answer", result.Reason))
		reason = entity.ReasonOther
	}

	c.logger.Info("Rejection notes classified",
		zap.String("reason", string(reason)),
		zap.Float64("confidence", result.Confidence))

	return reason, nil
}

func reasonOptions() []reasonOption {
	reasons := entity.AllRejectionReasons()
	opts := make([]reasonOption, 0, len(reasons))
	for _, r := range reasons {
		policy := r.Policy()
		opts = append(opts, reasonOption{
			Code:          r,
			Label:         policy.Label,
			Subcategories: policy.Subcategories,
		})
	}
	return opts
}

// extractJSON returns the first balanced JSON object in content, or ""
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
