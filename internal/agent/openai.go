package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

var errEmptyCompletion = errors.New("completion returned no choices")

// OpenAIClientConfig holds configuration for the OpenAI adapter.
type OpenAIClientConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIClient talks to the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI-backed Client.
func NewOpenAIClient(cfg OpenAIClientConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4
	}
	logger.Info("OpenAI client configured", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		logger: logger,
	}
}

// Complete requests a conversational reply.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAI(messages),
		MaxTokens:   500,
		Temperature: 0.7,
	}
	return c.create(ctx, req)
}

// Classify asks a yes/no question with deterministic sampling.
func (c *OpenAIClient) Classify(ctx context.Context, prompt string) (bool, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   10,
		// go-openai drops a zero temperature; the smallest float32 is sent as an effective 0.
		Temperature: math.SmallestNonzeroFloat32,
	}
	text, err := c.create(ctx, req)
	if err != nil {
		return false, err
	}
	return ParseVerdict(text), nil
}

func (c *OpenAIClient) create(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	c.logger.Debug("OpenAI completion", "model", resp.Model, "total_tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
