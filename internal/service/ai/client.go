package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client is the language-model surface the pipeline depends on: one-shot chat
// completions and text embeddings.
type Client interface {
	Complete(ctx context.Context, model, systemPrompt, userMessage string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIClient implements Client over the OpenAI API.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	embedModel   string
	logger       *zap.Logger
}

// NewOpenAIClient builds a client bound to the given API key.
func NewOpenAIClient(apiKey, defaultModel, embedModel string, logger *zap.Logger) *OpenAIClient {
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		client:       openai.NewClient(apiKey),
		defaultModel: defaultModel,
		embedModel:   embedModel,
		logger:       logger,
	}
}

// WithKey returns a client identical to c but authenticated with the supplied
// key. Used for per-user key overrides on a single request.
func (c *OpenAIClient) WithKey(apiKey string) *OpenAIClient {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return c
	}
	return &OpenAIClient{
		client:       openai.NewClient(apiKey),
		defaultModel: c.defaultModel,
		embedModel:   c.embedModel,
		logger:       c.logger,
	}
}

// DefaultModel reports the model used when the caller does not supply one.
func (c *OpenAIClient) DefaultModel() string {
	return c.defaultModel
}

// Complete runs a single chat completion and returns the full reply text.
func (c *OpenAIClient) Complete(ctx context.Context, model, systemPrompt, userMessage string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", errors.New("user message is required")
	}
	if model == "" {
		model = c.defaultModel
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed returns the embedding vector for one text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("text is required")
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response was empty")
	}
	return resp.Data[0].Embedding, nil
}
