package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/config"
	"github.com/tg-relay-bot/internal/relay"
)

// Client generates replies through an OpenAI-compatible chat completions API.
// Each call is single-shot: no conversation history is kept.
type Client struct {
	client *openai.Client
	config *config.GenerationConfig
	logger *logrus.Logger
}

// NewClient creates a new generation client
func NewClient(cfg *config.GenerationConfig, logger *logrus.Logger) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	// The per-request deadline comes from the caller's context; this only
	// guards against a context without one.
	clientConfig.HTTPClient = &http.Client{Timeout: 2 * time.Minute}

	logger.WithFields(logrus.Fields{
		"model":   cfg.Model,
		"baseURL": clientConfig.BaseURL,
	}).Info("Generation client initialized")

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		logger: logger,
	}
}

// Generate returns the model's reply to text.
func (c *Client) Generate(ctx context.Context, text string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.config.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.config.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	started := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	duration := time.Since(started)

	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"model":    c.config.Model,
			"duration": duration.String(),
		}).Warn("Chat completion failed")
		return "", classifyError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", &relay.BackendError{Code: "empty_response", Message: "no choices returned"}
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", &relay.BackendError{Code: "content_filter", Message: "response blocked by safety filter"}
	}

	content := choice.Message.Content
	if !c.config.ShowThinking {
		content = stripThinking(content)
	}
	if strings.TrimSpace(content) == "" {
		return "", &relay.BackendError{Code: "empty_response", Message: "model returned no text"}
	}

	c.logger.WithFields(logrus.Fields{
		"model":            c.config.Model,
		"duration":         duration.String(),
		"promptTokens":     resp.Usage.PromptTokens,
		"completionTokens": resp.Usage.CompletionTokens,
	}).Debug("Chat completion succeeded")

	return content, nil
}

// classifyError maps client errors onto the relay error taxonomy.
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", relay.ErrTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := strconv.Itoa(apiErr.HTTPStatusCode)
		if apiErr.Type != "" {
			code += "/" + apiErr.Type
		}
		return &relay.BackendError{Code: code, Message: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		message := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			message = reqErr.Err.Error()
		}
		return &relay.BackendError{Code: strconv.Itoa(reqErr.HTTPStatusCode), Message: message, Err: err}
	}

	return fmt.Errorf("chat completion: %w", err)
}

// stripThinking drops a leading <think>...</think> block emitted by reasoning models.
func stripThinking(response string) string {
	const thinkEndTag = "</think>"
	lastIndex := strings.LastIndex(response, thinkEndTag)
	if lastIndex != -1 {
		return strings.TrimSpace(response[lastIndex+len(thinkEndTag):])
	}
	return response
}
