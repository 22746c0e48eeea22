package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.deepseek.com/v1"
	DefaultModel   = "deepseek-chat"
	DefaultTimeout = 45 * time.Second
)

var ErrNotConfigured = errors.New("llm provider not configured")

// Client sends one prompt to the language model and returns its raw text.
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Model() string
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
}

type client struct {
	api         *openai.Client
	model       string
	timeout     time.Duration
	temperature float32
}

// NewClient talks to any OpenAI-compatible chat completion endpoint. Without
// an API key it returns a client whose every call fails with
// ErrNotConfigured, so generation falls back instead of failing startup.
func NewClient(cfg Config) Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return unconfigured{model: cfg.Model}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &client{
		api:         openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
	}
}

func (c *client) Model() string { return c.model }

func (c *client) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type unconfigured struct {
	model string
}

func (u unconfigured) Model() string { return u.model }

func (unconfigured) Complete(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
