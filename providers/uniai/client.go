// Package uniai streams chat completions through github.com/quailyquaily/uniai.
package uniai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/aichat/llm"
	uniaiapi "github.com/quailyquaily/uniai"
)

const DefaultEndpoint = uniaiapi.DefaultOpenAIAPIBase

type Config struct {
	// Provider selects an OpenAI-compatible uniai backend; empty means openai.
	Provider       string
	Endpoint       string
	APIKey         string
	RequestTimeout time.Duration
}

type Client struct {
	client   *uniaiapi.Client
	provider string
	timeout  time.Duration
}

func New(cfg Config) (*Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "openai"
	}
	switch provider {
	case "openai", "openai_custom", "deepseek", "xai", "groq":
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		client: uniaiapi.New(uniaiapi.Config{
			Provider:      provider,
			OpenAIAPIKey:  apiKey,
			OpenAIAPIBase: endpoint,
		}),
		provider: provider,
		timeout:  cfg.RequestTimeout,
	}, nil
}

func (c *Client) Stream(ctx context.Context, req llm.Request, onDelta llm.DeltaFunc) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("uniai client is not initialized")
	}
	if strings.TrimSpace(req.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages are required")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	opts := append([]uniaiapi.ChatOption{uniaiapi.WithProvider(c.provider)}, buildChatOptions(req, onDelta)...)
	if _, err := c.client.Chat(ctx, opts...); err != nil {
		return err
	}
	return nil
}

func buildChatOptions(req llm.Request, onDelta llm.DeltaFunc) []uniaiapi.ChatOption {
	msgs := make([]uniaiapi.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			msgs = append(msgs, uniaiapi.System(m.Content))
		case "assistant":
			msgs = append(msgs, uniaiapi.Assistant(m.Content))
		default:
			msgs = append(msgs, uniaiapi.User(m.Content))
		}
	}

	opts := []uniaiapi.ChatOption{
		uniaiapi.WithModel(strings.TrimSpace(req.Model)),
		uniaiapi.WithReplaceMessages(msgs...),
	}
	if req.Temperature != nil {
		opts = append(opts, uniaiapi.WithTemperature(*req.Temperature))
	}
	if onDelta != nil {
		opts = append(opts, uniaiapi.WithOnStream(func(ev uniaiapi.StreamEvent) error {
			if ev.Done || ev.Delta == "" {
				return nil
			}
			return onDelta(ev.Delta)
		}))
	}
	return opts
}
