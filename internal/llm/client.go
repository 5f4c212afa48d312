// Package llm wraps the upstream language model behind a structured
// output contract: every call declares the JSON shape it expects, and
// responses are validated and repaired before any agent sees them.
package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridian-search/reasoner/internal/circuitbreaker"
	"github.com/meridian-search/reasoner/internal/config"
)

// Request is one model invocation.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
	// JSONOutput asks the upstream for a JSON-object response.
	JSONOutput bool
}

// Response carries the raw completion and token accounting.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Invoker is the minimal model-call interface. Agents depend on this so
// tests can script model behavior without a network.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Client is the production Invoker over an OpenAI-compatible API,
// rate-limited and guarded by a circuit breaker.
type Client struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger

	defaultMaxTokens   int
	defaultTemperature float32
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	rps := cfg.RequestsPerS
	if rps <= 0 {
		rps = 4
	}
	return &Client{
		api:                openai.NewClientWithConfig(apiCfg),
		model:              cfg.Model,
		limiter:            rate.NewLimiter(rate.Limit(rps), 1),
		breaker:            circuitbreaker.New("llm", circuitbreaker.DefaultConfig(), logger),
		logger:             logger,
		defaultMaxTokens:   cfg.MaxTokens,
		defaultTemperature: cfg.Temperature,
	}
}

// Invoke performs a single chat completion.
func (c *Client) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.defaultMaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.defaultTemperature
	}

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var resp openai.ChatCompletionResponse
	err := c.breaker.Execute(ctx, func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm completion: empty choices")
	}
	return Response{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
