// Package genai provides the OpenAI-backed collaborators: field extraction, reply
// generation and intent classification.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/circuitbreaker"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Default configuration constants
const (
	// DefaultModel is the chat model used when none is configured
	DefaultModel = "gpt-4o-mini"
	// DefaultTemperature keeps extraction output stable
	DefaultTemperature = 0.2
	// DefaultMaxCompletionTokens bounds a single completion
	DefaultMaxCompletionTokens = 600
	// DefaultMaxRetries is the SDK retry count for transient HTTP failures
	DefaultMaxRetries = 1
)

var (
	// ErrNoChoicesReturned is returned when the API answers without any choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrNoAPIKey is returned by NewClient without an API key.
	ErrNoAPIKey = errors.New("OpenAI API key not provided")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK's completion service to chatService.
type completions struct {
	svc openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the Client.
type Opts struct {
	APIKey              string
	BaseURL             string
	Model               string
	Temperature         float64
	MaxCompletionTokens int
	MaxRetries          int
	DebugMode           bool
	StateDir            string
	Breaker             *circuitbreaker.Breaker
}

// Option defines a configuration option for the Client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens bounds each completion.
func WithMaxCompletionTokens(n int) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithMaxRetries sets the SDK retry count.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// WithDebugMode writes every request and response under stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(o *Opts) { o.Breaker = b }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int
	debugMode           bool
	stateDir            string
	breaker             *circuitbreaker.Breaker
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		MaxRetries:          DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("genai.NewClient: created", "model", cfg.Model, "temperature", cfg.Temperature, "max_tokens", cfg.MaxCompletionTokens, "debug", cfg.DebugMode, "breaker", cfg.Breaker != nil)
	return &Client{
		chat:                completions{svc: cli.Chat.Completions},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		debugMode:           cfg.DebugMode,
		stateDir:            cfg.StateDir,
		breaker:             cfg.Breaker,
	}, nil
}

// GeneratePrompt returns a plain-text completion for a system and user prompt.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := c.params(false, openai.SystemMessage(systemPrompt), openai.UserMessage(userPrompt))
	return c.complete(ctx, "GeneratePrompt", params)
}

// GenerateJSON returns a completion constrained to a single JSON object.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := c.params(true, openai.SystemMessage(systemPrompt), openai.UserMessage(userPrompt))
	return c.complete(ctx, "GenerateJSON", params)
}

func (c *Client) params(jsonMode bool, messages ...openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxCompletionTokens))
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func (c *Client) complete(ctx context.Context, method string, params openai.ChatCompletionNewParams) (string, error) {
	start := time.Now()
	var resp openai.ChatCompletion
	call := func() error {
		var err error
		resp, err = c.chat.Create(ctx, params)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(call)
	} else {
		err = call()
	}
	c.debugLog(method, params, resp, err)
	if err != nil {
		slog.Warn("Client.complete: chat completion failed", "method", method, "model", c.model, "duration", time.Since(start), "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("Client.complete: chat completion succeeded", "method", method, "model", c.model, "duration", time.Since(start), "length", len(content))
	return content, nil
}

// debugLog writes one JSON file per call. Failures are logged and ignored.
func (c *Client) debugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Client.debugLog: failed to create debug directory", "dir", dir, "error", err)
		return
	}

	now := time.Now()
	entry := map[string]any{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  debugResponse(resp),
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Error("Client.debugLog: failed to marshal entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), strings.ToLower(method))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Error("Client.debugLog: failed to write entry", "file", name, "error", err)
	}
}

func debugResponse(resp openai.ChatCompletion) map[string]any {
	contents := make([]string, 0, len(resp.Choices))
	for _, ch := range resp.Choices {
		contents = append(contents, ch.Message.Content)
	}
	return map[string]any{
		"id":                resp.ID,
		"content":           contents,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}
}
