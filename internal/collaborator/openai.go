package collaborator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 30 * time.Second
)

var errEmptyCompletion = errors.New("completion returned no choices")

// OpenAI implements Backend with the chat completions API. Retries are
// disabled so failures surface to the caller on the first attempt.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *slog.Logger
}

// NewOpenAI creates a chat completions backend.
func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger.Info("OpenAI collaborator configured", "model", model, "timeout", timeout)
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

var _ Backend = (*OpenAI)(nil)

// Generate implements Dialogue.
func (o *OpenAI) Generate(ctx context.Context, req DialogueRequest) (string, error) {
	return o.complete(ctx, DialoguePrompt(req), o.temperature)
}

// Analyze implements Analyzer.
func (o *OpenAI) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	return o.complete(ctx, AnalysisPrompt(req), 0)
}

// Synthesize implements Synthesizer.
func (o *OpenAI) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	return o.complete(ctx, SynthesisPrompt(req), 0)
}

// Close implements Backend.
func (o *OpenAI) Close() error {
	return nil
}

func (o *OpenAI) complete(ctx context.Context, p Prompt, temperature float64) (string, error) {
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}

	o.logger.Debug("Chat completion finished",
		"model", o.model,
		"duration", time.Since(start),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
