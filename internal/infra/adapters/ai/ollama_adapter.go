package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"learnmate/internal/domain"
	"learnmate/internal/domain/ports/adapter"
)

var _ adapter.LLM = (*OllamaAdapter)(nil)

// OllamaAdapter talks to a local Ollama server through its OpenAI-compatible
// /v1 API. Any OpenAI-compatible gateway works the same way.
type OllamaAdapter struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOllamaAdapter(baseURL, apiKey, model string, temperature float64) (*OllamaAdapter, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("ollama: empty model")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	if apiKey == "" {
		apiKey = "ollama" // ignored by Ollama, required by the client
	}
	c := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0), // generations are long; retrying is the caller's decision
	)
	return &OllamaAdapter{client: c, model: model, temperature: temperature}, nil
}

func (o *OllamaAdapter) Provider() string { return "ollama" }

func (o *OllamaAdapter) ListModels(ctx context.Context) ([]string, error) {
	page, err := o.client.Models.List(ctx)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	out := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

// CountTokens is local; Ollama has no tokenize endpoint on the compatible API.
func (o *OllamaAdapter) CountTokens(_ context.Context, _ string, messages []adapter.Message) (int, error) {
	return EstimateMessages(messages), nil
}

func (o *OllamaAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if len(messages) == 0 {
		return "", adapter.Usage{}, fmt.Errorf("ollama: no messages: %w", domain.ErrInvalidArgument)
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelOrDefault(model, o.model)),
		Messages: toOpenAIMessages(messages),
	}
	if o.temperature > 0 {
		params.Temperature = openai.Float(o.temperature)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", adapter.Usage{}, mapOpenAIError(err)
	}

	text := ""
	for _, c := range resp.Choices {
		if strings.TrimSpace(c.Message.Content) != "" {
			text = c.Message.Content
			break
		}
	}
	u := adapter.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	if text == "" {
		return "", u, domain.ErrEmptyCompletion
	}
	return text, u, nil
}

func toOpenAIMessages(msgs []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// mapOpenAIError folds transport failures into domain errors the runner can word.
func mapOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: model not found (%d)", domain.ErrUpstreamUnavailable, apiErr.StatusCode)
		case apiErr.StatusCode == http.StatusGatewayTimeout || apiErr.StatusCode == http.StatusRequestTimeout:
			return fmt.Errorf("%w: http %d", domain.ErrUpstreamTimeout, apiErr.StatusCode)
		default:
			return fmt.Errorf("%w: http %d", domain.ErrUpstreamUnavailable, apiErr.StatusCode)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
