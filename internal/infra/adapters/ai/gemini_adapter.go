// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"learnmate/internal/domain"
	"learnmate/internal/domain/ports/adapter"
)

var _ adapter.LLM = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	temperature  float64
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, temperature float64) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel, temperature: temperature}, nil
}

func (g *GeminiAdapter) Provider() string { return "gemini" }

func (g *GeminiAdapter) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
		}
		if m != nil && m.Name != "" {
			out = append(out, m.Name)
		}
	}
	return out, nil
}

func (g *GeminiAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	system, contents := toGenAIContents(messages)
	if system != nil {
		contents = append([]*genai.Content{system}, contents...)
	}
	resp, err := g.client.Models.CountTokens(ctx, modelOrDefault(model, g.defaultModel), contents, nil)
	if err != nil {
		return EstimateMessages(messages), nil
	}
	return int(resp.TotalTokens), nil
}

func (g *GeminiAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	system, contents := toGenAIContents(messages)
	if len(contents) == 0 {
		return "", adapter.Usage{}, fmt.Errorf("gemini: no messages: %w", domain.ErrInvalidArgument)
	}
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if g.temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(g.temperature))
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelOrDefault(model, g.defaultModel), contents, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", adapter.Usage{}, fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return "", adapter.Usage{}, err
		}
		return "", adapter.Usage{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p != nil {
				sb.WriteString(p.Text)
			}
		}
	}
	u := adapter.Usage{}
	if resp != nil && resp.UsageMetadata != nil {
		u.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		u.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", u, domain.ErrEmptyCompletion
	}
	return text, u, nil
}

// toGenAIContents splits system messages out into a single system instruction;
// Gemini has no system role inside the conversation.
func toGenAIContents(msgs []adapter.Message) (*genai.Content, []*genai.Content) {
	var system []string
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role = genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, m.Content)
			continue
		case "assistant", "model":
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	if len(system) == 0 {
		return nil, out
	}
	return genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser), out
}
