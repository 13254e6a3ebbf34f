package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"learnmate/internal/domain/ports/adapter"
)

var _ adapter.LLM = (*NoopLLM)(nil)

// NoopLLM answers locally for dev and demos. It echoes the last user message
// after Delay, honoring ctx.
type NoopLLM struct {
	Delay time.Duration
}

func NewNoopLLM(delay time.Duration) *NoopLLM {
	return &NoopLLM{Delay: delay}
}

func (a *NoopLLM) Provider() string { return "noop" }

func (a *NoopLLM) ListModels(context.Context) ([]string, error) {
	return []string{"noop"}, nil
}

func (a *NoopLLM) CountTokens(_ context.Context, _ string, messages []adapter.Message) (int, error) {
	return EstimateMessages(messages), nil
}

func (a *NoopLLM) ChatWithUsage(ctx context.Context, _ string, messages []adapter.Message) (string, adapter.Usage, error) {
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return "", adapter.Usage{}, ctx.Err()
		}
	}
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = strings.TrimSpace(messages[i].Content)
			break
		}
	}
	reply := fmt.Sprintf("You said: %s", last)
	prompt := EstimateMessages(messages)
	completion := EstimateTokens(reply)
	return reply, adapter.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}, nil
}
