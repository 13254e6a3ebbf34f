package ai

import (
	"context"
	"time"

	"learnmate/internal/domain/ports/adapter"
	"learnmate/internal/infra/metrics"
)

var _ adapter.LLM = (*limitedLLM)(nil)

// limitedLLM caps concurrent generations and records per-call metrics.
// Waiting for a slot honors ctx.
type limitedLLM struct {
	inner adapter.LLM
	sem   chan struct{}
}

func NewLimitedLLM(inner adapter.LLM, maxConcurrent int) adapter.LLM {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &limitedLLM{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedLLM) Provider() string { return l.inner.Provider() }

func (l *limitedLLM) ListModels(ctx context.Context) ([]string, error) {
	return l.inner.ListModels(ctx)
}

// CountTokens does not take a slot; it is local or cheap for every backend.
func (l *limitedLLM) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return l.inner.CountTokens(ctx, model, messages)
}

func (l *limitedLLM) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	defer func() { <-l.sem }()

	metrics.IncLLMInFlight()
	defer metrics.DecLLMInFlight()

	start := time.Now()
	text, u, err := l.inner.ChatWithUsage(ctx, model, messages)
	metrics.ObserveLLMCall(l.inner.Provider(), model, u.PromptTokens, u.CompletionTokens, time.Since(start), err == nil)
	return text, u, err
}
