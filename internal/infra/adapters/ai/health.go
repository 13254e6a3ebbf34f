package ai

import (
	"context"
	"fmt"
	"strings"

	"learnmate/internal/domain"
	"learnmate/internal/domain/ports/adapter"
)

// ModelCheck returns a health check that passes when the backend is reachable
// and serves model. Gemini lists names as "models/<id>".
func ModelCheck(llm adapter.LLM, model string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		models, err := llm.ListModels(ctx)
		if err != nil {
			return err
		}
		for _, m := range models {
			if m == model || strings.TrimPrefix(m, "models/") == model {
				return nil
			}
		}
		return fmt.Errorf("model %q not served by %s: %w", model, llm.Provider(), domain.ErrUpstreamUnavailable)
	}
}
