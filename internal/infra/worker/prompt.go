package worker

import (
	"fmt"
	"strings"

	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/adapter"
	"learnmate/internal/infra/adapters/ai"
)

const messageOverhead = 4

func systemPrompt(s *model.StudySession) string {
	var b strings.Builder
	b.WriteString("You are LearnMate, a patient study coach. Help the learner plan and understand their studies. ")
	b.WriteString("Answer clearly, stay on topic and keep answers concise unless asked for detail.")
	fields := []struct{ label, value string }{
		{"Study session", s.Name},
		{"Field of study", s.FieldOfStudy},
		{"Goal", s.StudyGoal},
		{"Background", s.Context},
		{"Time commitment", s.TimeCommitment},
		{"Difficulty level", s.DifficultyLevel},
	}
	for _, f := range fields {
		if v := strings.TrimSpace(f.value); v != "" {
			fmt.Fprintf(&b, "\n%s: %s", f.label, v)
		}
	}
	return b.String()
}

// buildPrompt assembles system prompt, the newest history that fits the token
// budget, and the submitted message last. budget <= 0 disables trimming.
func buildPrompt(s *model.StudySession, history []model.ChatMessage, message string, budget, maxMessages int) []adapter.Message {
	system := systemPrompt(s)
	used := ai.EstimateTokens(system) + ai.EstimateTokens(message) + 2*messageOverhead

	recent := model.RecentMessages(history, maxMessages)
	kept := make([]adapter.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.Role == model.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		cost := ai.EstimateTokens(m.Content) + messageOverhead
		if budget > 0 && used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, adapter.Message{Role: m.Role, Content: m.Content})
	}

	out := make([]adapter.Message, 0, len(kept)+2)
	out = append(out, adapter.Message{Role: model.RoleSystem, Content: system})
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return append(out, adapter.Message{Role: model.RoleUser, Content: message})
}

// priorHistory drops the request's own user message from the tail of history.
func priorHistory(history []model.ChatMessage, message string) []model.ChatMessage {
	if n := len(history); n > 0 && history[n-1].Role == model.RoleUser && history[n-1].Content == message {
		return history[:n-1]
	}
	return history
}
