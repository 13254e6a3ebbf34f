package adapter

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Usage for a single chat call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLM is the port for the text-completion backend. Calls may take minutes.
type LLM interface {
	// Provider names the backend for logs and metrics ("ollama", "gemini", ...).
	Provider() string
	ListModels(ctx context.Context) ([]string, error)

	// CountTokens returns prompt tokens for messages (best-effort when exact isn't available).
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)

	// ChatWithUsage returns assistant text + usage as reported by the provider.
	ChatWithUsage(ctx context.Context, model string, messages []Message) (string, Usage, error)
}
