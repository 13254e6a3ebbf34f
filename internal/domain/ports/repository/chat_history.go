package repository

import (
	"context"

	"learnmate/internal/domain/model"
)

// -----------------------------
// Chat history & study sessions
// -----------------------------

type ChatHistoryRepository interface {
	// Append stores a message at the end of the session's history.
	Append(ctx context.Context, tx Tx, msg *model.ChatMessage) error
	// List returns the session's history in insertion order (empty, never nil error, for none).
	List(ctx context.Context, tx Tx, sessionID string) ([]model.ChatMessage, error)
	FindByID(ctx context.Context, tx Tx, sessionID, messageID string) (*model.ChatMessage, error)
	SetFeedback(ctx context.Context, tx Tx, sessionID, messageID string, fb model.MessageFeedback) error
	Clear(ctx context.Context, tx Tx, sessionID string) (int64, error)
}

type StudySessionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.StudySession) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.StudySession, error)
	Delete(ctx context.Context, tx Tx, id string) error
}
