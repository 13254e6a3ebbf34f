// File: internal/usecase/chat_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/repository"
	"learnmate/internal/infra/logging"
)

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

// ChatUseCase is the chat surface of a study session. Every call is scoped to
// the authenticated user: foreign sessions fail with domain.ErrForbidden.
type ChatUseCase interface {
	Submit(ctx context.Context, userID, sessionID, message string) (requestID string, err error)
	GetStatus(ctx context.Context, userID, sessionID, requestID string) (*model.ChatRequest, error)
	GetHistory(ctx context.Context, userID, sessionID string) ([]model.ChatMessage, error)
	SendSync(ctx context.Context, userID, sessionID, message string) (*model.ChatMessage, error)
	AddFeedback(ctx context.Context, userID, sessionID, messageID string, isPositive bool, comment string) (*model.ChatMessage, error)
	ClearHistory(ctx context.Context, userID, sessionID string) (int64, error)
}

// Runner is the part of the job runner the use case drives.
type Runner interface {
	Submit(ctx context.Context, sessionID, message string) (string, error)
	RunSync(ctx context.Context, sessionID, message string) (*model.ChatMessage, *model.ChatRequest, error)
}

const maxFeedbackComment = 2000

type chatUC struct {
	runner      Runner
	requests    repository.ChatRequestRepository
	history     repository.ChatHistoryRepository
	sessions    repository.StudySessionRepository
	tm          repository.TransactionManager
	syncTimeout time.Duration
	log         *zerolog.Logger
}

func NewChatUseCase(
	runner Runner,
	requests repository.ChatRequestRepository,
	history repository.ChatHistoryRepository,
	sessions repository.StudySessionRepository,
	tm repository.TransactionManager,
	syncTimeout time.Duration,
	logger *zerolog.Logger,
) *chatUC {
	if syncTimeout <= 0 {
		syncTimeout = 2 * time.Hour
	}
	return &chatUC{
		runner:      runner,
		requests:    requests,
		history:     history,
		sessions:    sessions,
		tm:          tm,
		syncTimeout: syncTimeout,
		log:         logger,
	}
}

func (c *chatUC) Submit(ctx context.Context, userID, sessionID, message string) (string, error) {
	defer logging.TraceDuration(c.log, "ChatUC.Submit")()
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message must not be empty: %w", domain.ErrInvalidArgument)
	}
	if _, err := authorize(ctx, c.sessions, userID, sessionID); err != nil {
		return "", err
	}
	return c.runner.Submit(ctx, sessionID, message)
}

// GetStatus is a pure read. A complete request whose result went missing is
// answered from history without writing anything back.
func (c *chatUC) GetStatus(ctx context.Context, userID, sessionID, requestID string) (*model.ChatRequest, error) {
	if _, err := authorize(ctx, c.sessions, userID, sessionID); err != nil {
		return nil, err
	}
	req, err := c.requests.FindByID(ctx, repository.NoTX, requestID)
	if err != nil {
		return nil, err
	}
	if req.SessionID != sessionID {
		return nil, domain.ErrNotFound
	}
	if req.Status == model.ChatRequestComplete && req.Result.Empty() {
		history, err := c.history.List(ctx, repository.NoTX, sessionID)
		if err != nil {
			logging.With(ctx, c.log).Warn().Err(err).Str("request_id", requestID).Msg("status read-through failed")
			return req, nil
		}
		if m := answerFor(req, history); m != nil {
			req.Result = &model.ChatResult{Content: m.Content, MessageID: m.ID, Timestamp: m.Timestamp}
		}
	}
	return req, nil
}

// answerFor finds the stored answer of a complete request: by result message id
// when known, else the first assistant message written after submission.
func answerFor(req *model.ChatRequest, history []model.ChatMessage) *model.ChatMessage {
	if req.Result != nil && req.Result.MessageID != "" {
		for i := range history {
			if history[i].ID == req.Result.MessageID && strings.TrimSpace(history[i].Content) != "" {
				m := history[i]
				return &m
			}
		}
	}
	// one request in flight per session: the first answer after submission is ours
	for _, m := range history {
		if m.Timestamp.Before(req.CreatedAt) {
			continue
		}
		if m.Role == model.RoleAssistant && strings.TrimSpace(m.Content) != "" {
			return &m
		}
	}
	return nil
}

func (c *chatUC) GetHistory(ctx context.Context, userID, sessionID string) ([]model.ChatMessage, error) {
	if _, err := authorize(ctx, c.sessions, userID, sessionID); err != nil {
		return nil, err
	}
	history, err := c.history.List(ctx, repository.NoTX, sessionID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []model.ChatMessage{}
	}
	return history, nil
}

// SendSync blocks until the answer is stored or syncTimeout passes. A timeout
// surfaces as domain.ErrUpstreamTimeout.
func (c *chatUC) SendSync(ctx context.Context, userID, sessionID, message string) (*model.ChatMessage, error) {
	defer logging.TraceDuration(c.log, "ChatUC.SendSync")()
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message must not be empty: %w", domain.ErrInvalidArgument)
	}
	if _, err := authorize(ctx, c.sessions, userID, sessionID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	msg, _, err := c.runner.RunSync(ctx, sessionID, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstreamTimeout) {
			return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		return nil, err
	}
	return msg, nil
}

func (c *chatUC) AddFeedback(ctx context.Context, userID, sessionID, messageID string, isPositive bool, comment string) (*model.ChatMessage, error) {
	if _, err := authorize(ctx, c.sessions, userID, sessionID); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxFeedbackComment {
		return nil, fmt.Errorf("comment longer than %d characters: %w", maxFeedbackComment, domain.ErrInvalidArgument)
	}

	var out *model.ChatMessage
	err := c.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		msg, err := c.history.FindByID(ctx, tx, sessionID, messageID)
		if err != nil {
			return err
		}
		if msg.Role != model.RoleAssistant {
			return fmt.Errorf("feedback is only accepted on assistant messages: %w", domain.ErrInvalidArgument)
		}
		fb := model.MessageFeedback{IsPositive: isPositive, Comment: comment, CreatedAt: time.Now()}
		if err := c.history.SetFeedback(ctx, tx, sessionID, messageID, fb); err != nil {
			return err
		}
		msg.Feedback = &fb
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClearHistory is refused while a request is in flight, so a late answer cannot
// land in an emptied conversation.
func (c *chatUC) ClearHistory(ctx context.Context, userID, sessionID string) (int64, error) {
	if _, err := authorize(ctx, c.sessions, userID, sessionID); err != nil {
		return 0, err
	}
	var n int64
	err := c.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		busy, err := c.requests.HasInFlight(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if busy {
			return domain.ErrSessionBusy
		}
		n, err = c.history.Clear(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return 0, err
	}
	logging.With(ctx, c.log).Info().Str("session_id", sessionID).Int64("deleted", n).Msg("chat history cleared")
	return n, nil
}
