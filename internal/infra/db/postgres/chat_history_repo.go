// File: internal/infra/db/postgres/chat_history_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/repository"
	"learnmate/internal/infra/security"
)

// ChatHistoryRepo persists messages in insertion order (seq), with optional
// encryption-at-rest of the content column.
var _ repository.ChatHistoryRepository = (*ChatHistoryRepo)(nil)

type ChatHistoryRepo struct {
	pool   *pgxpool.Pool
	cipher *security.MessageCipher
}

func NewChatHistoryRepo(pool *pgxpool.Pool, cipher *security.MessageCipher) *ChatHistoryRepo {
	return &ChatHistoryRepo{pool: pool, cipher: cipher}
}

func (r *ChatHistoryRepo) Append(ctx context.Context, tx repository.Tx, m *model.ChatMessage) error {
	payload, err := r.cipher.Seal(m.SessionID, m.Content)
	if err != nil {
		return fmt.Errorf("encrypt msg: %w", err)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	const q = `
INSERT INTO chat_messages (id, session_id, role, content, tokens, encrypted, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`
	if _, err := execSQL(ctx, r.pool, tx, q, m.ID, m.SessionID, m.Role, payload, m.Tokens, r.cipher.Enabled(), m.Timestamp); err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

const chatMessageColumns = `id, session_id, role, content, tokens, encrypted,
feedback_is_positive, feedback_comment, feedback_at, created_at`

func (r *ChatHistoryRepo) List(ctx context.Context, tx repository.Tx, sessionID string) ([]model.ChatMessage, error) {
	q := `SELECT ` + chatMessageColumns + ` FROM chat_messages WHERE session_id = $1 ORDER BY seq ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	out := make([]model.ChatMessage, 0)
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *ChatHistoryRepo) FindByID(ctx context.Context, tx repository.Tx, sessionID, messageID string) (*model.ChatMessage, error) {
	q := `SELECT ` + chatMessageColumns + ` FROM chat_messages WHERE session_id = $1 AND id = $2;`
	m, err := r.scan(pickRow(ctx, r.pool, tx, q, sessionID, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// SetFeedback overwrites any earlier feedback on the message.
func (r *ChatHistoryRepo) SetFeedback(ctx context.Context, tx repository.Tx, sessionID, messageID string, fb model.MessageFeedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	const q = `
UPDATE chat_messages
SET feedback_is_positive = $3, feedback_comment = $4, feedback_at = $5
WHERE session_id = $1 AND id = $2;`
	tag, err := execSQL(ctx, r.pool, tx, q, sessionID, messageID, fb.IsPositive, fb.Comment, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ChatHistoryRepo) Clear(ctx context.Context, tx repository.Tx, sessionID string) (int64, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM chat_messages WHERE session_id = $1;`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ChatHistoryRepo) scan(row pgx.Row) (*model.ChatMessage, error) {
	var (
		m         model.ChatMessage
		encrypted bool
		fbPos     *bool
		fbComment *string
		fbAt      *time.Time
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Tokens, &encrypted,
		&fbPos, &fbComment, &fbAt, &m.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	if encrypted {
		if !r.cipher.Enabled() {
			return nil, fmt.Errorf("message %s is encrypted but no key is configured", m.ID)
		}
		plain, err := r.cipher.Open(m.SessionID, m.Content)
		if err != nil {
			return nil, fmt.Errorf("decrypt msg: %w", err)
		}
		m.Content = plain
	}
	if fbPos != nil {
		fb := &model.MessageFeedback{IsPositive: *fbPos}
		if fbComment != nil {
			fb.Comment = *fbComment
		}
		if fbAt != nil {
			fb.CreatedAt = *fbAt
		}
		m.Feedback = fb
	}
	return &m, nil
}
