// File: internal/infra/db/postgres/chat_request_repo.go
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

var _ repository.ChatRequestRepository = (*ChatRequestRepo)(nil)

const inFlightIndex = "uq_chat_requests_in_flight"

// ChatRequestRepo seals the user's message and the answer copy with the same
// per-session cipher as chat_messages.
type ChatRequestRepo struct {
	pool   *pgxpool.Pool
	cipher *security.MessageCipher
}

func NewChatRequestRepo(pool *pgxpool.Pool, cipher *security.MessageCipher) *ChatRequestRepo {
	return &ChatRequestRepo{pool: pool, cipher: cipher}
}

const chatRequestColumns = `id, session_id, message, status, result_content, result_message_id, result_at,
error_detail, created_at, updated_at, completed_at, encrypted`

func (r *ChatRequestRepo) Create(ctx context.Context, tx repository.Tx, req *model.ChatRequest) error {
	message, err := r.cipher.Seal(req.SessionID, req.Message)
	if err != nil {
		return fmt.Errorf("encrypt request message: %w", err)
	}
	const q = `
INSERT INTO chat_requests (id, session_id, message, status, created_at, updated_at, encrypted)
VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err = execSQL(ctx, r.pool, tx, q, req.ID, req.SessionID, message, string(req.Status), req.CreatedAt, req.UpdatedAt, r.cipher.Enabled())
	if err != nil {
		if isUniqueViolation(err, inFlightIndex) {
			return domain.ErrSessionBusy
		}
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert chat request: %w", err)
	}
	return nil
}

func (r *ChatRequestRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChatRequest, error) {
	q := `SELECT ` + chatRequestColumns + ` FROM chat_requests WHERE id = $1;`
	req, err := r.scan(pickRow(ctx, r.pool, tx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find chat request: %w", err)
	}
	return req, nil
}

func (r *ChatRequestRepo) MarkProcessing(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE chat_requests SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending';`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finish only touches rows that are not terminal yet; a terminal row is never rewritten.
func (r *ChatRequestRepo) Finish(ctx context.Context, tx repository.Tx, req *model.ChatRequest) (bool, error) {
	if !req.Status.Terminal() {
		return false, fmt.Errorf("finish with non-terminal status %q: %w", req.Status, domain.ErrInvalidArgument)
	}
	var content, msgID *string
	var resAt *time.Time
	if req.Result != nil {
		sealed, err := r.cipher.Seal(req.SessionID, req.Result.Content)
		if err != nil {
			return false, fmt.Errorf("encrypt result: %w", err)
		}
		content, msgID, resAt = &sealed, &req.Result.MessageID, &req.Result.Timestamp
	}
	completed := time.Now()
	if req.CompletedAt != nil {
		completed = *req.CompletedAt
	}
	const q = `
UPDATE chat_requests
SET status = $2, result_content = $3, result_message_id = $4, result_at = $5,
    error_detail = $6, updated_at = NOW(), completed_at = $7
WHERE id = $1 AND status IN ('pending', 'processing');`
	tag, err := execSQL(ctx, r.pool, tx, q, req.ID, string(req.Status), content, msgID, resAt, req.ErrorDetail, completed)
	if err != nil {
		return false, fmt.Errorf("finish chat request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ChatRequestRepo) HasInFlight(ctx context.Context, tx repository.Tx, sessionID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM chat_requests WHERE session_id = $1 AND status IN ('pending', 'processing'));`
	var ok bool
	if err := pickRow(ctx, r.pool, tx, q, sessionID).Scan(&ok); err != nil {
		return false, fmt.Errorf("in-flight check: %w", err)
	}
	return ok, nil
}

// ListPendingBefore returns the oldest pending requests first.
func (r *ChatRequestRepo) ListPendingBefore(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.ChatRequest, error) {
	q := `SELECT ` + chatRequestColumns + `
FROM chat_requests
WHERE status = 'pending' AND created_at < $1
ORDER BY created_at ASC
LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	var out []*model.ChatRequest
	for rows.Next() {
		req, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *ChatRequestRepo) FailStaleProcessing(ctx context.Context, tx repository.Tx, before time.Time, detail string) (int64, error) {
	const q = `
UPDATE chat_requests
SET status = 'error', error_detail = $2, updated_at = NOW(), completed_at = NOW()
WHERE status = 'processing' AND updated_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, before, detail)
	if err != nil {
		return 0, fmt.Errorf("fail stale processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ChatRequestRepo) DeleteFinishedBefore(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	const q = `DELETE FROM chat_requests WHERE status IN ('complete', 'error') AND completed_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, before)
	if err != nil {
		return 0, fmt.Errorf("delete finished: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ChatRequestRepo) scan(row pgx.Row) (*model.ChatRequest, error) {
	var (
		req             model.ChatRequest
		status          string
		content, msgID  *string
		resAt, complete *time.Time
		encrypted       bool
	)
	if err := row.Scan(&req.ID, &req.SessionID, &req.Message, &status, &content, &msgID, &resAt,
		&req.ErrorDetail, &req.CreatedAt, &req.UpdatedAt, &complete, &encrypted); err != nil {
		return nil, err
	}
	if encrypted {
		if !r.cipher.Enabled() {
			return nil, fmt.Errorf("request %s is encrypted but no key is configured", req.ID)
		}
		plain, err := r.cipher.Open(req.SessionID, req.Message)
		if err != nil {
			return nil, fmt.Errorf("decrypt request message: %w", err)
		}
		req.Message = plain
		if content != nil {
			answer, err := r.cipher.Open(req.SessionID, *content)
			if err != nil {
				return nil, fmt.Errorf("decrypt result: %w", err)
			}
			content = &answer
		}
	}
	req.Status = model.ChatRequestStatus(status)
	req.CompletedAt = complete
	if content != nil || msgID != nil {
		res := model.ChatResult{}
		if content != nil {
			res.Content = *content
		}
		if msgID != nil {
			res.MessageID = *msgID
		}
		if resAt != nil {
			res.Timestamp = *resAt
		}
		req.Result = &res
	}
	return &req, nil
}
