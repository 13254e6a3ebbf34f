package repository

import (
	"context"
	"time"

	"learnmate/internal/domain/model"
)

// ChatRequestRepository is the durable request store.
type ChatRequestRepository interface {
	// Create inserts a pending request. It fails with domain.ErrSessionBusy when the
	// session already has a pending or processing request.
	Create(ctx context.Context, tx Tx, req *model.ChatRequest) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ChatRequest, error)
	// MarkProcessing moves a pending request to processing. It returns false when the
	// request was not pending anymore (another worker owns it).
	MarkProcessing(ctx context.Context, tx Tx, id string) (bool, error)
	// Finish writes a terminal status and result/error. It returns false when the
	// request was already terminal.
	Finish(ctx context.Context, tx Tx, req *model.ChatRequest) (bool, error)
	HasInFlight(ctx context.Context, tx Tx, sessionID string) (bool, error)
	ListPendingBefore(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.ChatRequest, error)
	FailStaleProcessing(ctx context.Context, tx Tx, before time.Time, detail string) (int64, error)
	DeleteFinishedBefore(ctx context.Context, tx Tx, before time.Time) (int64, error)
}
