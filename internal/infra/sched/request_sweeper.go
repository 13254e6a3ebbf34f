package sched

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/repository"
	"learnmate/internal/infra/i18n"
	"learnmate/internal/infra/metrics"
	red "learnmate/internal/infra/redis"
)

const (
	sweeperLockKey   = "lock:chat_request_sweeper"
	redispatchBatch  = 50
)

// RequestDispatcher re-queues a pending request; false means the queue was full.
type RequestDispatcher interface {
	Dispatch(ctx context.Context, requestID string) bool
}

type SweeperConfig struct {
	Interval      time.Duration
	RecoveryAfter time.Duration // pending this long was lost or dropped
	StaleAfter    time.Duration // processing this long will never finish
	Retention     time.Duration // terminal rows older than this are deleted
}

type SweepStats struct {
	Redispatched int
	FailedStale  int64
	Deleted      int64
}

// RequestSweeper repairs the request table after restarts and full queues.
// With a locker configured only one replica sweeps at a time.
type RequestSweeper struct {
	cfg      SweeperConfig
	requests repository.ChatRequestRepository
	tm       repository.TransactionManager
	dispatch RequestDispatcher
	locker   red.Locker
	log      *zerolog.Logger
	now      func() time.Time
}

func NewRequestSweeper(cfg SweeperConfig, requests repository.ChatRequestRepository, tm repository.TransactionManager,
	dispatch RequestDispatcher, locker red.Locker, logger *zerolog.Logger) *RequestSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	l := logger.With().Str("component", "RequestSweeper").Logger()
	return &RequestSweeper{cfg: cfg, requests: requests, tm: tm, dispatch: dispatch, locker: locker, log: &l, now: time.Now}
}

// Run sweeps once at startup, to pick up work lost by the previous process,
// then on every tick.
func (w *RequestSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.cfg.Interval).Msg("Starting request sweeper")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping request sweeper")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *RequestSweeper) tick(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweeperLockKey, w.cfg.Interval)
		if err != nil {
			if !errors.Is(err, red.ErrLockHeld) && ctx.Err() == nil {
				w.log.Warn().Err(err).Msg("sweeper lock unavailable")
			}
			return
		}
		defer func() { _ = w.locker.Unlock(context.WithoutCancel(ctx), sweeperLockKey, token) }()
	}
	st, err := w.SweepOnce(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("request sweep error")
	}
	if st.Redispatched > 0 || st.FailedStale > 0 || st.Deleted > 0 {
		w.log.Info().Int("redispatched", st.Redispatched).Int64("failed_stale", st.FailedStale).
			Int64("deleted", st.Deleted).Msg("request sweep")
	}
}

// SweepOnce runs the three repairs in order; an error in one does not skip the others.
func (w *RequestSweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var st SweepStats
	var errs []error
	now := w.now()

	if w.cfg.StaleAfter > 0 {
		n, err := w.requests.FailStaleProcessing(ctx, repository.NoTX, now.Add(-w.cfg.StaleAfter), i18n.T("failure.interrupted"))
		if err != nil {
			errs = append(errs, err)
		}
		st.FailedStale = n
		metrics.AddSweeperAction("failed_stale", n)
	}

	if w.cfg.RecoveryAfter > 0 && w.dispatch != nil {
		var pending []*model.ChatRequest
		err := w.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			var err error
			pending, err = w.requests.ListPendingBefore(ctx, tx, now.Add(-w.cfg.RecoveryAfter), redispatchBatch)
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
		for _, req := range pending {
			if !w.dispatch.Dispatch(ctx, req.ID) {
				break
			}
			st.Redispatched++
		}
		metrics.AddSweeperAction("redispatched", int64(st.Redispatched))
	}

	if w.cfg.Retention > 0 {
		n, err := w.requests.DeleteFinishedBefore(ctx, repository.NoTX, now.Add(-w.cfg.Retention))
		if err != nil {
			errs = append(errs, err)
		}
		st.Deleted = n
		metrics.AddSweeperAction("deleted", n)
	}
	return st, errors.Join(errs...)
}
