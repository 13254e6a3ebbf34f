// File: internal/infra/worker/chat_runner.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/adapter"
	"learnmate/internal/domain/ports/repository"
	"learnmate/internal/infra/adapters/ai"
	"learnmate/internal/infra/i18n"
	"learnmate/internal/infra/logging"
	"learnmate/internal/infra/metrics"
	red "learnmate/internal/infra/redis"
)

// Dispatcher hands a task to background workers without blocking.
type Dispatcher interface {
	Submit(task Task) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type RunnerConfig struct {
	Model               string
	LLMTimeout          time.Duration
	ContextTokens       int
	HistoryMessages     int
	SubmitRatePerMinute int
	Dev                 bool
}

// ChatRunner owns the request lifecycle: it records submissions, schedules the
// unit of work, and is the only writer of request status.
type ChatRunner struct {
	requests repository.ChatRequestRepository
	history  repository.ChatHistoryRepository
	sessions repository.StudySessionRepository
	tm       repository.TransactionManager
	llm      adapter.LLM
	pool     Dispatcher
	limiter  RateLimiter
	cfg      RunnerConfig
	log      *zerolog.Logger

	newRequestID func() string
	now          func() time.Time

	mu     sync.Mutex
	queued map[string]struct{} // dispatched but not yet picked up by a worker
}

func NewChatRunner(
	requests repository.ChatRequestRepository,
	history repository.ChatHistoryRepository,
	sessions repository.StudySessionRepository,
	tm repository.TransactionManager,
	llm adapter.LLM,
	pool Dispatcher,
	limiter RateLimiter,
	cfg RunnerConfig,
	log *zerolog.Logger,
) *ChatRunner {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 2 * time.Hour
	}
	l := log.With().Str("component", "chat_runner").Logger()
	return &ChatRunner{
		requests:     requests,
		history:      history,
		sessions:     sessions,
		tm:           tm,
		llm:          llm,
		pool:         pool,
		limiter:      limiter,
		cfg:          cfg,
		log:          &l,
		newRequestID: func() string { return ulid.Make().String() },
		now:          time.Now,
		queued:       make(map[string]struct{}),
	}
}

// Submit records a pending request plus the user's message and schedules the
// answer in the background. It returns as soon as the request is durable.
func (r *ChatRunner) Submit(ctx context.Context, sessionID, message string) (string, error) {
	req, err := r.accept(ctx, sessionID, message)
	if err != nil {
		return "", err
	}
	r.Dispatch(ctx, req.ID)
	return req.ID, nil
}

// Dispatch queues the unit of work for a pending request. A full queue leaves
// the request pending for the recovery sweep. A request still waiting in the
// queue is not queued twice.
func (r *ChatRunner) Dispatch(ctx context.Context, requestID string) bool {
	r.mu.Lock()
	if _, ok := r.queued[requestID]; ok {
		r.mu.Unlock()
		r.log.Debug().Str("request_id", requestID).Msg("request already queued")
		return true
	}
	r.queued[requestID] = struct{}{}
	r.mu.Unlock()

	err := r.pool.Submit(func(ctx context.Context) error {
		r.dequeued(requestID)
		return r.Process(ctx, requestID)
	})
	if err != nil {
		r.dequeued(requestID)
		logging.With(ctx, r.log).Warn().Err(err).Str("request_id", requestID).Msg("unit of work deferred to recovery sweep")
		metrics.IncChatRequest("deferred")
		return false
	}
	return true
}

func (r *ChatRunner) dequeued(requestID string) {
	r.mu.Lock()
	delete(r.queued, requestID)
	r.mu.Unlock()
}

// Process claims a pending request and drives it to a terminal status.
// A request already claimed elsewhere is left alone.
func (r *ChatRunner) Process(ctx context.Context, requestID string) error {
	claimed, err := r.requests.MarkProcessing(ctx, repository.NoTX, requestID)
	if err != nil {
		return fmt.Errorf("claim request %s: %w", requestID, err)
	}
	if !claimed {
		r.log.Debug().Str("request_id", requestID).Msg("request already claimed")
		return nil
	}
	req, err := r.requests.FindByID(ctx, repository.NoTX, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	_, _ = r.execute(ctx, req)
	return nil
}

// RunSync is the blocking variant: same request record and unit of work, run
// on the caller's goroutine. The caller's ctx bounds the wait.
func (r *ChatRunner) RunSync(ctx context.Context, sessionID, message string) (*model.ChatMessage, *model.ChatRequest, error) {
	req, err := r.accept(ctx, sessionID, message)
	if err != nil {
		return nil, nil, err
	}
	claimed, err := r.requests.MarkProcessing(ctx, repository.NoTX, req.ID)
	if err != nil {
		return nil, req, fmt.Errorf("claim request %s: %w", req.ID, err)
	}
	if !claimed {
		// the sweeper only re-dispatches old requests; this cannot race in practice
		return nil, req, fmt.Errorf("request %s claimed elsewhere: %w", req.ID, domain.ErrSessionBusy)
	}
	req.Status = model.ChatRequestProcessing
	msg, err := r.execute(ctx, req)
	return msg, req, err
}

func (r *ChatRunner) accept(ctx context.Context, sessionID, message string) (*model.ChatRequest, error) {
	text := strings.TrimSpace(message)
	if text == "" {
		metrics.IncChatRequest("rejected")
		return nil, fmt.Errorf("message must not be empty: %w", domain.ErrInvalidArgument)
	}
	if _, err := r.sessions.FindByID(ctx, repository.NoTX, sessionID); err != nil {
		return nil, err
	}
	if err := r.checkRate(ctx, sessionID); err != nil {
		metrics.IncChatRequest("rejected")
		return nil, err
	}

	req := model.NewChatRequest(r.newRequestID(), sessionID, text)
	req.CreatedAt, req.UpdatedAt = r.now(), r.now()
	userMsg := &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      model.RoleUser,
		Content:   text,
		Timestamp: req.CreatedAt,
		// local estimate; the backend's counter may be a network call
		Tokens: ai.EstimateTokens(text),
	}

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := r.requests.Create(ctx, tx, req); err != nil {
			return err
		}
		return r.history.Append(ctx, tx, userMsg)
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			metrics.IncChatRequest("rejected")
		}
		return nil, err
	}

	metrics.IncChatRequest("submitted")
	logging.With(logging.WithRequestID(ctx, req.ID), r.log).Info().
		Str("session_id", sessionID).
		Str("message", logging.Redact(text, r.cfg.Dev)).
		Msg("chat request accepted")
	return req, nil
}

// checkRate fails open when Redis is unreachable; the database still enforces
// one in-flight request per session.
func (r *ChatRunner) checkRate(ctx context.Context, sessionID string) error {
	if r.limiter == nil || r.cfg.SubmitRatePerMinute <= 0 {
		return nil
	}
	ok, err := r.limiter.Allow(ctx, red.SessionSubmitKey(sessionID), r.cfg.SubmitRatePerMinute, time.Minute)
	if err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// execute runs the LLM call for a processing request and records the outcome.
// Every path, including a panic, leaves the request terminal.
func (r *ChatRunner) execute(ctx context.Context, req *model.ChatRequest) (msg *model.ChatMessage, err error) {
	lctx := logging.WithSessID(logging.WithRequestID(ctx, req.ID), req.SessionID)
	log := logging.With(lctx, r.log)
	defer logging.TraceDuration(log, "ChatRunner.execute")()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("unit of work panicked")
			err = fmt.Errorf("panic while generating answer: %v", rec)
			r.fail(ctx, req, err)
			msg = nil
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
	defer cancel()
	reply, usage, err := r.answer(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstreamTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		log.Warn().Err(err).Msg("chat request failed")
		r.fail(ctx, req, err)
		return nil, err
	}

	msg, err = r.complete(ctx, req, reply, usage)
	if err != nil {
		log.Error().Err(err).Msg("could not store answer")
		r.fail(ctx, req, err)
		return nil, err
	}
	log.Info().Str("message_id", msg.ID).Int("completion_tokens", usage.CompletionTokens).Msg("chat request complete")
	return msg, nil
}

func (r *ChatRunner) answer(ctx context.Context, req *model.ChatRequest) (string, adapter.Usage, error) {
	session, err := r.sessions.FindByID(ctx, repository.NoTX, req.SessionID)
	if err != nil {
		return "", adapter.Usage{}, fmt.Errorf("load session: %w", err)
	}
	history, err := r.history.List(ctx, repository.NoTX, req.SessionID)
	if err != nil {
		return "", adapter.Usage{}, fmt.Errorf("load history: %w", err)
	}
	prompt := buildPrompt(session, priorHistory(history, req.Message), req.Message, r.cfg.ContextTokens, r.cfg.HistoryMessages)
	reply, usage, err := r.llm.ChatWithUsage(ctx, r.cfg.Model, prompt)
	if err != nil {
		return "", usage, err
	}
	if strings.TrimSpace(reply) == "" {
		return "", usage, domain.ErrEmptyCompletion
	}
	return reply, usage, nil
}

var errAlreadyFinished = errors.New("request already finished")

// complete appends the answer and marks the request complete in one transaction.
func (r *ChatRunner) complete(ctx context.Context, req *model.ChatRequest, reply string, usage adapter.Usage) (*model.ChatMessage, error) {
	wctx, cancel := finishContext(ctx)
	defer cancel()

	msg := &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      model.RoleAssistant,
		Content:   reply,
		Tokens:    usage.CompletionTokens,
		Timestamp: r.now(),
	}
	done := *req
	done.Complete(model.ChatResult{Content: msg.Content, MessageID: msg.ID, Timestamp: msg.Timestamp})

	err := r.tm.WithTx(wctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := r.history.Append(ctx, tx, msg); err != nil {
			return err
		}
		ok, err := r.requests.Finish(ctx, tx, &done)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyFinished
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	*req = done
	metrics.IncChatRequest("complete")
	metrics.ObserveChatRequest("complete", r.now().Sub(req.CreatedAt))
	return msg, nil
}

// fail records the error status; nothing is appended to history.
func (r *ChatRunner) fail(ctx context.Context, req *model.ChatRequest, cause error) {
	if errors.Is(cause, errAlreadyFinished) {
		return
	}
	wctx, cancel := finishContext(ctx)
	defer cancel()

	failed := *req
	if !failed.Fail(FailureDetail(cause, r.cfg.LLMTimeout)) {
		return
	}
	ok, err := r.requests.Finish(wctx, repository.NoTX, &failed)
	if err != nil {
		r.log.Error().Err(err).Str("request_id", req.ID).Msg("could not record request failure")
		return
	}
	if ok {
		*req = failed
		metrics.IncChatRequest("error")
		metrics.ObserveChatRequest("error", r.now().Sub(req.CreatedAt))
	}
}

// finishContext keeps ctx values but not its cancellation, so a timed-out or
// disconnected caller still gets its request finalized.
func finishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

// FailureDetail turns an internal error into the text shown to the user.
func FailureDetail(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return i18n.T("failure.timeout", timeout)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return i18n.T("failure.unavailable")
	case errors.Is(err, domain.ErrEmptyCompletion):
		return i18n.T("failure.empty")
	case errors.Is(err, context.Canceled):
		return i18n.T("failure.cancelled")
	case errors.Is(err, domain.ErrNotFound):
		return i18n.T("failure.session_gone")
	default:
		return i18n.T("failure.internal")
	}
}
