package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
)

// ErrTimeoutExceeded means the client gave up waiting. The server request is
// not cancelled and may still complete.
var ErrTimeoutExceeded = errors.New("timed out waiting for the answer")

// RequestFailedError carries the server's error_detail of a failed request.
type RequestFailedError struct {
	RequestID string
	Detail    string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request %s failed: %s", e.RequestID, e.Detail)
}

// StatusSource is the part of the API the poller reads.
type StatusSource interface {
	GetStatus(ctx context.Context, sessionID, requestID string) (*model.ChatRequest, error)
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
}

type PollConfig struct {
	Interval        time.Duration
	MaxWait         time.Duration
	EmptyRetryDelay time.Duration
	ErrorGrace      time.Duration
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:        5 * time.Second,
		MaxWait:         2 * time.Hour,
		EmptyRetryDelay: time.Second,
		ErrorGrace:      30 * time.Second,
	}
}

// Progress is reported after every status check.
type Progress struct {
	RequestID string
	Status    model.ChatRequestStatus // empty when the check itself failed
	Attempt   int
	Elapsed   time.Duration
}

type Result struct {
	RequestID   string
	Message     model.ChatMessage
	FromHistory bool
	Elapsed     time.Duration
}

type Poller struct {
	src        StatusSource
	cfg        PollConfig
	onProgress func(Progress)
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	log        *zerolog.Logger
}

func NewPoller(src StatusSource, cfg PollConfig, logger *zerolog.Logger) *Poller {
	def := DefaultPollConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.EmptyRetryDelay <= 0 {
		cfg.EmptyRetryDelay = def.EmptyRetryDelay
	}
	if cfg.ErrorGrace <= 0 {
		cfg.ErrorGrace = def.ErrorGrace
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Poller{src: src, cfg: cfg, now: time.Now, sleep: sleepCtx, log: logger}
}

// OnProgress registers a callback run after each status check.
func (p *Poller) OnProgress(fn func(Progress)) { p.onProgress = fn }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll waits for requestID to resolve.
//
// A complete status without a result is re-checked once after EmptyRetryDelay;
// from the second consecutive empty completion the answer is read from history.
// Status errors are tolerated for ErrorGrace, after which history is consulted
// too. Every call is bounded, so a hung connection counts as an error and
// MaxWait holds regardless. Cancelling ctx stops polling only.
func (p *Poller) Poll(ctx context.Context, sessionID, requestID string) (*Result, error) {
	start := p.now()
	pctx, cancel := context.WithTimeout(ctx, p.cfg.MaxWait)
	defer cancel()
	notBefore, hasTime := requestTime(requestID)

	var (
		attempt  int
		empties  int
		errSince time.Time
	)
	for {
		elapsed := p.now().Sub(start)
		if elapsed > p.cfg.MaxWait {
			return nil, p.timedOut(requestID, elapsed)
		}
		attempt++
		callStart := p.now()
		req, err := p.status(pctx, sessionID, requestID, p.cfg.MaxWait-elapsed)
		if err != nil {
			if pctx.Err() != nil {
				return nil, p.stopped(ctx, requestID, start)
			}
			p.report(requestID, "", attempt, elapsed)
			if errors.Is(err, domain.ErrNotFound) {
				// a finished request may have been garbage collected; only an
				// answer written after the request was created can be its own
				if !hasTime {
					return nil, err
				}
				if res := p.fromHistory(pctx, sessionID, requestID, start, notBefore); res != nil {
					return res, nil
				}
				return nil, err
			}
			if errSince.IsZero() {
				errSince = callStart
			}
			if p.now().Sub(errSince) > p.cfg.ErrorGrace {
				if res := p.fromHistory(pctx, sessionID, requestID, start, notBefore); res != nil {
					return res, nil
				}
			}
			p.log.Debug().Err(err).Str("request_id", requestID).Int("attempt", attempt).Msg("status check failed")
			if err := p.sleep(pctx, p.cfg.Interval); err != nil {
				return nil, p.stopped(ctx, requestID, start)
			}
			continue
		}
		errSince = time.Time{}
		p.report(requestID, req.Status, attempt, elapsed)

		switch req.Status {
		case model.ChatRequestComplete:
			if !req.Result.Empty() {
				return &Result{
					RequestID: requestID,
					Message: model.ChatMessage{
						ID:        req.Result.MessageID,
						SessionID: sessionID,
						Role:      model.RoleAssistant,
						Content:   req.Result.Content,
						Timestamp: req.Result.Timestamp,
					},
					Elapsed: p.now().Sub(start),
				}, nil
			}
			empties++
			if empties == 1 {
				if err := p.sleep(pctx, p.cfg.EmptyRetryDelay); err != nil {
					return nil, p.stopped(ctx, requestID, start)
				}
				continue
			}
			if res := p.fromHistory(pctx, sessionID, requestID, start, notBefore); res != nil {
				return res, nil
			}
		case model.ChatRequestError:
			return nil, &RequestFailedError{RequestID: requestID, Detail: req.ErrorDetail}
		default:
			empties = 0
		}
		if err := p.sleep(pctx, p.cfg.Interval); err != nil {
			return nil, p.stopped(ctx, requestID, start)
		}
	}
}

// callTimeout bounds a single status or history call.
func (p *Poller) callTimeout(remaining time.Duration) time.Duration {
	d := p.cfg.ErrorGrace
	if remaining > 0 && remaining < d {
		d = remaining
	}
	return d
}

func (p *Poller) status(ctx context.Context, sessionID, requestID string, remaining time.Duration) (*model.ChatRequest, error) {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout(remaining))
	defer cancel()
	return p.src.GetStatus(cctx, sessionID, requestID)
}

// stopped distinguishes the caller cancelling from the overall wait running out.
func (p *Poller) stopped(ctx context.Context, requestID string, start time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.timedOut(requestID, p.now().Sub(start))
}

func (p *Poller) timedOut(requestID string, elapsed time.Duration) error {
	unit := time.Second
	if elapsed < time.Second {
		unit = time.Millisecond
	}
	return fmt.Errorf("%w after %s (request %s)", ErrTimeoutExceeded, elapsed.Round(unit), requestID)
}

// requestTime reads the creation time embedded in a ULID request id.
func requestTime(requestID string) (time.Time, bool) {
	id, err := ulid.Parse(requestID)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}

// fromHistory returns the latest answer, provided it is not older than
// notBefore (zero means no bound).
func (p *Poller) fromHistory(ctx context.Context, sessionID, requestID string, start, notBefore time.Time) *Result {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout(p.cfg.MaxWait-p.now().Sub(start)))
	defer cancel()
	history, err := p.src.GetHistory(cctx, sessionID)
	if err != nil {
		p.log.Debug().Err(err).Str("request_id", requestID).Msg("history fallback failed")
		return nil
	}
	msg := model.LatestAnswer(history)
	if msg == nil {
		return nil
	}
	if !notBefore.IsZero() && msg.Timestamp.Before(notBefore) {
		p.log.Debug().Str("request_id", requestID).Str("message_id", msg.ID).Msg("latest answer predates the request")
		return nil
	}
	p.log.Info().Str("request_id", requestID).Str("message_id", msg.ID).Msg("answer recovered from history")
	return &Result{RequestID: requestID, Message: *msg, FromHistory: true, Elapsed: p.now().Sub(start)}
}

func (p *Poller) report(requestID string, st model.ChatRequestStatus, attempt int, elapsed time.Duration) {
	if p.onProgress != nil {
		p.onProgress(Progress{RequestID: requestID, Status: st, Attempt: attempt, Elapsed: elapsed})
	}
}
