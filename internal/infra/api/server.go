// Package api exposes the study chat over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/infra/logging"
	"learnmate/internal/infra/metrics"
	"learnmate/internal/usecase"
)

const maxBodyBytes = 64 << 10

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	RequestTimeout time.Duration
	Checks         map[string]HealthCheck
}

type Server struct {
	chat     usecase.ChatUseCase
	sessions usecase.SessionUseCase
	auth     *Authenticator
	opts     Options
	log      *zerolog.Logger
}

func NewServer(chat usecase.ChatUseCase, sessions usecase.SessionUseCase, auth *Authenticator, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{chat: chat, sessions: sessions, auth: auth, opts: opts, log: &l}
}

// Router builds the handler tree. The synchronous chat route is outside the
// short request timeout; the use case bounds it with its own sync timeout.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.opts.RequestTimeout))
			r.Post("/sessions", s.createSession)
			r.Get("/sessions/{id}", s.getSession)
			r.Delete("/sessions/{id}", s.deleteSession)

			r.Post("/sessions/{id}/chat/start", s.startChat)
			r.Get("/sessions/{id}/chat/status/{requestID}", s.chatStatus)
			r.Get("/sessions/{id}/chat", s.chatHistory)
			r.Delete("/sessions/{id}/chat", s.clearChat)
			r.Post("/sessions/{id}/chat/{messageID}/feedback", s.feedback)
		})

		r.Post("/sessions/{id}/chat", s.sendSync)
	})
	return Chain(r, TraceID(), RequestLog(s.log), Recover(s.log))
}

func userID(r *http.Request) string {
	return logging.UserID(r.Context())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required: %w", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("malformed JSON body: %w", domain.ErrInvalidArgument)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var in usecase.CreateSessionInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	ss, err := s.sessions.Create(r.Context(), userID(r), in)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, ss)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	ss, err := s.sessions.Get(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ss)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageBody struct {
	Message string `json:"message"`
}

type startResponse struct {
	RequestID string                  `json:"request_id"`
	Status    model.ChatRequestStatus `json:"status"`
}

func (s *Server) startChat(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	id, err := s.chat.Submit(r.Context(), userID(r), chi.URLParam(r, "id"), body.Message)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{RequestID: id, Status: model.ChatRequestPending})
}

// StatusResponse is the body of the chat status endpoint.
type StatusResponse struct {
	RequestID   string                  `json:"request_id"`
	Status      model.ChatRequestStatus `json:"status"`
	Result      *model.ChatResult       `json:"result,omitempty"`
	ErrorDetail string                  `json:"error_detail,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

func (s *Server) chatStatus(w http.ResponseWriter, r *http.Request) {
	req, err := s.chat.GetStatus(r.Context(), userID(r), chi.URLParam(r, "id"), chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		RequestID:   req.ID,
		Status:      req.Status,
		Result:      req.Result,
		ErrorDetail: req.ErrorDetail,
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	})
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.GetHistory(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) sendSync(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	msg, err := s.chat.SendSync(r.Context(), userID(r), chi.URLParam(r, "id"), body.Message)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) clearChat(w http.ResponseWriter, r *http.Request) {
	n, err := s.chat.ClearHistory(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type feedbackBody struct {
	IsPositive *bool  `json:"is_positive"`
	Comment    string `json:"comment"`
}

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	if body.IsPositive == nil {
		writeError(w, r, s.log, fmt.Errorf("is_positive is required: %w", domain.ErrInvalidArgument))
		return
	}
	msg, err := s.chat.AddFeedback(r.Context(), userID(r), chi.URLParam(r, "id"), chi.URLParam(r, "messageID"), *body.IsPositive, body.Comment)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
