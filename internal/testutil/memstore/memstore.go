// Package memstore is an in-memory implementation of the repository ports for
// unit tests. Transactions snapshot the whole store and restore it on error.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/repository"
)

type Store struct {
	mu       sync.Mutex
	sessions map[string]model.StudySession
	messages map[string][]model.ChatMessage
	requests map[string]model.ChatRequest

	// FindRequestErr, when set, is returned by every request lookup.
	FindRequestErr error
	// StatusReads counts request lookups.
	StatusReads int
}

func New() *Store {
	return &Store{
		sessions: map[string]model.StudySession{},
		messages: map[string][]model.ChatMessage{},
		requests: map[string]model.ChatRequest{},
	}
}

func (s *Store) Requests() *RequestRepo { return &RequestRepo{s} }
func (s *Store) History() *HistoryRepo   { return &HistoryRepo{s} }
func (s *Store) Sessions() *SessionRepo  { return &SessionRepo{s} }
func (s *Store) TxManager() *TxManager   { return &TxManager{s} }

// AddSession is a test shortcut.
func (s *Store) AddSession(id, userID string) *model.StudySession {
	ss := model.NewStudySession(id, userID, "Calculus", "Mathematics")
	s.mu.Lock()
	s.sessions[id] = *ss
	s.mu.Unlock()
	return ss
}

// PutRequest overwrites a request row as-is.
func (s *Store) PutRequest(r *model.ChatRequest) {
	s.mu.Lock()
	s.requests[r.ID] = *r
	s.mu.Unlock()
}

// Request returns a copy of a stored request, or nil.
func (s *Store) Request(id string) *model.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil
	}
	return &r
}

// Messages returns a copy of the session history.
func (s *Store) Messages(sessionID string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.messages[sessionID]...)
}

type snapshot struct {
	sessions map[string]model.StudySession
	messages map[string][]model.ChatMessage
	requests map[string]model.ChatRequest
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		sessions: make(map[string]model.StudySession, len(s.sessions)),
		messages: make(map[string][]model.ChatMessage, len(s.messages)),
		requests: make(map[string]model.ChatRequest, len(s.requests)),
	}
	for k, v := range s.sessions {
		snap.sessions[k] = v
	}
	for k, v := range s.messages {
		snap.messages[k] = append([]model.ChatMessage(nil), v...)
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions, s.messages, s.requests = snap.sessions, snap.messages, snap.requests
}

type TxManager struct{ s *Store }

var _ repository.TransactionManager = (*TxManager)(nil)

type tx struct{}

func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	snap := m.s.snapshot()
	if err := fn(ctx, tx{}); err != nil {
		m.s.restore(snap)
		return err
	}
	return nil
}

// ---- requests ----

type RequestRepo struct{ s *Store }

var _ repository.ChatRequestRepository = (*RequestRepo)(nil)

func inFlight(st model.ChatRequestStatus) bool {
	return st == model.ChatRequestPending || st == model.ChatRequestProcessing
}

func (r *RequestRepo) Create(_ context.Context, _ repository.Tx, req *model.ChatRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.requests[req.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, other := range r.s.requests {
		if other.SessionID == req.SessionID && inFlight(other.Status) {
			return domain.ErrSessionBusy
		}
	}
	r.s.requests[req.ID] = *req
	return nil
}

func (r *RequestRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.ChatRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.StatusReads++
	if r.s.FindRequestErr != nil {
		return nil, r.s.FindRequestErr
	}
	req, ok := r.s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &req, nil
}

func (r *RequestRepo) MarkProcessing(_ context.Context, _ repository.Tx, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok || req.Status != model.ChatRequestPending {
		return false, nil
	}
	req.Status = model.ChatRequestProcessing
	req.UpdatedAt = time.Now()
	r.s.requests[id] = req
	return true, nil
}

func (r *RequestRepo) Finish(_ context.Context, _ repository.Tx, req *model.ChatRequest) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.requests[req.ID]
	if !ok || cur.Status.Terminal() {
		return false, nil
	}
	r.s.requests[req.ID] = *req
	return true, nil
}

func (r *RequestRepo) HasInFlight(_ context.Context, _ repository.Tx, sessionID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, req := range r.s.requests {
		if req.SessionID == sessionID && inFlight(req.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (r *RequestRepo) ListPendingBefore(_ context.Context, _ repository.Tx, before time.Time, limit int) ([]*model.ChatRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.ChatRequest
	for _, req := range r.s.requests {
		if req.Status == model.ChatRequestPending && req.CreatedAt.Before(before) && len(out) < limit {
			cp := req
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *RequestRepo) FailStaleProcessing(_ context.Context, _ repository.Tx, before time.Time, detail string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, req := range r.s.requests {
		if req.Status == model.ChatRequestProcessing && req.UpdatedAt.Before(before) {
			req.Fail(detail)
			r.s.requests[id] = req
			n++
		}
	}
	return n, nil
}

func (r *RequestRepo) DeleteFinishedBefore(_ context.Context, _ repository.Tx, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, req := range r.s.requests {
		if req.Status.Terminal() && req.CompletedAt != nil && req.CompletedAt.Before(before) {
			delete(r.s.requests, id)
			n++
		}
	}
	return n, nil
}

// ---- history ----

type HistoryRepo struct{ s *Store }

var _ repository.ChatHistoryRepository = (*HistoryRepo)(nil)

func (h *HistoryRepo) Append(_ context.Context, _ repository.Tx, msg *model.ChatMessage) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if _, ok := h.s.sessions[msg.SessionID]; !ok {
		return domain.ErrNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h.s.messages[msg.SessionID] = append(h.s.messages[msg.SessionID], *msg)
	return nil
}

func (h *HistoryRepo) List(_ context.Context, _ repository.Tx, sessionID string) ([]model.ChatMessage, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return append(make([]model.ChatMessage, 0, len(h.s.messages[sessionID])), h.s.messages[sessionID]...), nil
}

func (h *HistoryRepo) FindByID(_ context.Context, _ repository.Tx, sessionID, messageID string) (*model.ChatMessage, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	for _, m := range h.s.messages[sessionID] {
		if m.ID == messageID {
			cp := m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (h *HistoryRepo) SetFeedback(_ context.Context, _ repository.Tx, sessionID, messageID string, fb model.MessageFeedback) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	msgs := h.s.messages[sessionID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			f := fb
			msgs[i].Feedback = &f
			return nil
		}
	}
	return domain.ErrNotFound
}

func (h *HistoryRepo) Clear(_ context.Context, _ repository.Tx, sessionID string) (int64, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	n := int64(len(h.s.messages[sessionID]))
	delete(h.s.messages, sessionID)
	return n, nil
}

// ---- sessions ----

type SessionRepo struct{ s *Store }

var _ repository.StudySessionRepository = (*SessionRepo)(nil)

func (r *SessionRepo) Save(_ context.Context, _ repository.Tx, ss *model.StudySession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[ss.ID] = *ss
	return nil
}

func (r *SessionRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.StudySession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ss, ok := r.s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ss, nil
}

// Delete cascades like the Postgres foreign keys.
func (r *SessionRepo) Delete(_ context.Context, _ repository.Tx, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.sessions, id)
	delete(r.s.messages, id)
	for rid, req := range r.s.requests {
		if req.SessionID == id {
			delete(r.s.requests, rid)
		}
	}
	return nil
}
