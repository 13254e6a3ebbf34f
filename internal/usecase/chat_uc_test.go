package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/infra/logging"
	"learnmate/internal/testutil/memstore"
)

// ---- Fakes ----

// fakeRunner records pending requests in the store and answers synchronously
// with a fixed reply.
type fakeRunner struct {
	store   *memstore.Store
	reply   string
	syncErr error
}

func (f *fakeRunner) Submit(ctx context.Context, sessionID, message string) (string, error) {
	req := model.NewChatRequest(uuid.NewString(), sessionID, message)
	if err := f.store.Requests().Create(ctx, nil, req); err != nil {
		return "", err
	}
	return req.ID, nil
}

func (f *fakeRunner) RunSync(ctx context.Context, sessionID, message string) (*model.ChatMessage, *model.ChatRequest, error) {
	if f.syncErr != nil {
		return nil, nil, f.syncErr
	}
	<-time.After(time.Millisecond)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	msg := &model.ChatMessage{ID: uuid.NewString(), SessionID: sessionID, Role: model.RoleAssistant, Content: f.reply}
	return msg, nil, f.store.History().Append(ctx, nil, msg)
}

func newChatUC(store *memstore.Store, runner Runner) *chatUC {
	return NewChatUseCase(runner, store.Requests(), store.History(), store.Sessions(), store.TxManager(), time.Minute, logging.Nop())
}

func appendMsg(t *testing.T, store *memstore.Store, sessionID, role, content string, at time.Time) *model.ChatMessage {
	t.Helper()
	m := &model.ChatMessage{ID: uuid.NewString(), SessionID: sessionID, Role: role, Content: content, Timestamp: at}
	if err := store.History().Append(context.Background(), nil, m); err != nil {
		t.Fatal(err)
	}
	return m
}

// ---- Tests ----

func TestChatUC_Ownership(t *testing.T) {
	store := memstore.New()
	store.AddSession("s1", "alice")
	uc := newChatUC(store, &fakeRunner{store: store})
	ctx := context.Background()

	if _, err := uc.GetHistory(ctx, "bob", "s1"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("foreign session: want ErrForbidden, got %v", err)
	}
	if _, err := uc.GetHistory(ctx, "alice", "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown session: want ErrNotFound, got %v", err)
	}
	if _, err := uc.Submit(ctx, "bob", "s1", "Hello"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("foreign submit: want ErrForbidden, got %v", err)
	}
	if history, err := uc.GetHistory(ctx, "alice", "s1"); err != nil || history == nil || len(history) != 0 {
		t.Errorf("empty history must be an empty list: %v, %v", history, err)
	}
}

func TestChatUC_SubmitRejectsEmpty(t *testing.T) {
	store := memstore.New()
	store.AddSession("s1", "alice")
	uc := newChatUC(store, &fakeRunner{store: store})
	if _, err := uc.Submit(context.Background(), "alice", "s1", "  "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("want ErrInvalidArgument, got %v", err)
	}
	if store.StatusReads != 0 {
		t.Error("no request lookups expected")
	}
}

func TestChatUC_GetStatusIsIdempotentAndScopedToSession(t *testing.T) {
	store := memstore.New()
	store.AddSession("s1", "alice")
	store.AddSession("s2", "alice")
	uc := newChatUC(store, &fakeRunner{store: store})
	ctx := context.Background()

	id, err := uc.Submit(ctx, "alice", "s1", "Hello")
	if err != nil {
		t.Fatal(err)
	}
	first, err := uc.GetStatus(ctx, "alice", "s1", id)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := uc.GetStatus(ctx, "alice", "s1", id)
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("repeated reads differ:\n%s\n%s", a, b)
	}
	if first.Status != model.ChatRequestPending {
		t.Errorf("status = %s", first.Status)
	}

	if _, err := uc.GetStatus(ctx, "alice", "s2", id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("request of another session: want ErrNotFound, got %v", err)
	}
	if _, err := uc.GetStatus(ctx, "alice", "s1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown request: want ErrNotFound, got %v", err)
	}
}

func TestChatUC_GetStatusFillsMissingResultFromHistory(t *testing.T) {
	store := memstore.New()
	store.AddSession("s1", "alice")
	uc := newChatUC(store, &fakeRunner{store: store})
	ctx := context.Background()
	t0 := time.Now().Add(-time.Minute)

	appendMsg(t, store, "s1", model.RoleUser, "Earlier", t0.Add(-time.Hour))
	appendMsg(t, store, "s1", model.RoleAssistant, "Earlier answer", t0.Add(-time.Hour))
	appendMsg(t, store, "s1", model.RoleUser, "Hello", t0)
	answer := appendMsg(t, store, "s1", model.RoleAssistant, "Hi there!", t0.Add(time.Second))
	appendMsg(t, store, "s1", model.RoleUser, "Next", t0.Add(2*time.Second))
	appendMsg(t, store, "s1", model.RoleAssistant, "Next answer", t0.Add(3*time.Second))

	req := model.NewChatRequest("r1", "s1", "Hello")
	req.CreatedAt = t0
	req.Complete(model.ChatResult{})
	store.PutRequest(req)

	got, err := uc.GetStatus(ctx, "alice", "s1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Result == nil || got.Result.Content != "Hi there!" || got.Result.MessageID != answer.ID {
		t.Errorf("read-through result = %+v", got.Result)
	}
	if stored := store.Request("r1"); !stored.Result.Empty() {
		t.Error("GetStatus must not write")
	}

	// a known message id wins over position
	req2 := model.NewChatRequest("r2", "s1", "Hello")
	req2.CreatedAt = t0
	req2.Complete(model.ChatResult{MessageID: answer.ID})
	store.PutRequest(req2)
	got, _ = uc.GetStatus(ctx, "alice", "s1", "r2")
	if got.Result.Content != "Hi there!" {
		t.Errorf("by-id read-through = %+v", got.Result)
	}
}

func TestChatUC_SendSync(t *testing.T) {
	store := memstore.New()
	store.AddSession("s1", "alice")
	uc := newChatUC(store, &fakeRunner{store: store, reply: "Hi there!"})

	msg, err := uc.SendSync(context.Background(), "alice", "s1", "Hello")
	if err != nil || msg.Content != "Hi there!" {
		t.Fatalf("SendSync = %+v, %v", msg, err)
	}

	uc.syncTimeout = time.Nanosecond
	if _, err := uc.SendSync(context.Background(), "alice", "s1", "Hello"); !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Errorf("want ErrUpstreamTimeout, got %v", err)
	}

	uc = newChatUC(store, &fakeRunner{store: store, syncErr: domain.ErrUpstreamUnavailable})
	if _, err := uc.SendSync(context.Background(), "alice", "s1", "Hello"); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Errorf("want ErrUpstreamUnavailable, got %v", err)
	}
}

func TestChatUC_AddFeedback(t *testing.T) {
	store := memstore.New()
	store.AddSession("s1", "alice")
	uc := newChatUC(store, &fakeRunner{store: store})
	ctx := context.Background()
	q := appendMsg(t, store, "s1", model.RoleUser, "Hello", time.Now())
	a := appendMsg(t, store, "s1", model.RoleAssistant, "Hi there!", time.Now())

	msg, err := uc.AddFeedback(ctx, "alice", "s1", a.ID, true, " helpful ")
	if err != nil {
		t.Fatalf("AddFeedback: %v", err)
	}
	if msg.Feedback == nil || !msg.Feedback.IsPositive || msg.Feedback.Comment != "helpful" {
		t.Errorf("feedback = %+v", msg.Feedback)
	}
	if stored := store.Messages("s1")[1]; stored.Feedback == nil || stored.Content != "Hi there!" {
		t.Errorf("stored message = %+v", stored)
	}
	if _, err := uc.AddFeedback(ctx, "alice", "s1", "missing", false, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown message: want ErrNotFound, got %v", err)
	}
	if _, err := uc.AddFeedback(ctx, "alice", "s1", q.ID, false, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("user message: want ErrInvalidArgument, got %v", err)
	}
}

func TestChatUC_ClearHistory(t *testing.T) {
	store := memstore.New()
	store.AddSession("s1", "alice")
	uc := newChatUC(store, &fakeRunner{store: store})
	ctx := context.Background()
	appendMsg(t, store, "s1", model.RoleUser, "Hello", time.Now())

	id, _ := uc.Submit(ctx, "alice", "s1", "Pending question")
	if _, err := uc.ClearHistory(ctx, "alice", "s1"); !errors.Is(err, domain.ErrSessionBusy) {
		t.Fatalf("want ErrSessionBusy while in flight, got %v", err)
	}

	req := store.Request(id)
	req.Fail("gave up")
	store.PutRequest(req)
	n, err := uc.ClearHistory(ctx, "alice", "s1")
	if err != nil || n != 1 {
		t.Fatalf("ClearHistory = %d, %v", n, err)
	}
	if len(store.Messages("s1")) != 0 {
		t.Error("history not cleared")
	}
}
