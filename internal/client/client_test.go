package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"learnmate/internal/client"
	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/infra/adapters/ai"
	"learnmate/internal/infra/api"
	"learnmate/internal/infra/logging"
	"learnmate/internal/infra/worker"
	"learnmate/internal/testutil/memstore"
	"learnmate/internal/usecase"
)

func TestSendSyncRetriesOnceOn5xx(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/s1/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"internal error"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(model.ChatMessage{ID: "m1", Role: model.RoleAssistant, Content: "Hi there!"})
	}))
	defer ts.Close()

	c := client.New(ts.URL, client.WithRetryDelay(time.Millisecond))
	msg, err := c.SendSync(context.Background(), "s1", "Hello")
	if err != nil || msg.Content != "Hi there!" {
		t.Fatalf("SendSync: %+v, %v", msg, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestSendSyncRetriesOnlyOnce(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"unavailable"}`))
	}))
	defer ts.Close()

	c := client.New(ts.URL, client.WithRetryDelay(time.Millisecond))
	_, err := c.SendSync(context.Background(), "s1", "Hello")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Errorf("want ErrUpstreamUnavailable, got %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "unavailable" {
		t.Errorf("detail lost: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestSendSyncDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"busy"}`))
	}))
	defer ts.Close()

	c := client.New(ts.URL, client.WithRetryDelay(time.Millisecond))
	if _, err := c.SendSync(context.Background(), "s1", "Hello"); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("want ErrSessionBusy, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSendSyncTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the server only sees the client hang up once the body is read
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer ts.Close()
	defer close(release)

	c := client.New(ts.URL, client.WithSyncTimeout(50*time.Millisecond), client.WithRetryDelay(time.Millisecond))
	if _, err := c.SendSync(context.Background(), "s1", "Hello"); !errors.Is(err, client.ErrTimeoutExceeded) {
		t.Errorf("want ErrTimeoutExceeded, got %v", err)
	}
}

func TestEmptyMessageRejectedLocally(t *testing.T) {
	c := client.New("http://127.0.0.1:1")
	if _, err := c.StartChat(context.Background(), "s1", "  "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("want ErrInvalidArgument, got %v", err)
	}
}

type inlineDispatcher struct{}

func (inlineDispatcher) Submit(task worker.Task) error { return task(context.Background()) }

func TestClientAgainstServer(t *testing.T) {
	log := logging.Nop()
	store := memstore.New()
	runner := worker.NewChatRunner(store.Requests(), store.History(), store.Sessions(), store.TxManager(),
		ai.NewNoopLLM(0), inlineDispatcher{}, nil, worker.RunnerConfig{Model: "noop", LLMTimeout: time.Second}, log)
	chatUC := usecase.NewChatUseCase(runner, store.Requests(), store.History(), store.Sessions(), store.TxManager(), time.Minute, log)
	auth := api.NewAuthenticator("secret", time.Hour, false)
	srv := api.NewServer(chatUC, usecase.NewSessionUseCase(store.Sessions(), log), auth, api.Options{}, log)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tok, err := auth.Mint("u1")
	if err != nil {
		t.Fatal(err)
	}
	c := client.New(ts.URL, client.WithToken(tok))
	ctx := context.Background()

	ss, err := c.CreateSession(ctx, client.SessionInput{Name: "Physics"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id, err := c.StartChat(ctx, ss.ID, "Hello")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}

	p := client.NewPoller(c, client.PollConfig{Interval: 10 * time.Millisecond, MaxWait: 5 * time.Second}, nil)
	res, err := p.Poll(ctx, ss.ID, id)
	if err != nil || res.Message.Content != "You said: Hello" {
		t.Fatalf("Poll: %+v, %v", res, err)
	}

	// repeated reads return the same answer
	for i := 0; i < 3; i++ {
		st, err := c.GetStatus(ctx, ss.ID, id)
		if err != nil || st.Result == nil || st.Result.MessageID != res.Message.ID {
			t.Fatalf("GetStatus #%d: %+v, %v", i, st, err)
		}
	}

	hist, err := c.GetHistory(ctx, ss.ID)
	if err != nil || len(hist) != 2 || hist[1].ID != res.Message.ID {
		t.Fatalf("history: %+v, %v", hist, err)
	}
	if _, err := c.AddFeedback(ctx, ss.ID, hist[1].ID, false, "too short"); err != nil {
		t.Errorf("AddFeedback: %v", err)
	}
	if n, err := c.ClearHistory(ctx, ss.ID); err != nil || n != 2 {
		t.Errorf("ClearHistory: %d, %v", n, err)
	}
	if _, err := c.GetStatus(ctx, ss.ID, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown request: %v", err)
	}
	if err := c.DeleteSession(ctx, ss.ID); err != nil {
		t.Errorf("DeleteSession: %v", err)
	}
	if _, err := c.GetSession(ctx, ss.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted session: %v", err)
	}

	anon := client.New(ts.URL)
	var apiErr *client.APIError
	if _, err := anon.GetHistory(ctx, ss.ID); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous call: %v", err)
	}
}
