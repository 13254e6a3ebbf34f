//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/repository"
	"learnmate/internal/infra/security"
)

func seedSession(t *testing.T, ctx context.Context) *model.StudySession {
	t.Helper()
	s := model.NewStudySession(uuid.NewString(), "user-1", "Linear algebra", "Mathematics")
	if err := NewStudySessionRepo(testPool).Save(ctx, nil, s); err != nil {
		t.Fatalf("save session: %v", err)
	}
	return s
}

func TestChatRequestRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewChatRequestRepo(testPool, nil)

	t.Run("one in-flight request per session", func(t *testing.T) {
		cleanup(t)
		s := seedSession(t, ctx)
		first := model.NewChatRequest(uuid.NewString(), s.ID, "Hello")
		if err := repo.Create(ctx, nil, first); err != nil {
			t.Fatalf("create: %v", err)
		}
		second := model.NewChatRequest(uuid.NewString(), s.ID, "Again")
		if err := repo.Create(ctx, nil, second); !errors.Is(err, domain.ErrSessionBusy) {
			t.Fatalf("want ErrSessionBusy, got %v", err)
		}
		busy, err := repo.HasInFlight(ctx, nil, s.ID)
		if err != nil || !busy {
			t.Fatalf("HasInFlight = %v, %v", busy, err)
		}

		ok, err := repo.MarkProcessing(ctx, nil, first.ID)
		if err != nil || !ok {
			t.Fatalf("MarkProcessing = %v, %v", ok, err)
		}
		if ok, _ := repo.MarkProcessing(ctx, nil, first.ID); ok {
			t.Error("second MarkProcessing must be a no-op")
		}

		first.Complete(model.ChatResult{Content: "Hi there!", MessageID: "m-2", Timestamp: time.Now()})
		if ok, err := repo.Finish(ctx, nil, first); err != nil || !ok {
			t.Fatalf("Finish = %v, %v", ok, err)
		}
		first.Status = model.ChatRequestProcessing
		first.Fail("late")
		if ok, _ := repo.Finish(ctx, nil, first); ok {
			t.Error("terminal rows must not be rewritten")
		}

		got, err := repo.FindByID(ctx, nil, first.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.Status != model.ChatRequestComplete || got.Result == nil || got.Result.Content != "Hi there!" {
			t.Errorf("unexpected stored request: %+v", got)
		}
		if err := repo.Create(ctx, nil, second); err != nil {
			t.Errorf("session should accept a new request once the first finished: %v", err)
		}
	})

	t.Run("sweeper queries", func(t *testing.T) {
		cleanup(t)
		s1, s2 := seedSession(t, ctx), seedSession(t, ctx)
		pending := model.NewChatRequest(uuid.NewString(), s1.ID, "old pending")
		pending.CreatedAt = time.Now().Add(-time.Hour)
		stuck := model.NewChatRequest(uuid.NewString(), s2.ID, "stuck")
		for _, r := range []*model.ChatRequest{pending, stuck} {
			if err := repo.Create(ctx, nil, r); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		if _, err := repo.MarkProcessing(ctx, nil, stuck.ID); err != nil {
			t.Fatal(err)
		}

		tm := NewTxManager(testPool)
		var listed []*model.ChatRequest
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			var err error
			listed, err = repo.ListPendingBefore(ctx, tx, time.Now().Add(-time.Minute), 10)
			return err
		})
		if err != nil || len(listed) != 1 || listed[0].ID != pending.ID {
			t.Fatalf("ListPendingBefore = %v, %v", listed, err)
		}

		n, err := repo.FailStaleProcessing(ctx, nil, time.Now().Add(time.Minute), "processing was interrupted")
		if err != nil || n != 1 {
			t.Fatalf("FailStaleProcessing = %d, %v", n, err)
		}
		got, _ := repo.FindByID(ctx, nil, stuck.ID)
		if got.Status != model.ChatRequestError || got.ErrorDetail == "" {
			t.Errorf("stuck request not failed: %+v", got)
		}

		n, err = repo.DeleteFinishedBefore(ctx, nil, time.Now().Add(time.Minute))
		if err != nil || n != 1 {
			t.Fatalf("DeleteFinishedBefore = %d, %v", n, err)
		}
		if _, err := repo.FindByID(ctx, nil, stuck.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("want ErrNotFound after retention, got %v", err)
		}
	})
}

func TestChatRequestRepo_EncryptedColumns_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	cipher, _ := security.NewMessageCipher("0123456789abcdef0123456789abcdef")
	repo := NewChatRequestRepo(testPool, cipher)

	cleanup(t)
	s := seedSession(t, ctx)
	req := model.NewChatRequest(uuid.NewString(), s.ID, "Hello")
	if err := repo.Create(ctx, nil, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	req.Complete(model.ChatResult{Content: "Hi there!", MessageID: "m-2", Timestamp: time.Now()})
	if ok, err := repo.Finish(ctx, nil, req); err != nil || !ok {
		t.Fatalf("Finish = %v, %v", ok, err)
	}

	var message, result string
	err := testPool.QueryRow(ctx, `SELECT message, result_content FROM chat_requests WHERE id=$1`, req.ID).Scan(&message, &result)
	if err != nil {
		t.Fatal(err)
	}
	if message == "Hello" || result == "Hi there!" {
		t.Errorf("request stored in plaintext: message=%q result=%q", message, result)
	}

	got, err := repo.FindByID(ctx, nil, req.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Message != "Hello" || got.Result == nil || got.Result.Content != "Hi there!" {
		t.Errorf("decrypted request = %+v", got)
	}
	if _, err := NewChatRequestRepo(testPool, nil).FindByID(ctx, nil, req.ID); err == nil {
		t.Error("reading encrypted rows without a key must fail")
	}
}

func TestChatHistoryRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	cipher, _ := security.NewMessageCipher("0123456789abcdef0123456789abcdef")
	repo := NewChatHistoryRepo(testPool, cipher)

	cleanup(t)
	s := seedSession(t, ctx)
	msgs := []*model.ChatMessage{
		{ID: uuid.NewString(), SessionID: s.ID, Role: model.RoleUser, Content: "Hello"},
		{ID: uuid.NewString(), SessionID: s.ID, Role: model.RoleAssistant, Content: "Hi there!"},
	}
	for _, m := range msgs {
		if err := repo.Append(ctx, nil, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var raw string
	if err := testPool.QueryRow(ctx, `SELECT content FROM chat_messages WHERE id=$1`, msgs[1].ID).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	if raw == "Hi there!" {
		t.Error("content stored in plaintext")
	}

	history, err := repo.List(ctx, nil, s.ID)
	if err != nil || len(history) != 2 {
		t.Fatalf("List = %v, %v", history, err)
	}
	if history[0].Content != "Hello" || history[1].Content != "Hi there!" {
		t.Errorf("order or content wrong: %+v", history)
	}

	if err := repo.SetFeedback(ctx, nil, s.ID, msgs[1].ID, model.MessageFeedback{IsPositive: true, Comment: "clear"}); err != nil {
		t.Fatalf("SetFeedback: %v", err)
	}
	got, err := repo.FindByID(ctx, nil, s.ID, msgs[1].ID)
	if err != nil || got.Feedback == nil || !got.Feedback.IsPositive || got.Feedback.Comment != "clear" {
		t.Fatalf("feedback not stored: %+v, %v", got, err)
	}
	if err := repo.SetFeedback(ctx, nil, s.ID, "missing", model.MessageFeedback{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}

	n, err := repo.Clear(ctx, nil, s.ID)
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	history, _ = repo.List(ctx, nil, s.ID)
	if len(history) != 0 {
		t.Errorf("history not cleared: %+v", history)
	}
}
