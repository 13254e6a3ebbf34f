package usecase

import (
	"context"
	"errors"
	"testing"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/infra/logging"
	"learnmate/internal/testutil/memstore"
)

func TestSessionUC_Lifecycle(t *testing.T) {
	store := memstore.New()
	uc := NewSessionUseCase(store.Sessions(), logging.Nop())
	ctx := context.Background()

	if _, err := uc.Create(ctx, "alice", CreateSessionInput{Name: "  "}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("blank name: want ErrInvalidArgument, got %v", err)
	}
	ss, err := uc.Create(ctx, "alice", CreateSessionInput{Name: " Calculus ", FieldOfStudy: "Math", StudyGoal: "Exam"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ss.Name != "Calculus" || ss.UserID != "alice" || ss.StudyGoal != "Exam" {
		t.Errorf("session = %+v", ss)
	}

	if _, err := uc.Get(ctx, "bob", ss.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("want ErrForbidden, got %v", err)
	}
	if err := uc.Delete(ctx, "bob", ss.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("foreign delete: want ErrForbidden, got %v", err)
	}

	_ = store.History().Append(ctx, nil, &model.ChatMessage{ID: "m1", SessionID: ss.ID, Role: model.RoleUser, Content: "hi"})
	if err := uc.Delete(ctx, "alice", ss.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := uc.Get(ctx, "alice", ss.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted session: want ErrNotFound, got %v", err)
	}
	if len(store.Messages(ss.ID)) != 0 {
		t.Error("history must go with the session")
	}
}
