//go:build !integration

package model

import (
	"testing"
	"time"
)

// --- ChatRequest Model Tests ---

func TestChatRequestTransitions(t *testing.T) {
	t.Run("new request starts pending", func(t *testing.T) {
		r := NewChatRequest("r1", "s1", "Hello")
		if r.Status != ChatRequestPending {
			t.Fatalf("expected pending, got %s", r.Status)
		}
		if r.Status.Terminal() {
			t.Error("pending must not be terminal")
		}
		if r.CompletedAt != nil {
			t.Error("expected CompletedAt to be nil for a fresh request")
		}
	})

	t.Run("complete is applied once", func(t *testing.T) {
		r := NewChatRequest("r1", "s1", "Hello")
		r.Status = ChatRequestProcessing
		ts := time.Now()
		if !r.Complete(ChatResult{Content: "Hi there!", MessageID: "m1", Timestamp: ts}) {
			t.Fatal("expected first Complete to succeed")
		}
		if r.Status != ChatRequestComplete || r.Result.MessageID != "m1" {
			t.Fatalf("unexpected request after complete: %+v", r)
		}
		if r.Complete(ChatResult{Content: "other"}) {
			t.Error("second Complete must be rejected")
		}
		if r.Fail("boom") {
			t.Error("Fail after Complete must be rejected")
		}
		if r.Result.Content != "Hi there!" {
			t.Errorf("result was overwritten: %q", r.Result.Content)
		}
	})

	t.Run("fail records detail", func(t *testing.T) {
		r := NewChatRequest("r1", "s1", "Hello")
		if !r.Fail("model unavailable") {
			t.Fatal("expected Fail to succeed")
		}
		if r.Status != ChatRequestError || r.ErrorDetail != "model unavailable" {
			t.Fatalf("unexpected request after fail: %+v", r)
		}
		if r.CompletedAt == nil {
			t.Error("expected CompletedAt to be set")
		}
	})
}

func TestChatResultEmpty(t *testing.T) {
	var nilRes *ChatResult
	if !nilRes.Empty() {
		t.Error("nil result should be empty")
	}
	if !(&ChatResult{Content: "  \n"}).Empty() {
		t.Error("whitespace result should be empty")
	}
	if (&ChatResult{Content: "ok"}).Empty() {
		t.Error("non-empty result reported empty")
	}
}

// --- ChatMessage helpers ---

func TestLatestAnswer(t *testing.T) {
	tests := []struct {
		name    string
		history []ChatMessage
		wantID  string
	}{
		{name: "empty history", history: nil},
		{
			name: "answered",
			history: []ChatMessage{
				{ID: "u1", Role: RoleUser, Content: "Hello"},
				{ID: "m1", Role: RoleAssistant, Content: "Hi there!"},
			},
			wantID: "m1",
		},
		{
			name: "newest user message not answered yet",
			history: []ChatMessage{
				{ID: "u1", Role: RoleUser, Content: "Hello"},
				{ID: "m1", Role: RoleAssistant, Content: "Hi there!"},
				{ID: "u2", Role: RoleUser, Content: "Plan please"},
			},
		},
		{
			name: "skips empty assistant content",
			history: []ChatMessage{
				{ID: "u1", Role: RoleUser, Content: "Hello"},
				{ID: "m1", Role: RoleAssistant, Content: "first"},
				{ID: "m2", Role: RoleAssistant, Content: ""},
			},
			wantID: "m1",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := LatestAnswer(tc.history)
			if tc.wantID == "" {
				if got != nil {
					t.Fatalf("expected no answer, got %+v", got)
				}
				return
			}
			if got == nil || got.ID != tc.wantID {
				t.Fatalf("expected %s, got %+v", tc.wantID, got)
			}
		})
	}
}

func TestRecentMessages(t *testing.T) {
	h := []ChatMessage{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	if got := RecentMessages(h, 2); len(got) != 2 || got[0].ID != "2" {
		t.Errorf("unexpected tail: %+v", got)
	}
	if got := RecentMessages(h, 0); len(got) != 3 {
		t.Errorf("n<=0 should return all, got %d", len(got))
	}
}

func TestStudySessionOwnedBy(t *testing.T) {
	s := NewStudySession("s1", "u1", " Algebra ", " Mathematics ")
	if s.Name != "Algebra" || s.FieldOfStudy != "Mathematics" {
		t.Errorf("expected trimmed fields, got %q / %q", s.Name, s.FieldOfStudy)
	}
	if !s.OwnedBy("u1") || s.OwnedBy("u2") {
		t.Error("ownership check is wrong")
	}
}
