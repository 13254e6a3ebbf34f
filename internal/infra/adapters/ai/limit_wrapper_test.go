package ai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"learnmate/internal/domain/ports/adapter"
)

type slowLLM struct {
	adapter.LLM
	cur, peak int32
	delay     time.Duration
}

func (s *slowLLM) Provider() string { return "stub" }

func (s *slowLLM) ChatWithUsage(ctx context.Context, _ string, _ []adapter.Message) (string, adapter.Usage, error) {
	n := atomic.AddInt32(&s.cur, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(s.delay)
	atomic.AddInt32(&s.cur, -1)
	return "ok", adapter.Usage{}, nil
}

func TestLimitedLLM_CapsConcurrency(t *testing.T) {
	inner := &slowLLM{delay: 20 * time.Millisecond}
	l := NewLimitedLLM(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = l.ChatWithUsage(context.Background(), "m", nil)
		}()
	}
	wg.Wait()
	if p := atomic.LoadInt32(&inner.peak); p > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", p)
	}
}

func TestLimitedLLM_WaitHonorsContext(t *testing.T) {
	inner := &slowLLM{delay: 200 * time.Millisecond}
	l := NewLimitedLLM(inner, 1)
	go func() { _, _, _ = l.ChatWithUsage(context.Background(), "m", nil) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := l.ChatWithUsage(ctx, "m", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want DeadlineExceeded while waiting for a slot, got %v", err)
	}
}

func TestNoopLLM_Echoes(t *testing.T) {
	text, u, err := NewNoopLLM(0).ChatWithUsage(context.Background(), "", []adapter.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: " Hello "},
	})
	if err != nil || text != "You said: Hello" {
		t.Fatalf("got %q, %v", text, err)
	}
	if u.TotalTokens != u.PromptTokens+u.CompletionTokens || u.CompletionTokens == 0 {
		t.Errorf("usage = %+v", u)
	}
}

func TestToGenAIContents_SplitsSystem(t *testing.T) {
	sys, contents := toGenAIContents([]adapter.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there!"},
	})
	if sys == nil || len(sys.Parts) != 1 || sys.Parts[0].Text != "be brief" {
		t.Fatalf("system instruction = %+v", sys)
	}
	if len(contents) != 2 || contents[0].Role != "user" || contents[1].Role != "model" {
		t.Errorf("contents roles wrong: %+v", contents)
	}
}

func TestEstimateTokensNonZero(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("empty text has no tokens")
	}
	if EstimateTokens("What is a derivative?") == 0 {
		t.Error("non-empty text must count")
	}
}
