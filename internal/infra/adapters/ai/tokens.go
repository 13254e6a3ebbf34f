package ai

import (
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"

	"learnmate/internal/domain/ports/adapter"
)

// perMessageOverhead approximates the role/separator tokens chat templates add.
const perMessageOverhead = 4

var (
	loadOnce sync.Once
	enc      atomic.Pointer[tiktoken.Tiktoken]

	// loadEncoding may fetch the BPE ranks over the network on a cold cache.
	loadEncoding = func() (*tiktoken.Tiktoken, error) { return tiktoken.GetEncoding("cl100k_base") }
)

// WarmTokenizer starts loading the encoding in the background. Counting never
// waits for it: until it is ready, and on offline hosts, counts use len/4.
// cl100k_base is close enough for llama-family and Gemini budgeting.
func WarmTokenizer() {
	loadOnce.Do(func() {
		go func() {
			if e, err := loadEncoding(); err == nil {
				enc.Store(e)
			}
		}()
	})
}

// EstimateTokens counts tokens of a single text. It never blocks on I/O.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	WarmTokenizer()
	if e := enc.Load(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// EstimateMessages counts tokens for a whole prompt.
func EstimateMessages(msgs []adapter.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + perMessageOverhead
	}
	return total
}
