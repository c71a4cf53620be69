// Package tokens provides token counting backed by tiktoken-go. The
// cl100k_base encoding is initialized lazily and a character heuristic takes
// over if it cannot be loaded.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"conductor/internal/agent/ports"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func initEncoding() {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// Estimator implements ports.TokenEstimator.
type Estimator struct{}

// NewEstimator returns the shared estimator.
func NewEstimator() Estimator {
	initEncoding()
	return Estimator{}
}

// Estimate returns a token count for text.
func (Estimator) Estimate(text string) int {
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return estimateFast(text)
}

// EstimateMessages sums estimates over a conversation, with a small fixed
// per-message overhead for role framing.
func (e Estimator) EstimateMessages(messages []ports.Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, msg := range messages {
		total += e.Estimate(msg.Content) + perMessageOverhead
	}
	return total
}

// estimateFast is the heuristic fallback: max(runes/4, word_count).
func estimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
