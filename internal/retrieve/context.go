package retrieve

import (
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/rcliao/memengine/internal/model"
)

// DefaultBudget is the token budget used when none is given.
const DefaultBudget = 4000

// minExcerpt is the smallest remaining budget, in tokens, worth filling
// with a truncated memory.
const minExcerpt = 25

// TokenCounter counts tokens in text.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with an OpenAI BPE encoding. If the encoding
// can't be loaded it falls back to roughly four bytes per token.
type TiktokenCounter struct {
	encoding string
	logger   *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a counter for encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("tiktoken unavailable, estimating tokens",
				zap.String("encoding", c.encoding), zap.Error(err))
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return approxTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter estimates four bytes per token.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int { return approxTokens(text) }

func approxTokens(text string) int {
	return (len(text) + 3) / 4
}

// ContextMemory is one memory packed into a context block.
type ContextMemory struct {
	ID      string           `json:"id"`
	Type    model.MemoryType `json:"type"`
	Content string           `json:"content"`
	Score   float64          `json:"score"`
	Tokens  int              `json:"tokens"`
	Excerpt bool             `json:"excerpt,omitempty"`
}

// ContextResult is the assembled context.
type ContextResult struct {
	Budget   int             `json:"budget"`
	Used     int             `json:"used"`
	Memories []ContextMemory `json:"memories"`
}

// Assemble packs ranked results into budget tokens, in order. The first
// result that doesn't fit is excerpted if enough budget remains, and
// packing stops there.
func Assemble(results []Result, budget int, counter TokenCounter) *ContextResult {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if counter == nil {
		counter = ApproxCounter{}
	}
	out := &ContextResult{Budget: budget, Memories: []ContextMemory{}}

	for _, r := range results {
		content := r.Entry.Content
		n := counter.Count(content)
		m := ContextMemory{
			ID:      r.Entry.ID,
			Type:    r.Entry.Type,
			Content: content,
			Score:   math.Round(r.Composite*1000) / 1000,
			Tokens:  n,
		}
		if out.Used+n <= budget {
			out.Memories = append(out.Memories, m)
			out.Used += n
			continue
		}

		remaining := budget - out.Used
		if remaining >= minExcerpt {
			m.Content = excerpt(content, remaining, counter)
			m.Tokens = counter.Count(m.Content)
			m.Excerpt = true
			out.Memories = append(out.Memories, m)
			out.Used += m.Tokens
		}
		break
	}
	return out
}

// excerpt returns the longest rune-aligned prefix of s, plus an ellipsis,
// that fits in limit tokens.
func excerpt(s string, limit int, counter TokenCounter) string {
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(string(runes[:mid])+"...") <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]) + "..."
}
