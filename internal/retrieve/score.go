package retrieve

import (
	"math"
	"time"

	"github.com/rcliao/memengine/internal/config"
	"github.com/rcliao/memengine/internal/model"
)

// Weights are the ranking constants. The zero value is not useful; start
// from DefaultWeights.
type Weights struct {
	Vector  float64
	Lexical float64
	Boost   float64 // multiplier on quality + recency

	Confidence float64 // share of confidence in the quality boost
	Importance float64 // share of importance in the quality boost

	RecentBoost  float64
	RecentWindow time.Duration
	WarmBoost    float64
	WarmWindow   time.Duration
}

// DefaultWeights returns the standard 0.6/0.3/0.1 hybrid weighting.
func DefaultWeights() Weights {
	return Weights{
		Vector:       0.6,
		Lexical:      0.3,
		Boost:        0.1,
		Confidence:   0.5,
		Importance:   0.3,
		RecentBoost:  0.2,
		RecentWindow: 7 * 24 * time.Hour,
		WarmBoost:    0.1,
		WarmWindow:   30 * 24 * time.Hour,
	}
}

// WeightsFromConfig maps retrieval config onto Weights.
func WeightsFromConfig(c config.RetrievalConfig) Weights {
	return Weights{
		Vector:       c.VectorWeight,
		Lexical:      c.LexicalWeight,
		Boost:        c.BoostWeight,
		Confidence:   c.ConfidenceWeight,
		Importance:   c.ImportanceWeight,
		RecentBoost:  c.RecentBoost,
		RecentWindow: c.RecentWindow,
		WarmBoost:    c.WarmBoost,
		WarmWindow:   c.WarmWindow,
	}
}

// Result is a ranked memory with its score breakdown.
type Result struct {
	Entry        *model.Entry `json:"entry"`
	VectorScore  float64      `json:"vector_score"`
	LexicalScore float64      `json:"lexical_score"`
	RecencyBoost float64      `json:"recency_boost"`
	QualityBoost float64      `json:"quality_boost"`
	Composite    float64      `json:"composite"`
}

// Score computes the composite for one candidate. cosine is the raw vector
// similarity (0 when absent) and lexical the already-normalized lexical
// score in [0,1].
func Score(e *model.Entry, cosine, lexical float64, now time.Time, w Weights) Result {
	r := Result{
		Entry:        e,
		VectorScore:  model.Clamp01(cosine),
		LexicalScore: model.Clamp01(lexical),
		RecencyBoost: recencyBoost(e.LastAccessed, now, w),
		QualityBoost: w.Confidence*e.Confidence + w.Importance*e.Importance,
	}
	c := w.Vector*r.VectorScore + w.Lexical*r.LexicalScore + w.Boost*(r.QualityBoost+r.RecencyBoost)
	r.Composite = math.Round(c*1e12) / 1e12
	return r
}

func recencyBoost(last *time.Time, now time.Time, w Weights) float64 {
	if last == nil {
		return 0
	}
	age := now.Sub(*last)
	switch {
	case age <= w.RecentWindow:
		return w.RecentBoost
	case age <= w.WarmWindow:
		return w.WarmBoost
	default:
		return 0
	}
}

// less orders results by composite, then most recently accessed, then id.
func less(a, b Result) bool {
	if a.Composite != b.Composite {
		return a.Composite > b.Composite
	}
	al, bl := a.Entry.LastAccessed, b.Entry.LastAccessed
	switch {
	case al != nil && bl == nil:
		return true
	case al == nil && bl != nil:
		return false
	case al != nil && bl != nil && !al.Equal(*bl):
		return al.After(*bl)
	}
	return a.Entry.ID < b.Entry.ID
}
