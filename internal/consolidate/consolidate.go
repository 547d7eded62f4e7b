// Package consolidate finds near-duplicate memories for curation.
package consolidate

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rcliao/memengine/internal/config"
	"github.com/rcliao/memengine/internal/embedding"
	"github.com/rcliao/memengine/internal/index"
	"github.com/rcliao/memengine/internal/metrics"
	"github.com/rcliao/memengine/internal/model"
)

var tracer = otel.Tracer("github.com/rcliao/memengine/internal/consolidate")

// Params configures a scan.
type Params struct {
	MinSimilarity float64
	Limit         int
	LookbackDays  int
}

// DefaultParams returns the standard scan settings.
func DefaultParams() Params {
	return Params{MinSimilarity: 0.85, Limit: 20, LookbackDays: 90}
}

func (p Params) validate() error {
	if err := model.CheckUnit("min similarity", p.MinSimilarity); err != nil {
		return err
	}
	if p.Limit < 0 {
		return &model.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if p.LookbackDays < 0 {
		return &model.ValidationError{Field: "lookback days", Reason: "must not be negative"}
	}
	return nil
}

// Pair is two memories whose embeddings are at least MinSimilarity apart.
// A.ID is always less than B.ID.
type Pair struct {
	A          *model.Entry `json:"a"`
	B          *model.Entry `json:"b"`
	Similarity float64      `json:"similarity"`
}

// Source lists the candidate entries for a scan, ordered by id.
type Source interface {
	ActiveWithEmbeddings(ctx context.Context, owner string, createdAfter time.Time) ([]model.Entry, error)
}

// Detector finds similar pairs. It never writes.
type Detector struct {
	src     Source
	vectors index.Vector

	prefilterAbove int
	neighborK      int

	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithPrefilter narrows pair candidates through the vector index once a
// scan has more than above entries, checking the k nearest neighbours of
// each entry instead of every pair.
func WithPrefilter(vectors index.Vector, above, k int) Option {
	return func(d *Detector) {
		d.vectors = vectors
		if above > 0 {
			d.prefilterAbove = above
		}
		if k > 0 {
			d.neighborK = k
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l.With(zap.String("component", "consolidate"))
		}
	}
}

func WithMetrics(m *metrics.Collector) Option { return func(d *Detector) { d.metrics = m } }

func WithClock(now func() time.Time) Option { return func(d *Detector) { d.now = now } }

// OptionsFromConfig maps consolidation config onto prefilter options.
func OptionsFromConfig(c config.ConsolidationConfig, vectors index.Vector) []Option {
	if vectors == nil {
		return nil
	}
	return []Option{WithPrefilter(vectors, c.PrefilterAbove, c.NeighborK)}
}

func NewDetector(src Source, opts ...Option) *Detector {
	d := &Detector{
		src:            src,
		prefilterAbove: 500,
		neighborK:      20,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// FindSimilarPairs returns pairs of owner's active memories created within
// the lookback window whose cosine similarity is at least MinSimilarity,
// most similar first, ties by (A.ID, B.ID).
func (d *Detector) FindSimilarPairs(ctx context.Context, owner string, p Params) ([]Pair, error) {
	if err := model.CheckOwner(owner); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "consolidate.find_similar_pairs")
	defer span.End()

	since := d.now().Add(-time.Duration(p.LookbackDays) * 24 * time.Hour)
	entries, err := d.src.ActiveWithEmbeddings(ctx, owner, since)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	var pairs []Pair
	if d.vectors != nil && len(entries) > d.prefilterAbove {
		pairs, err = d.neighbourPairs(ctx, owner, entries, p.MinSimilarity)
		if err != nil {
			d.logger.Warn("vector prefilter failed, falling back to full scan", zap.Error(err))
			d.metrics.RecordIndexFailure("vector", "prefilter")
			pairs = allPairs(entries, p.MinSimilarity)
		}
	} else {
		pairs = allPairs(entries, p.MinSimilarity)
	}

	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.A.ID != b.A.ID {
			return a.A.ID < b.A.ID
		}
		return a.B.ID < b.B.ID
	})
	if p.Limit > 0 && len(pairs) > p.Limit {
		pairs = pairs[:p.Limit]
	}

	span.SetAttributes(
		attribute.String("owner", owner),
		attribute.Int("candidates", len(entries)),
		attribute.Int("pairs", len(pairs)),
	)
	d.metrics.RecordSimilarPairs(len(pairs))
	d.logger.Debug("similar pairs",
		zap.String("owner", owner),
		zap.Int("candidates", len(entries)),
		zap.Int("pairs", len(pairs)))
	return pairs, nil
}

// allPairs compares every i<j pair. entries must be sorted by id.
func allPairs(entries []model.Entry, minSim float64) []Pair {
	var pairs []Pair
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			sim := embedding.CosineSimilarity(entries[i].Embedding, entries[j].Embedding)
			if sim >= minSim {
				pairs = append(pairs, Pair{A: &entries[i], B: &entries[j], Similarity: sim})
			}
		}
	}
	return pairs
}

// neighbourPairs checks each entry against its nearest neighbours only.
// Similarity is recomputed from the stored embeddings so both paths agree.
// The index also holds memories outside the lookback window; the query is
// widened by their number so they cannot crowd out in-window neighbours.
func (d *Detector) neighbourPairs(ctx context.Context, owner string, entries []model.Entry, minSim float64) ([]Pair, error) {
	byID := make(map[string]*model.Entry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}
	k := d.neighborK + 1
	if outside := d.vectors.Count(owner) - len(entries); outside > 0 {
		k += outside
	}

	seen := map[[2]string]bool{}
	var pairs []Pair
	for i := range entries {
		e := &entries[i]
		hits, err := d.vectors.Query(ctx, owner, e.Embedding, k)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			other, ok := byID[h.ID]
			if !ok || other.ID == e.ID {
				continue
			}
			a, b := e, other
			if b.ID < a.ID {
				a, b = b, a
			}
			key := [2]string{a.ID, b.ID}
			if seen[key] {
				continue
			}
			seen[key] = true
			sim := embedding.CosineSimilarity(a.Embedding, b.Embedding)
			if sim >= minSim {
				pairs = append(pairs, Pair{A: a, B: b, Similarity: sim})
			}
		}
	}
	return pairs, nil
}
