// Package retrieve ranks memories for a query by blending vector
// similarity, lexical relevance and per-memory quality signals.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memengine/internal/index"
	"github.com/rcliao/memengine/internal/metrics"
	"github.com/rcliao/memengine/internal/model"
)

var tracer trace.Tracer = otel.Tracer("github.com/rcliao/memengine/internal/retrieve")

const (
	DefaultLimit         = 10
	DefaultMinConfidence = 0.2
	DefaultMinScore      = 0.05
	DefaultCandidates    = 3
)

// Query describes one retrieval. Embedding is optional; without it only
// the lexical signal is used.
type Query struct {
	Owner         string
	Text          string
	Embedding     []float32
	Limit         int
	MinConfidence float64
	MinScore      float64
}

// NewQuery returns a query with the default limit and floors.
func NewQuery(owner, text string) Query {
	return Query{
		Owner:         owner,
		Text:          text,
		Limit:         DefaultLimit,
		MinConfidence: DefaultMinConfidence,
		MinScore:      DefaultMinScore,
	}
}

func (q Query) validate() error {
	if err := model.CheckOwner(q.Owner); err != nil {
		return err
	}
	if q.Limit < 0 {
		return &model.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if err := model.CheckUnit("min confidence", q.MinConfidence); err != nil {
		return err
	}
	return model.CheckUnit("min score", q.MinScore)
}

// Source supplies lexical hits and hydrates candidate ids. Candidates must
// drop ids that are archived, belong to another owner, or fall below the
// confidence floor.
type Source interface {
	index.Lexical
	Candidates(ctx context.Context, owner string, ids []string, minConfidence float64) (map[string]*model.Entry, error)
}

// Retriever runs hybrid retrieval. It is safe for concurrent use.
type Retriever struct {
	src     Source
	vectors index.Vector
	weights Weights
	factor  int
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures a Retriever.
type Option func(*Retriever)

func WithWeights(w Weights) Option { return func(r *Retriever) { r.weights = w } }

// WithCandidateFactor sets how many candidates per requested result each
// index is asked for.
func WithCandidateFactor(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.factor = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l.With(zap.String("component", "retriever"))
		}
	}
}

func WithMetrics(m *metrics.Collector) Option { return func(r *Retriever) { r.metrics = m } }

func WithClock(now func() time.Time) Option { return func(r *Retriever) { r.now = now } }

// New creates a Retriever. vectors may be nil, in which case retrieval is
// lexical only.
func New(src Source, vectors index.Vector, opts ...Option) *Retriever {
	r := &Retriever{
		src:     src,
		vectors: vectors,
		weights: DefaultWeights(),
		factor:  DefaultCandidates,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve returns up to q.Limit ranked results. Index failures degrade to
// the remaining signal; if neither produces candidates the result is empty.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	start := time.Now()

	ctx, span := tracer.Start(ctx, "retrieve.hybrid")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner", q.Owner),
		attribute.Int("limit", q.Limit),
		attribute.Bool("has_embedding", len(q.Embedding) > 0),
	)

	k := q.Limit * r.factor
	var (
		lexHits []index.Hit
		vecHits []index.Hit
		entries map[string]*model.Entry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.src.QueryLexical(gctx, q.Owner, q.Text, k, q.MinConfidence)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			r.degrade("lexical", err)
			return nil
		}
		lexHits = hits
		return nil
	})
	if len(q.Embedding) > 0 && r.vectors != nil {
		g.Go(func() error {
			hits, hydrated, err := r.vectorCandidates(gctx, q, k)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.degrade("vector", err)
				return nil
			}
			vecHits, entries = hits, hydrated
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if entries == nil {
		entries = map[string]*model.Entry{}
	}
	var missing []string
	for _, h := range lexHits {
		if _, ok := entries[h.ID]; !ok {
			missing = append(missing, h.ID)
		}
	}
	if len(missing) > 0 {
		more, err := r.src.Candidates(ctx, q.Owner, missing, q.MinConfidence)
		if err != nil {
			return nil, fmt.Errorf("hydrate lexical candidates: %w", err)
		}
		for id, e := range more {
			entries[id] = e
		}
	}

	results := r.rank(q, vecHits, lexHits, entries)
	span.SetAttributes(
		attribute.Int("vector_candidates", len(vecHits)),
		attribute.Int("lexical_candidates", len(lexHits)),
		attribute.Int("results", len(results)),
	)
	r.metrics.RecordRetrieval(mode(vecHits, lexHits), len(results), time.Since(start))
	r.logger.Debug("retrieved",
		zap.String("owner", q.Owner),
		zap.Int("vector", len(vecHits)),
		zap.Int("lexical", len(lexHits)),
		zap.Int("results", len(results)))
	return results, nil
}

// vectorCandidates queries the vector index and hydrates the hits through
// the store filter. When the filter drops hits it widens the query,
// doubling up to the size of the owner's collection, so the confidence
// floor never starves the candidate set.
func (r *Retriever) vectorCandidates(ctx context.Context, q Query, k int) ([]index.Hit, map[string]*model.Entry, error) {
	total := r.vectors.Count(q.Owner)
	fetch := k
	for {
		hits, err := r.vectors.Query(ctx, q.Owner, q.Embedding, fetch)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: vector query: %v", model.ErrIndexUnavailable, err)
		}
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		entries, err := r.src.Candidates(ctx, q.Owner, ids, q.MinConfidence)
		if err != nil {
			return nil, nil, err
		}

		kept := make([]index.Hit, 0, k)
		for _, h := range hits {
			if _, ok := entries[h.ID]; ok && len(kept) < k {
				kept = append(kept, h)
			}
		}
		if len(kept) >= k || len(hits) < fetch || fetch >= total {
			return kept, entries, nil
		}
		fetch *= 2
		if fetch > total {
			fetch = total
		}
	}
}

func (r *Retriever) rank(q Query, vecHits, lexHits []index.Hit, entries map[string]*model.Entry) []Result {
	cosine := make(map[string]float64, len(vecHits))
	for _, h := range vecHits {
		cosine[h.ID] = h.Score
	}
	lexical := make(map[string]float64, len(lexHits))
	maxLex := 0.0
	for _, h := range lexHits {
		if _, ok := entries[h.ID]; !ok {
			continue
		}
		lexical[h.ID] = h.Score
		if h.Score > maxLex {
			maxLex = h.Score
		}
	}

	seen := make(map[string]bool, len(cosine)+len(lexical))
	now := r.now()
	var results []Result
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		e, ok := entries[id]
		if !ok {
			return
		}
		lex := 0.0
		if maxLex > 0 {
			lex = lexical[id] / maxLex
		}
		res := Score(e, cosine[id], lex, now, r.weights)
		if res.Composite > q.MinScore {
			results = append(results, res)
		}
	}
	for _, h := range vecHits {
		add(h.ID)
	}
	for _, h := range lexHits {
		add(h.ID)
	}

	sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

func (r *Retriever) degrade(idx string, err error) {
	r.logger.Warn("index unavailable, continuing without it",
		zap.String("index", idx), zap.Error(err))
	r.metrics.RecordIndexFailure(idx, "query")
}

func mode(vec, lex []index.Hit) string {
	switch {
	case len(vec) > 0 && len(lex) > 0:
		return "hybrid"
	case len(vec) > 0:
		return "vector"
	case len(lex) > 0:
		return "lexical"
	default:
		return "empty"
	}
}
