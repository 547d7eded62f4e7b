// Package engine assembles the memory engine from configuration and is
// the single entry point used by the CLI.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memengine/internal/config"
	"github.com/rcliao/memengine/internal/consolidate"
	"github.com/rcliao/memengine/internal/embedding"
	"github.com/rcliao/memengine/internal/index"
	"github.com/rcliao/memengine/internal/lifecycle"
	"github.com/rcliao/memengine/internal/metrics"
	"github.com/rcliao/memengine/internal/model"
	"github.com/rcliao/memengine/internal/retrieve"
	"github.com/rcliao/memengine/internal/store"
)

// Engine is the memory engine facade.
type Engine struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	vectors  *index.ChromemIndex
	embedder embedding.Embedder

	retriever  *retrieve.Retriever
	reinforcer *lifecycle.Reinforcer
	decayer    *lifecycle.Decayer
	detector   *consolidate.Detector
	tokens     retrieve.TokenCounter

	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	embedderSet bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbedder overrides the configured embedding provider. nil disables
// embeddings.
func WithEmbedder(e embedding.Embedder) Option {
	return func(en *Engine) {
		en.embedder = e
		en.embedderSet = true
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Collector) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides time.Now in every component, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Open builds an engine from cfg: it opens the store, rebuilds the vector
// index from it and wires the embedder, retriever and lifecycle services.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}

	if !e.embedderSet {
		emb, err := embedding.NewFromConfig(cfg.Embed, e.logger)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		e.embedder = emb
	}

	e.vectors = index.NewChromemIndex(e.logger)
	s, err := store.NewSQLiteStore(cfg.DBPath,
		store.WithVectorIndex(e.vectors),
		store.WithLogger(e.logger),
		store.WithMetrics(e.metrics),
		store.WithClock(e.now),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.store = s

	if _, err := s.RebuildVectorIndex(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("rebuild vector index: %w", err)
	}

	e.retriever = retrieve.New(s, e.vectors,
		retrieve.WithWeights(retrieve.WeightsFromConfig(cfg.Retrieval)),
		retrieve.WithCandidateFactor(cfg.Retrieval.CandidateFactor),
		retrieve.WithLogger(e.logger),
		retrieve.WithMetrics(e.metrics),
		retrieve.WithClock(e.now),
	)
	e.reinforcer = lifecycle.NewReinforcer(s, cfg.Retrieval.ReinforceBoost, e.logger, e.metrics)
	e.decayer = lifecycle.NewDecayer(s, e.logger, e.metrics)
	detectorOpts := append(consolidate.OptionsFromConfig(cfg.Consolidation, e.vectors),
		consolidate.WithLogger(e.logger),
		consolidate.WithMetrics(e.metrics),
		consolidate.WithClock(e.now),
	)
	e.detector = consolidate.NewDetector(s, detectorOpts...)
	e.tokens = retrieve.NewTiktokenCounter("cl100k_base", e.logger)
	return e, nil
}

// Close releases the store and embedder cache.
func (e *Engine) Close() error {
	if c, ok := e.embedder.(interface{ Close() }); ok {
		c.Close()
	}
	return e.store.Close()
}

// Store exposes the underlying store for maintenance commands.
func (e *Engine) Store() *store.SQLiteStore { return e.store }

// Config returns the resolved configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Create stores a memory. When no embedding is given and an embedder is
// configured, the content is embedded; an embedding failure stores the
// memory without one so it remains lexically searchable.
func (e *Engine) Create(ctx context.Context, p store.CreateParams) (*model.Entry, error) {
	if p.Embedding == nil {
		p.Embedding = e.embed(ctx, p.Content)
	}
	return e.store.Create(ctx, p)
}

// Update changes a memory. A content change without an explicit embedding
// is re-embedded; when that is not possible the old embedding is dropped
// and the memory is found lexically only.
func (e *Engine) Update(ctx context.Context, id string, p store.UpdateParams) (*model.Entry, error) {
	if p.Content != nil && p.Embedding == nil && !p.ClearEmbedding {
		if vec := e.embed(ctx, *p.Content); vec != nil {
			p.Embedding = vec
		} else {
			p.ClearEmbedding = true
		}
	}
	return e.store.Update(ctx, id, p)
}

func (e *Engine) Get(ctx context.Context, id string) (*model.Entry, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Archive(ctx context.Context, id string) error {
	return e.store.Archive(ctx, id)
}

func (e *Engine) Restore(ctx context.Context, id string) error {
	return e.store.Restore(ctx, id)
}

func (e *Engine) List(ctx context.Context, owner string, f store.ListFilter) ([]model.Entry, error) {
	return e.store.ListActive(ctx, owner, f)
}

// NewQuery returns a retrieval query with the configured limit and floors.
func (e *Engine) NewQuery(owner, text string) retrieve.Query {
	return retrieve.Query{
		Owner:         owner,
		Text:          text,
		Limit:         e.cfg.Retrieval.Limit,
		MinConfidence: e.cfg.Retrieval.MinConfidence,
		MinScore:      e.cfg.Retrieval.MinScore,
	}
}

// Retrieve ranks owner's memories for q. A query without an embedding is
// embedded from its text when possible; otherwise retrieval is lexical.
// Retrieval never reinforces.
func (e *Engine) Retrieve(ctx context.Context, q retrieve.Query) ([]retrieve.Result, error) {
	if q.Embedding == nil && q.Text != "" {
		q.Embedding = e.embed(ctx, q.Text)
	}
	return e.retriever.Retrieve(ctx, q)
}

// RetrieveText retrieves with the configured defaults and the given limit
// (0 keeps the default).
func (e *Engine) RetrieveText(ctx context.Context, owner, text string, limit int) ([]retrieve.Result, error) {
	q := e.NewQuery(owner, text)
	if limit > 0 {
		q.Limit = limit
	}
	return e.Retrieve(ctx, q)
}

// Use records that a memory was used in a response.
func (e *Engine) Use(ctx context.Context, id string) (bool, error) {
	return e.reinforcer.Reinforce(ctx, id)
}

// DecayDefaults returns the configured decay parameters.
func (e *Engine) DecayDefaults() lifecycle.DecayParams {
	return lifecycle.DecayParamsFromConfig(e.cfg.Decay)
}

// RunDecay runs one decay pass.
func (e *Engine) RunDecay(ctx context.Context, p lifecycle.DecayParams) (lifecycle.DecayResult, error) {
	return e.decayer.RunDecayPass(ctx, p)
}

// DuplicateDefaults returns the configured consolidation parameters.
func (e *Engine) DuplicateDefaults() consolidate.Params {
	return consolidate.Params{
		MinSimilarity: e.cfg.Consolidation.MinSimilarity,
		Limit:         e.cfg.Consolidation.Limit,
		LookbackDays:  e.cfg.Consolidation.LookbackDays,
	}
}

// FindDuplicates returns near-duplicate pairs for curation. It never
// merges or archives anything.
func (e *Engine) FindDuplicates(ctx context.Context, owner string, p consolidate.Params) ([]consolidate.Pair, error) {
	return e.detector.FindSimilarPairs(ctx, owner, p)
}

// Context retrieves for q and packs the results into budget tokens.
func (e *Engine) Context(ctx context.Context, q retrieve.Query, budget int) (*retrieve.ContextResult, error) {
	results, err := e.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	return retrieve.Assemble(results, budget, e.tokens), nil
}

func (e *Engine) Link(ctx context.Context, from, to string, rel model.LinkRel) (*model.Link, error) {
	return e.store.Link(ctx, from, to, rel)
}

func (e *Engine) Unlink(ctx context.Context, from, to string, rel model.LinkRel) (bool, error) {
	return e.store.Unlink(ctx, from, to, rel)
}

func (e *Engine) Links(ctx context.Context, id string) ([]model.Link, error) {
	return e.store.Links(ctx, id)
}

func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.store.Stats(ctx, e.cfg.DBPath)
}

func (e *Engine) Owners(ctx context.Context) ([]string, error) {
	return e.store.Owners(ctx)
}

func (e *Engine) Export(ctx context.Context, owner string, includeArchived bool) ([]model.Entry, error) {
	return e.store.ExportAll(ctx, owner, includeArchived)
}

// Import stores exported entries. Entries without an embedding are
// embedded when an embedder is configured.
func (e *Engine) Import(ctx context.Context, entries []model.Entry) (int, error) {
	for i := range entries {
		if entries[i].Embedding == nil {
			entries[i].Embedding = e.embed(ctx, entries[i].Content)
		}
	}
	return e.store.Import(ctx, entries)
}

// Reconcile replays failed vector index writes.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	return e.store.ReconcileIndexes(ctx)
}

// Scheduler builds the decay scheduler, with a redis lock when one is
// configured. The returned closer releases the redis client.
func (e *Engine) Scheduler(ctx context.Context) (*lifecycle.Scheduler, func() error, error) {
	var locker lifecycle.Locker
	closer := func() error { return nil }
	if addr := e.cfg.Redis.Addr; addr != "" {
		rl, err := lifecycle.NewRedisLocker(ctx, addr, e.cfg.Redis.Password, e.cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		locker, closer = rl, rl.Close
	}
	sched := lifecycle.NewScheduler(e.decayer, e.DecayDefaults(), locker, e.cfg.Decay.LockTTL, e.logger)
	if err := sched.Register(e.cfg.Decay.Schedule); err != nil {
		closer()
		return nil, nil, err
	}
	return sched, closer, nil
}

// embed returns nil when no embedder is configured or embedding fails.
func (e *Engine) embed(ctx context.Context, text string) []float32 {
	if e.embedder == nil || text == "" {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		e.logger.Warn("embedding failed, continuing without vector", zap.Error(err))
		e.metrics.RecordIndexFailure("embedder", "embed")
		return nil
	}
	return vec
}
