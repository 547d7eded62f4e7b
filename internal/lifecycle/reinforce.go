// Package lifecycle reinforces memories on use and decays neglected ones.
package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/rcliao/memengine/internal/metrics"
	"github.com/rcliao/memengine/internal/model"
)

// DefaultBoost is the confidence added per use.
const DefaultBoost = 0.02

// ReinforceStore applies one atomic reinforcement.
type ReinforceStore interface {
	Reinforce(ctx context.Context, id string, boost float64) (bool, error)
}

// Reinforcer records memory use. It is safe for concurrent use; the store
// applies every increment atomically.
type Reinforcer struct {
	store   ReinforceStore
	boost   float64
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewReinforcer creates a Reinforcer with the given default boost. A
// non-positive boost means DefaultBoost.
func NewReinforcer(store ReinforceStore, boost float64, logger *zap.Logger, m *metrics.Collector) *Reinforcer {
	if boost <= 0 {
		boost = DefaultBoost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reinforcer{
		store:   store,
		boost:   boost,
		logger:  logger.With(zap.String("component", "reinforcer")),
		metrics: m,
	}
}

// Reinforce records one use of id with the default boost.
func (r *Reinforcer) Reinforce(ctx context.Context, id string) (bool, error) {
	return r.ReinforceBy(ctx, id, r.boost)
}

// ReinforceBy records one use of id, raising confidence by boost up to 1.
// It reports false, without error, when the memory is archived.
func (r *Reinforcer) ReinforceBy(ctx context.Context, id string, boost float64) (bool, error) {
	if err := model.CheckUnit("boost", boost); err != nil {
		return false, err
	}
	applied, err := r.store.Reinforce(ctx, id, boost)
	if err != nil {
		return false, err
	}
	r.metrics.RecordReinforce(applied)
	if !applied {
		r.logger.Debug("skipped reinforcement of archived memory", zap.String("id", id))
	}
	return applied, nil
}
