package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rcliao/memengine/internal/config"
	"github.com/rcliao/memengine/internal/metrics"
	"github.com/rcliao/memengine/internal/model"
	"github.com/rcliao/memengine/internal/store"
)

var tracer = otel.Tracer("github.com/rcliao/memengine/internal/lifecycle")

// DecayParams configures one decay pass.
type DecayParams struct {
	Owner                string // empty means every owner
	ThresholdDays        int
	DecayAmount          float64
	MinConfidence        float64
	ArchiveThreshold     float64
	ArchiveGraceDays     int
	ProtectImportance    float64
	ProtectConfidence    float64
	ArchiveImportanceCap float64
}

// DefaultDecayParams returns the standard decay settings.
func DefaultDecayParams() DecayParams {
	return DecayParams{
		ThresholdDays:        30,
		DecayAmount:          0.05,
		MinConfidence:        0.1,
		ArchiveThreshold:     0.15,
		ArchiveGraceDays:     7,
		ProtectImportance:    0.8,
		ProtectConfidence:    0.5,
		ArchiveImportanceCap: 0.7,
	}
}

// DecayParamsFromConfig maps decay config onto DecayParams.
func DecayParamsFromConfig(c config.DecayConfig) DecayParams {
	return DecayParams{
		ThresholdDays:        c.ThresholdDays,
		DecayAmount:          c.Amount,
		MinConfidence:        c.MinConfidence,
		ArchiveThreshold:     c.ArchiveThreshold,
		ArchiveGraceDays:     c.ArchiveGraceDays,
		ProtectImportance:    c.ProtectImportance,
		ProtectConfidence:    c.ProtectConfidence,
		ArchiveImportanceCap: c.ArchiveImportanceCap,
	}
}

func (p DecayParams) validate() error {
	if p.ThresholdDays < 0 {
		return &model.ValidationError{Field: "threshold days", Reason: "must not be negative"}
	}
	if p.ArchiveGraceDays < 0 {
		return &model.ValidationError{Field: "archive grace days", Reason: "must not be negative"}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"decay amount", p.DecayAmount},
		{"min confidence", p.MinConfidence},
		{"archive threshold", p.ArchiveThreshold},
		{"protect importance", p.ProtectImportance},
		{"protect confidence", p.ProtectConfidence},
		{"archive importance cap", p.ArchiveImportanceCap},
	} {
		if err := model.CheckUnit(f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}

// DecayResult summarizes a pass.
type DecayResult struct {
	Decayed     int64    `json:"decayed"`
	Archived    int64    `json:"archived"`
	ArchivedIDs []string `json:"archived_ids,omitempty"`
}

// DecayStore applies the two atomic steps of a pass.
type DecayStore interface {
	DecayStale(ctx context.Context, p store.DecayParams) (int64, error)
	ArchiveDecayed(ctx context.Context, p store.ArchiveParams) ([]string, error)
}

// Decayer runs decay passes. Passes are idempotent up to the decay
// amount, so a failed pass is recovered by running the next one.
type Decayer struct {
	store   DecayStore
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewDecayer(s DecayStore, logger *zap.Logger, m *metrics.Collector) *Decayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decayer{store: s, logger: logger.With(zap.String("component", "decayer")), metrics: m}
}

// RunDecayPass decays stale memories and then archives those that fell
// to the archival floor. Parameters are checked before either step runs.
func (d *Decayer) RunDecayPass(ctx context.Context, p DecayParams) (DecayResult, error) {
	if err := p.validate(); err != nil {
		return DecayResult{}, err
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "lifecycle.decay_pass")
	defer span.End()
	span.SetAttributes(attribute.String("owner", p.Owner))

	var res DecayResult
	decayed, err := d.store.DecayStale(ctx, store.DecayParams{
		Owner:             p.Owner,
		ThresholdDays:     p.ThresholdDays,
		Amount:            p.DecayAmount,
		MinConfidence:     p.MinConfidence,
		ProtectImportance: p.ProtectImportance,
		ProtectConfidence: p.ProtectConfidence,
	})
	if err != nil {
		return res, d.fail(span, start, res, fmt.Errorf("decay: %w", err))
	}
	res.Decayed = decayed

	ids, err := d.store.ArchiveDecayed(ctx, store.ArchiveParams{
		Owner:         p.Owner,
		Threshold:     p.ArchiveThreshold,
		ImportanceCap: p.ArchiveImportanceCap,
		GraceDays:     p.ArchiveGraceDays,
	})
	if err != nil {
		return res, d.fail(span, start, res, fmt.Errorf("archive: %w", err))
	}
	res.Archived = int64(len(ids))
	res.ArchivedIDs = ids

	span.SetAttributes(
		attribute.Int64("decayed", res.Decayed),
		attribute.Int64("archived", res.Archived),
	)
	d.metrics.RecordDecayPass("ok", res.Decayed, res.Archived, time.Since(start))
	d.logger.Info("decay pass complete",
		zap.String("owner", p.Owner),
		zap.Int64("decayed", res.Decayed),
		zap.Int64("archived", res.Archived),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (d *Decayer) fail(span trace.Span, start time.Time, res DecayResult, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.metrics.RecordDecayPass("error", res.Decayed, res.Archived, time.Since(start))
	d.logger.Error("decay pass failed", zap.Error(err))
	return err
}
