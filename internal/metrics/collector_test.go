package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_RecordRetrieval(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("test", reg, zap.NewNop())

	c.RecordRetrieval("hybrid", 3, 10*time.Millisecond)
	c.RecordRetrieval("lexical", 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.retrievals.WithLabelValues("hybrid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retrievals.WithLabelValues("lexical")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.retrievals))
}

func TestCollector_DecayAndReinforce(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("test", reg, nil)

	c.RecordDecayPass("ok", 4, 1, time.Second)
	c.RecordDecayPass("ok", 2, 0, time.Second)
	c.RecordReinforce(true)
	c.RecordReinforce(false)

	assert.Equal(t, 6.0, testutil.ToFloat64(c.decayed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.archived))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.decayPasses.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reinforcements.WithLabelValues("archived")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordRetrieval("hybrid", 1, time.Millisecond)
	c.RecordIndexFailure("vector", "query")
	c.RecordReinforce(true)
	c.RecordDecayPass("ok", 1, 1, time.Millisecond)
	c.RecordSimilarPairs(2)
	c.SetIndexBacklog(3)
}

func TestCollector_IndexBacklog(t *testing.T) {
	c := NewCollector("test", nil, nil)
	c.SetIndexBacklog(5)
	c.RecordIndexFailure("vector", "upsert")
	c.RecordSimilarPairs(2)
	assert.Equal(t, 5.0, testutil.ToFloat64(c.indexBacklog))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.indexFailures.WithLabelValues("vector", "upsert")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.similarPairs))
}
