package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Timing(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpRecommend, 10*time.Millisecond)
	c.RecordTiming(OpRecommend, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.Recommend)
	assert.Equal(t, int64(2), snap.Recommend.Count)
	assert.Equal(t, int64(40), snap.Recommend.TotalTimeMs)
	assert.InDelta(t, 20.0, snap.Recommend.AvgTimeMs, 1e-9)
	assert.Equal(t, int64(10), snap.Recommend.MinTimeMs)
	assert.Equal(t, int64(30), snap.Recommend.MaxTimeMs)
	assert.Nil(t, snap.Recommend.TotalItems)
	assert.Nil(t, snap.Rate, "operations without data are omitted")
}

func TestCollector_Batch(t *testing.T) {
	c := NewCollector()
	c.RecordBatch(OpIndexBuild, time.Second, 1000)
	c.RecordBatch(OpIndexBuild, time.Second, 3000)

	snap := c.Snapshot().IndexBuild
	require.NotNil(t, snap)
	require.NotNil(t, snap.TotalItems)
	assert.Equal(t, int64(4000), *snap.TotalItems)
	assert.Equal(t, int64(1000), *snap.MinItems)
	assert.Equal(t, int64(3000), *snap.MaxItems)
	assert.InDelta(t, 2000.0, *snap.AvgItems, 1e-9)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTiming(OpMatch, time.Millisecond)
		c.RecordBatch(OpEnrich, time.Millisecond, 3)
		c.Time(OpRate)()
	})
}
