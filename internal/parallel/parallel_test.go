package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForSequential(t *testing.T) {
	cfg := Config{Enabled: false}

	visited := make([]bool, 100)
	For(100, func(i int) { visited[i] = true }, cfg)

	for i, v := range visited {
		assert.True(t, v, "index %d not visited", i)
	}
}

func TestForParallel(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}

	var count atomic.Int64
	For(10000, func(i int) { count.Add(1) }, cfg)

	assert.Equal(t, int64(10000), count.Load())
}

func TestForSmallFallsBackToSequential(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinChunkSize = 1000

	// Disjoint slots, so a data race here would be a bug in For itself.
	out := make([]int, 10)
	For(10, func(i int) { out[i] = i * i }, cfg)

	for i := range out {
		assert.Equal(t, i*i, out[i])
	}
}
