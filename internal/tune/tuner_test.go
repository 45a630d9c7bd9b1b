package tune

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringKey string

func (k stringKey) String() string { return string(k) }

func TestPickCachesWinner(t *testing.T) {
	tuner := NewTuner()

	var fastCalls, slowCalls atomic.Int64
	candidates := []Candidate{
		{Name: "slow", Bench: func() error {
			slowCalls.Add(1)
			time.Sleep(5 * time.Millisecond)
			return nil
		}},
		{Name: "fast", Bench: func() error {
			fastCalls.Add(1)
			return nil
		}},
	}

	winner, err := tuner.Pick("CPU", "conv2d", stringKey("k1"), candidates)
	require.NoError(t, err)
	assert.Equal(t, "fast", winner)
	assert.Equal(t, int64(1), fastCalls.Load())
	assert.Equal(t, int64(1), slowCalls.Load())

	// Second call must be a pure cache hit: zero benchmarking.
	winner, err = tuner.Pick("CPU", "conv2d", stringKey("k1"), candidates)
	require.NoError(t, err)
	assert.Equal(t, "fast", winner)
	assert.Equal(t, int64(1), fastCalls.Load())
	assert.Equal(t, int64(1), slowCalls.Load())
}

func TestPickKeysAreIndependent(t *testing.T) {
	tuner := NewTuner()

	noop := func() error { return nil }
	_, err := tuner.Pick("CPU", "conv2d", stringKey("k1"), []Candidate{{Name: "a", Bench: noop}})
	require.NoError(t, err)
	_, err = tuner.Pick("CPU", "conv2d", stringKey("k2"), []Candidate{{Name: "a", Bench: noop}})
	require.NoError(t, err)
	_, err = tuner.Pick("GPU", "conv2d", stringKey("k1"), []Candidate{{Name: "a", Bench: noop}})
	require.NoError(t, err)

	assert.Equal(t, 3, tuner.Len())
}

func TestPickExcludesFailingCandidate(t *testing.T) {
	tuner := NewTuner()

	oom := errors.New("out of memory")
	candidates := []Candidate{
		{Name: "gemm", Bench: func() error { return oom }},
		{Name: "direct", Bench: func() error { return nil }},
	}

	winner, err := tuner.Pick("CPU", "conv2d", stringKey("huge"), candidates)
	require.NoError(t, err)
	assert.Equal(t, "direct", winner)
}

func TestPickAllCandidatesFail(t *testing.T) {
	tuner := NewTuner()

	boom := errors.New("device lost")
	candidates := []Candidate{
		{Name: "a", Bench: func() error { return errors.New("first") }},
		{Name: "b", Bench: func() error { return boom }},
	}

	_, err := tuner.Pick("CPU", "conv2d", stringKey("k"), candidates)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "last error is surfaced")
	assert.Equal(t, 0, tuner.Len(), "failures are never cached")
}

func TestUnknownCachedStrategyIsAMiss(t *testing.T) {
	tuner := NewTuner()
	tuner.Restore([]Entry{{Device: "CPU", Op: "conv2d", Key: "k", Strategy: "removed-kernel"}})

	var calls atomic.Int64
	candidates := []Candidate{
		{Name: "direct", Bench: func() error {
			calls.Add(1)
			return nil
		}},
	}

	winner, err := tuner.Pick("CPU", "conv2d", stringKey("k"), candidates)
	require.NoError(t, err)
	assert.Equal(t, "direct", winner)
	assert.Equal(t, int64(1), calls.Load(), "stale entry must trigger re-benchmarking")
}

func TestEntriesRoundTrip(t *testing.T) {
	tuner := NewTuner()
	_, err := tuner.Pick("CPU", "conv2d", stringKey("k"), []Candidate{
		{Name: "direct", Bench: func() error { return nil }},
	})
	require.NoError(t, err)

	entries := tuner.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "direct", entries[0].Strategy)

	restored := NewTuner()
	restored.Restore(entries)
	name, ok := restored.Lookup("CPU", "conv2d", stringKey("k"))
	assert.True(t, ok)
	assert.Equal(t, "direct", name)
}

func TestConcurrentSameKey(t *testing.T) {
	tuner := NewTuner()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			winner, err := tuner.Pick("CPU", "conv2d", stringKey("k"), []Candidate{
				{Name: "direct", Bench: func() error { return nil }},
				{Name: "gemm", Bench: func() error { return errors.New("always loses") }},
			})
			assert.NoError(t, err)
			assert.Equal(t, "direct", winner)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, tuner.Len())
}
