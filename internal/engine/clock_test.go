package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/phase"
	"github.com/roach88/causeway/internal/world"
)

func TestClock_ResumeFollowsJournal(t *testing.T) {
	assert.Equal(t, int64(0), NewClock().Current())

	c, err := ResumeClock(41)
	require.NoError(t, err)
	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(0), c.Issued())
	assert.Equal(t, int64(42), c.Next(), "a resumed clock continues after the journal")
	assert.Equal(t, int64(42), c.Current(), "Current never advances the clock")
	assert.Equal(t, int64(1), c.Issued())
}

func TestClock_ResumeRejectsNegativeSeq(t *testing.T) {
	c, err := ResumeClock(-3)

	require.ErrorIs(t, err, ErrNegativeSeq)
	assert.Nil(t, c)
}

func TestClock_ConcurrentNextUnique(t *testing.T) {
	c := NewClock()
	const goroutines, calls = 50, 100

	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*calls)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seq := c.Next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
	assert.Equal(t, int64(goroutines*calls), c.Issued())
}

func TestClock_StampsPhases(t *testing.T) {
	c, err := ResumeClock(100)
	require.NoError(t, err)
	w := world.New("test", event.NewBus(), phase.WithClock(c))

	out, err := w.Tracker().Run(phase.BlockTick, func(*phase.Context) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, int64(101), out.BeganSeq)
	assert.Equal(t, int64(102), out.EndedSeq)
	assert.Equal(t, int64(2), c.Issued(), "a phase takes a seq at begin and at end")
}
