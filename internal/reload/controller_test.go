package reload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() models.ReloadConfig {
	return models.ReloadConfig{Cooldown: 10 * time.Millisecond, SafetyTimeout: 5 * time.Second}
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestSingleChangeRunsOnce(t *testing.T) {
	var calls atomic.Int32
	c := New(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, testConfig(), log.NewNoopLogger())
	defer c.Close()

	c.RuleSetChanged()
	waitIdle(t, c)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, c.Processing())

	c.RuleSetChanged()
	waitIdle(t, c)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChangesDuringUpdateAreCoalesced(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	c := New(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}, testConfig(), log.NewNoopLogger())
	defer c.Close()

	c.RuleSetChanged()
	<-started
	for i := 0; i < 4; i++ {
		c.RuleSetChanged()
	}
	assert.True(t, c.Processing())
	close(release)

	waitIdle(t, c)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUpdatesNeverOverlap(t *testing.T) {
	var running, maxRunning, calls atomic.Int32
	c := New(func(ctx context.Context) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return nil
	}, models.ReloadConfig{Cooldown: time.Millisecond, SafetyTimeout: 5 * time.Second}, log.NewNoopLogger())
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.RuleSetChanged()
				time.Sleep(100 * time.Microsecond)
			}
		}()
	}
	wg.Wait()
	waitIdle(t, c)

	assert.Equal(t, int32(1), maxRunning.Load())
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.Less(t, calls.Load(), int32(160))
}

func TestLastChangeIsAlwaysCompiled(t *testing.T) {
	var version, compiled atomic.Int32
	c := New(func(ctx context.Context) error {
		v := version.Load()
		time.Sleep(time.Millisecond)
		compiled.Store(v)
		return nil
	}, models.ReloadConfig{Cooldown: time.Millisecond, SafetyTimeout: 5 * time.Second}, log.NewNoopLogger())
	defer c.Close()

	for i := 1; i <= 50; i++ {
		version.Store(int32(i))
		c.RuleSetChanged()
	}
	waitIdle(t, c)
	assert.Equal(t, int32(50), compiled.Load())
}

func TestFailedUpdateIsReported(t *testing.T) {
	boom := errors.New("boom")
	var reported []error
	var mu sync.Mutex

	c := New(func(ctx context.Context) error { return boom }, testConfig(), log.NewNoopLogger())
	c.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})
	defer c.Close()

	c.RuleSetChanged()
	waitIdle(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], boom)
}

func TestSafetyTimeoutResetsToIdle(t *testing.T) {
	var calls atomic.Int32
	errs := make(chan error, 4)

	c := New(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			// ignores cancellation
			time.Sleep(200 * time.Millisecond)
		}
		return nil
	}, models.ReloadConfig{Cooldown: time.Millisecond, SafetyTimeout: 20 * time.Millisecond}, log.NewNoopLogger())
	c.OnError(func(err error) { errs <- err })
	defer c.Close()

	c.RuleSetChanged()
	c.RuleSetChanged()
	waitIdle(t, c)

	select {
	case err := <-errs:
		var timeoutErr *StateTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, 20*time.Millisecond, timeoutErr.After)
	default:
		t.Fatal("timeout was not reported")
	}
	// the pending change is dropped with the timed out update
	assert.Equal(t, int32(1), calls.Load())

	c.RuleSetChanged()
	waitIdle(t, c)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCloseStopsPendingWork(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})

	c := New(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}, models.ReloadConfig{Cooldown: time.Hour, SafetyTimeout: time.Minute}, log.NewNoopLogger())

	c.RuleSetChanged()
	<-started
	c.RuleSetChanged()
	c.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, c.Processing())

	c.RuleSetChanged()
	assert.False(t, c.Processing())
}

func TestWaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	c := New(func(ctx context.Context) error {
		<-release
		return nil
	}, testConfig(), log.NewNoopLogger())
	defer c.Close()
	defer close(release)

	c.RuleSetChanged()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}
