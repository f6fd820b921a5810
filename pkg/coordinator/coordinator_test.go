package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type value struct {
	N int
}

func TestRefresh(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		c := New(Options{Name: "test"}, func(ctx context.Context, prev *value) (*value, error) {
			return &value{N: 1}, nil
		})
		assert.Nil(t, c.Data())
		assert.False(t, c.LastUpdateSuccess())

		require.NoError(t, c.Refresh(context.Background()))
		assert.Equal(t, &value{N: 1}, c.Data())
		assert.True(t, c.LastUpdateSuccess())
		assert.NoError(t, c.LastError())
		assert.False(t, c.LastSuccessAt().IsZero())
	})

	t.Run("FailureKeepsPrevious", func(t *testing.T) {
		var fail atomic.Bool
		c := New(Options{Name: "test"}, func(ctx context.Context, prev *value) (*value, error) {
			if fail.Load() {
				return nil, errors.New("boom")
			}
			n := 1
			if prev != nil {
				n = prev.N + 1
			}
			return &value{N: n}, nil
		})
		require.NoError(t, c.Refresh(context.Background()))
		successAt := c.LastSuccessAt()

		fail.Store(true)
		for range 3 {
			assert.Error(t, c.Refresh(context.Background()))
			assert.Equal(t, &value{N: 1}, c.Data())
			assert.False(t, c.LastUpdateSuccess())
			assert.EqualError(t, c.LastError(), "boom")
			assert.Equal(t, successAt, c.LastSuccessAt())
		}

		fail.Store(false)
		require.NoError(t, c.Refresh(context.Background()))
		assert.Equal(t, &value{N: 2}, c.Data())
		assert.True(t, c.LastUpdateSuccess())
	})

	t.Run("NilData", func(t *testing.T) {
		c := New(Options{Name: "test"}, func(ctx context.Context, prev *value) (*value, error) {
			return nil, nil
		})
		assert.Error(t, c.Refresh(context.Background()))
		assert.Nil(t, c.Data())
	})
}

func TestListeners(t *testing.T) {
	var fail bool
	c := New(Options{Name: "test"}, func(ctx context.Context, prev *value) (*value, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return &value{N: 1}, nil
	})

	var calls []string
	c.AddListener(func() { calls = append(calls, "a") })
	remove := c.AddListener(func() { calls = append(calls, "b") })
	c.AddListener(func() { calls = append(calls, "c") })

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, calls)

	remove()
	calls = nil
	fail = true
	assert.Error(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{"a", "c"}, calls)
}

func TestNextDelay(t *testing.T) {
	var fail bool
	fetch := func(ctx context.Context, prev *value) (*value, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return &value{}, nil
	}

	t.Run("WithRetryInterval", func(t *testing.T) {
		fail = false
		c := New(Options{Name: "test", Interval: time.Hour, RetryInterval: 5 * time.Minute}, fetch)
		assert.Equal(t, time.Hour, c.nextDelay())

		fail = true
		assert.Error(t, c.Refresh(context.Background()))
		assert.Equal(t, 5*time.Minute, c.nextDelay())

		fail = false
		require.NoError(t, c.Refresh(context.Background()))
		assert.Equal(t, time.Hour, c.nextDelay())
	})

	t.Run("WithoutRetryInterval", func(t *testing.T) {
		fail = true
		c := New(Options{Name: "test", Interval: time.Minute}, fetch)
		assert.Error(t, c.Refresh(context.Background()))
		assert.Equal(t, time.Minute, c.nextDelay())
	})
}

func TestRun(t *testing.T) {
	t.Run("Interval", func(t *testing.T) {
		var calls atomic.Int32
		c := New(Options{Name: "test", Interval: 10 * time.Millisecond}, func(ctx context.Context, prev *value) (*value, error) {
			return &value{N: int(calls.Add(1))}, nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			c.Run(ctx)
			close(done)
		}()
		require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})

	t.Run("RequestRefresh", func(t *testing.T) {
		var calls atomic.Int32
		c := New(Options{Name: "test", Interval: time.Hour}, func(ctx context.Context, prev *value) (*value, error) {
			return &value{N: int(calls.Add(1))}, nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.Run(ctx)

		c.RequestRefresh()
		require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, &value{N: 1}, c.Data())
	})

	t.Run("RequestRefreshCoalesced", func(t *testing.T) {
		c := New(Options{Name: "test", Interval: time.Hour}, func(ctx context.Context, prev *value) (*value, error) {
			return &value{}, nil
		})
		// nothing drains the trigger so only one request is queued
		for range 10 {
			c.RequestRefresh()
		}
		assert.Len(t, c.trigger, 1)
	})

	t.Run("SerializedRefresh", func(t *testing.T) {
		var mu sync.Mutex
		var active, maxActive int
		c := New(Options{Name: "test"}, func(ctx context.Context, prev *value) (*value, error) {
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return &value{}, nil
		})
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Refresh(context.Background())
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxActive)
	})
}
