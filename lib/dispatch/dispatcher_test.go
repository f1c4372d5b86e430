package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSameKeyRunsInSubmissionOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New("test")

	var mu sync.Mutex
	var order []int
	record := func(i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	}

	// the first task is slow, the rest must still wait behind it
	require.True(t, d.Submit(1, func() error {
		time.Sleep(50 * time.Millisecond)
		record(0)
		return nil
	}))
	for i := 1; i < 20; i++ {
		i := i
		require.True(t, d.Submit(1, func() error {
			record(i)
			return nil
		}))
	}

	d.Close()

	require.Len(t, order, 20)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestSameKeyNeverOverlaps(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New("test")

	var running, maxRunning int32
	for i := 0; i < 50; i++ {
		d.Submit(7, func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}
	d.Close()

	require.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestDifferentKeysOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New("test")
	defer d.Close()

	// key 1 blocks until key 2 has run; this only completes if they run concurrently
	key2Done := make(chan struct{})
	key1Done := make(chan struct{})

	d.Submit(1, func() error {
		select {
		case <-key2Done:
		case <-time.After(2 * time.Second):
			return errors.New("key 2 never ran")
		}
		close(key1Done)
		return nil
	})
	d.Submit(2, func() error {
		close(key2Done)
		return nil
	})

	select {
	case <-key1Done:
	case <-time.After(3 * time.Second):
		t.Fatal("tasks of different keys did not overlap")
	}
}

func TestFailingTasksAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New("test")

	var ran atomic.Int32
	d.Submit(1, func() error { panic("boom") })
	d.Submit(1, func() error { return errors.New("listener failed") })
	d.Submit(1, func() error { ran.Add(1); return nil })
	d.Submit(2, func() error { ran.Add(1); return nil })

	d.Close()

	require.Equal(t, int32(2), ran.Load())

	stats := d.Stats()
	require.Equal(t, 2, stats.Keys)
	require.Equal(t, int64(4), stats.Submitted)
	require.Equal(t, int64(2), stats.Completed)
	require.Equal(t, int64(1), stats.Failed)
	require.Equal(t, int64(1), stats.Panicked)
}

func TestSubmitAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New("test")
	d.Close()
	d.Close()

	require.False(t, d.Submit(1, func() error { return nil }))
	require.False(t, d.Submit(1, nil))
}

func TestCloseDrainsQueuedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New("test")

	var ran atomic.Int32
	for key := uint32(0); key < 4; key++ {
		for i := 0; i < 25; i++ {
			d.Submit(key, func() error {
				ran.Add(1)
				return nil
			})
		}
	}
	d.Close()

	require.Equal(t, int32(100), ran.Load())
}
