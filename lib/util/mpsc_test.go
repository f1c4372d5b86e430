package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMPSCSingleProducerOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewLockFreeMPSC[int]()

	const n = 1000
	for i := 0; i < n; i++ {
		v := i
		require.True(t, q.Push(&v))
	}
	q.Close()

	got := make([]int, 0, n)
	for v := range q.Recv() {
		got = append(got, *v)
	}
	q.Wait()

	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewLockFreeMPSC[int]()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				q.Push(&v)
			}
		}(p)
	}

	seen := make(map[int]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range q.Recv() {
			seen[*v] = true
		}
	}()

	wg.Wait()
	q.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	require.Len(t, seen, producers*perProducer)
}

func TestMPSCPushAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewLockFreeMPSC[int]()
	q.Close()

	v := 1
	require.False(t, q.Push(&v))
	require.False(t, q.Push(nil))
	require.True(t, q.IsClosed())

	_, ok := <-q.Recv()
	require.False(t, ok)
	q.Wait()
}

func TestMPSCPushRacingClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	for round := 0; round < 200; round++ {
		q := NewLockFreeMPSC[int]()

		received := make(chan int, 1)
		go func() {
			n := 0
			for range q.Recv() {
				n++
			}
			received <- n
		}()

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					v := i
					if q.Push(&v) {
						accepted.Add(1)
					}
				}
			}()
		}
		q.Close()
		wg.Wait()

		select {
		case n := <-received:
			require.Equal(t, int(accepted.Load()), n, "round %d", round)
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: consumer did not finish", round)
		}
		q.Wait()
	}
}
