package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dLink/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("dispatch")

// Task is a unit of work submitted to the Dispatcher.
// A returned error is logged and does not affect other tasks.
type Task func() error

// keyQueue holds the pending tasks of one key and is drained by exactly one worker
type keyQueue struct {
	key   uint32
	tasks *util.LockFreeMPSC[Task]
}

// Dispatcher runs tasks so that tasks sharing a key execute one at a time in
// submission order, while tasks of different keys run concurrently.
type Dispatcher struct {
	name    string
	queues  *xsync.MapOf[uint32, *keyQueue]
	workers sync.WaitGroup

	// mu orders Submit against Close, so no task is accepted after Close started
	mu     sync.RWMutex
	closed bool

	registry  metrics.Registry
	submitted metrics.Counter
	completed metrics.Counter
	failed    metrics.Counter
	panicked  metrics.Counter
	duration  metrics.Histogram
}

// Stats is a point-in-time snapshot of a Dispatcher's counters
type Stats struct {
	Keys             int           `json:"keys"`
	Submitted        int64         `json:"submitted"`
	Completed        int64         `json:"completed"`
	Failed           int64         `json:"failed"`
	Panicked         int64         `json:"panicked"`
	MeanTaskDuration time.Duration `json:"mean_task_duration"`
	P99TaskDuration  time.Duration `json:"p99_task_duration"`
}

// New creates a Dispatcher. The name only appears in log lines.
func New(name string) *Dispatcher {
	r := metrics.NewRegistry()
	return &Dispatcher{
		name:      name,
		queues:    xsync.NewMapOf[uint32, *keyQueue](),
		registry:  r,
		submitted: metrics.GetOrRegisterCounter("submitted", r),
		completed: metrics.GetOrRegisterCounter("completed", r),
		failed:    metrics.GetOrRegisterCounter("failed", r),
		panicked:  metrics.GetOrRegisterCounter("panicked", r),
		duration:  metrics.GetOrRegisterHistogram("task_duration_ns", r, metrics.NewUniformSample(1028)),
	}
}

// Submit queues task behind every task previously submitted with the same key.
// It never blocks on task execution. Returns false if the dispatcher is closed.
func (d *Dispatcher) Submit(key uint32, task Task) bool {
	if task == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	q, _ := d.queues.LoadOrCompute(key, func() *keyQueue {
		return d.startQueue(key)
	})
	if !q.tasks.Push(&task) {
		return false
	}
	d.submitted.Inc(1)
	return true
}

// Close stops accepting tasks, runs every task already queued and waits for
// all workers to exit. It must not be called from inside a task.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.queues.Range(func(_ uint32, q *keyQueue) bool {
		q.tasks.Close()
		return true
	})
	d.workers.Wait()

	Logger.Debugf("[%s] dispatcher closed after %d tasks", d.name, d.submitted.Count())
}

// Stats returns a snapshot of the dispatcher's counters
func (d *Dispatcher) Stats() Stats {
	h := d.duration.Snapshot()
	return Stats{
		Keys:             d.queues.Size(),
		Submitted:        d.submitted.Count(),
		Completed:        d.completed.Count(),
		Failed:           d.failed.Count(),
		Panicked:         d.panicked.Count(),
		MeanTaskDuration: time.Duration(h.Mean()),
		P99TaskDuration:  time.Duration(h.Percentile(0.99)),
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// startQueue creates the queue for a key and its worker goroutine
func (d *Dispatcher) startQueue(key uint32) *keyQueue {
	q := &keyQueue{
		key:   key,
		tasks: util.NewLockFreeMPSC[Task](),
	}
	d.workers.Add(1)
	go d.run(q)
	return q
}

// run executes the tasks of one key sequentially until its queue is closed and drained
func (d *Dispatcher) run(q *keyQueue) {
	defer d.workers.Done()
	for task := range q.tasks.Recv() {
		d.execute(q.key, *task)
	}
}

// execute runs a single task, isolating errors and panics
func (d *Dispatcher) execute(key uint32, task Task) {
	start := time.Now()
	defer func() {
		d.duration.Update(time.Since(start).Nanoseconds())
		if r := recover(); r != nil {
			d.panicked.Inc(1)
			Logger.Errorf("[%s] task for key 0x%04x panicked: %v", d.name, key, r)
		}
	}()

	if err := task(); err != nil {
		d.failed.Inc(1)
		Logger.Warningf("[%s] task for key 0x%04x failed: %v", d.name, key, err)
		return
	}
	d.completed.Inc(1)
}

func (s Stats) String() string {
	return fmt.Sprintf("keys=%d submitted=%d completed=%d failed=%d panicked=%d mean=%s p99=%s",
		s.Keys, s.Submitted, s.Completed, s.Failed, s.Panicked, s.MeanTaskDuration, s.P99TaskDuration)
}
