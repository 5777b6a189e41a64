// Package depqueue implements the Dependency Queue (spec §4.6): jobs
// deferred until config-side or oper-side references they need have
// appeared in the Device Info Registry, replayed on data-arrival hooks or
// once a stale IN_TRANSIT dependency expires. The dispatch loop is grounded
// on the teacher's cache.eventProcessor.Run: one buffered channel drained
// by a bounded group of consumer goroutines (spec §5's "bounded worker
// group, sized runtime.GOMAXPROCS(0) by default, overridable via a client
// option"), running the runnable inline with a log line rather than
// blocking when the channel is momentarily full. A single Submit call still only ever runs one runnable
// at a time on whichever worker picks it up; only independent jobs from
// separate Submit calls run concurrently, so a job and the replay it
// triggers never race each other.
package depqueue

import (
	stdlog "log"
	"os"
	"runtime"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/deviceinfo"
)

// DepKey names one (class, key) dependency on either the config or oper
// side of the registry.
type DepKey struct {
	Class string
	Key   string
}

// DependentJob carries the set of dependencies a deferred action needs
// before it may run (spec §4.6).
type DependentJob struct {
	WaitingOnConfig []DepKey
	WaitingOnOper   []DepKey
	Run             func(registry *deviceinfo.Registry)
}

func (j *DependentJob) ready(registry *deviceinfo.Registry) bool {
	for _, dep := range j.WaitingOnConfig {
		if !dependencyMet(registry.GetConfigData, registry, dep) {
			return false
		}
	}
	for _, dep := range j.WaitingOnOper {
		if !dependencyMet(registry.GetOperData, registry, dep) {
			return false
		}
	}
	return true
}

func dependencyMet(lookup func(class, key string) (deviceinfo.DeviceData, bool, error), registry *deviceinfo.Registry, dep DepKey) bool {
	data, ok, err := lookup(dep.Class, dep.Key)
	if err != nil || !ok {
		return false
	}
	if data.Status != deviceinfo.InTransit {
		return true
	}
	return registry.IsInTransitExpired(dep.Class, dep.Key)
}

// Queue holds pending jobs and dispatches ready ones onto a bounded worker
// group, so dependency-driven replays and ordinary transaction submissions
// share one ordering discipline (spec §4.6's submit contract) while still
// letting independent jobs run concurrently (spec §5's bounded worker
// group for callback/schema-parsing dispatch).
type Queue struct {
	logger      logr.Logger
	workerCount int

	mu      sync.Mutex
	pending []*DependentJob

	work    chan func()
	closeMu sync.Mutex
	closed  bool
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithLogger overrides the default stdr logger.
func WithLogger(l logr.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithWorkerCount overrides the number of consumer goroutines draining the
// work channel. n <= 0 leaves the runtime.GOMAXPROCS(0) default in place.
func WithWorkerCount(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workerCount = n
		}
	}
}

// New creates a Queue and starts its worker group. Capacity bounds how many
// submitted runnables may be outstanding before Submit drops the ordering
// guarantee and runs inline, matching the teacher's eventProcessor
// buffer-full behavior.
func New(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	q := &Queue{
		logger:      stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags)),
		workerCount: runtime.GOMAXPROCS(0),
		work:        make(chan func(), capacity),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.workerCount <= 0 {
		q.workerCount = 1
	}
	for i := 0; i < q.workerCount; i++ {
		go q.run()
	}
	return q
}

func (q *Queue) run() {
	for job := range q.work {
		q.closeMu.Lock()
		closed := q.closed
		q.closeMu.Unlock()
		if closed {
			continue
		}
		job()
	}
}

// Submit hands runnable to the queue's worker group (spec §4.6). The
// closed check and the channel send happen under the same closeMu
// critical section Close uses around close(q.work), so a Submit racing a
// concurrent Close can never observe "open" and then send after the
// channel has already been closed.
func (q *Queue) Submit(runnable func()) {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		q.logger.Info("dropping submission, queue is closed")
		return
	}
	select {
	case q.work <- runnable:
	default:
		q.logger.Info("dependency queue worker backlog full, running inline")
		runnable()
	}
}

// AddToQueue implements spec §4.6's addToQueue.
func (q *Queue) AddToQueue(job *DependentJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
}

// ProcessReadyJobsFromConfigQueue implements spec §4.6's
// processReadyJobsFromConfigQueue, invoked from the registry's
// onConfigDataAvailable hook.
func (q *Queue) ProcessReadyJobsFromConfigQueue(registry *deviceinfo.Registry) {
	q.drainReady(registry)
}

// ProcessReadyJobsFromOpQueue implements spec §4.6's
// processReadyJobsFromOpQueue, invoked from the registry's
// onOperDataAvailable hook. Both hooks share one readiness check because a
// job may depend on both config and oper keys simultaneously.
func (q *Queue) ProcessReadyJobsFromOpQueue(registry *deviceinfo.Registry) {
	q.drainReady(registry)
}

func (q *Queue) drainReady(registry *deviceinfo.Registry) {
	q.mu.Lock()
	var ready []*DependentJob
	remaining := q.pending[:0]
	for _, job := range q.pending {
		if job.ready(registry) {
			ready = append(ready, job)
		} else {
			remaining = append(remaining, job)
		}
	}
	q.pending = remaining
	q.mu.Unlock()

	for _, job := range ready {
		j := job
		q.Submit(func() { j.Run(registry) })
	}
}

// Len reports how many jobs are currently waiting on dependencies.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting new submissions and drains the worker group,
// discarding runnables still buffered in the channel; per spec §5's
// disconnect contract no further jobs start once it is called, and it is
// idempotent.
func (q *Queue) Close() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	close(q.work)
	q.closeMu.Unlock()

	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}
