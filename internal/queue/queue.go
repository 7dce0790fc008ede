// Package queue implements the FIFO job queue: the handoff point between the
// detector, which adds jobs, and the worker pool, which pulls them off one at
// a time and reports back success, failure, or retry.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jack-sneddon/watchrelay/internal/job"
)

// Event is the kind of change a Subscribe callback is notified of.
type Event string

const (
	EventAdded     Event = "added"
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventRetrying  Event = "retrying"
	EventFailed    Event = "failed"
)

// Callback is invoked synchronously, under the Queue's lock, for every
// lifecycle event. Callbacks must return quickly and must not call back into
// the Queue — doing so deadlocks.
type Callback func(event Event, j *job.Job)

// Queue is a FIFO job queue with a by-name index, 1-based positions
// recomputed on every mutation, and retry-to-tail semantics on failure,
// mirroring a classic producer/consumer queue with a companion identity map.
type Queue struct {
	mu sync.Mutex

	ready chan *job.Job

	jobs      map[string]*job.Job
	waiting   []string
	active    []string
	completed []string
	failed    []string

	callbacks []Callback
}

// New builds an empty Queue able to buffer up to capacity waiting jobs
// without blocking Add; capacity should be generous relative to expected
// queue depth since Add never blocks in this pipeline's design.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		ready: make(chan *job.Job, capacity),
		jobs:  make(map[string]*job.Job),
	}
}

// Subscribe registers a callback for lifecycle events.
func (q *Queue) Subscribe(cb Callback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks = append(q.callbacks, cb)
}

// Add enqueues j, marking it waiting and assigning it a queue position.
func (q *Queue) Add(j *job.Job) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	j.Status = job.StatusWaiting
	if j.DetectedTime.IsZero() {
		j.DetectedTime = time.Now()
	}

	q.jobs[j.Name] = j
	q.waiting = append(q.waiting, j.Name)
	q.ready <- j
	q.updatePositions()

	q.notify(EventAdded, j)
	return q.position(j.Name)
}

// Next blocks for up to roughly one second waiting for a job to become
// available, returning nil if none arrived — the same cooperative,
// short-bounded wait a worker uses so it can still notice a pool-level stop
// signal promptly.
func (q *Queue) Next(ctx context.Context) *job.Job {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()

	select {
	case j, ok := <-q.ready:
		if !ok {
			return nil
		}
		return q.claim(j)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (q *Queue) claim(j *job.Job) *job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[j.Name]; !ok {
		return nil
	}

	j.Status = job.StatusDownloading
	q.active = append(q.active, j.Name)
	q.waiting = removeString(q.waiting, j.Name)
	q.updatePositions()

	q.notify(EventStarted, j)
	return j
}

// Complete marks j as finished: StatusCompleted on success, StatusFailed
// otherwise, with no retry path (permanent outcomes only — for a retryable
// failure use Fail).
func (q *Queue) Complete(j *job.Job, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[j.Name]; !ok {
		return
	}

	if success {
		j.Status = job.StatusCompleted
		q.completed = append(q.completed, j.Name)
	} else {
		j.Status = job.StatusFailed
		q.failed = append(q.failed, j.Name)
	}
	q.active = removeString(q.active, j.Name)
	q.updatePositions()

	if success {
		q.notify(EventCompleted, j)
	} else {
		q.notify(EventFailed, j)
	}
}

// Fail records a failed attempt. If retry is true and the job has not
// exhausted MaxRetry, it is re-enqueued at the tail of the waiting list and
// EventRetrying is emitted; otherwise it is marked permanently failed and
// EventFailed is emitted.
func (q *Queue) Fail(j *job.Job, errMsg string, retry bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j.RetryCount++
	j.LastError = errMsg

	q.active = removeString(q.active, j.Name)

	if retry && j.RetryCount < j.MaxRetry {
		j.Status = job.StatusWaiting
		q.waiting = append(q.waiting, j.Name)
		q.ready <- j
		q.updatePositions()
		q.notify(EventRetrying, j)
		return
	}

	j.Status = job.StatusFailed
	q.failed = append(q.failed, j.Name)
	q.updatePositions()
	q.notify(EventFailed, j)
}

// Get looks up a job by name.
func (q *Queue) Get(name string) (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[name]
	return j, ok
}

// All returns every tracked job.
func (q *Queue) All() []*job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j)
	}
	return out
}

// Waiting returns the jobs currently waiting, in queue order.
func (q *Queue) Waiting() []*job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job.Job, 0, len(q.waiting))
	for _, name := range q.waiting {
		if j, ok := q.jobs[name]; ok {
			out = append(out, j)
		}
	}
	return out
}

// Active returns the jobs currently being downloaded.
func (q *Queue) Active() []*job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job.Job, 0, len(q.active))
	for _, name := range q.active {
		if j, ok := q.jobs[name]; ok {
			out = append(out, j)
		}
	}
	return out
}

// Position returns the 1-based position of name in the waiting list, or 0 if
// it is not waiting.
func (q *Queue) Position(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.position(name)
}

func (q *Queue) position(name string) int {
	for i, n := range q.waiting {
		if n == name {
			return i + 1
		}
	}
	return 0
}

// Stats is a point-in-time snapshot of queue depth.
type Stats struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Total     int
}

// Stats returns the current queue depth counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Waiting:   len(q.waiting),
		Active:    len(q.active),
		Completed: len(q.completed),
		Failed:    len(q.failed),
		Total:     len(q.jobs),
	}
}

// ClearCompleted drops completed and failed jobs from the in-memory index so
// long-running processes don't accumulate unbounded history in memory (the
// history sink retains the durable record).
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, name := range append(append([]string{}, q.completed...), q.failed...) {
		delete(q.jobs, name)
	}
	q.completed = q.completed[:0]
	q.failed = q.failed[:0]
}

func (q *Queue) updatePositions() {
	for i, name := range q.waiting {
		if j, ok := q.jobs[name]; ok {
			j.QueuePosition = i + 1
		}
	}
}

func (q *Queue) notify(event Event, j *job.Job) {
	for _, cb := range q.callbacks {
		cb(event, j)
	}
}

func removeString(xs []string, target string) []string {
	out := xs[:0]
	for _, x := range xs {
		if x != target {
			out = append(out, x)
		}
	}
	return out
}
