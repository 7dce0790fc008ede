package worker

import (
	"context"
	"sync"
	"time"
)

const (
	// MinParallel and MaxParallel bound how many workers a Pool may run.
	MinParallel = 1
	MaxParallel = 10

	// DefaultParallel is used when a config omits max_download.
	DefaultParallel = 4

	stopJoinTimeout = 5 * time.Second
)

// Pool runs a resizable set of workers pulling from a shared queue. Growing
// the pool spawns new workers immediately; shrinking it stops only idle
// workers and asks any surplus busy workers to retire voluntarily the next
// time they finish a job, so an in-flight copy is never interrupted.
type Pool struct {
	mu      sync.Mutex
	deps    Deps
	workers []*worker
	nextID  int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a Pool running size workers against deps. A size above
// MaxParallel is capped to MaxParallel; a size below MinParallel falls back to
// DefaultParallel.
func NewPool(parent context.Context, deps Deps, size int) *Pool {
	size = clamp(size)
	ctx, cancel := context.WithCancel(parent)
	p := &Pool{deps: deps, ctx: ctx, cancel: cancel}
	for i := 0; i < size; i++ {
		p.spawnLocked()
	}
	return p
}

func clamp(size int) int {
	if size < MinParallel {
		return DefaultParallel
	}
	if size > MaxParallel {
		return MaxParallel
	}
	return size
}

func (p *Pool) spawnLocked() {
	p.nextID++
	w := newWorker(p.nextID, p.deps, p.workerExited)
	p.workers = append(p.workers, w)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.run(p.ctx)
	}()
}

// workerExited drops w from the roster once its run loop has returned,
// whether it stopped, was cancelled, or retired voluntarily. Safe to call
// for a worker Resize already removed from p.workers (a no-op in that case).
func (p *Pool) workerExited(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ww := range p.workers {
		if ww == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			return
		}
	}
}

// Size returns the current worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Busy returns how many workers currently own a job.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.isBusy() {
			n++
		}
	}
	return n
}

// Resize changes the pool's target worker count. Growing spawns new workers
// immediately. Shrinking stops idle workers first; any remaining excess are
// marked to retire at their next idle point rather than having an in-flight
// copy preempted.
func (p *Pool) Resize(newSize int) {
	newSize = clamp(newSize)

	p.mu.Lock()
	defer p.mu.Unlock()

	current := len(p.workers)
	if newSize == current {
		return
	}

	if newSize > current {
		for i := current; i < newSize; i++ {
			p.spawnLocked()
		}
		return
	}

	toRemove := current - newSize
	remaining := make([]*worker, 0, current)
	for _, w := range p.workers {
		if toRemove > 0 && !w.isBusy() {
			close(w.stopCh)
			toRemove--
			continue
		}
		remaining = append(remaining, w)
	}
	// Any workers still busy past this point are marked to retire instead of
	// being force-stopped, so they finish their current copy first.
	for _, w := range remaining {
		if toRemove <= 0 {
			break
		}
		if w.isBusy() {
			w.setRetire()
			toRemove--
		}
	}
	p.workers = remaining
}

// Stop signals every worker to stop, waits up to a bounded timeout for them
// to drain, then invokes onStopped (typically a final state-store save).
func (p *Pool) Stop(onStopped func()) {
	p.mu.Lock()
	for _, w := range p.workers {
		select {
		case <-w.stopCh:
		default:
			close(w.stopCh)
		}
	}
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
	}

	if onStopped != nil {
		onStopped()
	}
}
