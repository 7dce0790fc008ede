// Package worker drives jobs through the transfer routine: one worker claims
// a job from the queue at a time, runs defensive pre-flight checks, copies
// it, persists progress, and records the outcome to history before handing
// the result back to the queue.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jack-sneddon/watchrelay/internal/history"
	"github.com/jack-sneddon/watchrelay/internal/job"
	"github.com/jack-sneddon/watchrelay/internal/logging"
	"github.com/jack-sneddon/watchrelay/internal/queue"
	"github.com/jack-sneddon/watchrelay/internal/state"
	"github.com/jack-sneddon/watchrelay/internal/transfer"
)

// Deps bundles the shared collaborators every worker in a pool needs.
type Deps struct {
	Queue             *queue.Queue
	State             *state.Store
	History           *history.Sink
	Log               *logging.Logger
	DestinationFolder string
	TransferOptions   transfer.Options
}

type worker struct {
	id   int
	deps Deps

	stopCh chan struct{}
	idle   chan struct{} // closed once the worker has fully stopped
	onExit func(*worker) // notifies the pool so it can drop this worker from its roster

	mu      sync.Mutex // guards retire/current, read from the pool goroutine
	retire  bool       // set by the pool to ask this worker to exit at its next idle point
	current *job.Job
}

func newWorker(id int, deps Deps, onExit func(*worker)) *worker {
	return &worker{
		id:     id,
		deps:   deps,
		stopCh: make(chan struct{}),
		idle:   make(chan struct{}),
		onExit: onExit,
	}
}

func (w *worker) run(ctx context.Context) {
	defer close(w.idle)
	defer func() {
		if w.onExit != nil {
			w.onExit(w)
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.shouldRetire() {
			return
		}

		j := w.deps.Queue.Next(ctx)
		if j == nil {
			continue
		}

		w.setCurrent(j)
		w.processJob(j)
		w.setCurrent(nil)
	}
}

// isBusy reports whether the worker currently owns a job.
func (w *worker) isBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current != nil
}

func (w *worker) setCurrent(j *job.Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = j
}

func (w *worker) setRetire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retire = true
}

func (w *worker) shouldRetire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retire
}

func (w *worker) processJob(j *job.Job) {
	deps := w.deps

	if j.SourcePath == "" {
		w.fail(j, "source path is empty", false)
		return
	}
	if _, err := os.Stat(j.SourcePath); err != nil {
		if os.IsNotExist(err) {
			w.fail(j, fmt.Sprintf("source file not found: %s", j.SourcePath), true)
			return
		}
		w.fail(j, fmt.Sprintf("cannot stat source: %v", err), true)
		return
	}

	if j.DestPath == "" {
		if deps.DestinationFolder == "" {
			w.fail(j, "destination folder not configured", false)
			return
		}
		j.DestPath = filepath.Join(deps.DestinationFolder, j.Name)
	}

	destFolder := filepath.Dir(j.DestPath)
	if _, err := os.Stat(destFolder); os.IsNotExist(err) {
		if err := os.MkdirAll(destFolder, 0755); err != nil {
			w.fail(j, fmt.Sprintf("cannot create destination folder: %v", err), false)
			return
		}
	}
	if !writable(destFolder) {
		w.fail(j, fmt.Sprintf("no write permission to %s", destFolder), false)
		return
	}

	now := time.Now()
	j.StartTime = &now
	deps.State.UpdateJob(j)

	start := time.Now()
	onProgress := func(copiedBytes int64, percent float64) {
		j.CopiedBytes = copiedBytes
		j.Progress = percent
	}
	onCheckpoint := func(jb *job.Job) {
		deps.State.UpdateJob(jb)
		deps.Log.Debug("checkpoint saved for %s: %.1f%%", jb.Name, jb.Progress)
	}

	err := transfer.Copy(j, onProgress, onCheckpoint, deps.TransferOptions)
	duration := time.Since(start)

	if err != nil {
		deps.Log.Error("worker-%d failed: %s - %v", w.id, j.Name, err)
		deps.History.LogFailed(j.Name, j.SizeBytes, err.Error(), j.RetryCount+1)

		retry := transfer.Retryable(err) && j.RetryCount < j.MaxRetry-1
		w.fail(j, err.Error(), retry)
		return
	}

	endTime := time.Now()
	j.EndTime = &endTime
	j.Status = job.StatusCompleted

	deps.History.LogSuccess(j.Name, j.SizeBytes, duration, j.RetryCount)

	// The job reached a terminal state: it is removed from the state store
	// rather than updated, since C only ever holds non-terminal jobs.
	if err := deps.State.RemoveJob(j.Name); err != nil {
		deps.Log.Warn("could not remove completed job from state: %s: %v", j.Name, err)
	}

	deps.Log.Info("deleting source file: %s", j.SourcePath)
	if err := transfer.Delete(j.SourcePath, deps.TransferOptions); err != nil {
		deps.Log.Warn("could not delete source %s: %v", j.SourcePath, err)
	}

	deps.Log.Info("worker-%d completed: %s in %s", w.id, j.Name, duration)
	deps.Queue.Complete(j, true)
}

// fail routes a failed attempt through the queue, then reconciles the state
// store with the outcome: a retried job is still non-terminal and gets its
// record updated, while a permanently failed job is removed from C.
func (w *worker) fail(j *job.Job, errMsg string, retry bool) {
	deps := w.deps
	deps.Queue.Fail(j, errMsg, retry)

	if j.Status == job.StatusFailed {
		if err := deps.State.RemoveJob(j.Name); err != nil {
			deps.Log.Warn("could not remove failed job from state: %s: %v", j.Name, err)
		}
		return
	}
	deps.State.UpdateJob(j)
}

func writable(dir string) bool {
	probe := filepath.Join(dir, ".watchrelay-write-test")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}
