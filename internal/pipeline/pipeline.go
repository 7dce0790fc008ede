// Package pipeline wires the detector, queue, state store, history sink and
// worker pool together into the running watch-folder replication service.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jack-sneddon/watchrelay/internal/config"
	"github.com/jack-sneddon/watchrelay/internal/detector"
	"github.com/jack-sneddon/watchrelay/internal/history"
	"github.com/jack-sneddon/watchrelay/internal/job"
	"github.com/jack-sneddon/watchrelay/internal/logging"
	"github.com/jack-sneddon/watchrelay/internal/queue"
	"github.com/jack-sneddon/watchrelay/internal/state"
	"github.com/jack-sneddon/watchrelay/internal/transfer"
	"github.com/jack-sneddon/watchrelay/internal/worker"
)

// Service is the running replication pipeline: detector feeding queue,
// queue feeding a worker pool, workers persisting to state and history.
type Service struct {
	cfg *config.Config

	log     *logging.Logger
	queue   *queue.Queue
	state   *state.Store
	history *history.Sink
	detect  *detector.Detector
	pool    *worker.Pool

	cancel context.CancelFunc
}

// New constructs a Service from cfg, resolving the state and history files
// relative to the destination folder the way the teacher resolves its own
// target-relative bookkeeping files.
func New(cfg *config.Config) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.DestinationFolder, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	statePath := resolvePath(cfg.DestinationFolder, cfg.StateFile)
	st := state.Open(statePath)
	if err := st.Load(); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	historyPath := resolvePath(cfg.DestinationFolder, cfg.HistoryFile)
	hist, err := history.Open(historyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	q := queue.New(256)

	det := detector.New(cfg.SourceFolders, cfg.Extensions, cfg.MaxRetry, log)

	deps := worker.Deps{
		Queue:             q,
		State:             st,
		History:           hist,
		Log:               log,
		DestinationFolder: cfg.DestinationFolder,
		TransferOptions:   transfer.Options{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(ctx, deps, cfg.MaxParallel)

	s := &Service{
		cfg:     cfg,
		log:     log,
		queue:   q,
		state:   st,
		history: hist,
		detect:  det,
		pool:    pool,
		cancel:  cancel,
	}

	det.Subscribe(func(j *job.Job) {
		position := q.Add(j)
		s.state.UpdateJob(j)
		s.log.Info("queued %s at position %d (%s)", j.Name, position, humanize.Bytes(uint64(j.SizeBytes)))
	})

	q.Subscribe(func(event queue.Event, j *job.Job) {
		switch event {
		case queue.EventFailed:
			s.log.Warn("job failed permanently: %s (%s)", j.Name, j.LastError)
		case queue.EventRetrying:
			s.log.Warn("job failed, retrying (%d/%d): %s (%s)", j.RetryCount, j.MaxRetry, j.Name, j.LastError)
		case queue.EventCompleted:
			s.log.Debug("job removed from active set: %s", j.Name)
		}
	})

	return s, nil
}

func resolvePath(destinationFolder, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(destinationFolder, name)
}

// Start resumes any incomplete jobs from the last run and begins watching
// for new files.
func (s *Service) Start() error {
	resumable := s.state.GetResumableJobs()
	for _, rec := range resumable {
		j := job.FromRecord(rec)
		s.log.Info("resuming %s from %s", j.Name, humanize.Bytes(uint64(j.CopiedBytes)))
		s.queue.Add(j)
	}

	s.detect.Start()
	s.log.Info("watchrelay started: watching %d folder(s), %d worker(s)", len(s.cfg.SourceFolders), s.pool.Size())
	return nil
}

// Resize changes the number of active workers. Values above 10 are capped to
// 10; values below 1 fall back to the pool default of 4.
func (s *Service) Resize(workers int) {
	s.pool.Resize(workers)
}

// Stop halts detection and drains the worker pool, persisting a final
// snapshot of every job still waiting or downloading before returning.
func (s *Service) Stop() {
	s.detect.Stop()
	s.pool.Stop(func() {
		var pending []*job.Job
		for _, j := range s.queue.All() {
			if j.Status == job.StatusWaiting || j.Status == job.StatusDownloading {
				pending = append(pending, j)
			}
		}
		if err := s.state.Save(pending); err != nil {
			s.log.Error("failed to save final state: %v", err)
		}
	})
	s.cancel()
	s.log.Close()
}

// Summary is a human-facing snapshot of the pipeline's activity, suitable
// for CLI or log-line reporting.
type Summary struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	History   history.Stats
}

// Summary reports the pipeline's current queue state and historical totals.
func (s *Service) Summary() (Summary, error) {
	stats := s.queue.Stats()
	hist, err := s.history.Stats()
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Waiting:   stats.Waiting,
		Active:    stats.Active,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		History:   hist,
	}, nil
}

// String renders a Summary as the single-line report the CLI prints.
func (sum Summary) String() string {
	return fmt.Sprintf(
		"waiting=%d active=%d completed=%d failed=%d | lifetime: %d files, %s, %d succeeded, %d failed (%s total)",
		sum.Waiting, sum.Active, sum.Completed, sum.Failed,
		sum.History.TotalFiles,
		humanize.Bytes(uint64(sum.History.TotalSizeGB*(1<<30))),
		sum.History.SuccessCount, sum.History.FailedCount,
		(time.Duration(sum.History.TotalDurationSeconds) * time.Second).String(),
	)
}
