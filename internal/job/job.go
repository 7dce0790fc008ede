// Package job defines the unit of work that moves through the pipeline: one
// source file discovered by the detector, tracked through queueing, transfer,
// and final disposition.
package job

import (
	"fmt"
	"path/filepath"
	"time"
)

// Status values a Job moves through. A Job starts Waiting, becomes
// Downloading once a worker claims it, and ends at Completed or Failed.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Job represents one file being replicated from a source folder to the
// destination folder. A Job is owned by at most one worker at a time. The
// queue stores and hands out the same *Job pointer the owning worker mutates;
// the state store keeps Records built by ToRecord. Clone makes an independent
// copy for a reader that must not share the worker's Job.
type Job struct {
	Name       string
	SourcePath string
	DestPath   string
	SizeBytes  int64

	Status      Status
	Progress    float64
	CopiedBytes int64

	DetectedTime time.Time
	StartTime    *time.Time
	EndTime      *time.Time

	QueuePosition int

	RetryCount int
	MaxRetry   int
	LastError  string

	LastCheckpoint int
	Checkpoints    []int
}

// New builds a waiting Job for a freshly detected, stable file.
func New(name, sourcePath string, sizeBytes int64, maxRetry int) *Job {
	if name == "" {
		name = filepath.Base(sourcePath)
	}
	return &Job{
		Name:         name,
		SourcePath:   sourcePath,
		SizeBytes:    sizeBytes,
		Status:       StatusWaiting,
		DetectedTime: time.Now(),
		MaxRetry:     maxRetry,
	}
}

// Clone returns a value copy safe to hand to an observer without racing the
// worker that owns the original.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartTime != nil {
		t := *j.StartTime
		cp.StartTime = &t
	}
	if j.EndTime != nil {
		t := *j.EndTime
		cp.EndTime = &t
	}
	cp.Checkpoints = append([]int(nil), j.Checkpoints...)
	return &cp
}

// SizeGB is the job's total size in binary gigabytes.
func (j *Job) SizeGB() float64 {
	return float64(j.SizeBytes) / (1024 * 1024 * 1024)
}

// CopiedGB is the amount copied so far in binary gigabytes.
func (j *Job) CopiedGB() float64 {
	return float64(j.CopiedBytes) / (1024 * 1024 * 1024)
}

// ProgressPercent is copied/total as a 0-100 percentage.
func (j *Job) ProgressPercent() float64 {
	if j.SizeBytes == 0 {
		return 0
	}
	return (float64(j.CopiedBytes) / float64(j.SizeBytes)) * 100
}

// ElapsedSeconds is the time since StartTime, or since StartTime to EndTime
// if the job has finished. Zero if the job has not started.
func (j *Job) ElapsedSeconds() float64 {
	if j.StartTime == nil {
		return 0
	}
	end := time.Now()
	if j.EndTime != nil {
		end = *j.EndTime
	}
	return end.Sub(*j.StartTime).Seconds()
}

// SpeedMBps is the average transfer rate observed so far.
func (j *Job) SpeedMBps() float64 {
	elapsed := j.ElapsedSeconds()
	if elapsed == 0 || j.CopiedBytes == 0 {
		return 0
	}
	return (float64(j.CopiedBytes) / (1024 * 1024)) / elapsed
}

// ETASeconds estimates remaining time based on the current average speed.
func (j *Job) ETASeconds() float64 {
	speed := j.SpeedMBps()
	if speed == 0 || j.ProgressPercent() >= 100 {
		return 0
	}
	remaining := float64(j.SizeBytes-j.CopiedBytes) / (1024 * 1024)
	return remaining / speed
}

// ETAFormatted renders ETASeconds as HH:MM:SS, or MM:SS when under an hour,
// or "-" when there is no estimate.
func (j *Job) ETAFormatted() string {
	eta := j.ETASeconds()
	if eta <= 0 {
		return "-"
	}
	total := int(eta)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// UpdateProgress records copiedBytes and reports whether a new 10% checkpoint
// boundary was crossed (the checkpoint is not recorded here; callers append it
// to Checkpoints once they act on it, matching the tolerant semantics of
// Record's round trip).
func (j *Job) UpdateProgress(copiedBytes int64) (checkpoint int, crossed bool) {
	j.CopiedBytes = copiedBytes
	j.Progress = j.ProgressPercent()

	cp := (int(j.Progress) / 10) * 10
	if cp > j.LastCheckpoint && !containsInt(j.Checkpoints, cp) {
		return cp, true
	}
	return 0, false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
