// Package transfer implements the chunked, resumable, checkpointed copy that
// moves one job's bytes from source to destination.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jack-sneddon/watchrelay/internal/job"
)

const (
	// DefaultChunkSize is the read/write buffer size used per iteration of
	// the copy loop.
	DefaultChunkSize = 256 * 1024 * 1024

	// CheckpointPercent is the progress granularity at which the copy
	// routine invokes the checkpoint callback.
	CheckpointPercent = 10

	maxCopyAttempts = 5
	baseRetryDelay  = time.Second

	maxDeleteAttempts = 3
)

// ProgressFunc is invoked after every chunk write with the bytes copied so
// far and the percent complete.
type ProgressFunc func(copiedBytes int64, percent float64)

// CheckpointFunc is invoked once per 10%-boundary crossing, after the job's
// CopiedBytes/Progress/LastCheckpoint fields have been updated, so the
// caller can persist it.
type CheckpointFunc func(j *job.Job)

// Options configures a single Copy call.
type Options struct {
	ChunkSize int
	Sleep     func(time.Duration) // overridable for tests; defaults to time.Sleep
}

func (o Options) chunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return DefaultChunkSize
}

func (o Options) sleep(d time.Duration) {
	if o.Sleep != nil {
		o.Sleep(d)
		return
	}
	time.Sleep(d)
}

// UniqueDestPath returns filepath.Join(destFolder, filename) if nothing occupies it, or the
// first available "name (n).ext" variant in destFolder otherwise.
func UniqueDestPath(destFolder, filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	candidate := filepath.Join(destFolder, filename)

	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	for counter := 1; ; counter++ {
		name := fmt.Sprintf("%s (%d)%s", base, counter, ext)
		candidate = filepath.Join(destFolder, name)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Copy performs the resumable chunked copy described by j: it adopts the
// source's actual size, renames the destination to avoid clobbering an
// existing file, copies in ChunkSize pieces (resuming from j.CopiedBytes
// without truncating any existing partial destination), calls onProgress
// after every chunk and onCheckpoint on every 10% boundary, and verifies the
// result by size. It never computes a content hash.
func Copy(j *job.Job, onProgress ProgressFunc, onCheckpoint CheckpointFunc, opts Options) error {
	info, err := os.Stat(j.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return newError(KindNonExistentSource, "stat-source", j.SourcePath, err)
		}
		return newError(KindTransientIO, "stat-source", j.SourcePath, err)
	}
	if info.Size() != j.SizeBytes {
		j.SizeBytes = info.Size()
	}

	destFolder := filepath.Dir(j.DestPath)
	if j.CopiedBytes == 0 {
		unique := UniqueDestPath(destFolder, filepath.Base(j.DestPath))
		j.DestPath = unique
	}

	if err := os.MkdirAll(destFolder, 0755); err != nil {
		return newError(KindConfiguration, "mkdir-dest", destFolder, err)
	}

	if err := copyWithRetry(j, onProgress, onCheckpoint, opts); err != nil {
		return err
	}

	return verify(j)
}

func copyWithRetry(j *job.Job, onProgress ProgressFunc, onCheckpoint CheckpointFunc, opts Options) error {
	var lastErr error

	for attempt := 0; attempt < maxCopyAttempts; attempt++ {
		err := copyOnce(j, onProgress, onCheckpoint, opts)
		if err == nil {
			return nil
		}

		var te *Error
		if !errors.As(err, &te) {
			return err
		}

		switch te.Kind {
		case KindNonExistentSource, KindConfiguration, KindFatalUnknown:
			return err
		default:
			lastErr = err
			if attempt < maxCopyAttempts-1 {
				delay := baseRetryDelay * time.Duration(1<<uint(attempt))
				opts.sleep(delay)
			}
		}
	}

	return lastErr
}

func copyOnce(j *job.Job, onProgress ProgressFunc, onCheckpoint CheckpointFunc, opts Options) error {
	src, err := os.Open(j.SourcePath)
	if err != nil {
		return classifyOpenErr("open-source", j.SourcePath, err)
	}
	defer src.Close()

	destFlags := os.O_CREATE | os.O_WRONLY
	if j.CopiedBytes == 0 {
		destFlags |= os.O_TRUNC
	}
	dst, err := os.OpenFile(j.DestPath, destFlags, 0644)
	if err != nil {
		return classifyOpenErr("open-dest", j.DestPath, err)
	}
	defer dst.Close()

	copiedBytes := j.CopiedBytes
	if copiedBytes > 0 {
		if _, err := src.Seek(copiedBytes, io.SeekStart); err != nil {
			return newError(KindTransientIO, "seek-source", j.SourcePath, err)
		}
		if _, err := dst.Seek(copiedBytes, io.SeekStart); err != nil {
			return newError(KindTransientIO, "seek-dest", j.DestPath, err)
		}
	}

	buf := make([]byte, opts.chunkSize())
	lastCheckpoint := j.LastCheckpoint

	for copiedBytes < j.SizeBytes {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return classifyIOErr("write-dest", j.DestPath, writeErr)
			}
			copiedBytes += int64(n)

			percent := (float64(copiedBytes) / float64(j.SizeBytes)) * 100
			if onProgress != nil {
				onProgress(copiedBytes, percent)
			}

			checkpoint := (int(percent) / CheckpointPercent) * CheckpointPercent
			if checkpoint > lastCheckpoint && onCheckpoint != nil {
				j.CopiedBytes = copiedBytes
				j.Progress = percent
				j.LastCheckpoint = checkpoint
				j.Checkpoints = append(j.Checkpoints, checkpoint)
				onCheckpoint(j)
				lastCheckpoint = checkpoint
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return classifyIOErr("read-source", j.SourcePath, readErr)
		}
	}

	j.CopiedBytes = copiedBytes
	j.Progress = j.ProgressPercent()
	now := time.Now()
	j.EndTime = &now
	return nil
}

func classifyOpenErr(op, path string, err error) error {
	if os.IsNotExist(err) {
		return newError(KindNonExistentSource, op, path, err)
	}
	if os.IsPermission(err) {
		return newError(KindTransientIO, op, path, err)
	}
	return newError(KindFatalUnknown, op, path, err)
}

func classifyIOErr(op, path string, err error) error {
	if os.IsPermission(err) {
		return newError(KindTransientIO, op, path, err)
	}
	return newError(KindTransientIO, op, path, err)
}

func verify(j *job.Job) error {
	info, err := os.Stat(j.DestPath)
	if err != nil {
		return newError(KindFatalUnknown, "verify", j.DestPath, err)
	}
	if info.Size() != j.SizeBytes {
		return newError(KindSizeMismatch, "verify", j.DestPath,
			fmt.Errorf("destination size %d != expected %d", info.Size(), j.SizeBytes))
	}
	return nil
}

// Delete removes path, retrying up to 3 times with exponential backoff on
// permission errors (the file may still be held open by another process on
// the source share).
func Delete(path string, opts Options) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < maxDeleteAttempts; attempt++ {
		err := os.Remove(path)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxDeleteAttempts-1 {
			opts.sleep(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return newError(KindTransientIO, "delete-source", path, lastErr)
}
