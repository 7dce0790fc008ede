package transfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jack-sneddon/watchrelay/internal/job"
)

func noSleepOptions() Options {
	return Options{Sleep: func(time.Duration) {}}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writeFile(%s): %v", path, err)
	}
}

func TestCopyFreshFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.mxf")
	data := []byte("hello watchrelay")
	writeFile(t, srcPath, data)

	j := job.New("src.mxf", srcPath, int64(len(data)), 3)
	j.DestPath = filepath.Join(dir, "dest", "src.mxf")

	opts := noSleepOptions()
	opts.ChunkSize = 4
	if err := Copy(j, nil, nil, opts); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	got, err := os.ReadFile(j.DestPath)
	if err != nil {
		t.Fatalf("ReadFile(dest): %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("dest content = %q, want %q", got, data)
	}
}

func TestCopyCollisionRenamesDestination(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.mxf")
	data := []byte("payload")
	writeFile(t, srcPath, data)

	destDir := filepath.Join(dir, "dest")
	os.MkdirAll(destDir, 0755)
	writeFile(t, filepath.Join(destDir, "src.mxf"), []byte("existing"))

	j := job.New("src.mxf", srcPath, int64(len(data)), 3)
	j.DestPath = filepath.Join(destDir, "src.mxf")

	if err := Copy(j, nil, nil, noSleepOptions()); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if j.DestPath == filepath.Join(destDir, "src.mxf") {
		t.Fatal("expected destination to be renamed to avoid collision")
	}
	if filepath.Base(j.DestPath) != "src (1).mxf" {
		t.Fatalf("renamed dest = %q, want \"src (1).mxf\"", filepath.Base(j.DestPath))
	}
}

func TestCopyResumeDoesNotTruncateExistingBytes(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.mxf")
	full := []byte("0123456789")
	writeFile(t, srcPath, full)

	destPath := filepath.Join(dir, "dest.mxf")
	writeFile(t, destPath, full[:5]) // partial destination from a prior interrupted run

	j := job.New("src.mxf", srcPath, int64(len(full)), 3)
	j.DestPath = destPath
	j.CopiedBytes = 5

	if err := Copy(j, nil, nil, noSleepOptions()); err != nil {
		t.Fatalf("Copy resume: %v", err)
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(full) {
		t.Fatalf("resumed content = %q, want %q", got, full)
	}
}

func TestCopyNonExistentSourceIsNotRetried(t *testing.T) {
	dir := t.TempDir()
	j := job.New("ghost.mxf", filepath.Join(dir, "ghost.mxf"), 10, 3)
	j.DestPath = filepath.Join(dir, "dest", "ghost.mxf")

	sleeps := 0
	opts := Options{Sleep: func(time.Duration) { sleeps++ }}
	err := Copy(j, nil, nil, opts)
	if err == nil {
		t.Fatal("expected an error for a non-existent source")
	}
	if sleeps != 0 {
		t.Fatalf("non-existent source was retried in-copy (%d backoff waits), want an immediate abort", sleeps)
	}
	if !Retryable(err) {
		t.Fatal("non-existent source should stay eligible for job-level retry per the taxonomy")
	}
}

func TestCheckpointCallbackFiresOnBoundary(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.mxf")
	data := make([]byte, 100)
	writeFile(t, srcPath, data)

	j := job.New("src.mxf", srcPath, 100, 3)
	j.DestPath = filepath.Join(dir, "dest.mxf")

	var checkpoints []int
	opts := noSleepOptions()
	opts.ChunkSize = 10
	err := Copy(j, nil, func(jb *job.Job) {
		checkpoints = append(checkpoints, jb.LastCheckpoint)
	}, opts)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if len(checkpoints) == 0 {
		t.Fatal("expected at least one checkpoint callback")
	}
}

func TestUniqueDestPathIncrements(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mxf"), []byte("x"))
	writeFile(t, filepath.Join(dir, "a (1).mxf"), []byte("x"))

	got := UniqueDestPath(dir, "a.mxf")
	if filepath.Base(got) != "a (2).mxf" {
		t.Fatalf("UniqueDestPath = %q, want \"a (2).mxf\"", filepath.Base(got))
	}
}
