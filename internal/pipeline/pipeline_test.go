package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jack-sneddon/watchrelay/internal/config"
	"github.com/jack-sneddon/watchrelay/internal/job"
)

func testConfig(t *testing.T, src, dst string) *config.Config {
	t.Helper()
	return &config.Config{
		SourceFolders:     []string{src},
		DestinationFolder: dst,
		Extensions:        []string{".mxf"},
		MaxParallel:       2,
		MaxRetry:          3,
		StateFile:         "pipeline_state.json",
		HistoryFile:       "copy_history.txt",
		LogLevel:          "error",
	}
}

func TestServiceReplicatesDetectedFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	svc, err := New(testConfig(t, src, dst))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Stop()

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srcPath := filepath.Join(src, "clip.mxf")
	if err := os.WriteFile(srcPath, []byte("video payload"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dst, "clip.mxf")); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("timed out waiting for replicated file to appear in destination")
}

func TestServiceResumesIncompleteJobsOnStart(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	cfg := testConfig(t, src, dst)

	srcPath := filepath.Join(src, "resumed.mxf")
	if err := os.WriteFile(srcPath, []byte("0123456789"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Stop first: its final save rewrites the state file from the queue, so
	// the incomplete job is recorded afterwards, as an interrupted run leaves it.
	svc.Stop()

	j := job.New("resumed.mxf", srcPath, 10, 3)
	j.CopiedBytes = 5
	j.Status = job.StatusDownloading
	if err := svc.state.UpdateJob(j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	svc2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	defer svc2.Stop()
	if err := svc2.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dst, "resumed.mxf")); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("timed out waiting for resumed job to complete")
}

func TestSummaryStringIncludesCounts(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	svc, err := New(testConfig(t, src, dst))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Stop()

	sum, err := svc.Summary()
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	got := sum.String()
	if got == "" {
		t.Fatal("expected a non-empty summary string")
	}
	if want := "waiting=0 active=0 completed=0 failed=0"; !strings.Contains(got, want) {
		t.Fatalf("summary %q does not include queue counts %q", got, want)
	}
}
