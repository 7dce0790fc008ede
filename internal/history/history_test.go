package history

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenWritesHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copy_history.txt")
	if _, err := Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}

	recent, err := (&Sink{path: path}).GetRecent(10)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("fresh log should have no data rows, got %v", recent)
	}
}

func TestLogSuccessAndStats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copy_history.txt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.LogSuccess("movie1.mxf", 21474836480, time.Hour, 0); err != nil {
		t.Fatalf("LogSuccess: %v", err)
	}
	if err := s.LogSuccess("movie2.mp4", 32212254720, 90*time.Minute, 1); err != nil {
		t.Fatalf("LogSuccess: %v", err)
	}
	if err := s.LogFailed("corrupt.mov", 10737418240, "connection timeout", 3); err != nil {
		t.Fatalf("LogFailed: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalFiles != 3 {
		t.Fatalf("TotalFiles = %d, want 3", stats.TotalFiles)
	}
	if stats.SuccessCount != 2 || stats.FailedCount != 1 {
		t.Fatalf("SuccessCount=%d FailedCount=%d, want 2/1", stats.SuccessCount, stats.FailedCount)
	}
}

func TestLogFailedIncludesErrorLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copy_history.txt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.LogFailed("corrupt.mov", 1024, "disk full", 2); err != nil {
		t.Fatalf("LogFailed: %v", err)
	}

	lines, err := s.readLines()
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	found := false
	for _, l := range lines {
		if strings.Contains(l, "disk full") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an indented ERROR line containing the failure message")
	}
}

func TestGetRecentRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copy_history.txt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.LogSuccess("f.mxf", 1024, time.Minute, 0); err != nil {
			t.Fatalf("LogSuccess: %v", err)
		}
	}

	recent, err := s.GetRecent(2)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("GetRecent(2) returned %d rows, want 2", len(recent))
	}
}
