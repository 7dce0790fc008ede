package job

import (
	"testing"
	"time"
)

func TestProgressPercent(t *testing.T) {
	j := New("movie.mxf", "/src/movie.mxf", 1000, 3)
	j.CopiedBytes = 250
	if got := j.ProgressPercent(); got != 25 {
		t.Fatalf("ProgressPercent() = %v, want 25", got)
	}
}

func TestProgressPercentZeroSize(t *testing.T) {
	j := New("empty.mxf", "/src/empty.mxf", 0, 3)
	if got := j.ProgressPercent(); got != 0 {
		t.Fatalf("ProgressPercent() on zero-size job = %v, want 0", got)
	}
}

func TestETAFormattedNoEstimate(t *testing.T) {
	j := New("movie.mxf", "/src/movie.mxf", 1000, 3)
	if got := j.ETAFormatted(); got != "-" {
		t.Fatalf("ETAFormatted() with no progress = %q, want \"-\"", got)
	}
}

func TestUpdateProgressCheckspointBoundary(t *testing.T) {
	j := New("movie.mxf", "/src/movie.mxf", 1000, 3)
	if cp, crossed := j.UpdateProgress(50); crossed || cp != 0 {
		t.Fatalf("UpdateProgress(50) = (%d, %v), want no crossing below 10%%", cp, crossed)
	}
	cp, crossed := j.UpdateProgress(100)
	if !crossed || cp != 10 {
		t.Fatalf("UpdateProgress(100) = (%d, %v), want (10, true)", cp, crossed)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	j := New("movie.mxf", "/src/movie.mxf", 2048, 3)
	j.StartTime = &start
	j.CopiedBytes = 1024
	j.Status = StatusDownloading

	r := j.ToRecord()
	back := FromRecord(r)

	if back.Name != j.Name || back.SourcePath != j.SourcePath || back.SizeBytes != j.SizeBytes {
		t.Fatalf("round trip lost identity fields: %+v", back)
	}
	if back.Status != j.Status || back.CopiedBytes != j.CopiedBytes {
		t.Fatalf("round trip lost progress fields: %+v", back)
	}
	if back.StartTime == nil || !back.StartTime.Equal(*j.StartTime) {
		t.Fatalf("round trip lost StartTime: %+v", back.StartTime)
	}
}

func TestFromRecordToleratesCorruptTimestamps(t *testing.T) {
	r := Record{
		Name:         "movie.mxf",
		SourcePath:   "/src/movie.mxf",
		SizeBytes:    10,
		DetectedTime: "not-a-timestamp",
		StartTime:    "also-not-a-timestamp",
	}
	j := FromRecord(r)
	if j.DetectedTime.IsZero() {
		t.Fatal("FromRecord should default a corrupt detected_time to now, not zero")
	}
	if j.StartTime != nil {
		t.Fatal("FromRecord should leave a corrupt start_time nil")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	j := New("movie.mxf", "/src/movie.mxf", 2048, 3)
	j.Checkpoints = []int{10, 20}
	clone := j.Clone()
	clone.Checkpoints[0] = 99
	if j.Checkpoints[0] == 99 {
		t.Fatal("Clone must not share the Checkpoints backing array")
	}
}
