package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jack-sneddon/watchrelay/internal/job"
)

func TestAddAssignsPosition(t *testing.T) {
	q := New(10)
	j1 := job.New("a.mxf", "/src/a.mxf", 100, 3)
	j2 := job.New("b.mxf", "/src/b.mxf", 100, 3)

	if pos := q.Add(j1); pos != 1 {
		t.Fatalf("first Add position = %d, want 1", pos)
	}
	if pos := q.Add(j2); pos != 2 {
		t.Fatalf("second Add position = %d, want 2", pos)
	}
}

func TestNextClaimsInFIFOOrder(t *testing.T) {
	q := New(10)
	j1 := job.New("a.mxf", "/src/a.mxf", 100, 3)
	j2 := job.New("b.mxf", "/src/b.mxf", 100, 3)
	q.Add(j1)
	q.Add(j2)

	ctx := context.Background()
	got := q.Next(ctx)
	if got == nil || got.Name != "a.mxf" {
		t.Fatalf("Next() = %v, want a.mxf", got)
	}
	if got.Status != job.StatusDownloading {
		t.Fatalf("claimed job status = %v, want downloading", got.Status)
	}
}

func TestNextReturnsNilWhenEmpty(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	if got := q.Next(ctx); got != nil {
		t.Fatalf("Next() on empty queue = %v, want nil", got)
	}
}

func TestFailRetriesToTail(t *testing.T) {
	q := New(10)
	j := job.New("a.mxf", "/src/a.mxf", 100, 3)
	q.Add(j)
	claimed := q.Next(context.Background())

	q.Fail(claimed, "transient error", true)

	if claimed.Status != job.StatusWaiting {
		t.Fatalf("status after retryable Fail = %v, want waiting", claimed.Status)
	}
	if claimed.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", claimed.RetryCount)
	}

	again := q.Next(context.Background())
	if again == nil || again.Name != "a.mxf" {
		t.Fatal("retried job should be re-claimable from the queue")
	}
}

func TestFailPermanentAtMaxRetry(t *testing.T) {
	q := New(10)
	j := job.New("a.mxf", "/src/a.mxf", 100, 1)
	q.Add(j)
	claimed := q.Next(context.Background())

	q.Fail(claimed, "fatal error", true)

	if claimed.Status != job.StatusFailed {
		t.Fatalf("status after exhausted retries = %v, want failed", claimed.Status)
	}
}

func TestFailEmitsRetryingNotFailedWhenRetried(t *testing.T) {
	q := New(10)
	var events []Event
	q.Subscribe(func(e Event, j *job.Job) {
		events = append(events, e)
	})

	j := job.New("a.mxf", "/src/a.mxf", 100, 3)
	q.Add(j)
	claimed := q.Next(context.Background())
	q.Fail(claimed, "transient error", true)

	want := []Event{EventAdded, EventStarted, EventRetrying}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestFailEmitsFailedOnlyWhenPermanent(t *testing.T) {
	q := New(10)
	var events []Event
	q.Subscribe(func(e Event, j *job.Job) {
		events = append(events, e)
	})

	j := job.New("a.mxf", "/src/a.mxf", 100, 1)
	q.Add(j)
	claimed := q.Next(context.Background())
	q.Fail(claimed, "fatal error", true)

	want := []Event{EventAdded, EventStarted, EventFailed}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	q := New(10)
	var events []Event
	q.Subscribe(func(e Event, j *job.Job) {
		events = append(events, e)
	})

	j := job.New("a.mxf", "/src/a.mxf", 100, 3)
	q.Add(j)
	claimed := q.Next(context.Background())
	q.Complete(claimed, true)

	want := []Event{EventAdded, EventStarted, EventCompleted}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestStats(t *testing.T) {
	q := New(10)
	j1 := job.New("a.mxf", "/src/a.mxf", 100, 3)
	j2 := job.New("b.mxf", "/src/b.mxf", 100, 3)
	q.Add(j1)
	q.Add(j2)
	claimed := q.Next(context.Background())
	q.Complete(claimed, true)

	stats := q.Stats()
	if stats.Waiting != 1 || stats.Completed != 1 || stats.Total != 2 {
		t.Fatalf("Stats() = %+v", stats)
	}
}
