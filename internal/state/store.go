// Package state implements the durable, crash-safe record of every job's
// progress, read back at startup to resume work interrupted by a restart.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsonlib "github.com/goccy/go-json"

	"github.com/jack-sneddon/watchrelay/internal/job"
)

const schemaVersion = "1.0"

// document is the on-disk shape of the state file, grounded on the
// original pipeline's {version, last_update, jobs, active_downloads, queue}
// state dictionary.
type document struct {
	Version         string                `json:"version"`
	LastUpdate      string                `json:"last_update"`
	Jobs            map[string]job.Record `json:"jobs"`
	ActiveDownloads []string              `json:"active_downloads"`
	Queue           []string              `json:"queue"`
}

func newDocument() document {
	return document{
		Version: schemaVersion,
		Jobs:    make(map[string]job.Record),
	}
}

// Store persists job.Records to a single JSON file with atomic
// write-temp-then-rename semantics, so a crash mid-write never leaves a
// truncated or partially-written state file behind.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open creates a Store bound to path. It does not read the file; call Load
// to populate the in-memory document from disk.
func Open(path string) *Store {
	return &Store{path: path, doc: newDocument()}
}

// Load reads the state file, tolerant of it being missing or malformed: in
// either case it falls back to an empty document rather than failing, since
// the absence of a state file on first run is the normal case.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.doc = newDocument()
			return nil
		}
		s.doc = newDocument()
		return nil
	}

	var doc document
	if err := jsonlib.Unmarshal(data, &doc); err != nil {
		s.doc = newDocument()
		return nil
	}
	if doc.Jobs == nil {
		doc.Jobs = make(map[string]job.Record)
	}
	s.doc = doc
	return nil
}

// Save writes the current set of jobs to disk via a temp file plus rename,
// so readers never observe a half-written file.
func (s *Store) Save(jobs []*job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobsMap := make(map[string]job.Record, len(jobs))
	var active, waiting []string
	for _, j := range jobs {
		jobsMap[j.Name] = j.ToRecord()
		switch j.Status {
		case job.StatusDownloading:
			active = append(active, j.Name)
		case job.StatusWaiting:
			waiting = append(waiting, j.Name)
		}
	}

	s.doc.Jobs = jobsMap
	s.doc.ActiveDownloads = active
	s.doc.Queue = waiting
	s.doc.LastUpdate = time.Now().Format(time.RFC3339Nano)

	return s.writeLocked()
}

// UpdateJob upserts a single job's record and its membership in the
// active/waiting index lists, without touching any other job's record.
func (s *Store) UpdateJob(j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Jobs[j.Name] = j.ToRecord()

	switch j.Status {
	case job.StatusDownloading:
		s.doc.ActiveDownloads = addUnique(s.doc.ActiveDownloads, j.Name)
		s.doc.Queue = removeName(s.doc.Queue, j.Name)
	case job.StatusWaiting:
		s.doc.Queue = addUnique(s.doc.Queue, j.Name)
		s.doc.ActiveDownloads = removeName(s.doc.ActiveDownloads, j.Name)
	default:
		s.doc.ActiveDownloads = removeName(s.doc.ActiveDownloads, j.Name)
		s.doc.Queue = removeName(s.doc.Queue, j.Name)
	}

	s.doc.LastUpdate = time.Now().Format(time.RFC3339Nano)
	return s.writeLocked()
}

// RemoveJob deletes name from the state entirely.
func (s *Store) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.doc.Jobs, name)
	s.doc.ActiveDownloads = removeName(s.doc.ActiveDownloads, name)
	s.doc.Queue = removeName(s.doc.Queue, name)
	s.doc.LastUpdate = time.Now().Format(time.RFC3339Nano)
	return s.writeLocked()
}

// GetResumableJobs returns the jobs left waiting or downloading by a prior
// run — the set a restarted pipeline re-enqueues.
func (s *Store) GetResumableJobs() []job.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []job.Record
	for _, r := range s.doc.Jobs {
		if r.Status == string(job.StatusWaiting) || r.Status == string(job.StatusDownloading) {
			out = append(out, r)
		}
	}
	return out
}

// ClearCompleted removes every completed or failed job from the state file
// and returns how many were dropped.
func (s *Store) ClearCompleted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []string
	for name, r := range s.doc.Jobs {
		if r.Status == string(job.StatusCompleted) || r.Status == string(job.StatusFailed) {
			toRemove = append(toRemove, name)
		}
	}
	for _, name := range toRemove {
		delete(s.doc.Jobs, name)
		s.doc.ActiveDownloads = removeName(s.doc.ActiveDownloads, name)
		s.doc.Queue = removeName(s.doc.Queue, name)
	}
	if len(toRemove) == 0 {
		return 0, nil
	}
	s.doc.LastUpdate = time.Now().Format(time.RFC3339Nano)
	return len(toRemove), s.writeLocked()
}

func (s *Store) writeLocked() error {
	data, err := jsonlib.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename state file into place: %w", err)
	}
	return nil
}

func addUnique(xs []string, v string) []string {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	return append(xs, v)
}

func removeName(xs []string, v string) []string {
	out := xs[:0]
	for _, x := range xs {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
