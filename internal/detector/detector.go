// Package detector watches source folders for new files and emits a job
// once a file's size has held steady long enough to call it stable — the
// gate that keeps an in-progress upload from being picked up mid-write.
package detector

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jack-sneddon/watchrelay/internal/job"
	"github.com/jack-sneddon/watchrelay/internal/logging"
)

const (
	// PollInterval is the authoritative stability-gating cadence. fsnotify
	// events only ever wake this loop early; they never substitute for it,
	// since network shares frequently fail to deliver filesystem events.
	PollInterval = 5 * time.Second

	// StableAfter is the minimum time since a file was first seen before it
	// is handed off as a job; it is handed off at the first poll after that
	// which finds its size unchanged from the previous poll.
	StableAfter = 5 * time.Second

	// StillGrowingLogAfter is how long a file can keep changing size before
	// the detector logs it as still-growing (it is never dropped for this;
	// it simply keeps being polled).
	StillGrowingLogAfter = 30 * time.Second
)

// Callback is invoked once per newly stabilized file.
type Callback func(*job.Job)

type stabilizing struct {
	firstSeen time.Time
	lastSize  int64
	folder    string
	filename  string
	loggedOld bool
}

// Detector polls a set of source folders, tracks candidate files until they
// stop growing, and emits a job for each one that stabilizes.
type Detector struct {
	mu sync.Mutex

	sourceFolders []string
	extensions    map[string]bool
	maxRetry      int
	log           *logging.Logger

	seen        map[string]map[string]bool // folder -> filename -> seen
	stabilizing map[string]*stabilizing     // absolute path -> info

	callbacks []Callback

	watcher  *fsnotify.Watcher
	wake     chan struct{}
	stopCh   chan struct{}
	stopped  chan struct{}
	running  bool
}

// New builds a Detector over sourceFolders, restricting detection to the
// given extensions (case-insensitive, with or without a leading dot).
func New(sourceFolders, extensions []string, maxRetry int, log *logging.Logger) *Detector {
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[normalizeExt(e)] = true
	}

	d := &Detector{
		sourceFolders: append([]string(nil), sourceFolders...),
		extensions:    extSet,
		maxRetry:      maxRetry,
		log:           log,
		seen:          make(map[string]map[string]bool),
		stabilizing:   make(map[string]*stabilizing),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	if w, err := fsnotify.NewWatcher(); err == nil {
		d.watcher = w
		for _, folder := range sourceFolders {
			_ = w.Add(folder)
		}
	} else if log != nil {
		log.Warn("fsnotify unavailable, falling back to polling only: %v", err)
	}

	return d
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}

// Subscribe registers a callback invoked once per stabilized file.
func (d *Detector) Subscribe(cb Callback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, cb)
}

// Start begins the detector's polling loop in a background goroutine. The
// initial scan seeds the seen set for every folder without emitting jobs for
// pre-existing files.
func (d *Detector) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	for _, folder := range d.sourceFolders {
		d.scanFolder(folder, true)
	}
	d.mu.Unlock()

	if d.watcher != nil {
		go d.watchEvents()
	}
	go d.loop()
}

// Stop halts the polling loop and releases the fsnotify watcher, if any.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	<-d.stopped
	if d.watcher != nil {
		d.watcher.Close()
	}
}

func (d *Detector) watchEvents() {
	for {
		select {
		case _, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			select {
			case d.wake <- struct{}{}:
			default:
			}
		case <-d.stopCh:
			return
		}
	}
}

func (d *Detector) loop() {
	defer close(d.stopped)
	timer := time.NewTimer(PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-d.wake:
			d.tick()
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(PollInterval)
		case <-timer.C:
			d.tick()
			timer.Reset(PollInterval)
		}
	}
}

func (d *Detector) tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, folder := range d.sourceFolders {
		d.scanFolder(folder, false)
	}
	d.checkStabilizing()
}

// scanFolder lists folder, tracking newly-seen matching files as
// stabilization candidates. Must be called with d.mu held.
func (d *Detector) scanFolder(folder string, initial bool) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if d.log != nil {
			d.log.Warn("cannot list folder %s: %v", folder, err)
		}
		return
	}

	if d.seen[folder] == nil {
		d.seen[folder] = make(map[string]bool)
	}
	current := make(map[string]bool, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !d.matchesExtension(name) {
			continue
		}
		current[name] = true

		if !initial && !d.seen[folder][name] {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(folder, name)
			d.stabilizing[path] = &stabilizing{
				firstSeen: time.Now(),
				lastSize:  info.Size(),
				folder:    folder,
				filename:  name,
			}
			if d.log != nil {
				d.log.Info("new file detected: %s (%d bytes) in %s", name, info.Size(), folder)
			}
		}
	}

	d.seen[folder] = current
}

func (d *Detector) matchesExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return d.extensions[ext]
}

// checkStabilizing advances every candidate file's stability check. Must be
// called with d.mu held.
func (d *Detector) checkStabilizing() {
	var toRemove []string

	for path, info := range d.stabilizing {
		fi, err := os.Stat(path)
		if os.IsNotExist(err) {
			toRemove = append(toRemove, path)
			continue
		}
		if err != nil {
			continue
		}

		currentSize := fi.Size()
		elapsed := time.Since(info.firstSeen)

		switch {
		case currentSize == info.lastSize && elapsed >= StableAfter:
			j := job.New(info.filename, path, currentSize, d.maxRetry)
			if d.log != nil {
				d.log.Info("file stable: %s (%d bytes) after %s", info.filename, currentSize, elapsed.Round(time.Second))
			}
			d.notify(j)
			toRemove = append(toRemove, path)

		case currentSize != info.lastSize:
			info.lastSize = currentSize
			if elapsed > StillGrowingLogAfter && !info.loggedOld {
				if d.log != nil {
					d.log.Info("file %s still changing after %s, current size: %d", info.filename, StillGrowingLogAfter, currentSize)
				}
				info.loggedOld = true
			}
		}
	}

	for _, path := range toRemove {
		delete(d.stabilizing, path)
	}
}

func (d *Detector) notify(j *job.Job) {
	for _, cb := range d.callbacks {
		cb(j)
	}
}

// AddSourceFolder starts watching folder in addition to the existing set.
func (d *Detector) AddSourceFolder(folder string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.sourceFolders {
		if f == folder {
			return
		}
	}
	d.sourceFolders = append(d.sourceFolders, folder)
	d.seen[folder] = make(map[string]bool)
	if d.watcher != nil {
		_ = d.watcher.Add(folder)
	}
}

// RemoveSourceFolder stops watching folder.
func (d *Detector) RemoveSourceFolder(folder string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.sourceFolders[:0]
	for _, f := range d.sourceFolders {
		if f != folder {
			out = append(out, f)
		}
	}
	d.sourceFolders = out
	delete(d.seen, folder)
	if d.watcher != nil {
		_ = d.watcher.Remove(folder)
	}
}

// UpdateExtensions replaces the set of extensions the detector matches.
func (d *Detector) UpdateExtensions(extensions []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[normalizeExt(e)] = true
	}
	d.extensions = extSet
}

// Stats is a point-in-time snapshot of detector activity.
type Stats struct {
	FoldersMonitored int
	FilesStabilizing int
}

// Stats reports the detector's current activity level.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		FoldersMonitored: len(d.sourceFolders),
		FilesStabilizing: len(d.stabilizing),
	}
}
