// Package history implements the append-only text audit log of every
// transfer attempt, readable on its own (a plain fixed-column text file) and
// re-parseable to compute aggregate statistics without depending on row
// order.
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	separatorWidth = 100
	maxNameWidth   = 38
	headerBanner   = "HISTORY COPY FILE - watchrelay"
)

// Sink appends success/failure rows to a fixed-column text log, writing the
// header once on first creation.
type Sink struct {
	mu   sync.Mutex
	path string
}

// Open binds a Sink to path, writing the header if the file does not exist
// yet.
func Open(path string) (*Sink, error) {
	s := &Sink{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sink) writeHeader() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create history file: %w", err)
	}
	defer f.Close()

	bar := strings.Repeat("=", separatorWidth)
	dash := strings.Repeat("-", separatorWidth)
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, bar)
	fmt.Fprintln(w, headerBanner)
	fmt.Fprintf(w, "Created: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, bar)
	fmt.Fprintf(w, "%-20s %-40s %12s %-10s %-10s %-5s\n", "Timestamp", "Filename", "Size", "Status", "Duration", "Retry")
	fmt.Fprintln(w, dash)
	return w.Flush()
}

// LogSuccess appends a SUCCESS row.
func (s *Sink) LogSuccess(filename string, sizeBytes int64, duration time.Duration, retryCount int) error {
	return s.logEntry(filename, sizeBytes, "SUCCESS", duration, retryCount, "")
}

// LogFailed appends a FAILED row with an indented error line beneath it.
func (s *Sink) LogFailed(filename string, sizeBytes int64, errMsg string, retryCount int) error {
	return s.logEntry(filename, sizeBytes, "FAILED", 0, retryCount, errMsg)
}

func (s *Sink) logEntry(filename string, sizeBytes int64, status string, duration time.Duration, retryCount int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	sizeGB := float64(sizeBytes) / (1024 * 1024 * 1024)

	durationStr := "-"
	if duration > 0 {
		durationStr = formatDuration(duration)
	}

	display := filename
	if len(display) > maxNameWidth {
		display = display[:maxNameWidth-3] + "..."
	}

	line := fmt.Sprintf("%-20s %-40s %8.2f GB %-10s %-10s %-5d\n",
		timestamp, display, sizeGB, status, durationStr, retryCount)
	if errMsg != "" {
		line += fmt.Sprintf("%-20s %-40s %s\n", "", "ERROR:", errMsg)
	}

	_, err = f.WriteString(line)
	return err
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Entry is one parsed row of the history log.
type Entry struct {
	Timestamp string
	Filename  string
	SizeGB    float64
	Status    string
	Duration  string
	Retry     int
}

// GetRecent returns up to limit of the most recent data rows, skipping the
// fixed 6-line header and any indented error-continuation lines.
func (s *Sink) GetRecent(limit int) ([]string, error) {
	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	dataLines := dataRows(lines)
	if limit > len(dataLines) {
		limit = len(dataLines)
	}
	return dataLines[len(dataLines)-limit:], nil
}

// Stats is an aggregate summary computed by re-parsing the log file, useful
// for a dashboard that wants totals without tracking them itself.
type Stats struct {
	TotalFiles          int
	TotalSizeGB         float64
	SuccessCount        int
	FailedCount         int
	TotalDurationSeconds int
}

// Stats re-parses the history file into aggregate counts. It tolerates rows
// in any order and skips malformed rows rather than failing outright.
func (s *Sink) Stats() (Stats, error) {
	var stats Stats
	lines, err := s.readLines()
	if err != nil {
		return stats, err
	}

	for _, line := range dataRows(lines) {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		stats.TotalFiles++

		if size, err := strconv.ParseFloat(fields[3], 64); err == nil {
			stats.TotalSizeGB += size
		}

		status := fields[5]
		switch status {
		case "SUCCESS":
			stats.SuccessCount++
		case "FAILED":
			stats.FailedCount++
		}

		if len(fields) > 6 && fields[6] != "-" {
			if secs, ok := parseHMS(fields[6]); ok {
				stats.TotalDurationSeconds += secs
			}
		}
	}
	return stats, nil
}

func (s *Sink) readLines() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// dataRows strips the 6-line header and any indented ERROR continuation
// lines, leaving only parseable data rows — mirroring the original's
// "skip 5 header lines, ignore lines starting with whitespace" rule (this
// format's header is one line longer, hence 6).
func dataRows(lines []string) []string {
	if len(lines) <= 6 {
		return nil
	}
	var out []string
	for _, line := range lines[6:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, " ") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func parseHMS(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return h*3600 + m*60 + sec, true
}
