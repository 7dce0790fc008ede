package job

import "time"

// Record is the closed, JSON-tagged shape a Job is persisted as. It is the
// single serialization surface for a Job: the state store, and nothing else,
// reads and writes Records.
type Record struct {
	Name       string `json:"name"`
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
	SizeBytes  int64  `json:"size_bytes"`

	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	CopiedBytes int64   `json:"copied_bytes"`

	DetectedTime string `json:"detected_time"`
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`

	QueuePosition int `json:"queue_position"`

	RetryCount int    `json:"retry_count"`
	MaxRetry   int    `json:"max_retry"`
	LastError  string `json:"last_error,omitempty"`

	LastCheckpoint int   `json:"last_checkpoint"`
	Checkpoints    []int `json:"checkpoints"`
}

// ToRecord produces the serializable snapshot of j.
func (j *Job) ToRecord() Record {
	r := Record{
		Name:           j.Name,
		SourcePath:     j.SourcePath,
		DestPath:       j.DestPath,
		SizeBytes:      j.SizeBytes,
		Status:         string(j.Status),
		Progress:       j.Progress,
		CopiedBytes:    j.CopiedBytes,
		DetectedTime:   j.DetectedTime.Format(time.RFC3339Nano),
		QueuePosition:  j.QueuePosition,
		RetryCount:     j.RetryCount,
		MaxRetry:       j.MaxRetry,
		LastError:      j.LastError,
		LastCheckpoint: j.LastCheckpoint,
		Checkpoints:    append([]int(nil), j.Checkpoints...),
	}
	if j.StartTime != nil {
		r.StartTime = j.StartTime.Format(time.RFC3339Nano)
	}
	if j.EndTime != nil {
		r.EndTime = j.EndTime.Format(time.RFC3339Nano)
	}
	return r
}

// FromRecord rebuilds a Job from a Record, tolerant of a missing or corrupt
// detected_time (defaults to now) and missing or corrupt start_time/end_time
// (left nil) — the same tolerance the pipeline's original state loader
// applied when resuming from a file written by an earlier, possibly
// interrupted run.
func FromRecord(r Record) *Job {
	j := &Job{
		Name:           r.Name,
		SourcePath:     r.SourcePath,
		DestPath:       r.DestPath,
		SizeBytes:      r.SizeBytes,
		Status:         Status(r.Status),
		Progress:       r.Progress,
		CopiedBytes:    r.CopiedBytes,
		QueuePosition:  r.QueuePosition,
		RetryCount:     r.RetryCount,
		MaxRetry:       r.MaxRetry,
		LastError:      r.LastError,
		LastCheckpoint: r.LastCheckpoint,
		Checkpoints:    append([]int(nil), r.Checkpoints...),
	}
	if j.Status == "" {
		j.Status = StatusWaiting
	}
	if j.MaxRetry == 0 {
		j.MaxRetry = 3
	}

	if t, err := time.Parse(time.RFC3339Nano, r.DetectedTime); err == nil {
		j.DetectedTime = t
	} else {
		j.DetectedTime = time.Now()
	}

	if r.StartTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, r.StartTime); err == nil {
			j.StartTime = &t
		}
	}
	if r.EndTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, r.EndTime); err == nil {
			j.EndTime = &t
		}
	}

	return j
}
