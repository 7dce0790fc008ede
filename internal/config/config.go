// Package config loads, validates, and defaults the pipeline's configuration
// file, accepting either JSON or YAML by file extension.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	jsonlib "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// DefaultExtensions is the set of video extensions watched when a config
// omits its own list.
var DefaultExtensions = []string{
	".mxf", ".mov", ".mp4", ".avi", ".mkv",
	".m4v", ".mpg", ".mpeg", ".wmv", ".flv",
	".mts", ".m2ts", ".vob", ".3gp", ".webm",
}

const (
	defaultMaxParallel = 4
	defaultMaxRetry    = 3
	minMaxParallel     = 1
	maxMaxParallel     = 10
	minMaxRetry        = 0
	maxMaxRetry        = 5
)

// Config is the pipeline's on-disk configuration.
type Config struct {
	SourceFolders     []string `json:"source_folders" yaml:"source_folders"`
	DestinationFolder string   `json:"destination_folder" yaml:"destination_folder"`
	Extensions        []string `json:"extensions" yaml:"extensions"`
	MaxParallel       int      `json:"max_download" yaml:"max_download"`
	MaxRetry          int      `json:"max_retry" yaml:"max_retry"`
	StateFile         string   `json:"state_file" yaml:"state_file"`
	HistoryFile       string   `json:"history_file" yaml:"history_file"`
	LogLevel          string   `json:"log_level" yaml:"log_level"`
}

// Error wraps a configuration-stage failure the way the teacher's
// BackupError wraps a backup-stage failure.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newConfigError(op, path string, err error) error {
	return &Error{Op: op, Path: path, Err: err}
}

func defaults() *Config {
	return &Config{
		Extensions:  append([]string(nil), DefaultExtensions...),
		MaxParallel: defaultMaxParallel,
		MaxRetry:    defaultMaxRetry,
		StateFile:   "pipeline_state.json",
		HistoryFile: "copy_history.txt",
		LogLevel:    "info",
	}
}

// Load reads path, dispatching on extension between JSON and YAML exactly as
// the teacher's LoadConfig does, then applies defaults to anything left
// unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newConfigError("read-config", path, err)
	}

	cfg := defaults()

	switch filepath.Ext(path) {
	case ".json":
		err = jsonlib.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, newConfigError("load-config", path, fmt.Errorf("unsupported format: %s", filepath.Ext(path)))
	}
	if err != nil {
		return nil, newConfigError("parse-config", path, err)
	}

	return cfg, nil
}

// Validate checks field ranges and required values, matching the range
// checks the teacher's validation.go applies to its own Config.
func Validate(cfg *Config) error {
	if len(cfg.SourceFolders) == 0 {
		return newConfigError("validate", "", fmt.Errorf("source_folders must not be empty"))
	}
	if cfg.DestinationFolder == "" {
		return newConfigError("validate", "", fmt.Errorf("destination_folder must not be empty"))
	}
	if cfg.MaxParallel < minMaxParallel || cfg.MaxParallel > maxMaxParallel {
		return newConfigError("validate", "", fmt.Errorf("max_download must be between %d and %d, got %d", minMaxParallel, maxMaxParallel, cfg.MaxParallel))
	}
	if cfg.MaxRetry < minMaxRetry || cfg.MaxRetry > maxMaxRetry {
		return newConfigError("validate", "", fmt.Errorf("max_retry must be between %d and %d, got %d", minMaxRetry, maxMaxRetry, cfg.MaxRetry))
	}
	if len(cfg.Extensions) == 0 {
		return newConfigError("validate", "", fmt.Errorf("extensions must not be empty"))
	}
	return nil
}
