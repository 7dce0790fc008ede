package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jack-sneddon/watchrelay/internal/config"
	"github.com/jack-sneddon/watchrelay/internal/pipeline"
)

func printHelp() {
	fmt.Print(`watchrelay - watch-folder replication pipeline

Usage:
  watchrelay [options]

Options:
  -config <file>      Path to the configuration file (JSON or YAML)
  --help, -h          Show this help message and exit
  --verbose, -v       Enable debug-level logging
  --quiet, -q         Suppress startup/summary output except errors
  --validate          Validate the configuration file and exit
  --log-level <level> Set logging level: debug, info, warn, error
  --workers <n>       Override max_download from the config file

Examples:
  watchrelay -config watchrelay.json
  watchrelay -config watchrelay.yaml --verbose
  watchrelay -config watchrelay.yaml --validate
`)
}

func main() {
	configPath := flag.String("config", "", "Path to the configuration file")
	validateFlag := flag.Bool("validate", false, "Validate the configuration file and exit")
	logLevel := flag.String("log-level", "", "Set logging level: debug, info, warn, error")
	workers := flag.Int("workers", 0, "Override max_download from the config file")

	var helpFlag, verboseFlag, quietFlag bool
	flag.BoolVar(&helpFlag, "help", false, "Show help message")
	flag.BoolVar(&helpFlag, "h", false, "Show help message (shorthand)")
	flag.BoolVar(&verboseFlag, "verbose", false, "Enable debug-level logging")
	flag.BoolVar(&verboseFlag, "v", false, "Enable debug-level logging (shorthand)")
	flag.BoolVar(&quietFlag, "quiet", false, "Suppress startup/summary output except errors")
	flag.BoolVar(&quietFlag, "q", false, "Suppress startup/summary output except errors (shorthand)")

	flag.Parse()

	if helpFlag {
		printHelp()
		return
	}

	if *configPath == "" {
		fmt.Println("Error: -config flag is required.")
		printHelp()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if verboseFlag {
		cfg.LogLevel = "debug"
	}
	if *workers > 0 {
		cfg.MaxParallel = *workers
	}

	if *validateFlag {
		if err := config.Validate(cfg); err != nil {
			fmt.Printf("Configuration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid.")
		return
	}

	svc, err := pipeline.New(cfg)
	if err != nil {
		fmt.Printf("Failed to start pipeline: %v\n", err)
		os.Exit(1)
	}

	if !quietFlag {
		fmt.Printf("watchrelay starting: watching %d folder(s), writing to %s\n", len(cfg.SourceFolders), cfg.DestinationFolder)
	}

	if err := svc.Start(); err != nil {
		fmt.Printf("Failed to start pipeline: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			if !quietFlag {
				fmt.Println("Shutting down...")
			}
			svc.Stop()
			if !quietFlag {
				fmt.Println("watchrelay stopped.")
			}
			return
		case <-ticker.C:
			if quietFlag {
				continue
			}
			sum, err := svc.Summary()
			if err != nil {
				continue
			}
			fmt.Println(sum.String())
		}
	}
}
