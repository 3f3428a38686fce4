package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probo/internal/common"
	"github.com/ternarybob/probo/internal/differs"
	"github.com/ternarybob/probo/internal/factory"
	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/parser"
	"github.com/ternarybob/probo/internal/runners"
	"github.com/ternarybob/probo/internal/scheduler"
	"github.com/ternarybob/probo/internal/storage"
)

// multiFlag is a custom flag type that allows a flag to be repeated
type multiFlag []string

func (m *multiFlag) String() string {
	return fmt.Sprintf("%v", *m)
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

var (
	// Command-line flags
	configFiles  multiFlag // Multiple -config flags supported
	specInputs   multiFlag // Spec files or directories searched for them
	slots        = flag.Int("j", 0, "Slot budget (overrides config)")
	timeout      = flag.String("t", "", "Default per-job timeout (overrides config)")
	queuePlugin  = flag.String("queue", "", "Delegate execution to the named external queue plugin")
	queueReap    = flag.Bool("queue-reap", false, "Apply the results of an earlier queue submission")
	queueCleanup = flag.Bool("queue-cleanup", false, "Delete queue-submission artifacts")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
	flag.Var(&specInputs, "i", "Test spec file or directory (can be specified multiple times)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("probo %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *slots > 0 {
		config.Harness.Slots = *slots
	}
	if *timeout != "" {
		config.Harness.Timeout = *timeout
		if _, err := config.JobTimeout(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -t value: %v\n", err)
			os.Exit(1)
		}
	}

	logger = common.SetupLogger(config)
	defer common.Stop()

	common.PrintBanner(config, logger)

	inputs := []string(specInputs)
	if len(inputs) == 0 {
		inputs = []string{"."}
	}

	if config.Schedule.Enabled && *queuePlugin == "" {
		runScheduled(inputs)
		return
	}

	code, err := runBatch(inputs)
	if err != nil {
		logger.Error().Err(err).Msg("Batch failed")
		os.Exit(1)
	}
	os.Exit(code)
}

// runScheduled reruns the batch on the configured cron expression until
// interrupted
func runScheduled(inputs []string) {
	c := cron.New()
	_, err := c.AddFunc(config.Schedule.Cron, func() {
		if _, err := runBatch(inputs); err != nil {
			logger.Error().Err(err).Msg("Scheduled batch failed")
		}
	})
	if err != nil {
		logger.Error().Err(err).Str("cron", config.Schedule.Cron).Msg("Invalid schedule")
		os.Exit(1)
	}

	logger.Info().Str("cron", config.Schedule.Cron).Msg("Running on schedule")
	c.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx := c.Stop()
	<-ctx.Done()
}

// runBatch parses the spec files, schedules the batch and runs it to
// completion, returning the process exit code.
func runBatch(inputs []string) (int, error) {
	specFiles, err := collectSpecFiles(inputs, config.Harness.SpecFileName)
	if err != nil {
		return 1, err
	}
	if len(specFiles) == 0 {
		logger.Warn().Msg("No test spec files found")
		return 0, nil
	}

	f := factory.New(harness.NewPlatformController())
	if err := runners.Register(f); err != nil {
		return 1, err
	}
	if err := differs.Register(f); err != nil {
		return 1, err
	}

	warehouse := factory.NewWarehouse()
	p := parser.New(f, warehouse)
	for _, specFile := range specFiles {
		p.Parse(specFile)
	}
	for _, diag := range p.Diagnostics() {
		fmt.Fprintln(os.Stderr, diag.String())
	}
	if p.HasErrors() {
		return 1, fmt.Errorf("errors were found while parsing the test spec files")
	}

	jobTimeout, _ := config.JobTimeout()
	interval, _ := config.ProgressInterval()

	sched := scheduler.New(scheduler.Options{
		Slots:            config.Harness.Slots,
		Workers:          config.WorkerCount(),
		DefaultTimeout:   jobTimeout,
		ProgressInterval: interval,
		IgnorePatterns:   config.Harness.IgnorePatterns,
		Controllers:      f.Controllers(),
		Reporter:         harness.NewReporter(os.Stdout),
	})

	var store *storage.SessionStore
	if *queuePlugin != "" || *queueCleanup {
		store, err = storage.OpenSessionStore(logger, &config.Storage.Badger)
		if err != nil {
			return 1, err
		}
		defer store.Close()

		mode := scheduler.QueueSubmit
		switch {
		case *queueCleanup:
			mode = scheduler.QueueCleanup
		case *queueReap:
			mode = scheduler.QueueReap
		}
		plugin := *queuePlugin
		if plugin == "" {
			plugin = "QueueManager"
		}
		scheduler.NewQueueManager(sched, store, config.Queue, plugin, mode)
	}

	if err := sched.Schedule(warehouse.Entries()); err != nil {
		return 1, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := sched.RunAll(ctx)
	if err != nil {
		return 1, err
	}
	return summary.ExitCode, nil
}

// collectSpecFiles resolves the -i inputs: files are taken as-is,
// directories are walked for files named specFileName.
func collectSpecFiles(inputs []string, specFileName string) ([]string, error) {
	var specFiles []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("unable to read input %s: %w", input, err)
		}
		if !info.IsDir() {
			specFiles = append(specFiles, input)
			continue
		}
		err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && d.Name() == specFileName {
				specFiles = append(specFiles, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Prefer absolute paths so queue-mode directory grouping is stable
	for i, specFile := range specFiles {
		if abs, err := filepath.Abs(specFile); err == nil {
			specFiles[i] = abs
		}
	}
	return specFiles, nil
}
