// Package main is the torikomi CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/hyperjump/torikomi/internal/config"
	"github.com/hyperjump/torikomi/internal/lockfile"
	"github.com/hyperjump/torikomi/internal/pipeline"
	"github.com/hyperjump/torikomi/internal/processor"
	"github.com/hyperjump/torikomi/internal/store"
	"github.com/hyperjump/torikomi/internal/vision"
	"github.com/hyperjump/torikomi/internal/watcher"
	"github.com/hyperjump/torikomi/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/torikomi/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "run":
		runBatch()
	case "watch":
		runWatch()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("torikomi version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// components bundles everything a command needs, with a single Close.
type components struct {
	Store     store.Store
	Processor *processor.Processor
	Pipeline  *pipeline.Pipeline
	logger    *zap.Logger
}

func (c *components) Close() {
	if c.Pipeline != nil {
		c.Pipeline.Close()
	} else if c.Processor != nil {
		c.Processor.Cleanup()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil && c.logger != nil {
			c.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	st, err := store.NewLocalStore(cfg.Store.DatabasePath, cfg.Store.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var analyzer vision.Analyzer = vision.Unavailable{}
	if cfg.Vision.Endpoint != "" {
		analyzer = vision.NewHTTPAnalyzer(cfg.Vision.Endpoint, cfg.Vision.Timeout)
	}

	proc, err := processor.New(context.Background(), cfg, st, analyzer,
		processor.WithLogger(logger))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create processor: %w", err)
	}
	pipe, err := pipeline.New(cfg, proc, pipeline.WithLogger(logger))
	if err != nil {
		proc.Cleanup()
		_ = st.Close()
		return nil, err
	}
	return &components{Store: st, Processor: proc, Pipeline: pipe, logger: logger}, nil
}

func runBatch() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	inputDir := fs.String("input", "", "input directory (overrides config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	verbose := fs.Bool("verbose", false, "per-file status lines in the summary")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *inputDir != "" {
		cfg.Input.Directory = *inputDir
	}
	if *verbose {
		cfg.Report.VerboseSummary = true
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("input", cfg.Input.Directory),
		zap.Bool("debug", debugMode),
	)

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer c.Close()
	c.Pipeline.RegisterSignalHandlers()

	stats, err := c.Pipeline.Run(context.Background())
	if err != nil {
		logger.Fatal("Batch failed", zap.Error(err))
	}
	logger.Info("batch complete",
		zap.Int("processed", stats.ProcessedFiles),
		zap.Int("successful", stats.SuccessfulFiles),
		zap.Int("failed", stats.FailedFiles),
		zap.Int("already_processed", stats.AlreadyProcessed),
		zap.Duration("duration", stats.TotalDuration),
	)
	if stats.FailedFiles > 0 {
		os.Exit(1)
	}
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	inputDir := fs.String("input", "", "input directory (overrides config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *inputDir != "" {
		cfg.Input.Directory = *inputDir
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("input", cfg.Input.Directory),
	)

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer c.Close()

	// Catch up on whatever is already in the directory before watching.
	if _, err := c.Pipeline.Run(context.Background()); err != nil {
		logger.Fatal("Initial batch failed", zap.Error(err))
	}

	exts := append(append([]string{}, cfg.Input.DocumentExtensions...), cfg.Input.ImageExtensions...)
	watchOpts := []watcher.Option{watcher.WithIgnoredNames(cfg.Report.CSVFilename)}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	w := watcher.New(cfg.Input.Directory, exts,
		func(path string) {
			res := c.Pipeline.ProcessSingle(context.Background(), path)
			if res == nil {
				return
			}
			if res.Success {
				logger.Info("file processed", zap.String("path", path),
					zap.Int("chunks", res.ChunkCount))
			} else {
				logger.Warn("file processing failed", zap.String("path", path),
					zap.Strings("errors", res.Errors))
			}
		},
		func(path string) {
			c.Pipeline.HandleRemoval(context.Background(), path)
			logger.Info("file removed", zap.String("path", path))
		},
		watchOpts...,
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := w.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	logger.Info("watching", zap.String("directory", cfg.Input.Directory))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	w.Stop()
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 10, "number of results")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: torikomi search [flags] <query>")
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	st, err := store.NewLocalStore(cfg.Store.DatabasePath, cfg.Store.BleveIndexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	col, err := st.Collection(ctx, cfg.Store.TextCollection)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open collection failed: %v\n", err)
		os.Exit(1)
	}
	hits, err := col.SearchDocuments(ctx, query, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, hit := range hits {
		fmt.Printf("%d. %s\n   %s\n", i+1, hit.URL, utils.Truncate(strings.TrimSpace(hit.Text), 160))
	}
}

type statusResponse struct {
	Documents int64 `json:"documents"`
	Images    int64 `json:"images"`
	Pending   int   `json:"pending"`
	Processed int   `json:"processed"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	st, err := store.NewLocalStore(cfg.Store.DatabasePath, cfg.Store.BleveIndexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	textCol, err := st.Collection(ctx, cfg.Store.TextCollection)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open text collection failed: %v\n", err)
		os.Exit(1)
	}
	imageCol, err := st.Collection(ctx, cfg.Store.ImageCollection)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open image collection failed: %v\n", err)
		os.Exit(1)
	}
	docCount, err := textCol.CountDocuments(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count documents failed: %v\n", err)
		os.Exit(1)
	}
	imgCount, err := imageCol.CountDocuments(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count images failed: %v\n", err)
		os.Exit(1)
	}
	pending, processed := countInputFiles(cfg)

	status := statusResponse{
		Documents: docCount,
		Images:    imgCount,
		Pending:   pending,
		Processed: processed,
	}
	if *outputFormat == "json" {
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("Store: %d document records, %d image records\n", status.Documents, status.Images)
	fmt.Printf("Input %s: %d pending, %d processed\n", cfg.Input.Directory, status.Pending, status.Processed)
}

// countInputFiles reports how many supported input files still lack a
// .processed marker and how many carry one. Listing errors count as zero; the
// store counts above are the authoritative part of status output.
func countInputFiles(cfg *config.Config) (pending, processed int) {
	entries, err := os.ReadDir(cfg.Input.Directory)
	if err != nil {
		return 0, 0
	}
	supported := func(name string) bool {
		ext := strings.ToLower(filepath.Ext(name))
		for _, e := range append(append([]string{}, cfg.Input.DocumentExtensions...), cfg.Input.ImageExtensions...) {
			if ext == strings.ToLower(e) {
				return true
			}
		}
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() || !supported(entry.Name()) {
			continue
		}
		marker := filepath.Join(cfg.Input.Directory, entry.Name()) + lockfile.MarkerSuffix
		if _, err := os.Stat(marker); err == nil {
			processed++
		} else {
			pending++
		}
	}
	return pending, processed
}

func printUsage() {
	fmt.Println(`torikomi - Document ingestion pipeline

Usage:
  torikomi run [flags]             Process every pending file in the input directory
  torikomi watch [flags]           Process the input directory, then watch it for changes
  torikomi search [flags] <query>  Search ingested content
  torikomi status [flags]          Show store and input directory status
  torikomi version                 Show version
  torikomi help                    Show this help

Run Flags:
  --config string    Config file path (default: /usr/local/etc/torikomi/config.yaml)
  --input string     Input directory (overrides config)
  --debug            Enable debug logging
  --verbose          Per-file status lines in the batch summary

Watch Flags:
  --config string    Config file path
  --input string     Input directory (overrides config)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path
  --limit int        Number of results (default: 10)

Status Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

Examples:
  torikomi run --input ./inbox
  torikomi watch --input ./inbox --debug
  torikomi status --output json`)
}
