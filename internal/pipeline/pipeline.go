// Package pipeline orchestrates a batch run: discover input files, claim each
// one through the lock coordinator, dispatch processing across a bounded
// worker pool, and emit reports. No state survives across runs except the
// .processed markers on disk.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/torikomi/internal/config"
	"github.com/hyperjump/torikomi/internal/lockfile"
	"github.com/hyperjump/torikomi/internal/models"
	"github.com/hyperjump/torikomi/internal/processor"
	"github.com/hyperjump/torikomi/internal/report"
)

// Pipeline runs one batch over an input directory. Use New, then Run, then
// Close; Close is safe after a failed Run and may be called multiple times.
type Pipeline struct {
	cfg     *config.Config
	proc    *processor.Processor
	locks   *lockfile.Coordinator
	reports *report.Generator
	logger  *zap.Logger
	out     io.Writer

	closeOnce  sync.Once
	stopSignal func()
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithOutput redirects console output (progress and summary). Defaults to
// stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// New creates a pipeline over cfg.Input.Directory. A nonexistent input
// directory fails here, before any work starts. Stale .processed markers from
// crashed prior runs are purged as part of construction.
func New(cfg *config.Config, proc *processor.Processor, opts ...Option) (*Pipeline, error) {
	info, err := os.Stat(cfg.Input.Directory)
	if err != nil {
		return nil, fmt.Errorf("input directory %s: %w", cfg.Input.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", cfg.Input.Directory)
	}

	p := &Pipeline{
		cfg:  cfg,
		proc: proc,
		out:  os.Stdout,
	}
	for _, opt := range opts {
		opt(p)
	}
	lockOpts := []lockfile.CoordinatorOption{}
	reportOpts := []report.Option{}
	if p.logger != nil {
		lockOpts = append(lockOpts, lockfile.WithLogger(p.logger))
		reportOpts = append(reportOpts, report.WithLogger(p.logger))
	}
	p.locks = lockfile.NewCoordinator(lockOpts...)
	p.reports = report.NewGenerator(reportOpts...)

	purged, err := p.locks.PurgeStaleMarkers(cfg.Input.Directory, cfg.Report.MarkerStaleness)
	if err != nil && p.logger != nil {
		p.logger.Warn("stale marker purge failed", zap.Error(err))
	}
	if purged > 0 && p.logger != nil {
		p.logger.Info("purged stale markers", zap.Int("count", purged))
	}
	return p, nil
}

// RegisterSignalHandlers installs interrupt and terminate handlers that remove
// all lock files held by this run, release the processor's store handles, and
// exit. Registration is an explicit call, not a construction side effect, so
// embedding callers can keep their own signal handling.
func (p *Pipeline) RegisterSignalHandlers() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	p.stopSignal = func() {
		signal.Stop(sig)
		close(sig)
	}
	go func() {
		s, ok := <-sig
		if !ok {
			return
		}
		if p.logger != nil {
			p.logger.Warn("signal received, cleaning up", zap.String("signal", s.String()))
		}
		p.Close()
		os.Exit(1)
	}()
}

// DiscoverFiles lists the input directory (non-recursive), keeps files with a
// supported extension, and partitions them by the presence of a .processed
// marker. Per-entry stat errors are logged and skipped, never raised.
func (p *Pipeline) DiscoverFiles() (toProcess []models.ProcessingTask, alreadyProcessed []string) {
	entries, err := os.ReadDir(p.cfg.Input.Directory)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("input directory listing failed", zap.Error(err))
		}
		return nil, nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(p.cfg.Input.Directory, entry.Name())
		kind := p.proc.Classify(path)
		if kind == models.KindUnsupported {
			continue
		}
		if p.locks.IsProcessed(path) {
			alreadyProcessed = append(alreadyProcessed, path)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("skipping unreadable entry",
					zap.String("path", path), zap.Error(err))
			}
			continue
		}
		toProcess = append(toProcess, models.ProcessingTask{
			Path:      path,
			Kind:      kind,
			SizeBytes: info.Size(),
		})
	}
	return toProcess, alreadyProcessed
}

// OptimizeOrder reorders tasks for the worker pool: documents and images are
// each sorted by descending size, then interleaved as one document followed by
// up to two images. Front-loading large files keeps stragglers off the tail,
// and the interleave mixes parse-heavy documents with lighter image analysis
// instead of exhausting one class first.
func OptimizeOrder(tasks []models.ProcessingTask) []models.ProcessingTask {
	var docs, images []models.ProcessingTask
	for _, t := range tasks {
		if t.Kind == models.KindImage {
			images = append(images, t)
		} else {
			docs = append(docs, t)
		}
	}
	bySizeDesc := func(s []models.ProcessingTask) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].SizeBytes > s[j].SizeBytes })
	}
	bySizeDesc(docs)
	bySizeDesc(images)

	ordered := make([]models.ProcessingTask, 0, len(tasks))
	di, ii := 0, 0
	for di < len(docs) || ii < len(images) {
		if di < len(docs) {
			ordered = append(ordered, docs[di])
			di++
		}
		for n := 0; n < 2 && ii < len(images); n++ {
			ordered = append(ordered, images[ii])
			ii++
		}
	}
	return ordered
}

// ProcessParallel dispatches tasks across a worker pool bounded by the
// configured batch size. Each worker independently acquires the task's lock,
// processes, writes the .processed marker on success, and releases the lock on
// every exit path. Results are collected in completion order with incremental
// progress output.
func (p *Pipeline) ProcessParallel(ctx context.Context, tasks []models.ProcessingTask) []*models.ProcessingResult {
	resCh := make(chan *models.ProcessingResult, len(tasks))

	g := &errgroup.Group{}
	g.SetLimit(p.cfg.Processing.BatchSize)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			resCh <- p.runTask(ctx, task)
			return nil
		})
	}

	done := make(chan struct{})
	results := make([]*models.ProcessingResult, 0, len(tasks))
	go func() {
		defer close(done)
		for res := range resCh {
			results = append(results, res)
			status := "ok"
			switch {
			case res.Skipped:
				status = "skipped"
			case !res.Success:
				status = "failed"
			}
			fmt.Fprintf(p.out, "[%d/%d] %s: %s\n", len(results), len(tasks), res.FileName, status)
		}
	}()
	_ = g.Wait()
	close(resCh)
	<-done
	return results
}

// runTask processes one file under its lock. A panic escaping the processor
// boundary is converted into a failure result here so a crashed worker cannot
// abort the batch.
func (p *Pipeline) runTask(ctx context.Context, task models.ProcessingTask) (res *models.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			if res == nil {
				res = &models.ProcessingResult{
					FileName: filepath.Base(task.Path),
					Path:     task.Path,
					Kind:     task.Kind,
				}
			}
			res.AddError(fmt.Sprintf("worker panic: %v", r))
			if p.logger != nil {
				p.logger.Error("worker panic",
					zap.String("path", task.Path), zap.Any("panic", r), zap.Stack("stack"))
			}
		}
	}()

	if !p.locks.Acquire(task.Path) {
		res = &models.ProcessingResult{
			FileName:  filepath.Base(task.Path),
			Path:      task.Path,
			Kind:      task.Kind,
			SizeBytes: task.SizeBytes,
			Skipped:   true,
		}
		res.AddError("locked by another process")
		return res
	}
	defer p.locks.Release(task.Path)

	res = p.proc.ProcessFileWithRetry(ctx, task.Path, p.cfg.Processing.RetryLimit)
	if res.Success {
		if err := p.reports.WriteProcessedFile(task.Path, res); err != nil && p.logger != nil {
			p.logger.Warn("processed marker write failed",
				zap.String("path", task.Path), zap.Error(err))
		}
	}
	return res
}

// ProcessSingle runs one file through the normal claim-process-mark path,
// outside a batch. Watch mode calls this per changed file. Returns nil for an
// unsupported extension or a file whose .processed marker is still warm; a
// marker older than the staleness window means the file changed after an
// earlier run, so the file is re-ingested and the stored records upserted.
func (p *Pipeline) ProcessSingle(ctx context.Context, path string) *models.ProcessingResult {
	kind := p.proc.Classify(path)
	if kind == models.KindUnsupported || p.locks.IsRecentlyProcessed(path, p.cfg.Report.MarkerStaleness) {
		return nil
	}
	task := models.ProcessingTask{Path: path, Kind: kind}
	if info, err := os.Stat(path); err == nil {
		task.SizeBytes = info.Size()
	}
	return p.runTask(ctx, task)
}

// HandleRemoval drops the stored records and the .processed marker for a file
// that disappeared from the input directory, so a re-created file with the
// same name is processed fresh.
func (p *Pipeline) HandleRemoval(ctx context.Context, path string) {
	if err := p.proc.RemoveFile(ctx, path); err != nil && p.logger != nil {
		p.logger.Warn("record removal failed", zap.String("path", path), zap.Error(err))
	}
	if err := os.Remove(lockfile.MarkerPath(path)); err != nil && !os.IsNotExist(err) {
		if p.logger != nil {
			p.logger.Warn("marker removal failed", zap.String("path", path), zap.Error(err))
		}
	}
}

// Run executes one batch: discover, order, process, report, aggregate. When
// nothing needs processing it short-circuits to empty-but-valid statistics.
func (p *Pipeline) Run(ctx context.Context) (models.BatchStatistics, error) {
	started := time.Now()
	toProcess, alreadyProcessed := p.DiscoverFiles()
	if p.logger != nil {
		p.logger.Info("discovery complete",
			zap.Int("to_process", len(toProcess)),
			zap.Int("already_processed", len(alreadyProcessed)))
	}
	if len(toProcess) == 0 {
		fmt.Fprintf(p.out, "Nothing to process (%d already processed).\n", len(alreadyProcessed))
		return models.BatchStatistics{
			AlreadyProcessed: len(alreadyProcessed),
			TotalDuration:    time.Since(started),
		}, nil
	}

	results := p.ProcessParallel(ctx, OptimizeOrder(toProcess))

	csvPath := filepath.Join(p.cfg.Input.Directory, p.cfg.Report.CSVFilename)
	if err := p.reports.WriteCSV(results, csvPath); err != nil {
		if p.logger != nil {
			p.logger.Error("csv report failed", zap.Error(err))
		}
	}
	p.reports.PrintSummary(p.out, results, p.cfg.Report.VerboseSummary)

	stats := report.Aggregate(results)
	stats.AlreadyProcessed = len(alreadyProcessed)
	stats.TotalDuration = time.Since(started)
	p.locks.CleanupAll()
	return stats, nil
}

// Close releases everything the run holds: remaining lock files and the
// processor's collection handles. Safe to call multiple times and from the
// signal path.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		if p.stopSignal != nil {
			p.stopSignal()
		}
		p.locks.CleanupAll()
		p.proc.Cleanup()
	})
}
