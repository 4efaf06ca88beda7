// Package report turns per-file processing results into the three batch
// outputs: a human-readable summary next to each input file, a CSV rollup for
// the whole run, and aggregate console statistics.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/torikomi/internal/lockfile"
	"github.com/hyperjump/torikomi/internal/models"
	"github.com/hyperjump/torikomi/pkg/utils"
)

// csvHeader is the fixed column set of the batch CSV report.
var csvHeader = []string{
	"file_name", "file_type", "size_bytes", "success", "skipped",
	"chunk_count", "page_count", "extracted_images",
	"has_ocr", "has_classification",
	"extraction_ms", "chunking_ms", "image_analysis_ms", "storage_write_ms",
	"total_ms", "retry_count", "error_count",
}

// Generator writes processing reports.
type Generator struct {
	logger *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets a logger for report-writing events.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a report generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WriteProcessedFile writes a human-readable summary of res to
// "<path>.processed". The file doubles as the idempotency marker the lock
// coordinator checks, so a single artifact serves both bookkeeping and audit.
func (g *Generator) WriteProcessedFile(path string, res *models.ProcessingResult) error {
	f, err := os.Create(path + lockfile.MarkerSuffix)
	if err != nil {
		return fmt.Errorf("create processed marker: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "=== Processing Summary ===\n")
	fmt.Fprintf(f, "File: %s\n", res.FileName)
	fmt.Fprintf(f, "Path: %s\n", res.Path)
	fmt.Fprintf(f, "Kind: %s\n", res.Kind)
	fmt.Fprintf(f, "Size: %d bytes\n", res.SizeBytes)
	fmt.Fprintf(f, "Processed at: %s\n", time.Now().Format(time.RFC3339))

	fmt.Fprintf(f, "\n--- Results ---\n")
	fmt.Fprintf(f, "Success: %v\n", res.Success)
	fmt.Fprintf(f, "Chunks: %d\n", res.ChunkCount)
	if res.PageCount > 0 {
		fmt.Fprintf(f, "Pages: %d\n", res.PageCount)
	}
	if len(res.Images) > 0 {
		fmt.Fprintf(f, "Images: %d\n", len(res.Images))
		for _, img := range res.Images {
			fmt.Fprintf(f, "  - %s (exif=%v ocr=%v classification=%v)\n",
				img.Path, img.HasEXIF, img.HasOCR, img.HasClassification)
		}
	}
	fmt.Fprintf(f, "Attempts: %d\n", res.RetryCount)

	fmt.Fprintf(f, "\n--- Timing ---\n")
	fmt.Fprintf(f, "Extraction: %s\n", res.Timings.Extraction)
	fmt.Fprintf(f, "Chunking: %s\n", res.Timings.Chunking)
	fmt.Fprintf(f, "Image analysis: %s\n", res.Timings.ImageAnalysis)
	fmt.Fprintf(f, "Storage write: %s\n", res.Timings.StorageWrite)
	fmt.Fprintf(f, "Total: %s\n", res.Duration)

	if len(res.Notes) > 0 {
		fmt.Fprintf(f, "\n--- Notes ---\n")
		for _, n := range res.Notes {
			fmt.Fprintf(f, "- %s\n", n)
		}
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(f, "\n--- Errors ---\n")
		for _, e := range res.Errors {
			fmt.Fprintf(f, "- %s\n", e)
		}
	}
	if p := res.Properties; p != nil {
		fmt.Fprintf(f, "\n--- Document Metadata ---\n")
		if p.Author != "" {
			fmt.Fprintf(f, "Author: %s\n", p.Author)
		}
		if p.Title != "" {
			fmt.Fprintf(f, "Title: %s\n", p.Title)
		}
		if p.Subject != "" {
			fmt.Fprintf(f, "Subject: %s\n", p.Subject)
		}
		if !p.Created.IsZero() {
			fmt.Fprintf(f, "Created: %s\n", p.Created.Format(time.RFC3339))
		}
		if !p.Modified.IsZero() {
			fmt.Fprintf(f, "Modified: %s\n", p.Modified.Format(time.RFC3339))
		}
		fmt.Fprintf(f, "Paragraphs: %d\n", p.ParagraphCount)
		fmt.Fprintf(f, "Tables: %d\n", p.TableCount)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close processed marker: %w", err)
	}
	if g.logger != nil {
		g.logger.Debug("wrote processed marker", zap.String("path", res.Path))
	}
	return nil
}

// WriteCSV writes the batch rollup, one row per result, to filename.
// The file is overwritten per run.
func (g *Generator) WriteCSV(results []*models.ProcessingResult, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create csv report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, res := range results {
		hasOCR, hasClass := false, false
		for _, img := range res.Images {
			hasOCR = hasOCR || img.HasOCR
			hasClass = hasClass || img.HasClassification
		}
		row := []string{
			res.FileName,
			string(res.Kind),
			strconv.FormatInt(res.SizeBytes, 10),
			strconv.FormatBool(res.Success),
			strconv.FormatBool(res.Skipped),
			strconv.Itoa(res.ChunkCount),
			strconv.Itoa(res.PageCount),
			strconv.Itoa(countExtracted(res)),
			strconv.FormatBool(hasOCR),
			strconv.FormatBool(hasClass),
			strconv.FormatInt(res.Timings.Extraction.Milliseconds(), 10),
			strconv.FormatInt(res.Timings.Chunking.Milliseconds(), 10),
			strconv.FormatInt(res.Timings.ImageAnalysis.Milliseconds(), 10),
			strconv.FormatInt(res.Timings.StorageWrite.Milliseconds(), 10),
			strconv.FormatInt(res.Duration.Milliseconds(), 10),
			strconv.Itoa(res.RetryCount),
			strconv.Itoa(len(res.Errors)),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", res.FileName, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv report: %w", err)
	}
	if g.logger != nil {
		g.logger.Info("wrote csv report",
			zap.String("filename", filename), zap.Int("rows", len(results)))
	}
	return nil
}

// countExtracted counts images harvested out of a document, as opposed to the
// image sub-result an image input file records about itself.
func countExtracted(res *models.ProcessingResult) int {
	n := 0
	for _, img := range res.Images {
		if img.SourceDocument != "" {
			n++
		}
	}
	return n
}

// Aggregate computes batch statistics from a result list. It is a pure
// projection: the caller owns AlreadyProcessed and wall-clock TotalDuration,
// which Aggregate cannot derive from the results alone.
func Aggregate(results []*models.ProcessingResult) models.BatchStatistics {
	stats := models.BatchStatistics{
		TotalFiles: len(results),
	}
	var (
		totalDur, docDur, imgDur time.Duration
		totalSize                int64
		docCount, imgCount       int
	)
	for _, res := range results {
		switch {
		case res.Skipped:
			stats.SkippedFiles++
		case res.Success:
			stats.SuccessfulFiles++
		default:
			stats.FailedFiles++
		}
		switch res.Kind {
		case models.KindDocument:
			stats.TotalDocuments++
			docCount++
			docDur += res.Duration
		case models.KindImage:
			stats.TotalImages++
			imgCount++
			imgDur += res.Duration
		}
		stats.TotalChunks += res.ChunkCount
		stats.ExtractedImages += countExtracted(res)
		stats.TotalErrors += len(res.Errors)
		stats.TotalRetries += res.RetryCount
		totalDur += res.Duration
		totalSize += res.SizeBytes
	}
	stats.ProcessedFiles = stats.TotalFiles - stats.SkippedFiles
	if stats.TotalFiles > 0 {
		stats.AverageDuration = totalDur / time.Duration(stats.TotalFiles)
		stats.AverageSizeBytes = totalSize / int64(stats.TotalFiles)
	}
	if docCount > 0 {
		stats.AverageDocumentDuration = docDur / time.Duration(docCount)
	}
	if imgCount > 0 {
		stats.AverageImageDuration = imgDur / time.Duration(imgCount)
	}
	stats.TotalDuration = totalDur
	return stats
}

// PrintSummary writes the console report for a batch to w. Verbose mode adds a
// one-line status per file, including its error list.
func (g *Generator) PrintSummary(w io.Writer, results []*models.ProcessingResult, verbose bool) {
	stats := Aggregate(results)

	fmt.Fprintf(w, "\n=== Batch Summary ===\n")
	fmt.Fprintf(w, "Files: %d total, %d succeeded, %d failed, %d skipped\n",
		stats.TotalFiles, stats.SuccessfulFiles, stats.FailedFiles, stats.SkippedFiles)
	fmt.Fprintf(w, "Documents: %d, Images: %d, Chunks: %d, Extracted images: %d\n",
		stats.TotalDocuments, stats.TotalImages, stats.TotalChunks, stats.ExtractedImages)
	if stats.TotalErrors > 0 {
		fmt.Fprintf(w, "Errors: %d, Retries: %d\n", stats.TotalErrors, stats.TotalRetries)
	}
	fmt.Fprintf(w, "Average duration: %s", stats.AverageDuration.Round(time.Millisecond))
	if stats.TotalDocuments > 0 {
		fmt.Fprintf(w, " (documents %s", stats.AverageDocumentDuration.Round(time.Millisecond))
		if stats.TotalImages > 0 {
			fmt.Fprintf(w, ", images %s", stats.AverageImageDuration.Round(time.Millisecond))
		}
		fmt.Fprintf(w, ")")
	}
	fmt.Fprintf(w, "\n")

	if !verbose {
		return
	}
	fmt.Fprintf(w, "\n")
	for _, res := range results {
		status := "OK"
		switch {
		case res.Skipped:
			status = "SKIP"
		case !res.Success:
			status = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %s (%s, %d chunks, %s)\n",
			status, res.FileName, res.Kind, res.ChunkCount, res.Duration.Round(time.Millisecond))
		for _, e := range res.Errors {
			fmt.Fprintf(w, "      %s\n", utils.Truncate(e, 200))
		}
	}
}
