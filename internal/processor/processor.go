// Package processor converts one input file into storage-ready records:
// extraction, chunking, image analysis, and store writes, with a bounded
// retry loop around transient failures.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/torikomi/internal/chunker"
	"github.com/hyperjump/torikomi/internal/config"
	"github.com/hyperjump/torikomi/internal/extract"
	"github.com/hyperjump/torikomi/internal/models"
	"github.com/hyperjump/torikomi/internal/store"
	"github.com/hyperjump/torikomi/internal/vision"
)

// Processor turns files into records and writes them to the document store.
// Errors never escape a Processor method as panics or propagated exceptions
// during batch execution; they cross to the caller only as structured fields
// on ProcessingResult.
type Processor struct {
	cfg       *config.Config
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	analyzer  vision.Analyzer
	store     store.Store
	textCol   store.Collection
	imageCol  store.Collection

	cleanupOnce sync.Once
	logger      *zap.Logger // optional; when set, logs per-file events
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets a logger for per-file processing events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a processor and opens the text and image collections. The
// collection handles are held until Cleanup.
func New(ctx context.Context, cfg *config.Config, st store.Store, analyzer vision.Analyzer, opts ...Option) (*Processor, error) {
	p := &Processor{
		cfg:      cfg,
		chunker:  chunker.NewChunker(cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlapRatio),
		analyzer: analyzer,
		store:    st,
	}
	for _, opt := range opts {
		opt(p)
	}
	extractOpts := []extract.ExtractorOption{}
	if p.logger != nil {
		extractOpts = append(extractOpts, extract.WithLogger(p.logger))
	}
	p.extractor = extract.NewExtractor(
		cfg.Processing.PDFImageMinBytes, cfg.Processing.PDFImageMaxBytes, extractOpts...)

	var err error
	if p.textCol, err = st.Collection(ctx, cfg.Store.TextCollection); err != nil {
		return nil, fmt.Errorf("open text collection: %w", err)
	}
	if p.imageCol, err = st.Collection(ctx, cfg.Store.ImageCollection); err != nil {
		p.textCol.Close()
		return nil, fmt.Errorf("open image collection: %w", err)
	}
	return p, nil
}

// Classify reports which pipeline path handles path, by extension.
func (p *Processor) Classify(path string) models.FileKind {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range p.cfg.Input.DocumentExtensions {
		if ext == strings.ToLower(e) {
			return models.KindDocument
		}
	}
	for _, e := range p.cfg.Input.ImageExtensions {
		if ext == strings.ToLower(e) {
			return models.KindImage
		}
	}
	return models.KindUnsupported
}

func (p *Processor) newResult(path string, kind models.FileKind) *models.ProcessingResult {
	res := &models.ProcessingResult{
		FileName: filepath.Base(path),
		Path:     path,
		Kind:     kind,
	}
	if info, err := os.Stat(path); err == nil {
		res.SizeBytes = info.Size()
	}
	return res
}

// ProcessFileWithRetry classifies path and attempts processing up to
// maxRetries+1 times, sleeping briefly between attempts. Unsupported
// extensions fail immediately with zero attempts: a category that can never
// succeed gets no retries. Returns the first successful result, or a failure
// result naming the last error and the number of attempts made.
func (p *Processor) ProcessFileWithRetry(ctx context.Context, path string, maxRetries int) *models.ProcessingResult {
	kind := p.Classify(path)
	if kind == models.KindUnsupported {
		res := p.newResult(path, kind)
		res.AddError(fmt.Sprintf("Unsupported file type: %s", filepath.Ext(path)))
		return res
	}

	started := time.Now()
	var last *models.ProcessingResult
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.cfg.Processing.RetryDelay):
			case <-ctx.Done():
				last.AddError(fmt.Sprintf("cancelled: %v", ctx.Err()))
				last.Duration = time.Since(started)
				return last
			}
			if p.logger != nil {
				p.logger.Info("retrying file",
					zap.String("path", path), zap.Int("attempt", attempt+1))
			}
		}
		var res *models.ProcessingResult
		if kind == models.KindDocument {
			res = p.processDocumentSafe(ctx, path)
		} else {
			res = p.processImageFileSafe(ctx, path)
		}
		res.RetryCount = attempt + 1
		res.Duration = time.Since(started)
		if res.Success {
			return res
		}
		last = res
		if p.logger != nil {
			p.logger.Warn("processing attempt failed",
				zap.String("path", path), zap.Int("attempt", attempt+1),
				zap.Strings("errors", res.Errors))
		}
	}
	if len(last.Errors) > 0 {
		last.Errors = append(last.Errors, fmt.Sprintf(
			"failed after %d attempts: %s", maxRetries+1, last.Errors[len(last.Errors)-1]))
	}
	last.Duration = time.Since(started)
	return last
}

// processDocumentSafe wraps ProcessDocument with panic containment so a bug in
// an extraction library cannot cross the processor boundary.
func (p *Processor) processDocumentSafe(ctx context.Context, path string) (res *models.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			if res == nil {
				res = p.newResult(path, models.KindDocument)
			}
			res.AddError(fmt.Sprintf("panic: %v", r))
			if p.logger != nil {
				p.logger.Error("panic while processing document",
					zap.String("path", path), zap.Any("panic", r), zap.Stack("stack"))
			}
		}
	}()
	return p.ProcessDocument(ctx, path)
}

func (p *Processor) processImageFileSafe(ctx context.Context, path string) (res *models.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			if res == nil {
				res = p.newResult(path, models.KindImage)
			}
			res.AddError(fmt.Sprintf("panic: %v", r))
			if p.logger != nil {
				p.logger.Error("panic while processing image",
					zap.String("path", path), zap.Any("panic", r), zap.Stack("stack"))
			}
		}
	}()
	return p.ProcessImageFile(ctx, path)
}

// ProcessDocument extracts path, chunks the text, writes the chunk records to
// the text collection, and runs any images harvested from a PDF through image
// analysis. Harvested temp files are deleted regardless of analysis outcome.
func (p *Processor) ProcessDocument(ctx context.Context, path string) *models.ProcessingResult {
	res := p.newResult(path, models.KindDocument)

	extractStart := time.Now()
	doc, err := p.extractor.Extract(path)
	res.Timings.Extraction = time.Since(extractStart)
	if err != nil {
		res.AddError(fmt.Sprintf("extraction failed: %v", err))
		p.logError("extraction failed", path, err)
		return res.Finish()
	}
	if doc.Failed() {
		res.AddError(fmt.Sprintf("extraction failed: %s", doc.FailureReason))
		return res.Finish()
	}
	res.PageCount = doc.PageCount
	res.Properties = doc.Properties
	res.Notes = append(res.Notes, doc.Notes...)

	// Harvested temp files are ours to delete on every exit path.
	defer func() {
		for _, img := range doc.Images {
			_ = os.Remove(img.TempPath)
		}
	}()

	text := chunker.Preprocess(doc.Text)
	if text == "" {
		res.AddError("no text content extracted")
		return res.Finish()
	}
	chunkStart := time.Now()
	chunks := p.chunker.Chunk(text)
	res.Timings.Chunking = time.Since(chunkStart)
	res.ChunkCount = len(chunks)

	records := p.buildChunkRecords(path, res, chunks)
	writeStart := time.Now()
	err = p.textCol.WriteDocuments(ctx, records)
	res.Timings.StorageWrite = time.Since(writeStart)
	if err != nil {
		res.AddError(fmt.Sprintf("storage write failed: %v", err))
		p.logError("storage write failed", path, err)
		return res.Finish()
	}

	for _, img := range doc.Images {
		imgStart := time.Now()
		imgRes := p.analyzeAndStore(ctx, img.TempPath, path)
		res.Timings.ImageAnalysis += time.Since(imgStart)
		res.Images = append(res.Images, imgRes)
	}

	if p.logger != nil {
		p.logger.Debug("document processed",
			zap.String("path", path),
			zap.Int("chunks", res.ChunkCount),
			zap.Int("extracted_images", len(res.Images)))
	}
	return res.Finish()
}

// buildChunkRecords lays out chunk records. A single chunk is stored as one
// record under the plain file URL; multiple chunks each get a "#chunk-N" URL
// plus metadata carrying total_chunks, chunk_index, and sibling chunk sizes,
// so consumers can reconstruct chunk-to-document membership without a join
// table.
func (p *Processor) buildChunkRecords(path string, res *models.ProcessingResult, chunks []string) []store.DocumentRecord {
	baseURL := fileURL(path)
	baseMeta := func() map[string]interface{} {
		m := map[string]interface{}{
			"file_name":  res.FileName,
			"file_type":  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			"size_bytes": res.SizeBytes,
		}
		if res.PageCount > 0 {
			m["page_count"] = res.PageCount
		}
		if props := res.Properties; props != nil {
			if props.Author != "" {
				m["author"] = props.Author
			}
			if props.Title != "" {
				m["title"] = props.Title
			}
		}
		return m
	}

	if len(chunks) == 1 {
		return []store.DocumentRecord{{URL: baseURL, Text: chunks[0], Metadata: baseMeta()}}
	}
	sizes := make([]int, len(chunks))
	for i, ch := range chunks {
		sizes[i] = utf8.RuneCountInString(ch)
	}
	records := make([]store.DocumentRecord, len(chunks))
	for i, ch := range chunks {
		m := baseMeta()
		m["total_chunks"] = len(chunks)
		m["chunk_index"] = i
		m["chunk_sizes"] = sizes
		records[i] = store.DocumentRecord{
			URL:      fmt.Sprintf("%s#chunk-%d", baseURL, i),
			Text:     ch,
			Metadata: m,
		}
	}
	return records
}

// ProcessImageFile analyzes a standalone image file and stores its record.
func (p *Processor) ProcessImageFile(ctx context.Context, path string) *models.ProcessingResult {
	res := p.newResult(path, models.KindImage)
	start := time.Now()
	imgRes := p.analyzeAndStore(ctx, path, "")
	res.Timings.ImageAnalysis = time.Since(start)
	res.Images = append(res.Images, imgRes)
	for _, e := range imgRes.Errors {
		res.AddError(e)
	}
	return res.Finish()
}

// analyzeAndStore runs the vision collaborator on path and persists the
// outcome. When the active store backend lacks image support, a text record
// describing the classification and OCR content is synthesized instead, so a
// text-only backend still retains searchable content about the image.
func (p *Processor) analyzeAndStore(ctx context.Context, path, sourceDocument string) models.ImageResult {
	imgRes := models.ImageResult{Path: path, SourceDocument: sourceDocument}
	analysis, err := p.analyzer.ProcessImage(ctx, path)
	if err != nil {
		imgRes.Errors = append(imgRes.Errors, fmt.Sprintf("image analysis failed: %v", err))
		p.logError("image analysis failed", path, err)
		return imgRes
	}
	imgRes.HasEXIF = len(analysis.EXIF) > 0
	imgRes.HasOCR = strings.TrimSpace(analysis.OCR.ExtractedText) != ""
	imgRes.HasClassification = len(analysis.Classification.Labels) > 0
	imgRes.TopPrediction = analysis.Classification.TopPrediction

	metadata := map[string]interface{}{
		"file_name": filepath.Base(path),
	}
	if sourceDocument != "" {
		metadata["source_document"] = sourceDocument
		metadata["extracted_from_pdf"] = true
	}
	if imgRes.HasEXIF {
		metadata["exif"] = analysis.EXIF
	}
	if imgRes.HasClassification {
		metadata["classification"] = analysis.Classification.Labels
		metadata["top_prediction"] = analysis.Classification.TopPrediction
	}
	if imgRes.HasOCR {
		metadata["ocr_text"] = analysis.OCR.ExtractedText
	}

	url := fileURL(path)
	var writeErr error
	if p.store.SupportsImages() {
		writeErr = p.imageCol.WriteImages(ctx, []store.ImageRecord{{URL: url, Metadata: metadata}})
	} else {
		imgRes.StoredAsText = true
		writeErr = p.textCol.WriteDocuments(ctx, []store.DocumentRecord{{
			URL:      url,
			Text:     describeImage(path, analysis),
			Metadata: metadata,
		}})
	}
	if writeErr != nil {
		imgRes.Errors = append(imgRes.Errors, fmt.Sprintf("storage write failed: %v", writeErr))
		p.logError("image storage write failed", path, writeErr)
		return imgRes
	}
	imgRes.Success = true
	return imgRes
}

// describeImage synthesizes a searchable text description for image content.
func describeImage(path string, analysis *vision.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Image %s", filepath.Base(path))
	if analysis.Classification.TopPrediction != "" {
		fmt.Fprintf(&b, ", classified as %s", analysis.Classification.TopPrediction)
	}
	if text := strings.TrimSpace(analysis.OCR.ExtractedText); text != "" {
		fmt.Fprintf(&b, ". Text content: %s", text)
	}
	return b.String()
}

// RemoveFile deletes the records previously stored for path from both
// collections. Used by watch mode when an input file disappears.
func (p *Processor) RemoveFile(ctx context.Context, path string) error {
	url := fileURL(path)
	if err := p.textCol.DeleteDocument(ctx, url); err != nil {
		return fmt.Errorf("delete text records: %w", err)
	}
	if p.store.SupportsImages() {
		if err := p.imageCol.DeleteDocument(ctx, url); err != nil {
			return fmt.Errorf("delete image records: %w", err)
		}
	}
	return nil
}

// Cleanup releases the collection handles. Safe to call multiple times; also
// invoked from the pipeline's signal handling path.
func (p *Processor) Cleanup() {
	p.cleanupOnce.Do(func() {
		if p.textCol != nil {
			if err := p.textCol.Close(); err != nil && p.logger != nil {
				p.logger.Warn("text collection close failed", zap.Error(err))
			}
		}
		if p.imageCol != nil {
			if err := p.imageCol.Close(); err != nil && p.logger != nil {
				p.logger.Warn("image collection close failed", zap.Error(err))
			}
		}
	})
}

func (p *Processor) logError(msg, path string, err error) {
	if p.logger != nil {
		p.logger.Error(msg, zap.String("path", path), zap.Error(err), zap.Stack("stack"))
	}
}

// fileURL returns the storage URL for an input file path.
func fileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}
