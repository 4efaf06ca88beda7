// Package extract provides per-format text and metadata extraction for the
// ingestion pipeline: a multi-library PDF fallback chain, DOCX paragraph and
// table extraction, and XLSX row extraction.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/torikomi/internal/models"
)

// Document is the result of extracting one file. Images holds temp files for
// JPEGs harvested from a PDF; the caller owns them and must delete them.
type Document struct {
	Text       string
	PageCount  int
	Properties *models.DocumentProperties
	Tables     [][][]string
	Images     []HarvestedImage
	// Notes are informational observations, e.g. an embedded image skipped
	// for falling outside the configured size bounds.
	Notes []string
	// FailureReason is set when every strategy in a fallback chain failed.
	// Text then carries the same joined error text, so callers that only look
	// at content still see the failure rather than an empty document.
	FailureReason string
}

// Failed reports whether extraction produced no usable content.
func (d *Document) Failed() bool { return d.FailureReason != "" }

// HarvestedImage is a JPEG pulled out of a PDF during extraction, written to a
// temporary file for downstream image analysis.
type HarvestedImage struct {
	TempPath  string
	SizeBytes int64
}

// Extractor extracts text and metadata from document files.
type Extractor struct {
	pdfChain      []pdfStrategy
	imageMinBytes int64
	imageMaxBytes int64
	logger        *zap.Logger // optional; when set, logs per-strategy failures
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets a logger for debug output (strategy fallbacks, image harvest).
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an extractor. imageMinBytes and imageMaxBytes bound the
// size of embedded PDF images harvested for downstream analysis.
func NewExtractor(imageMinBytes, imageMaxBytes int64, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		pdfChain:      defaultPDFChain(),
		imageMinBytes: imageMinBytes,
		imageMaxBytes: imageMaxBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract routes path to the extractor for its extension.
// PDF extraction never returns an error for unparseable content; it reports
// total fallback-chain failure through the Document's FailureReason instead.
// DOCX and XLSX extraction return errors directly (no fallback chain).
func (e *Extractor) Extract(path string) (*Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return e.extractPDF(path), nil
	case ".docx":
		return extractDOCX(path)
	case ".xlsx":
		return extractXLSX(path)
	default:
		return nil, fmt.Errorf("no extractor for %q", filepath.Ext(path))
	}
}
