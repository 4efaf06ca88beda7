package vision

import (
	"context"
	"errors"
	"path/filepath"
)

// StubAnalyzer returns a fixed analysis for any image. Used in tests and when
// the pipeline runs without a configured analysis endpoint but a caller still
// wants deterministic results.
type StubAnalyzer struct {
	// Err, when set, is returned for every call.
	Err error
	// Analysis is returned when Err is nil; when nil, a minimal analysis
	// derived from the file name is synthesized.
	Analysis *Analysis
}

// ProcessImage returns the configured analysis or error.
func (s *StubAnalyzer) ProcessImage(_ context.Context, path string) (*Analysis, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Analysis != nil {
		return s.Analysis, nil
	}
	return &Analysis{
		Classification: Classification{
			Labels:        []string{"unclassified"},
			TopPrediction: "unclassified",
		},
		OCR: OCR{ExtractedText: filepath.Base(path), Processed: false},
	}, nil
}

// ErrUnavailable is returned when no analysis backend is configured.
var ErrUnavailable = errors.New("image analysis unavailable: no endpoint configured")

// Unavailable is an Analyzer that always fails with ErrUnavailable. The
// pipeline uses it when vision.endpoint is unset so image files fail with an
// explicit error instead of being silently dropped.
type Unavailable struct{}

// ProcessImage always returns ErrUnavailable.
func (Unavailable) ProcessImage(context.Context, string) (*Analysis, error) {
	return nil, ErrUnavailable
}
