package models

import "time"

// StageTimings records how long each sequential stage of one file's processing took.
type StageTimings struct {
	Extraction    time.Duration `json:"extraction"`
	Chunking      time.Duration `json:"chunking"`
	ImageAnalysis time.Duration `json:"image_analysis"`
	StorageWrite  time.Duration `json:"storage_write"`
}

// DocumentProperties holds metadata extracted from a document's core properties
// (DOCX docProps/core.xml; partially populated for other formats).
type DocumentProperties struct {
	Author         string    `json:"author,omitempty"`
	Title          string    `json:"title,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Created        time.Time `json:"created,omitempty"`
	Modified       time.Time `json:"modified,omitempty"`
	ParagraphCount int       `json:"paragraph_count,omitempty"`
	TableCount     int       `json:"table_count,omitempty"`
}

// ImageResult is the outcome of analyzing and storing a single image, either a
// standalone input file or one harvested from a PDF during extraction.
type ImageResult struct {
	Path              string   `json:"path"`
	SourceDocument    string   `json:"source_document,omitempty"`
	HasEXIF           bool     `json:"has_exif"`
	HasOCR            bool     `json:"has_ocr"`
	HasClassification bool     `json:"has_classification"`
	TopPrediction     string   `json:"top_prediction,omitempty"`
	StoredAsText      bool     `json:"stored_as_text"`
	Errors            []string `json:"errors,omitempty"`
	Success           bool     `json:"success"`
}

// ProcessingResult is the outcome of processing one ProcessingTask. It is built
// by the processor during an attempt and immutable once returned to the pipeline.
// Invariant: Success == (len(Errors) == 0).
type ProcessingResult struct {
	FileName   string              `json:"file_name"`
	Path       string              `json:"path"`
	Kind       FileKind            `json:"kind"`
	SizeBytes  int64               `json:"size_bytes"`
	Timings    StageTimings        `json:"timings"`
	ChunkCount int                 `json:"chunk_count"`
	PageCount  int                 `json:"page_count,omitempty"`
	Images     []ImageResult       `json:"images,omitempty"`
	Properties *DocumentProperties `json:"properties,omitempty"`
	// Notes are informational observations that are not errors, e.g. an
	// embedded image skipped for falling outside the configured size bounds.
	Notes      []string      `json:"notes,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
	Skipped    bool          `json:"skipped"`
	Success    bool          `json:"success"`
	RetryCount int           `json:"retry_count"`
	Duration   time.Duration `json:"duration"`
}

// AddError appends msg to the error list and clears the success flag.
func (r *ProcessingResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Success = false
}

// Finish sets the success flag from the error list and returns r.
func (r *ProcessingResult) Finish() *ProcessingResult {
	r.Success = len(r.Errors) == 0
	return r
}
