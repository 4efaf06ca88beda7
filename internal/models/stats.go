package models

import "time"

// BatchStatistics is an aggregate projection over a batch's ProcessingResults.
// It is computed on demand and never mutated in place.
type BatchStatistics struct {
	TotalFiles       int `json:"total_files"`
	ProcessedFiles   int `json:"processed_files"`
	AlreadyProcessed int `json:"already_processed"`
	SuccessfulFiles  int `json:"successful_files"`
	FailedFiles      int `json:"failed_files"`
	SkippedFiles     int `json:"skipped_files"`

	TotalDocuments  int `json:"total_documents"`
	TotalImages     int `json:"total_images"`
	TotalChunks     int `json:"total_chunks"`
	ExtractedImages int `json:"extracted_images"`
	TotalErrors     int `json:"total_errors"`
	TotalRetries    int `json:"total_retries"`

	AverageDuration         time.Duration `json:"average_duration"`
	AverageDocumentDuration time.Duration `json:"average_document_duration"`
	AverageImageDuration    time.Duration `json:"average_image_duration"`
	AverageSizeBytes        int64         `json:"average_size_bytes"`
	TotalDuration           time.Duration `json:"total_duration"`
}
