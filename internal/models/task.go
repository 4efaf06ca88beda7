// Package models defines core data structures for processing tasks, results, and batch statistics.
package models

// FileKind classifies an input file by what pipeline path handles it.
type FileKind string

const (
	// KindDocument is a text-bearing file (PDF, DOCX, XLSX).
	KindDocument FileKind = "document"
	// KindImage is an image file handled by the vision collaborator.
	KindImage FileKind = "image"
	// KindUnsupported is anything else; such files fail immediately without retries.
	KindUnsupported FileKind = "unsupported"
)

// ProcessingTask is one input file under consideration by the pipeline.
// Tasks are created at discovery time and discarded once the file is either
// skipped (a .processed marker exists) or processing completes.
type ProcessingTask struct {
	Path      string   `json:"path"`
	Kind      FileKind `json:"kind"`
	SizeBytes int64    `json:"size_bytes"`
}
