// Package store defines the document store collaborator the pipeline writes
// to, plus a local SQLite+Bleve backend and an in-memory backend for tests.
package store

import (
	"context"
	"time"
)

// DocumentRecord is one storage-ready text record. For multi-chunk documents
// the URL carries a "#chunk-N" suffix and Metadata describes the chunk layout.
type DocumentRecord struct {
	ID        string                 `json:"id,omitempty"`
	URL       string                 `json:"url"`
	Text      string                 `json:"text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
}

// ImageRecord is one storage-ready image record. Only backends reporting
// SupportsImages accept these; others receive a synthesized text record.
type ImageRecord struct {
	ID        string                 `json:"id,omitempty"`
	URL       string                 `json:"url"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
}

// Store is the document store collaborator. The pipeline assumes the backend
// serializes its own writes safely under concurrent callers; no additional
// write ordering is imposed on it.
type Store interface {
	// Collection opens (creating if absent) the named partition.
	Collection(ctx context.Context, name string) (Collection, error)
	// SupportsImages reports whether the backend accepts image records.
	SupportsImages() bool
	Close() error
}

// Collection is a named partition of a Store.
type Collection interface {
	WriteDocuments(ctx context.Context, records []DocumentRecord) error
	WriteImages(ctx context.Context, records []ImageRecord) error
	SearchDocuments(ctx context.Context, query string, limit int) ([]DocumentRecord, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]DocumentRecord, error)
	DeleteDocument(ctx context.Context, url string) error
	CountDocuments(ctx context.Context) (int64, error)
	Close() error
}
