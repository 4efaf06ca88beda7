package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests. ImagesSupported controls
// whether the backend accepts image records, so the text-fallback path for
// image content can be exercised.
type MemoryStore struct {
	ImagesSupported bool
	// WriteErr, when set, is returned by every write. Used to exercise the
	// retry path.
	WriteErr error

	mu          sync.Mutex
	collections map[string]*memoryCollection
	closed      bool
}

// NewMemoryStore creates an empty in-memory store that accepts images.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ImagesSupported: true,
		collections:     make(map[string]*memoryCollection),
	}
}

// Collection returns the named partition, creating it if absent.
func (s *MemoryStore) Collection(_ context.Context, name string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store closed")
	}
	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{store: s}
		s.collections[name] = c
	}
	return c, nil
}

// SupportsImages reports the configured image support.
func (s *MemoryStore) SupportsImages() bool { return s.ImagesSupported }

// Close marks the store closed. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Documents returns a copy of the named collection's document records.
func (s *MemoryStore) Documents(name string) []DocumentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DocumentRecord(nil), c.documents...)
}

// Images returns a copy of the named collection's image records.
func (s *MemoryStore) Images(name string) []ImageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ImageRecord(nil), c.images...)
}

type memoryCollection struct {
	store     *MemoryStore
	mu        sync.Mutex
	documents []DocumentRecord
	images    []ImageRecord
}

func (c *memoryCollection) WriteDocuments(_ context.Context, records []DocumentRecord) error {
	if c.store.WriteErr != nil {
		return c.store.WriteErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = time.Now()
		// Writes replace an earlier record for the same URL, matching the
		// SQLite store's unique (collection, url) upsert.
		replaced := false
		for i := range c.documents {
			if c.documents[i].URL == r.URL {
				c.documents[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			c.documents = append(c.documents, r)
		}
	}
	return nil
}

func (c *memoryCollection) WriteImages(_ context.Context, records []ImageRecord) error {
	if c.store.WriteErr != nil {
		return c.store.WriteErr
	}
	if !c.store.ImagesSupported {
		return fmt.Errorf("image records not supported")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = time.Now()
		replaced := false
		for i := range c.images {
			if c.images[i].URL == r.URL {
				c.images[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			c.images = append(c.images, r)
		}
	}
	return nil
}

func (c *memoryCollection) SearchDocuments(_ context.Context, query string, limit int) ([]DocumentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []DocumentRecord
	q := strings.ToLower(query)
	for _, r := range c.documents {
		if strings.Contains(strings.ToLower(r.Text), q) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (c *memoryCollection) ListDocuments(_ context.Context, offset, limit int) ([]DocumentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset >= len(c.documents) {
		return nil, nil
	}
	end := offset + limit
	if end > len(c.documents) {
		end = len(c.documents)
	}
	return append([]DocumentRecord(nil), c.documents[offset:end]...), nil
}

func (c *memoryCollection) DeleteDocument(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.documents[:0]
	for _, r := range c.documents {
		if r.URL == url || strings.HasPrefix(r.URL, url+"#chunk-") {
			continue
		}
		kept = append(kept, r)
	}
	c.documents = kept
	return nil
}

func (c *memoryCollection) CountDocuments(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.documents) + len(c.images)), nil
}

func (c *memoryCollection) Close() error { return nil }
