package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// LocalStore is a SQLite-backed Store with a Bleve search index. Records live
// in one table tagged by collection name; the Bleve index serves
// SearchDocuments. It accepts image records.
type LocalStore struct {
	db    *sql.DB
	index *searchIndex
}

// NewLocalStore opens or creates the database at dbPath and the search index
// at indexPath. Parent directories are created if they do not exist.
func NewLocalStore(dbPath, indexPath string) (*LocalStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	index, err := newSearchIndex(indexPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LocalStore{db: db, index: index}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		kind TEXT NOT NULL,
		url TEXT NOT NULL,
		content TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(collection, url)
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection, kind);
	CREATE INDEX IF NOT EXISTS idx_records_url ON records(collection, url);
	`
	_, err := db.Exec(schema)
	return err
}

// Collection returns a handle on the named partition. Collections are tags on
// the shared table, so opening one is cheap and always succeeds.
func (s *LocalStore) Collection(_ context.Context, name string) (Collection, error) {
	return &localCollection{store: s, name: name}, nil
}

// SupportsImages reports that this backend accepts image records.
func (s *LocalStore) SupportsImages() bool { return true }

// Close closes the database and search index.
func (s *LocalStore) Close() error {
	indexErr := s.index.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return indexErr
}

type localCollection struct {
	store *LocalStore
	name  string
}

func (c *localCollection) WriteDocuments(ctx context.Context, records []DocumentRecord) error {
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = time.Now()
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		_, err = c.store.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO records (id, collection, kind, url, content, metadata, created_at)
			 VALUES (?, ?, 'document', ?, ?, ?, ?)`,
			r.ID, c.name, r.URL, r.Text, string(metadataJSON), r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store document %s: %w", r.URL, err)
		}
		if err := c.store.index.Index(r.ID, c.name, r.URL, r.Text); err != nil {
			return fmt.Errorf("failed to index document %s: %w", r.URL, err)
		}
	}
	return nil
}

func (c *localCollection) WriteImages(ctx context.Context, records []ImageRecord) error {
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = time.Now()
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		_, err = c.store.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO records (id, collection, kind, url, content, metadata, created_at)
			 VALUES (?, ?, 'image', ?, ?, ?, ?)`,
			r.ID, c.name, r.URL, searchableImageText(r.Metadata), string(metadataJSON), r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store image %s: %w", r.URL, err)
		}
		if text := searchableImageText(r.Metadata); text != "" {
			if err := c.store.index.Index(r.ID, c.name, r.URL, text); err != nil {
				return fmt.Errorf("failed to index image %s: %w", r.URL, err)
			}
		}
	}
	return nil
}

// searchableImageText pulls the text-bearing metadata fields of an image
// record so image content stays findable through the search index.
func searchableImageText(metadata map[string]interface{}) string {
	var text string
	for _, key := range []string{"top_prediction", "ocr_text"} {
		if v, ok := metadata[key].(string); ok && v != "" {
			if text != "" {
				text += " "
			}
			text += v
		}
	}
	return text
}

func (c *localCollection) SearchDocuments(ctx context.Context, query string, limit int) ([]DocumentRecord, error) {
	ids, err := c.store.index.Search(c.name, query, limit)
	if err != nil {
		return nil, err
	}
	records := make([]DocumentRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := c.getByID(ctx, id)
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (c *localCollection) getByID(ctx context.Context, id string) (*DocumentRecord, error) {
	var rec DocumentRecord
	var metadataJSON string
	err := c.store.db.QueryRowContext(ctx,
		`SELECT id, url, content, metadata, created_at FROM records WHERE id = ? AND collection = ?`,
		id, c.name,
	).Scan(&rec.ID, &rec.URL, &rec.Text, &metadataJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &rec.Metadata)
	}
	return &rec, nil
}

func (c *localCollection) ListDocuments(ctx context.Context, offset, limit int) ([]DocumentRecord, error) {
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT id, url, content, metadata, created_at FROM records
		 WHERE collection = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		c.name, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []DocumentRecord
	for rows.Next() {
		var rec DocumentRecord
		var metadataJSON string
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Text, &metadataJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if metadataJSON != "" {
			_ = json.Unmarshal([]byte(metadataJSON), &rec.Metadata)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteDocument removes the record stored under url. A chunked file's
// records live under "url#chunk-N" URLs; those are deleted along with it.
func (c *localCollection) DeleteDocument(ctx context.Context, url string) error {
	chunkPattern := url + "#chunk-%"
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT id FROM records WHERE collection = ? AND (url = ? OR url LIKE ?)`,
		c.name, url, chunkPattern)
	if err != nil {
		return fmt.Errorf("failed to find record: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()

	if _, err := c.store.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND (url = ? OR url LIKE ?)`,
		c.name, url, chunkPattern); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	for _, id := range ids {
		_ = c.store.index.Delete(id)
	}
	return nil
}

func (c *localCollection) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := c.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, c.name).Scan(&count)
	return count, err
}

// Close releases the collection handle. The underlying database is shared and
// stays open until the store itself is closed.
func (c *localCollection) Close() error { return nil }
