// Package integration provides end-to-end tests against the real local store
// (SQLite records plus a Bleve search index).
package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/torikomi/internal/config"
	"github.com/hyperjump/torikomi/internal/lockfile"
	"github.com/hyperjump/torikomi/internal/pipeline"
	"github.com/hyperjump/torikomi/internal/processor"
	"github.com/hyperjump/torikomi/internal/store"
	"github.com/hyperjump/torikomi/internal/vision"
)

func writeDocx(t *testing.T, dir, name, text string) string {
	t.Helper()
	body := fmt.Sprintf(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>%s</w:t></w:r></w:p></w:body></w:document>`, text)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIntegration_BatchToSearchableStore(t *testing.T) {
	workDir := t.TempDir()
	inputDir := filepath.Join(workDir, "inbox")
	if err := os.Mkdir(inputDir, 0700); err != nil {
		t.Fatal(err)
	}
	writeDocx(t, inputDir, "minutes.docx",
		"The steering committee approved the harbor expansion budget.")
	writeDocx(t, inputDir, "memo.docx",
		"Reminder that quarterly expense reports are due on Friday.")

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Input.Directory = inputDir
	cfg.Store.DatabasePath = filepath.Join(workDir, "db", "records.db")
	cfg.Store.BleveIndexPath = filepath.Join(workDir, "indices", "bleve")
	cfg.Processing.RetryDelay = 1

	st, err := store.NewLocalStore(cfg.Store.DatabasePath, cfg.Store.BleveIndexPath)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	proc, err := processor.New(ctx, cfg, st, &vision.StubAnalyzer{})
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	pipe, err := pipeline.New(cfg, proc, pipeline.WithOutput(io.Discard))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	defer pipe.Close()

	stats, err := pipe.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.SuccessfulFiles != 2 || stats.FailedFiles != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	col, err := st.Collection(ctx, cfg.Store.TextCollection)
	if err != nil {
		t.Fatal(err)
	}
	count, err := col.CountDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("stored records = %d, want 2", count)
	}

	hits, err := col.SearchDocuments(ctx, "harbor expansion", 10)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if !strings.Contains(hits[0].Text, "harbor expansion") {
		t.Errorf("hit text = %q", hits[0].Text)
	}
	if !strings.HasPrefix(hits[0].URL, "file://") {
		t.Errorf("hit url = %q", hits[0].URL)
	}

	// Both inputs carry markers; a second run against the same store is a no-op.
	for _, name := range []string{"minutes.docx", "memo.docx"} {
		if _, err := os.Stat(filepath.Join(inputDir, name) + lockfile.MarkerSuffix); err != nil {
			t.Errorf("missing marker for %s", name)
		}
	}
	pipe2, err := pipeline.New(cfg, proc, pipeline.WithOutput(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	defer pipe2.Close()
	stats2, err := pipe2.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats2.ProcessedFiles != 0 || stats2.AlreadyProcessed != 2 {
		t.Errorf("second run stats = %+v", stats2)
	}

	// Deleting one document removes it from search.
	if err := col.DeleteDocument(ctx, hits[0].URL); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	hits, err = col.SearchDocuments(ctx, "harbor expansion", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits after delete = %d, want 0", len(hits))
	}
}
