package pipeline

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
	"time"

	"github.com/hyperjump/torikomi/internal/config"
	"github.com/hyperjump/torikomi/internal/lockfile"
	"github.com/hyperjump/torikomi/internal/models"
	"github.com/hyperjump/torikomi/internal/processor"
	"github.com/hyperjump/torikomi/internal/store"
	"github.com/hyperjump/torikomi/internal/vision"
)

func testConfig(dir string) *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Input.Directory = dir
	cfg.Processing.RetryDelay = 1
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	proc, err := processor.New(context.Background(), cfg, st, &vision.StubAnalyzer{})
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	p, err := New(cfg, proc, WithOutput(io.Discard))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	t.Cleanup(p.Close)
	return p, st
}

func writeTestDocx(t *testing.T, dir, name, text string) string {
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

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_MissingDirectoryFailsFast(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	st := store.NewMemoryStore()
	proc, err := processor.New(context.Background(), cfg, st, &vision.StubAnalyzer{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(cfg, proc); err == nil {
		t.Fatal("expected construction failure for missing input directory")
	}
}

func TestNew_PurgesStaleMarkers(t *testing.T) {
	dir := t.TempDir()
	doc := writeTestDocx(t, dir, "old.docx", "Content.")
	marker := doc + lockfile.MarkerSuffix
	if err := os.WriteFile(marker, []byte("done"), 0600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-5 * time.Minute)
	if err := os.Chtimes(marker, old, old); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(dir)
	newTestPipeline(t, cfg)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("stale marker should be purged at construction")
	}
}

func TestDiscoverFiles_Partition(t *testing.T) {
	dir := t.TempDir()
	writeTestDocx(t, dir, "a.docx", "One.")
	writeFile(t, dir, "b.jpg", []byte("img"))
	writeFile(t, dir, "notes.txt", []byte("unsupported"))
	writeFile(t, dir, "processing_results.csv", []byte("old run"))
	done := writeTestDocx(t, dir, "done.docx", "Two.")
	writeFile(t, dir, "done.docx"+lockfile.MarkerSuffix, []byte("done"))
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0700); err != nil {
		t.Fatal(err)
	}

	p, _ := newTestPipeline(t, testConfig(dir))
	toProcess, already := p.DiscoverFiles()

	names := make([]string, 0, len(toProcess))
	for _, task := range toProcess {
		names = append(names, filepath.Base(task.Path))
	}
	if len(toProcess) != 2 || !contains(names, "a.docx") || !contains(names, "b.jpg") {
		t.Errorf("to process = %v", names)
	}
	if len(already) != 1 || already[0] != done {
		t.Errorf("already processed = %v", already)
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func TestOptimizeOrder(t *testing.T) {
	tasks := []models.ProcessingTask{
		{Path: "small.pdf", Kind: models.KindDocument, SizeBytes: 10},
		{Path: "img1.jpg", Kind: models.KindImage, SizeBytes: 5},
		{Path: "big.pdf", Kind: models.KindDocument, SizeBytes: 100},
		{Path: "img2.jpg", Kind: models.KindImage, SizeBytes: 50},
		{Path: "img3.jpg", Kind: models.KindImage, SizeBytes: 20},
	}
	ordered := OptimizeOrder(tasks)
	if len(ordered) != len(tasks) {
		t.Fatalf("length = %d, want %d", len(ordered), len(tasks))
	}
	got := make([]string, len(ordered))
	for i, task := range ordered {
		got[i] = task.Path
	}
	// Largest document first, then up to two images by descending size.
	want := []string{"big.pdf", "img2.jpg", "img3.jpg", "small.pdf", "img1.jpg"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestOptimizeOrder_OnlyImages(t *testing.T) {
	tasks := []models.ProcessingTask{
		{Path: "a.jpg", Kind: models.KindImage, SizeBytes: 1},
		{Path: "b.jpg", Kind: models.KindImage, SizeBytes: 2},
		{Path: "c.jpg", Kind: models.KindImage, SizeBytes: 3},
	}
	ordered := OptimizeOrder(tasks)
	if len(ordered) != 3 {
		t.Fatalf("length = %d", len(ordered))
	}
	if ordered[0].Path != "c.jpg" {
		t.Errorf("largest image should lead, got %v", ordered[0].Path)
	}
}

func TestProcessParallel_LockContention(t *testing.T) {
	dir := t.TempDir()
	doc := writeTestDocx(t, dir, "claimed.docx", "Content.")
	// Another process holds the lock.
	if err := os.WriteFile(doc+lockfile.LockSuffix, []byte(time.Now().String()), 0600); err != nil {
		t.Fatal(err)
	}

	p, _ := newTestPipeline(t, testConfig(dir))
	tasks, _ := p.DiscoverFiles()
	results := p.ProcessParallel(context.Background(), tasks)
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	res := results[0]
	if !res.Skipped || res.Success {
		t.Errorf("skipped = %v, success = %v", res.Skipped, res.Success)
	}
	if !strings.Contains(strings.Join(res.Errors, " "), "locked by another process") {
		t.Errorf("errors = %v", res.Errors)
	}
	// The foreign lock must survive: we never acquired it.
	if _, err := os.Stat(doc + lockfile.LockSuffix); err != nil {
		t.Error("foreign lock file should remain")
	}
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeTestDocx(t, dir, "report.docx", "Quarterly numbers look fine.")
	writeFile(t, dir, "photo.jpg", []byte{0xFF, 0xD8, 0xFF, 0xD9})

	cfg := testConfig(dir)
	cfg.Processing.BatchSize = 2
	cfg.Processing.RetryLimit = 1
	p, st := newTestPipeline(t, cfg)

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.ProcessedFiles != 2 || stats.SuccessfulFiles != 2 {
		t.Errorf("processed = %d, successful = %d", stats.ProcessedFiles, stats.SuccessfulFiles)
	}
	for _, name := range []string{"report.docx", "photo.jpg"} {
		marker := filepath.Join(dir, name) + lockfile.MarkerSuffix
		if _, err := os.Stat(marker); err != nil {
			t.Errorf("missing marker for %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, cfg.Report.CSVFilename)); err != nil {
		t.Errorf("missing csv report: %v", err)
	}
	if n := len(st.Documents(cfg.Store.TextCollection)); n != 1 {
		t.Errorf("stored documents = %d, want 1", n)
	}
	if n := len(st.Images(cfg.Store.ImageCollection)); n != 1 {
		t.Errorf("stored images = %d, want 1", n)
	}

	// No lock files may survive a completed batch.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), lockfile.LockSuffix) {
			t.Errorf("dangling lock file %s", e.Name())
		}
	}

	// Second run over the same directory is a no-op.
	p2, _ := newTestPipeline(t, cfg)
	stats2, err := p2.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if stats2.ProcessedFiles != 0 || stats2.AlreadyProcessed != 2 {
		t.Errorf("second run processed = %d, already = %d",
			stats2.ProcessedFiles, stats2.AlreadyProcessed)
	}
}

func TestRun_EmptyDirectoryShortCircuits(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(t.TempDir()))
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalFiles != 0 || stats.ProcessedFiles != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRun_FailureStillReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.docx", []byte("not a zip"))
	cfg := testConfig(dir)
	cfg.Processing.RetryLimit = 0
	p, _ := newTestPipeline(t, cfg)

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FailedFiles != 1 {
		t.Errorf("failed = %d, want 1", stats.FailedFiles)
	}
	// Failures never get a marker; the file is retried next run.
	if _, err := os.Stat(filepath.Join(dir, "broken.docx"+lockfile.MarkerSuffix)); !os.IsNotExist(err) {
		t.Error("failed file must not be marked processed")
	}
	// But the failure is still on disk in the CSV.
	data, err := os.ReadFile(filepath.Join(dir, cfg.Report.CSVFilename))
	if err != nil {
		t.Fatalf("csv missing: %v", err)
	}
	if !strings.Contains(string(data), "broken.docx") {
		t.Error("csv should record the failed file")
	}
}

func TestClose_Idempotent(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(t.TempDir()))
	p.Close()
	p.Close()
}

func TestProcessSingle(t *testing.T) {
	dir := t.TempDir()
	doc := writeTestDocx(t, dir, "single.docx", "Watched content arrives.")
	cfg := testConfig(dir)
	p, st := newTestPipeline(t, cfg)

	res := p.ProcessSingle(context.Background(), doc)
	if res == nil || !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(doc + lockfile.MarkerSuffix); err != nil {
		t.Errorf("marker not written: %v", err)
	}
	if n := len(st.Documents(cfg.Store.TextCollection)); n != 1 {
		t.Errorf("stored documents = %d", n)
	}
	// A second event for the same settled file is a no-op.
	if res := p.ProcessSingle(context.Background(), doc); res != nil {
		t.Errorf("marked file reprocessed: %+v", res)
	}
	// Unsupported files are ignored entirely.
	txt := writeFile(t, dir, "skip.txt", []byte("x"))
	if res := p.ProcessSingle(context.Background(), txt); res != nil {
		t.Errorf("unsupported file produced a result: %+v", res)
	}
}

func TestProcessSingle_ReingestsAfterStaleMarker(t *testing.T) {
	dir := t.TempDir()
	doc := writeTestDocx(t, dir, "edited.docx", "Original draft text.")
	cfg := testConfig(dir)
	p, st := newTestPipeline(t, cfg)

	if res := p.ProcessSingle(context.Background(), doc); res == nil || !res.Success {
		t.Fatalf("setup processing failed: %+v", res)
	}
	// Age the marker past the staleness window, as if the file were modified
	// well after its first run.
	old := time.Now().Add(-cfg.Report.MarkerStaleness - time.Minute)
	if err := os.Chtimes(doc+lockfile.MarkerSuffix, old, old); err != nil {
		t.Fatal(err)
	}
	res := p.ProcessSingle(context.Background(), doc)
	if res == nil || !res.Success {
		t.Fatalf("stale-marker file not reprocessed: %+v", res)
	}
	if n := len(st.Documents(cfg.Store.TextCollection)); n != 1 {
		t.Errorf("re-ingest should replace the stored record, got %d", n)
	}
	// The fresh marker suppresses the next event again.
	if res := p.ProcessSingle(context.Background(), doc); res != nil {
		t.Errorf("warm marker reprocessed: %+v", res)
	}
}

func TestHandleRemoval(t *testing.T) {
	dir := t.TempDir()
	doc := writeTestDocx(t, dir, "gone.docx", "Soon deleted.")
	cfg := testConfig(dir)
	p, st := newTestPipeline(t, cfg)

	if res := p.ProcessSingle(context.Background(), doc); res == nil || !res.Success {
		t.Fatalf("setup processing failed: %+v", res)
	}
	if err := os.Remove(doc); err != nil {
		t.Fatal(err)
	}
	p.HandleRemoval(context.Background(), doc)

	if _, err := os.Stat(doc + lockfile.MarkerSuffix); !os.IsNotExist(err) {
		t.Error("marker should be removed")
	}
	if n := len(st.Documents(cfg.Store.TextCollection)); n != 0 {
		t.Errorf("stored documents after removal = %d, want 0", n)
	}
}
