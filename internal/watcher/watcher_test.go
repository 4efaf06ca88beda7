package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	ingested []string
	removed  []string
}

func (r *recorder) ingest(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested = append(r.ingested, path)
}

func (r *recorder) remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
}

func (r *recorder) ingestedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ingested...)
}

func (r *recorder) removedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, dir string, rec *recorder) *Watcher {
	t.Helper()
	w := New(dir, []string{".pdf", ".docx", ".jpg"}, rec.ingest, rec.remove,
		WithDebounce(50*time.Millisecond),
		WithIgnoredNames("processing_results.csv"))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_IngestOnCreate(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "new.pdf")
	if err := os.WriteFile(path, []byte("pdf bytes"), 0600); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return len(rec.ingestedPaths()) == 1 }) {
		t.Fatalf("ingest callback not fired, got %v", rec.ingestedPaths())
	}
	if got := rec.ingestedPaths()[0]; got != path {
		t.Errorf("ingested %q, want %q", got, path)
	}
}

func TestWatcher_DebouncesWriteBurst(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "growing.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.Write([]byte("chunk of data ")); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.Close()

	if !waitFor(t, 3*time.Second, func() bool { return len(rec.ingestedPaths()) >= 1 }) {
		t.Fatal("ingest callback not fired")
	}
	// Let any stragglers land, then confirm the burst collapsed.
	time.Sleep(200 * time.Millisecond)
	if n := len(rec.ingestedPaths()); n != 1 {
		t.Errorf("ingest fired %d times for one write burst", n)
	}
}

func TestWatcher_IgnoresBookkeepingFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	for _, name := range []string{"doc.pdf.lock", "doc.pdf.processed", "processing_results.csv", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(300 * time.Millisecond)
	if got := rec.ingestedPaths(); len(got) != 0 {
		t.Errorf("bookkeeping files triggered ingestion: %v", got)
	}
}

func TestWatcher_RemoveCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.jpg")
	if err := os.WriteFile(path, []byte("img"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, dir, rec)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return len(rec.removedPaths()) == 1 }) {
		t.Fatalf("remove callback not fired, got %v", rec.removedPaths())
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := startWatcher(t, dir, rec)
	w.Stop()
	w.Stop()
	if err := os.WriteFile(filepath.Join(dir, "late.pdf"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := rec.ingestedPaths(); len(got) != 0 {
		t.Errorf("stopped watcher still fired: %v", got)
	}
}

func TestWatcher_StartNonexistentDir(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), nil, nil, nil)
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for missing directory")
	}
}
