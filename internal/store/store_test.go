package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStore(filepath.Join(dir, "records.db"), filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLocalStore_DocumentRoundTrip(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	col, err := s.Collection(ctx, "documents")
	if err != nil {
		t.Fatal(err)
	}
	records := []DocumentRecord{
		{URL: "file:///a.pdf", Text: "alpha beta gamma", Metadata: map[string]interface{}{"pages": 3}},
		{URL: "file:///b.pdf#chunk-0", Text: "delta epsilon"},
	}
	if err := col.WriteDocuments(ctx, records); err != nil {
		t.Fatalf("WriteDocuments: %v", err)
	}
	count, err := col.CountDocuments(ctx)
	if err != nil || count != 2 {
		t.Fatalf("CountDocuments = %d, %v; want 2", count, err)
	}
	listed, err := col.ListDocuments(ctx, 0, 10)
	if err != nil || len(listed) != 2 {
		t.Fatalf("ListDocuments = %d records, %v; want 2", len(listed), err)
	}
	hits, err := col.SearchDocuments(ctx, "gamma", 10)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(hits) != 1 || hits[0].URL != "file:///a.pdf" {
		t.Errorf("search hits = %+v, want one hit for a.pdf", hits)
	}
	if err := col.DeleteDocument(ctx, "file:///a.pdf"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	count, _ = col.CountDocuments(ctx)
	if count != 1 {
		t.Errorf("count after delete = %d, want 1", count)
	}
}

func TestLocalStore_WriteSameURLReplaces(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	col, _ := s.Collection(ctx, "documents")
	for i := 0; i < 2; i++ {
		rec := DocumentRecord{ID: "fixed", URL: "file:///same.pdf", Text: "content"}
		if err := col.WriteDocuments(ctx, []DocumentRecord{rec}); err != nil {
			t.Fatal(err)
		}
	}
	count, _ := col.CountDocuments(ctx)
	if count != 1 {
		t.Errorf("re-writing the same record should replace, count = %d", count)
	}
}

func TestLocalStore_Images(t *testing.T) {
	s := newTestLocalStore(t)
	if !s.SupportsImages() {
		t.Fatal("local store should support image records")
	}
	ctx := context.Background()
	col, _ := s.Collection(ctx, "images")
	err := col.WriteImages(ctx, []ImageRecord{{
		URL:      "file:///photo.jpg",
		Metadata: map[string]interface{}{"top_prediction": "sunset", "ocr_text": "pier nine"},
	}})
	if err != nil {
		t.Fatalf("WriteImages: %v", err)
	}
	count, _ := col.CountDocuments(ctx)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	hits, err := col.SearchDocuments(ctx, "sunset", 10)
	if err != nil || len(hits) != 1 {
		t.Errorf("image metadata should be searchable, hits=%d err=%v", len(hits), err)
	}
}

func TestLocalStore_CollectionsAreDisjoint(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	a, _ := s.Collection(ctx, "a")
	b, _ := s.Collection(ctx, "b")
	if err := a.WriteDocuments(ctx, []DocumentRecord{{URL: "u", Text: "shared term"}}); err != nil {
		t.Fatal(err)
	}
	countB, _ := b.CountDocuments(ctx)
	if countB != 0 {
		t.Errorf("collection b should be empty, count = %d", countB)
	}
	hits, _ := b.SearchDocuments(ctx, "shared", 10)
	if len(hits) != 0 {
		t.Errorf("search in b should not see a's records, hits = %d", len(hits))
	}
}

func TestMemoryStore_ImageSupportToggle(t *testing.T) {
	s := NewMemoryStore()
	s.ImagesSupported = false
	ctx := context.Background()
	col, err := s.Collection(ctx, "images")
	if err != nil {
		t.Fatal(err)
	}
	if err := col.WriteImages(ctx, []ImageRecord{{URL: "u"}}); err == nil {
		t.Error("write images should fail when unsupported")
	}
	if s.SupportsImages() {
		t.Error("SupportsImages should be false")
	}
}

func TestMemoryStore_Search(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	col, _ := s.Collection(ctx, "documents")
	_ = col.WriteDocuments(ctx, []DocumentRecord{
		{URL: "a", Text: "The quick brown fox"},
		{URL: "b", Text: "nothing relevant"},
	})
	hits, _ := col.SearchDocuments(ctx, "QUICK", 10)
	if len(hits) != 1 || hits[0].URL != "a" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestLocalStore_DeleteDocumentCoversChunks(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	col, _ := s.Collection(ctx, "documents")
	recs := []DocumentRecord{
		{URL: "file:///big.pdf#chunk-0", Text: "first part"},
		{URL: "file:///big.pdf#chunk-1", Text: "second part"},
		{URL: "file:///other.pdf", Text: "unrelated"},
	}
	if err := col.WriteDocuments(ctx, recs); err != nil {
		t.Fatal(err)
	}
	if err := col.DeleteDocument(ctx, "file:///big.pdf"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	count, _ := col.CountDocuments(ctx)
	if count != 1 {
		t.Errorf("count after delete = %d, want 1 (chunks removed with their file)", count)
	}
	left, _ := col.ListDocuments(ctx, 0, 10)
	if len(left) != 1 || left[0].URL != "file:///other.pdf" {
		t.Errorf("remaining = %+v", left)
	}
}

func TestMemoryStore_DeleteDocumentCoversChunks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	col, _ := s.Collection(ctx, "documents")
	recs := []DocumentRecord{
		{URL: "file:///big.pdf#chunk-0", Text: "first"},
		{URL: "file:///big.pdf#chunk-1", Text: "second"},
		{URL: "file:///other.pdf", Text: "unrelated"},
	}
	if err := col.WriteDocuments(ctx, recs); err != nil {
		t.Fatal(err)
	}
	if err := col.DeleteDocument(ctx, "file:///big.pdf"); err != nil {
		t.Fatal(err)
	}
	if docs := s.Documents("documents"); len(docs) != 1 || docs[0].URL != "file:///other.pdf" {
		t.Errorf("remaining = %+v", docs)
	}
}

func TestMemoryStore_WriteReplacesByURL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	col, _ := s.Collection(ctx, "documents")
	if err := col.WriteDocuments(ctx, []DocumentRecord{{URL: "file:///a.docx", Text: "draft"}}); err != nil {
		t.Fatal(err)
	}
	if err := col.WriteDocuments(ctx, []DocumentRecord{{URL: "file:///a.docx", Text: "revised"}}); err != nil {
		t.Fatal(err)
	}
	docs := s.Documents("documents")
	if len(docs) != 1 {
		t.Fatalf("documents after rewrite = %d, want 1", len(docs))
	}
	if docs[0].Text != "revised" {
		t.Errorf("text = %q, want the later write", docs[0].Text)
	}
}
