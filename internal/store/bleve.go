package store

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// indexedRecord is the shape Bleve indexes for each stored record.
type indexedRecord struct {
	Collection string `json:"collection"`
	URL        string `json:"url"`
	Content    string `json:"content"`
}

// searchIndex wraps a Bleve index over stored record content.
type searchIndex struct {
	index bleve.Index
}

// newSearchIndex creates or opens a Bleve index at path. An existing index is
// opened and reused; if the mapping changes in code, remove the index
// directory to force a rebuild.
func newSearchIndex(path string) (*searchIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so exact words match.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("url", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("collection", keywordFieldMapping)
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open search index: %w", openErr)
		}
		return &searchIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &searchIndex{index: index}, nil
}

// Index indexes one record's content under id.
func (s *searchIndex) Index(id, collection, url, content string) error {
	return s.index.Index(id, indexedRecord{Collection: collection, URL: url, Content: content})
}

// Search runs a match query scoped to collection and returns record IDs in
// score order.
func (s *searchIndex) Search(collection, query string, limit int) ([]string, error) {
	match := bleve.NewMatchQuery(query)
	scope := bleve.NewTermQuery(collection)
	scope.SetField("collection")
	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(match, scope))
	req.Size = limit
	results, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	ids := make([]string, len(results.Hits))
	for i, hit := range results.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Delete removes id from the index.
func (s *searchIndex) Delete(id string) error {
	return s.index.Delete(id)
}

// Close closes the underlying index.
func (s *searchIndex) Close() error {
	return s.index.Close()
}
