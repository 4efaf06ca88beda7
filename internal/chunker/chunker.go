// Package chunker splits extracted text into overlapping fragments for storage.
package chunker

import "strings"

// Chunker splits text into character-bounded chunks with ratio-based overlap.
// Chunk boundaries prefer sentence ends when one is found near the window edge.
type Chunker struct {
	maxSize      int
	overlapRatio float64
}

// NewChunker creates a chunker. maxSize is the window size in characters;
// overlapRatio is the fraction of maxSize shared between consecutive chunks.
func NewChunker(maxSize int, overlapRatio float64) *Chunker {
	return &Chunker{
		maxSize:      maxSize,
		overlapRatio: overlapRatio,
	}
}

// Chunk splits text into overlapping windows of at most maxSize characters.
// Windows are measured in runes so a cut never lands inside a multibyte
// sequence. Text no longer than maxSize is returned as a single chunk,
// unchanged. When a window's right edge lands mid-sentence, the boundary is
// moved back to the nearest sentence end found within the last half of the
// window; with no punctuation nearby the hard character cut is kept, so
// sentence alignment is best effort, not a guarantee. Whitespace-only windows
// are dropped. Identical input and configuration always yield identical
// chunks.
func (c *Chunker) Chunk(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.maxSize {
		return []string{text}
	}
	overlap := int(c.overlapRatio * float64(c.maxSize))
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.maxSize
		if end >= len(runes) {
			end = len(runes)
		} else if b := sentenceBoundary(runes, start+c.maxSize/2, end); b > 0 {
			end = b
		}
		piece := string(runes[start:end])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// sentenceBoundary searches backward in runes[min:end] for a sentence-ending
// punctuation mark followed by whitespace. Returns the index just past the
// punctuation, or -1 if none is found in that range.
func sentenceBoundary(runes []rune, min, end int) int {
	for i := end - 1; i > min; i-- {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && isSpace(runes[i+1]) {
				return i + 1
			}
		}
	}
	return -1
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
