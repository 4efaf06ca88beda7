package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	dslipak "github.com/dslipak/pdf"
	ledongthuc "github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	rscpdf "rsc.io/pdf"
)

// pdfStrategy is one interchangeable attempt at PDF text extraction. Strategies
// are tried in order with accumulated-error semantics: a later success discards
// earlier failures, and only when all fail is the document marked failed.
type pdfStrategy struct {
	name    string
	extract func(path string) (text string, pages int, err error)
}

// defaultPDFChain orders the strategies by robustness: ledongthuc first (also
// the source for page counts in the common case), dslipak for documents with
// layouts or xref tables the first rejects, rsc.io as the simplest last resort.
func defaultPDFChain() []pdfStrategy {
	return []pdfStrategy{
		{name: "ledongthuc/pdf", extract: extractWithLedongthuc},
		{name: "dslipak/pdf", extract: extractWithDslipak},
		{name: "rsc.io/pdf", extract: extractWithRSC},
	}
}

// extractPDF runs the fallback chain. It never returns an error: malformed
// PDFs in the wild are common, and a single-library approach silently drops
// documents, so each attempt's error is accumulated and the file is only
// failed once every strategy has been tried. On total failure the Document
// carries a sentinel text and FailureReason instead of content.
func (e *Extractor) extractPDF(path string) *Document {
	var attempts []string
	for _, s := range e.pdfChain {
		text, pages, err := runPDFStrategy(s, path)
		if err == nil && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("no text extracted")
		}
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", s.name, err))
			if e.logger != nil {
				e.logger.Debug("pdf strategy failed",
					zap.String("strategy", s.name), zap.String("path", path), zap.Error(err))
			}
			continue
		}
		doc := &Document{Text: text, PageCount: pages}
		if content, readErr := os.ReadFile(path); readErr == nil {
			doc.Images, doc.Notes = e.harvestEmbeddedImages(content)
		}
		return doc
	}
	reason := strings.Join(attempts, "; ")
	return &Document{
		Text:          "[PDF extraction failed: " + reason + "]",
		FailureReason: reason,
	}
}

// runPDFStrategy calls a strategy with panic containment. The underlying
// parsers raise panics on some malformed cross-reference tables.
func runPDFStrategy(s pdfStrategy, path string) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.extract(path)
}

func extractWithLedongthuc(path string) (string, int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("read file: %w", err)
	}
	r, err := ledongthuc.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		buf.WriteString(text)
		if i < numPages-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), numPages, nil
}

func extractWithDslipak(path string) (string, int, error) {
	r, err := dslipak.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open PDF: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("plain text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", 0, fmt.Errorf("read text: %w", err)
	}
	return buf.String(), r.NumPage(), nil
}

func extractWithRSC(path string) (string, int, error) {
	r, err := rscpdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, t := range page.Content().Text {
			buf.WriteString(t.S)
		}
		if i < numPages {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), numPages, nil
}

var (
	jpegSOI = []byte{0xFF, 0xD8, 0xFF}
	jpegEOI = []byte{0xFF, 0xD9}
)

// harvestEmbeddedImages carves JPEGs out of the raw PDF bytes. DCTDecode image
// streams are stored verbatim inside the file, so scanning for SOI/EOI markers
// finds them without walking the object graph; compressed non-image streams
// can rarely produce false positives, which the size bounds keep in check.
// Images outside the configured bounds are skipped with an informational note.
// Harvested images are written to temp files owned by the caller.
func (e *Extractor) harvestEmbeddedImages(content []byte) ([]HarvestedImage, []string) {
	var images []HarvestedImage
	var notes []string
	off := 0
	for {
		rel := bytes.Index(content[off:], jpegSOI)
		if rel < 0 {
			break
		}
		start := off + rel
		endRel := bytes.Index(content[start:], jpegEOI)
		if endRel < 0 {
			break
		}
		end := start + endRel + len(jpegEOI)
		data := content[start:end]
		size := int64(len(data))
		off = end
		if size < e.imageMinBytes || size > e.imageMaxBytes {
			notes = append(notes, fmt.Sprintf(
				"embedded image skipped: %d bytes outside bounds [%d, %d]",
				size, e.imageMinBytes, e.imageMaxBytes))
			continue
		}
		f, err := os.CreateTemp("", "torikomi-img-*.jpg")
		if err != nil {
			notes = append(notes, fmt.Sprintf("embedded image dropped: temp file: %v", err))
			continue
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			notes = append(notes, fmt.Sprintf("embedded image dropped: write: %v", err))
			continue
		}
		_ = f.Close()
		images = append(images, HarvestedImage{TempPath: f.Name(), SizeBytes: size})
		if e.logger != nil {
			e.logger.Debug("harvested embedded image",
				zap.String("temp", f.Name()), zap.Int64("bytes", size))
		}
	}
	return images, notes
}
