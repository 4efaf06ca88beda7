package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/hyperjump/torikomi/internal/models"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// docxCorePropsPath is the path to the core properties part.
const docxCorePropsPath = "docProps/core.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// partNameRe extracts PartName from Override elements in [Content_Types].xml.
var partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)

// partNameRe2 handles the case where ContentType appears before PartName.
var partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

type docxDocument struct {
	Body docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
	Tables     []docxTable     `xml:"tbl"`
}

type docxParagraph struct {
	Texts []string `xml:"r>t"`
}

func (p docxParagraph) text() string {
	return strings.TrimSpace(strings.Join(p.Texts, ""))
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paragraphs []docxParagraph `xml:"p"`
}

// docxCoreProps maps docProps/core.xml. Element names are matched by local
// name, so the dc/dcterms namespace prefixes need no special handling.
type docxCoreProps struct {
	Title    string `xml:"title"`
	Subject  string `xml:"subject"`
	Creator  string `xml:"creator"`
	Created  string `xml:"created"`
	Modified string `xml:"modified"`
}

// extractDOCX extracts paragraph text (newline-joined), tables as row/cell
// grids, and core properties from a .docx file. Unlike PDF there is no
// fallback chain: any failure is returned as an error for the caller to catch.
func extractDOCX(path string) (*Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	defer zr.Close()

	docPath := findDocxMainDocumentPath(&zr.Reader)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipFile(&zr.Reader, docPath)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}

	var body docxDocument
	if err := xml.Unmarshal(docXML, &body); err != nil {
		return nil, fmt.Errorf("extract DOCX: parse %s: %w", docPath, err)
	}

	var lines []string
	for _, p := range body.Body.Paragraphs {
		if t := p.text(); t != "" {
			lines = append(lines, t)
		}
	}
	tables := make([][][]string, 0, len(body.Body.Tables))
	for _, tbl := range body.Body.Tables {
		grid := make([][]string, 0, len(tbl.Rows))
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var parts []string
				for _, p := range cell.Paragraphs {
					if t := p.text(); t != "" {
						parts = append(parts, t)
					}
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			grid = append(grid, cells)
		}
		tables = append(tables, grid)
	}
	text := strings.Join(lines, "\n")
	if tableText := renderTables(tables); tableText != "" {
		if text != "" {
			text += "\n"
		}
		text += tableText
	}

	props := &models.DocumentProperties{
		ParagraphCount: len(body.Body.Paragraphs),
		TableCount:     len(body.Body.Tables),
	}
	if coreXML, err := readZipFile(&zr.Reader, docxCorePropsPath); err == nil {
		var core docxCoreProps
		if err := xml.Unmarshal(coreXML, &core); err == nil {
			props.Title = core.Title
			props.Subject = core.Subject
			props.Author = core.Creator
			props.Created = parseDocxTime(core.Created)
			props.Modified = parseDocxTime(core.Modified)
		}
	}

	return &Document{Text: text, Properties: props, Tables: tables}, nil
}

// renderTables flattens table grids into tab-separated rows so table content
// stays searchable alongside paragraph text.
func renderTables(tables [][][]string) string {
	var b strings.Builder
	for i, grid := range tables {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, row := range grid {
			if j > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strings.Join(row, "\t"))
		}
	}
	return strings.TrimSpace(b.String())
}

func parseDocxTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	content, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return ""
	}
	if matches := partNameRe.FindSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(string(matches[1]), "/")
	}
	if matches := partNameRe2.FindSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(string(matches[1]), "/")
	}
	return ""
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}
