// Package vision defines the image analysis collaborator consumed by the
// pipeline. Analysis itself (EXIF parsing, classification, OCR) happens in an
// external service; this package only carries its contract and clients.
package vision

import "context"

// Classification is the label set produced for an image.
type Classification struct {
	Labels        []string `json:"classifications"`
	TopPrediction string   `json:"top_prediction"`
}

// OCR is the text recognition outcome for an image.
type OCR struct {
	ExtractedText string `json:"extracted_text"`
	Processed     bool   `json:"ocr_processing"`
}

// Analysis is the full result of analyzing one image.
type Analysis struct {
	EXIF           map[string]string `json:"exif"`
	Classification Classification    `json:"classification"`
	OCR            OCR               `json:"ocr_content"`
}

// Analyzer analyzes a single image file.
type Analyzer interface {
	ProcessImage(ctx context.Context, path string) (*Analysis, error)
}
