// Package ocr defines the contracts the image pipeline depends on.
// Actual pixel analysis and image re-rendering are external
// collaborators; the orchestrator only needs region verdicts.
package ocr

import "context"

// Region is one detected text region in an image.
type Region struct {
	// BBox holds polygon corner coordinates [[x1,y1],...].
	BBox       [][]int `json:"bbox"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Verdict is the outcome of pre-scanning one image. No regions means
// the image carries no translatable text and full processing can be
// skipped.
type Verdict struct {
	Regions []Region `json:"regions"`
}

func (v Verdict) HasTranslatableText() bool {
	return len(v.Regions) > 0
}

// Texts returns the detected region texts in reading order.
func (v Verdict) Texts() []string {
	texts := make([]string, 0, len(v.Regions))
	for _, region := range v.Regions {
		texts = append(texts, region.Text)
	}
	return texts
}

// Scanner detects text regions in an image. Implementations wrap an
// OCR engine; detection may be slow and must honor ctx cancellation.
type Scanner interface {
	// DetectRegions returns regions at or above the scanner's
	// confidence threshold. An empty slice is a valid "no text" result.
	DetectRegions(ctx context.Context, image []byte, mediaType string) ([]Region, error)
	// CanProcess reports whether the scanner handles this media type.
	CanProcess(mediaType string) bool
	// ConfidenceThreshold is part of the prescan cache key.
	ConfidenceThreshold() float64
}

// Renderer re-draws translated region texts onto the original image.
type Renderer interface {
	Overlay(ctx context.Context, image []byte, mediaType string, regions []Region, translations []string) ([]byte, error)
}

// NopScanner reports every image as unprocessable. Used when no OCR
// engine is wired in.
type NopScanner struct{}

func (NopScanner) DetectRegions(context.Context, []byte, string) ([]Region, error) {
	return nil, nil
}

func (NopScanner) CanProcess(string) bool { return false }

func (NopScanner) ConfidenceThreshold() float64 { return 0 }
