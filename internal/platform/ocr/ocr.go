// Package ocr recognizes text in page images with Tesseract.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract is a Recognizer backed by the tesseract C library. A client is
// created per call because gosseract clients are not safe for concurrent use.
type Tesseract struct {
	languages []string
}

// NewTesseract builds a recognizer for a "+"-separated language list,
// e.g. "eng" or "eng+fra".
func NewTesseract(languages string) *Tesseract {
	var langs []string
	for _, l := range strings.Split(languages, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &Tesseract{languages: langs}
}

// Recognize returns the text found in an encoded image (PNG, JPEG, TIFF).
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("load page image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
