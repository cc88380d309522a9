// Package pdf reads the embedded text layer of PDF documents and renders
// their pages to images for OCR.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"

	"github.com/rs/zerolog"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"github.com/unidoc/unipdf/v3/render"
)

// ErrEncrypted is returned for password-protected documents.
var ErrEncrypted = errors.New("pdf: document is password-protected")

// SetLicense activates a metered unipdf key. An empty key is a no-op.
func SetLicense(key string) error {
	if key == "" {
		return nil
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("set unipdf license: %w", err)
	}
	return nil
}

// Reader decodes PDF documents held in memory.
type Reader struct {
	logger zerolog.Logger
}

func NewReader(logger zerolog.Logger) *Reader {
	return &Reader{logger: logger.With().Str("component", "pdf").Logger()}
}

func open(doc []byte) (*model.PdfReader, int, error) {
	r, err := model.NewPdfReader(bytes.NewReader(doc))
	if err != nil {
		return nil, 0, fmt.Errorf("create pdf reader: %w", err)
	}

	enc, err := r.IsEncrypted()
	if err != nil {
		return nil, 0, fmt.Errorf("check encryption: %w", err)
	}
	if enc {
		ok, err := r.Decrypt([]byte(""))
		if err != nil {
			return nil, 0, fmt.Errorf("decrypt with empty password: %w", err)
		}
		if !ok {
			return nil, 0, ErrEncrypted
		}
	}

	n, err := r.GetNumPages()
	if err != nil {
		return nil, 0, fmt.Errorf("get page count: %w", err)
	}
	return r, n, nil
}

// PagesText returns the text layer of every page, in page order. Pages that
// fail to extract yield an empty string.
func (p *Reader) PagesText(ctx context.Context, doc []byte) ([]string, error) {
	r, n, err := open(doc)
	if err != nil {
		return nil, err
	}

	pages := make([]string, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := r.GetPage(i)
		if err != nil {
			p.logger.Debug().Err(err).Int("page", i).Msg("get page")
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			p.logger.Debug().Err(err).Int("page", i).Msg("create extractor")
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			p.logger.Debug().Err(err).Int("page", i).Msg("extract text")
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

// RasterizePages renders each page to PNG at the given resolution.
func (p *Reader) RasterizePages(ctx context.Context, doc []byte, dpi int) ([][]byte, error) {
	r, n, err := open(doc)
	if err != nil {
		return nil, err
	}

	device := render.NewImageDevice()
	images := make([][]byte, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := r.GetPage(i)
		if err != nil {
			p.logger.Warn().Err(err).Int("page", i).Msg("get page for rendering")
			continue
		}
		box, err := page.GetMediaBox()
		if err != nil {
			p.logger.Warn().Err(err).Int("page", i).Msg("read media box")
			continue
		}
		// Media box is in points (1/72 inch).
		device.OutputWidth = int(box.Width() / 72 * float64(dpi))

		img, err := device.Render(page)
		if err != nil {
			p.logger.Warn().Err(err).Int("page", i).Msg("render page")
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i, err)
		}
		images = append(images, buf.Bytes())
	}
	if len(images) == 0 && n > 0 {
		return nil, fmt.Errorf("no page of %d could be rendered", n)
	}
	return images, nil
}
