package labreport

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// OCRThreshold is the digital text length below which OCR is attempted.
	OCRThreshold = 100
	// MinViableText is the shortest text the pipeline will analyze.
	MinViableText = 50
	// DefaultOCRDPI is the rasterization resolution for OCR.
	DefaultOCRDPI = 300
)

// PageDecoder reads the embedded text layer of a document, one string per page.
type PageDecoder interface {
	PagesText(ctx context.Context, doc []byte) ([]string, error)
}

// PageRasterizer renders each page of a document to an encoded image.
type PageRasterizer interface {
	RasterizePages(ctx context.Context, doc []byte, dpi int) ([][]byte, error)
}

// Recognizer is the OCR capability.
type Recognizer interface {
	Recognize(ctx context.Context, pageImage []byte) (string, error)
}

// Acquired is the raw text of a document and where it came from.
type Acquired struct {
	Text   string
	Source TextSource
	Pages  int
}

// Acquirer turns document bytes into raw text, digital layer first.
type Acquirer struct {
	decoder        PageDecoder
	rasterizer     PageRasterizer
	recognizer     Recognizer
	dpi            int
	ocrConcurrency int
	logger         zerolog.Logger
}

type AcquirerConfig struct {
	DPI            int
	OCRConcurrency int
}

func NewAcquirer(decoder PageDecoder, rasterizer PageRasterizer, recognizer Recognizer, cfg AcquirerConfig, logger zerolog.Logger) *Acquirer {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultOCRDPI
	}
	if cfg.OCRConcurrency <= 0 {
		cfg.OCRConcurrency = 1
	}
	return &Acquirer{
		decoder:        decoder,
		rasterizer:     rasterizer,
		recognizer:     recognizer,
		dpi:            cfg.DPI,
		ocrConcurrency: cfg.OCRConcurrency,
		logger:         logger.With().Str("stage", string(StageAcquire)).Logger(),
	}
}

// ErrUnsupportedContentType is returned for documents the acquirer cannot read.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Supported reports whether a content type can be acquired.
func Supported(contentType string) bool {
	switch mediaType(contentType) {
	case "application/pdf", "text/plain", "application/octet-stream":
		return true
	}
	return isImage(contentType)
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func isImage(contentType string) bool {
	switch mediaType(contentType) {
	case "image/png", "image/jpeg", "image/jpg", "image/webp", "image/tiff":
		return true
	}
	return false
}

func textLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// Acquire extracts text from doc. Digital extraction always runs first for
// PDFs; OCR runs only when the digital text is shorter than OCRThreshold.
// A result shorter than MinViableText fails with ErrInsufficientText. An
// empty or generic application/octet-stream content type is sniffed from
// the bytes.
func (a *Acquirer) Acquire(ctx context.Context, doc []byte, contentType string) (Acquired, error) {
	if mt := mediaType(contentType); mt == "" || mt == "application/octet-stream" {
		contentType = http.DetectContentType(doc)
	}
	switch {
	case mediaType(contentType) == "text/plain":
		return a.finish(Acquired{Text: string(doc), Source: SourcePlainText, Pages: 1}, nil)
	case isImage(contentType):
		text, err := a.recognize(ctx, doc)
		if err != nil && ctx.Err() != nil {
			return Acquired{}, ctx.Err()
		}
		return a.finish(Acquired{Text: text, Source: SourceImageOCR, Pages: 1}, err)
	case !Supported(contentType):
		return Acquired{}, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}

	var digital string
	var pages int
	var decodeErr error
	if a.decoder != nil {
		texts, err := a.decoder.PagesText(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return Acquired{}, ctx.Err()
			}
			// A document without a readable text layer may still OCR.
			a.logger.Debug().Err(err).Msg("digital extraction failed")
			decodeErr = err
		}
		digital = strings.Join(texts, "\n")
		pages = len(texts)
	}

	if textLen(digital) >= OCRThreshold {
		return a.finish(Acquired{Text: digital, Source: SourceDigital, Pages: pages}, nil)
	}

	a.logger.Info().Int("digital_len", textLen(digital)).Int("dpi", a.dpi).Msg("digital text below threshold, running OCR")
	ocrText, ocrPages, err := a.ocrDocument(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return Acquired{}, ctx.Err()
		}
		a.logger.Warn().Err(err).Msg("ocr failed")
	}

	best := Acquired{Text: digital, Source: SourceDigital, Pages: pages}
	if textLen(ocrText) > textLen(digital) {
		best = Acquired{Text: ocrText, Source: SourceOCR, Pages: ocrPages}
	}
	return a.finish(best, errors.Join(decodeErr, err))
}

func (a *Acquirer) finish(acq Acquired, cause error) (Acquired, error) {
	n := textLen(acq.Text)
	if n < MinViableText {
		a.logger.Warn().Int("text_len", n).Str("source", string(acq.Source)).Msg("insufficient text")
		return Acquired{}, newAnalysisError(StageAcquire, ErrInsufficientText, cause)
	}
	a.logger.Debug().Int("text_len", n).Str("source", string(acq.Source)).Int("pages", acq.Pages).Msg("text acquired")
	return acq, nil
}

func (a *Acquirer) recognize(ctx context.Context, image []byte) (string, error) {
	if a.recognizer == nil {
		return "", errors.New("ocr not configured")
	}
	return a.recognizer.Recognize(ctx, image)
}

// ocrDocument rasterizes every page and recognizes them with bounded
// concurrency. Pages that fail are skipped; page order is kept.
func (a *Acquirer) ocrDocument(ctx context.Context, doc []byte) (string, int, error) {
	if a.rasterizer == nil || a.recognizer == nil {
		return "", 0, errors.New("ocr not configured")
	}
	images, err := a.rasterizer.RasterizePages(ctx, doc, a.dpi)
	if err != nil {
		return "", 0, fmt.Errorf("rasterize: %w", err)
	}

	texts := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.ocrConcurrency)
	for i, img := range images {
		g.Go(func() error {
			text, err := a.recognizer.Recognize(gctx, img)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.Warn().Err(err).Int("page", i+1).Msg("page ocr failed")
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", 0, err
	}

	var nonEmpty []string
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	return strings.Join(nonEmpty, "\n"), len(images), nil
}
