package labreport

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/labinsight/labinsight/internal/platform/inference"
)

// MaxExtractionInput caps the text sent for extraction. Longer reports are
// truncated, so tests printed past the cap are not seen.
const MaxExtractionInput = 8000

// Extractor turns normalized report text into patient info and observations.
type Extractor struct {
	llm    inference.Completer
	logger zerolog.Logger
}

func NewExtractor(llm inference.Completer, logger zerolog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger.With().Str("stage", string(StageExtract)).Logger()}
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

// Extract asks the inference capability for structured data. It fails with
// ErrInferenceUnavailable, ErrMalformedResponse or ErrNoObservations.
func (e *Extractor) Extract(ctx context.Context, text string) (*PatientInfo, []Observation, error) {
	if !inference.IsAvailable(e.llm) {
		return nil, nil, newAnalysisError(StageExtract, ErrInferenceUnavailable, nil)
	}

	input, truncated := truncateRunes(text, MaxExtractionInput)
	if truncated {
		e.logger.Info().
			Int("text_len", utf8.RuneCountInString(text)).
			Int("cap", MaxExtractionInput).
			Msg("report text truncated for extraction")
	}

	resp, err := e.llm.Complete(ctx, systemPrompt, fmt.Sprintf(extractPrompt, input),
		inference.WithMaxTokens(2000), inference.WithTemperature(0.1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, newAnalysisError(StageExtract, ErrInferenceUnavailable, err)
	}

	patient, obs, err := decodeExtraction(resp)
	if err != nil {
		// Raw output goes to the log only; it may hold anything.
		e.logger.Warn().Err(err).Str("response", snippet(resp, 300)).Msg("could not decode extraction")
		return nil, nil, newAnalysisError(StageExtract, ErrMalformedResponse, err)
	}
	if len(obs) == 0 {
		return nil, nil, newAnalysisError(StageExtract, ErrNoObservations, nil)
	}

	e.logger.Debug().Int("observations", len(obs)).Msg("extracted")
	return patient, obs, nil
}

func snippet(s string, n int) string {
	out, cut := truncateRunes(s, n)
	if cut {
		return out + "..."
	}
	return out
}
