package labreport

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/labinsight/labinsight/internal/platform/inference"
)

// FallbackGuidance replaces any explanation or alert that could not be generated.
const FallbackGuidance = "Please consult your healthcare provider."

const (
	explanationWords = 100
	alertWords       = 50
)

// Enricher attaches plain-language explanations and alerts to abnormal
// observations.
type Enricher struct {
	llm         inference.Completer
	concurrency int
	retries     int
	logger      zerolog.Logger
}

type EnricherConfig struct {
	Concurrency int
	Retries     int
}

func NewEnricher(llm inference.Completer, cfg EnricherConfig, logger zerolog.Logger) *Enricher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Enricher{
		llm:         llm,
		concurrency: cfg.Concurrency,
		retries:     cfg.Retries,
		logger:      logger.With().Str("stage", string(StageEnrich)).Logger(),
	}
}

// Enrich returns obs with explanations for LOW/HIGH entries and alerts for
// yellow/red entries. Output order equals input order. degraded is true when
// any text had to fall back to FallbackGuidance.
func (e *Enricher) Enrich(ctx context.Context, obs []ClassifiedObservation) (out []EnrichedObservation, degraded bool) {
	out = make([]EnrichedObservation, len(obs))
	var fallbacks atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, o := range obs {
		out[i] = EnrichedObservation{ClassifiedObservation: o}
		if !o.Status.IsAbnormal() {
			continue
		}
		g.Go(func() error {
			text, ok := e.Explain(ctx, o.Observation, o.Status)
			if !ok {
				fallbacks.Add(1)
			}
			out[i].Explanation = &text

			if o.Severity.Alerting() {
				msg, ok := e.Alert(ctx, o.TestName, o.Status, o.Severity)
				if !ok {
					fallbacks.Add(1)
				}
				out[i].AlertMessage = &msg
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := fallbacks.Load(); n > 0 {
		e.logger.Warn().Int32("fallbacks", n).Msg("enrichment used fallback guidance")
		return out, true
	}
	return out, false
}

// Explain returns a short explanation of an abnormal value. ok is false when
// FallbackGuidance was returned instead.
func (e *Enricher) Explain(ctx context.Context, o Observation, status Status) (text string, ok bool) {
	unit := ""
	if o.Unit != nil {
		unit = *o.Unit
	}
	prompt := fmt.Sprintf(explainPrompt, strings.ToLower(string(status)), o.TestName, o.ObservedValue, unit, status)
	return e.generate(ctx, prompt, explanationWords, 200)
}

// Alert returns a short alert for a yellow or red value.
func (e *Enricher) Alert(ctx context.Context, testName string, status Status, severity Severity) (text string, ok bool) {
	prompt := fmt.Sprintf(alertPrompt, testName, strings.ToLower(string(status)), severity)
	return e.generate(ctx, prompt, alertWords, 100)
}

// generate calls the capability with retries, bounding the answer to
// maxWords. Failures and empty answers fall back to FallbackGuidance.
func (e *Enricher) generate(ctx context.Context, prompt string, maxWords, maxTokens int) (string, bool) {
	if !inference.IsAvailable(e.llm) {
		return FallbackGuidance, false
	}
	for attempt := 0; attempt <= e.retries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		resp, err := e.llm.Complete(ctx, systemPrompt, prompt,
			inference.WithMaxTokens(maxTokens), inference.WithTemperature(0.7))
		if err != nil {
			e.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("enrichment call failed")
			continue
		}
		if text := limitWords(stripFences(resp), maxWords); text != "" {
			return text, true
		}
	}
	return FallbackGuidance, false
}

// limitWords keeps at most n whitespace-separated words.
func limitWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
