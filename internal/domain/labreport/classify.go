package labreport

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/labinsight/labinsight/internal/platform/inference"
)

const (
	// BorderlineBand is the relative deviation up to which an out-of-range
	// value is yellow rather than red.
	BorderlineBand = 0.10

	// bandTolerance is relative to the bound. It absorbs float error at
	// exactly BorderlineBand and nothing wider: the effective cutoff is
	// |v-bound| <= (0.10 + 1e-12) * |bound|.
	bandTolerance = 1e-12
)

// ClassifyValue applies the reference-range rule to one observation.
//
//	no range or non-numeric value   UNKNOWN / gray
//	min <= v <= max (inclusive)     NORMAL  / green
//	v < min                         LOW,  d = |v-min|/|min|
//	v > max                         HIGH, d = |v-max|/|max|
//	d <= 0.10 yellow, d > 0.10 red, bound == 0 red
//
// A range with a single bound only constrains that side.
func ClassifyValue(o Observation) Classification {
	if o.ReferenceRange.IsZero() {
		return unknownClassification
	}
	v, ok := parseNumber(o.ObservedValue)
	if !ok {
		return unknownClassification
	}

	rr := o.ReferenceRange
	switch {
	case rr.Min != nil && v < *rr.Min:
		return Classification{Status: StatusLow, Severity: deviationSeverity(v, *rr.Min)}
	case rr.Max != nil && v > *rr.Max:
		return Classification{Status: StatusHigh, Severity: deviationSeverity(v, *rr.Max)}
	}
	return Classification{Status: StatusNormal, Severity: SeverityGreen}
}

func deviationSeverity(v, bound float64) Severity {
	if bound == 0 {
		return SeverityRed
	}
	if math.Abs(v-bound) <= (BorderlineBand+bandTolerance)*math.Abs(bound) {
		return SeverityYellow
	}
	return SeverityRed
}

// Classifier assigns a status and severity to each observation.
type Classifier struct {
	llm    inference.Completer
	remote bool
	logger zerolog.Logger
}

// NewClassifier builds a classifier. With remote set, the inference
// capability is also asked and its answer is checked against ClassifyValue.
func NewClassifier(llm inference.Completer, remote bool, logger zerolog.Logger) *Classifier {
	return &Classifier{llm: llm, remote: remote, logger: logger.With().Str("stage", string(StageClassify)).Logger()}
}

// Classify returns one classification per observation, in input order. When
// the inference capability is unavailable every observation is UNKNOWN/gray
// and degraded is true.
func (c *Classifier) Classify(ctx context.Context, obs []Observation) (out []ClassifiedObservation, degraded bool) {
	if !inference.IsAvailable(c.llm) {
		c.logger.Warn().Int("observations", len(obs)).Msg("inference unavailable, classification degraded")
		return degrade(obs), true
	}
	if c.remote {
		return c.classifyRemote(ctx, obs)
	}

	out = make([]ClassifiedObservation, len(obs))
	for i, o := range obs {
		out[i] = ClassifiedObservation{Observation: o, Classification: ClassifyValue(o)}
	}
	return out, false
}

func degrade(obs []Observation) []ClassifiedObservation {
	out := make([]ClassifiedObservation, len(obs))
	for i, o := range obs {
		out[i] = ClassifiedObservation{Observation: o, Classification: unknownClassification}
	}
	return out
}

func (c *Classifier) classifyRemote(ctx context.Context, obs []Observation) ([]ClassifiedObservation, bool) {
	resp, err := c.llm.Complete(ctx, systemPrompt, fmt.Sprintf(classifyPrompt, describeObservations(obs)),
		inference.WithMaxTokens(1500), inference.WithTemperature(0.1))
	if err != nil {
		c.logger.Warn().Err(err).Msg("remote classification failed, classification degraded")
		return degrade(obs), true
	}
	answers, err := decodeClassifications(resp)
	if err != nil {
		c.logger.Warn().Err(err).Str("response", snippet(resp, 300)).Msg("remote classification malformed, classification degraded")
		return degrade(obs), true
	}

	out := make([]ClassifiedObservation, len(obs))
	corrected := 0
	for i, o := range obs {
		want := ClassifyValue(o)
		if i >= len(answers) || !sameClassification(answers[i], want) {
			corrected++
		}
		out[i] = ClassifiedObservation{Observation: o, Classification: want}
	}
	if corrected > 0 {
		c.logger.Info().
			Int("corrected", corrected).
			Int("observations", len(obs)).
			Msg("remote classification disagreed with reference rule")
	}
	return out, false
}

func sameClassification(w wireClassification, want Classification) bool {
	return Status(strings.ToUpper(strings.TrimSpace(w.Status))) == want.Status &&
		Severity(strings.ToLower(strings.TrimSpace(w.Severity))) == want.Severity
}

// describeObservations renders observations one per line for prompts.
func describeObservations(obs []Observation) string {
	var b strings.Builder
	for i, o := range obs {
		fmt.Fprintf(&b, "%d. %s: %s", i+1, o.TestName, o.ObservedValue)
		if o.Unit != nil {
			fmt.Fprintf(&b, " %s", *o.Unit)
		}
		if rr := o.ReferenceRange; !rr.IsZero() {
			b.WriteString(" (Reference: ")
			if rr.Min != nil {
				fmt.Fprintf(&b, "%g", *rr.Min)
			}
			b.WriteString(" - ")
			if rr.Max != nil {
				fmt.Fprintf(&b, "%g", *rr.Max)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
