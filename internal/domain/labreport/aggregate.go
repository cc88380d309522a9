package labreport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/labinsight/labinsight/internal/platform/inference"
)

// FallbackSummary is used whenever a summary cannot be generated.
const FallbackSummary = "Please review your results with a healthcare provider."

// Per-observation score weights.
const (
	weightNormal   = 100
	weightUnknown  = 75
	weightYellow   = 50
	weightRed      = 0
	weightAbnormal = 25
)

func observationWeight(o ClassifiedObservation) int {
	switch {
	case o.Status == StatusNormal:
		return weightNormal
	case o.Status == StatusUnknown:
		return weightUnknown
	case o.Severity == SeverityYellow:
		return weightYellow
	case o.Severity == SeverityRed:
		return weightRed
	}
	return weightAbnormal
}

// HealthScore is the truncated mean of the observation weights, 0 for an
// empty report.
func HealthScore(obs []EnrichedObservation) int {
	if len(obs) == 0 {
		return 0
	}
	total := 0
	for _, o := range obs {
		total += observationWeight(o.ClassifiedObservation)
	}
	return total / len(obs)
}

// OverallStatusOf is needs_attention if any observation is red, borderline
// if any is yellow, healthy otherwise.
func OverallStatusOf(obs []EnrichedObservation) OverallStatus {
	status := OverallHealthy
	for _, o := range obs {
		switch o.Severity {
		case SeverityRed:
			return OverallNeedsAttention
		case SeverityYellow:
			status = OverallBorderline
		}
	}
	return status
}

// StatusCounts tallies observations per status.
func StatusCounts(obs []EnrichedObservation) map[Status]int {
	counts := map[Status]int{StatusNormal: 0, StatusLow: 0, StatusHigh: 0, StatusUnknown: 0}
	for _, o := range obs {
		counts[o.Status]++
	}
	return counts
}

// Aggregate is the report-level outcome.
type Aggregate struct {
	HealthScore          int
	OverallStatus        OverallStatus
	Summary              string
	SuggestedHealthScore *int
	AttentionAreas       []string
}

// Aggregator computes report-level results and asks for a narrative summary.
type Aggregator struct {
	llm    inference.Completer
	logger zerolog.Logger
}

func NewAggregator(llm inference.Completer, logger zerolog.Logger) *Aggregator {
	return &Aggregator{llm: llm, logger: logger.With().Str("stage", string(StageSummary)).Logger()}
}

// Aggregate scores obs locally and adds a summary. The local score is
// authoritative; a valid score from the inference capability is kept only as
// SuggestedHealthScore. degraded is true when the summary fell back.
func (a *Aggregator) Aggregate(ctx context.Context, obs []EnrichedObservation) (Aggregate, bool) {
	agg := Aggregate{
		HealthScore:    HealthScore(obs),
		OverallStatus:  OverallStatusOf(obs),
		Summary:        FallbackSummary,
		AttentionAreas: localAttentionAreas(obs),
	}

	if !inference.IsAvailable(a.llm) {
		return agg, true
	}

	resp, err := a.llm.Complete(ctx, systemPrompt, fmt.Sprintf(summaryPrompt, describeResults(obs)),
		inference.WithMaxTokens(300), inference.WithTemperature(0.7))
	if err != nil {
		a.logger.Warn().Err(err).Msg("summary call failed")
		return agg, true
	}
	ws, err := decodeSummary(resp)
	if err != nil {
		a.logger.Warn().Err(err).Str("response", snippet(resp, 300)).Msg("summary malformed")
		return agg, true
	}

	agg.SuggestedHealthScore = suggestedScore(ws.HealthScore)
	if agg.SuggestedHealthScore != nil && *agg.SuggestedHealthScore != agg.HealthScore {
		a.logger.Debug().
			Int("local", agg.HealthScore).
			Int("suggested", *agg.SuggestedHealthScore).
			Msg("suggested health score differs from local score")
	}
	if areas := cleanAreas(stringList(ws.AttentionAreas)); len(areas) > 0 {
		agg.AttentionAreas = areas
	}
	summary := strings.TrimSpace(ws.Summary)
	if summary == "" {
		return agg, true
	}
	agg.Summary = summary
	return agg, false
}

// suggestedScore keeps an integer score in [0, 100].
func suggestedScore(raw json.RawMessage) *int {
	s, ok := scalarString(raw)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 100 {
		return nil
	}
	return &n
}

func localAttentionAreas(obs []EnrichedObservation) []string {
	areas := []string{}
	for _, o := range obs {
		if o.Severity.Alerting() {
			areas = append(areas, o.TestName)
		}
	}
	return areas
}

func cleanAreas(in []string) []string {
	var out []string
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func describeResults(obs []EnrichedObservation) string {
	var b strings.Builder
	for _, o := range obs {
		fmt.Fprintf(&b, "- %s: %s", o.TestName, o.ObservedValue)
		if o.Unit != nil {
			fmt.Fprintf(&b, " %s", *o.Unit)
		}
		fmt.Fprintf(&b, " [%s, %s]\n", o.Status, o.Severity)
	}
	return b.String()
}
