package labreport

import (
	"time"

	"github.com/google/uuid"
)

// Status is the position of an observed value relative to its reference range.
type Status string

const (
	StatusNormal  Status = "NORMAL"
	StatusLow     Status = "LOW"
	StatusHigh    Status = "HIGH"
	StatusUnknown Status = "UNKNOWN"
)

// IsAbnormal reports whether the value fell outside its reference range.
func (s Status) IsAbnormal() bool { return s == StatusLow || s == StatusHigh }

// Severity is the display tier derived from a Status.
type Severity string

const (
	SeverityGreen  Severity = "green"
	SeverityYellow Severity = "yellow"
	SeverityRed    Severity = "red"
	SeverityGray   Severity = "gray"
)

// Alerting reports whether the tier warrants an alert message.
func (s Severity) Alerting() bool { return s == SeverityYellow || s == SeverityRed }

// OverallStatus summarises a whole report.
type OverallStatus string

const (
	OverallHealthy        OverallStatus = "healthy"
	OverallBorderline     OverallStatus = "borderline"
	OverallNeedsAttention OverallStatus = "needs_attention"
)

// TextSource records which acquisition path produced the report text.
type TextSource string

const (
	SourceDigital   TextSource = "digital"
	SourceOCR       TextSource = "ocr"
	SourceImageOCR  TextSource = "image-ocr"
	SourcePlainText TextSource = "plain-text"
)

// Degradation names a non-fatal failure absorbed during a run.
type Degradation string

const (
	DegradedClassification Degradation = "classification_degraded"
	DegradedEnrichment     Degradation = "enrichment_degraded"
	DegradedSummary        Degradation = "summary_degraded"
)

// ReferenceRange is the printed normal interval. Either bound may be absent.
type ReferenceRange struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// IsZero is true when neither bound is known.
func (r *ReferenceRange) IsZero() bool {
	return r == nil || (r.Min == nil && r.Max == nil)
}

// Observation is a single measured test as read from the report.
type Observation struct {
	TestName       string          `json:"test_name"`
	ObservedValue  string          `json:"observed_value"`
	Unit           *string         `json:"unit,omitempty"`
	ReferenceRange *ReferenceRange `json:"reference_range,omitempty"`
}

// Classification is the (status, severity) pair assigned to an observation.
type Classification struct {
	Status   Status   `json:"status"`
	Severity Severity `json:"severity"`
}

var unknownClassification = Classification{Status: StatusUnknown, Severity: SeverityGray}

type ClassifiedObservation struct {
	Observation
	Classification
}

// EnrichedObservation adds patient-facing text to a classified observation.
// Explanation is set only for LOW/HIGH; AlertMessage only for yellow/red.
type EnrichedObservation struct {
	ClassifiedObservation
	Explanation  *string `json:"explanation,omitempty"`
	AlertMessage *string `json:"alert_message,omitempty"`
}

type PatientInfo struct {
	Name   *string `json:"name,omitempty"`
	Age    *int    `json:"age,omitempty"`
	Gender *string `json:"gender,omitempty"`
}

// AnalysisResult is the outcome of one pipeline run.
type AnalysisResult struct {
	PatientInfo          *PatientInfo          `json:"patient_info,omitempty"`
	Observations         []EnrichedObservation `json:"observations"`
	HealthScore          int                   `json:"health_score"`
	Summary              string                `json:"summary"`
	OverallStatus        OverallStatus         `json:"overall_status"`
	SuggestedHealthScore *int                  `json:"suggested_health_score,omitempty"`
	AttentionAreas       []string              `json:"attention_areas"`
	TextSource           TextSource            `json:"text_source"`
	Degraded             []Degradation         `json:"degraded,omitempty"`
}

// Clone returns a deep copy so a consumer cannot alter the caller's result.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.PatientInfo != nil {
		pi := PatientInfo{
			Name:   cloneString(r.PatientInfo.Name),
			Gender: cloneString(r.PatientInfo.Gender),
		}
		if r.PatientInfo.Age != nil {
			age := *r.PatientInfo.Age
			pi.Age = &age
		}
		out.PatientInfo = &pi
	}
	if r.SuggestedHealthScore != nil {
		s := *r.SuggestedHealthScore
		out.SuggestedHealthScore = &s
	}
	out.Observations = make([]EnrichedObservation, len(r.Observations))
	for i, o := range r.Observations {
		o.Unit = cloneString(o.Unit)
		o.Explanation = cloneString(o.Explanation)
		o.AlertMessage = cloneString(o.AlertMessage)
		if o.ReferenceRange != nil {
			rr := ReferenceRange{Min: cloneFloat(o.ReferenceRange.Min), Max: cloneFloat(o.ReferenceRange.Max)}
			o.ReferenceRange = &rr
		}
		out.Observations[i] = o
	}
	if r.AttentionAreas != nil {
		out.AttentionAreas = append([]string{}, r.AttentionAreas...)
	}
	out.Degraded = append([]Degradation(nil), r.Degraded...)
	return &out
}

// Report is a persisted analysis together with its source document.
type Report struct {
	ID          uuid.UUID      `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	DocumentID  string         `json:"document_id"`
	FileName    string         `json:"file_name"`
	ContentType string         `json:"content_type"`
	Status      string         `json:"status"`
	Result      AnalysisResult `json:"result"`
	Persisted   bool           `json:"persisted"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ReportCompleted is the only status a stored report can have; failed runs
// are never handed to persistence.
const ReportCompleted = "completed"

func ptr[T any](v T) *T { return &v }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	return ptr(*s)
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	return ptr(*f)
}
