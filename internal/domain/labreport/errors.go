package labreport

import (
	"errors"
	"fmt"
)

// Terminal pipeline failures. Each aborts the run before any later stage.
var (
	ErrInsufficientText     = errors.New("insufficient text")
	ErrInferenceUnavailable = errors.New("inference unavailable")
	ErrMalformedResponse    = errors.New("malformed inference response")
	ErrNoObservations       = errors.New("no observations")
)

// Stage names a pipeline step.
type Stage string

const (
	StageAcquire  Stage = "acquire"
	StageExtract  Stage = "extract"
	StageClassify Stage = "classify"
	StageEnrich   Stage = "enrich"
	StageSummary  Stage = "summary"
)

// AnalysisError is the single typed failure surfaced by Service.Analyze.
// It matches its Kind and its Cause with errors.Is.
type AnalysisError struct {
	Stage Stage
	Kind  error
	Cause error
}

func newAnalysisError(stage Stage, kind, cause error) *AnalysisError {
	return &AnalysisError{Stage: stage, Kind: kind, Cause: cause}
}

func (e *AnalysisError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Cause)
}

func (e *AnalysisError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// UserMessage is safe to show to the person who uploaded the document. It
// never carries raw inference output or internal details.
func (e *AnalysisError) UserMessage() string {
	return UserMessage(e.Kind)
}

// UserMessage maps a failure to its patient-facing text.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientText):
		return "Could not read enough text from the document. Please upload a clearer or text-based report."
	case errors.Is(err, ErrInferenceUnavailable):
		return "Report analysis is temporarily unavailable."
	case errors.Is(err, ErrMalformedResponse):
		return "The report format was not recognized."
	case errors.Is(err, ErrNoObservations):
		return "This does not look like a recognizable lab report."
	}
	return "The report could not be analyzed."
}
