package labreport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Inference output is untrusted. Everything here tolerates the usual model
// habits (code fences, prose around the JSON, numbers as strings) and
// rejects anything that is not the expected shape.

// stripFences removes a surrounding ``` or ```json fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && isLangTag(s[:i]) {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isLangTag(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// jsonPayload returns the JSON value in a response: the fenced body if it
// starts with open, otherwise the outermost open...close span.
func jsonPayload(resp string, open, close byte) []byte {
	s := stripFences(resp)
	if len(s) > 0 && s[0] == open {
		return []byte(s)
	}
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return []byte(s)
	}
	return []byte(s[start : end+1])
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

type wireRange struct {
	Min json.RawMessage `json:"min"`
	Max json.RawMessage `json:"max"`
}

type wireTest struct {
	TestName       json.RawMessage `json:"test_name"`
	ObservedValue  json.RawMessage `json:"observed_value"`
	Value          json.RawMessage `json:"value"`
	Unit           json.RawMessage `json:"unit"`
	ReferenceRange json.RawMessage `json:"reference_range"`
}

type wirePatient struct {
	Name   json.RawMessage `json:"name"`
	Age    json.RawMessage `json:"age"`
	Gender json.RawMessage `json:"gender"`
}

type wireExtraction struct {
	PatientInfo json.RawMessage `json:"patient_info"`
	Tests       json.RawMessage `json:"tests"`
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// scalarString renders a JSON string, number or bool as text.
func scalarString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// optionalFloat reads a number or a numeric string; anything else is absent.
func optionalFloat(raw json.RawMessage) *float64 {
	s, ok := scalarString(raw)
	if !ok {
		return nil
	}
	f, ok := parseNumber(s)
	if !ok {
		return nil
	}
	return &f
}

// parseNumber parses a finite decimal, ignoring thousands separators.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// maxAge bounds a plausible patient age in years.
const maxAge = 150

// leadingInt reads an age as "45", 45 or "45 years". Values outside
// 0..maxAge are absent.
func leadingInt(raw json.RawMessage) *int {
	s, ok := scalarString(raw)
	if !ok {
		return nil
	}
	if f, ok := parseNumber(s); ok {
		if f < 0 || f > maxAge {
			return nil
		}
		n := int(f)
		return &n
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return nil
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n > maxAge {
		return nil
	}
	return &n
}

func optionalString(raw json.RawMessage) *string {
	s, ok := scalarString(raw)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func decodeRange(raw json.RawMessage) (*ReferenceRange, error) {
	if isNull(raw) {
		return nil, nil
	}
	var wr wireRange
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, malformed("reference_range: %v", err)
	}
	rr := &ReferenceRange{Min: optionalFloat(wr.Min), Max: optionalFloat(wr.Max)}
	if rr.IsZero() {
		return nil, nil
	}
	return rr, nil
}

func decodeObservation(raw json.RawMessage) (Observation, error) {
	var wt wireTest
	if err := json.Unmarshal(raw, &wt); err != nil {
		return Observation{}, malformed("test entry: %v", err)
	}

	name, _ := scalarString(wt.TestName)
	if name == "" {
		name = "Unknown Test"
	}
	value, ok := scalarString(wt.ObservedValue)
	if !ok || value == "" {
		value, ok = scalarString(wt.Value)
	}
	if !ok || value == "" {
		value = "N/A"
	}
	rr, err := decodeRange(wt.ReferenceRange)
	if err != nil {
		return Observation{}, err
	}
	return Observation{
		TestName:       name,
		ObservedValue:  value,
		Unit:           optionalString(wt.Unit),
		ReferenceRange: rr,
	}, nil
}

func decodePatient(raw json.RawMessage) (*PatientInfo, error) {
	if isNull(raw) {
		return nil, nil
	}
	var wp wirePatient
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, malformed("patient_info: %v", err)
	}
	pi := &PatientInfo{
		Name:   optionalString(wp.Name),
		Age:    leadingInt(wp.Age),
		Gender: optionalString(wp.Gender),
	}
	if pi.Name == nil && pi.Age == nil && pi.Gender == nil {
		return nil, nil
	}
	return pi, nil
}

// decodeExtraction parses the extraction response. A missing or null tests
// field yields an empty list; any other non-array is malformed.
func decodeExtraction(resp string) (*PatientInfo, []Observation, error) {
	var we wireExtraction
	if err := json.Unmarshal(jsonPayload(resp, '{', '}'), &we); err != nil {
		return nil, nil, malformed("extraction: %v", err)
	}

	patient, err := decodePatient(we.PatientInfo)
	if err != nil {
		return nil, nil, err
	}

	var entries []json.RawMessage
	if !isNull(we.Tests) {
		if err := json.Unmarshal(we.Tests, &entries); err != nil {
			return nil, nil, malformed("tests: %v", err)
		}
	}

	obs := make([]Observation, 0, len(entries))
	for _, e := range entries {
		o, err := decodeObservation(e)
		if err != nil {
			return nil, nil, err
		}
		obs = append(obs, o)
	}
	return patient, obs, nil
}

type wireClassification struct {
	TestName string `json:"test_name"`
	Status   string `json:"status"`
	Severity string `json:"severity"`
}

// decodeClassifications accepts a bare array or {"tests": [...]}.
func decodeClassifications(resp string) ([]wireClassification, error) {
	payload := bytes.TrimSpace(jsonPayload(resp, '[', ']'))
	if len(payload) > 0 && payload[0] == '{' {
		var wrapped struct {
			Tests []wireClassification `json:"tests"`
		}
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return nil, malformed("classification: %v", err)
		}
		return wrapped.Tests, nil
	}
	var out []wireClassification
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, malformed("classification: %v", err)
	}
	return out, nil
}

type wireSummary struct {
	Summary        string          `json:"summary"`
	HealthScore    json.RawMessage `json:"health_score"`
	AttentionAreas json.RawMessage `json:"attention_areas"`
}

// stringList reads a JSON array of strings or a single comma-separated
// string. Non-string array elements are skipped.
func stringList(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var one string
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil
		}
		return strings.Split(one, ",")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func decodeSummary(resp string) (wireSummary, error) {
	var ws wireSummary
	if err := json.Unmarshal(jsonPayload(resp, '{', '}'), &ws); err != nil {
		return wireSummary{}, malformed("summary: %v", err)
	}
	return ws, nil
}
