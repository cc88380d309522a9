package labreport

// Fixed instructions for every inference call. None of them may ask for a
// diagnosis.
const (
	systemPrompt = `You are a careful assistant that reads medical laboratory reports.
You never diagnose conditions. You describe lab values in plain, reassuring language
and always encourage the patient to discuss results with their healthcare provider.`

	extractPrompt = `Extract the patient details and every lab test from the report text below.

Return ONLY a JSON object in this exact structure (no extra text):
{
  "patient_info": {"name": "string or null", "age": "number or null", "gender": "string or null"},
  "tests": [
    {
      "test_name": "Hemoglobin",
      "observed_value": "13.5",
      "unit": "g/dL",
      "reference_range": {"min": 12.0, "max": 16.0}
    }
  ]
}

Rules:
- Copy values exactly as printed; do not convert units.
- Use null for a reference bound that is not printed.
- Omit reference_range entirely when no range is printed.

Report text:
%s`

	classifyPrompt = `Classify each lab value against its reference range.

Rules:
- NORMAL/green when min <= value <= max.
- LOW when value < min, HIGH when value > max.
- Deviation d = |value - bound| / |bound|: yellow when d <= 0.10, red otherwise.
- UNKNOWN/gray when the range is missing or the value is not numeric.

Return ONLY a JSON array with one entry per input, in the same order:
[{"test_name": "...", "status": "NORMAL|LOW|HIGH|UNKNOWN", "severity": "green|yellow|red|gray"}]

Tests:
%s`

	explainPrompt = `Explain this lab result to a patient in plain language, in at most 100 words.
Do not diagnose. Mention what the test measures and what a %s value can generally mean.

Test: %s
Value: %s %s
Status: %s`

	alertPrompt = `Write a short, calm alert (at most 50 words) for a patient whose %s result is %s
(severity %s). Do not diagnose. Recommend discussing it with a healthcare provider.`

	summaryPrompt = `Summarize these lab results for the patient in 2-3 sentences. Do not diagnose.

Return ONLY a JSON object:
{"summary": "...", "health_score": 0-100, "attention_areas": ["test name", ...]}

Results:
%s`
)
