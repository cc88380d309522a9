package labreport

import (
	"regexp"
	"strings"
)

var pageFooter = regexp.MustCompile(`(?i)\bpage\s+\d+\s*(?:of|/)\s*\d+\b`)

// unitSpellings maps loose unit spellings to their canonical form. A unit
// must not follow a letter and must end at a word boundary, so "180mg/dl" is
// rewritten while dates and ratios are left alone. The preceding character is
// captured and written back.
var unitSpellings = []struct {
	re        *regexp.Regexp
	canonical string
}{
	{unitPattern(`mg\s*/\s*dl`), "mg/dL"},
	{unitPattern(`(?:ug|µg|μg|mcg)\s*/\s*dl`), "µg/dL"},
	{unitPattern(`g\s*/\s*dl`), "g/dL"},
	{unitPattern(`ng\s*/\s*ml`), "ng/mL"},
	{unitPattern(`pg\s*/\s*ml`), "pg/mL"},
	{unitPattern(`mmol\s*/\s*l`), "mmol/L"},
}

func unitPattern(unit string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^A-Za-z])` + unit + `\b`)
}

// Normalize cleans raw report text before extraction: page footers are
// dropped, whitespace runs collapse to one space and unit spellings are made
// canonical. Date strings pass through unchanged.
func Normalize(text string) string {
	text = pageFooter.ReplaceAllString(text, " ")
	text = strings.Join(strings.Fields(text), " ")
	for _, u := range unitSpellings {
		text = u.re.ReplaceAllString(text, "${1}"+u.canonical)
	}
	return text
}
