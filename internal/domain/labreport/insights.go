package labreport

import "github.com/google/uuid"

var (
	abnormalRecommendations = []string{
		"Review any abnormal values with your healthcare provider",
		"Consider scheduling a follow-up appointment if multiple values are abnormal",
		"Maintain a healthy lifestyle with regular exercise and balanced nutrition",
	}
	normalRecommendations = []string{
		"Your test results look good! Continue maintaining your healthy lifestyle",
		"Schedule regular check-ups to monitor your health",
	}
)

type Statistics struct {
	TotalTests    int `json:"total_tests"`
	NormalCount   int `json:"normal_count"`
	AbnormalCount int `json:"abnormal_count"`
	CriticalCount int `json:"critical_count"`
	HealthScore   int `json:"health_score"`
}

type Insights struct {
	ReportID        uuid.UUID             `json:"report_id"`
	Statistics      Statistics            `json:"statistics"`
	AbnormalTests   []EnrichedObservation `json:"abnormal_tests"`
	Recommendations []string              `json:"recommendations"`
}

// BuildInsights derives statistics and generic recommendations from a stored
// report. The health score is the report's own score.
func BuildInsights(r *Report) Insights {
	obs := r.Result.Observations
	in := Insights{
		ReportID:      r.ID,
		AbnormalTests: []EnrichedObservation{},
		Statistics: Statistics{
			TotalTests:  len(obs),
			HealthScore: r.Result.HealthScore,
		},
	}
	for _, o := range obs {
		switch {
		case o.Status == StatusNormal:
			in.Statistics.NormalCount++
		case o.Status.IsAbnormal():
			in.Statistics.AbnormalCount++
			in.AbnormalTests = append(in.AbnormalTests, o)
		}
		if o.Severity == SeverityRed {
			in.Statistics.CriticalCount++
		}
	}
	if in.Statistics.AbnormalCount > 0 {
		in.Recommendations = abnormalRecommendations
	} else {
		in.Recommendations = normalRecommendations
	}
	return in
}

type Slice struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Color string `json:"color"`
}

type ChartPoint struct {
	Name     string   `json:"name"`
	Value    float64  `json:"value"`
	Status   Status   `json:"status"`
	Severity Severity `json:"severity"`
}

type ChartData struct {
	StatusDistribution   []Slice      `json:"status_distribution"`
	SeverityDistribution []Slice      `json:"severity_distribution"`
	TestResults          []ChartPoint `json:"test_results"`
}

const (
	colorGreen = "#10b981"
	colorAmber = "#f59e0b"
	colorRed   = "#ef4444"
	colorGray  = "#6b7280"

	chartNameLen = 20
)

// BuildChartData shapes a report for status/severity charts. Non-numeric
// values plot as 0.
func BuildChartData(r *Report) ChartData {
	obs := r.Result.Observations
	statuses := StatusCounts(obs)
	severities := map[Severity]int{}
	points := make([]ChartPoint, 0, len(obs))
	for _, o := range obs {
		severities[o.Severity]++
		v, ok := parseNumber(o.ObservedValue)
		if !ok {
			v = 0
		}
		name := o.TestName
		if runes := []rune(name); len(runes) > chartNameLen {
			name = string(runes[:chartNameLen])
		}
		points = append(points, ChartPoint{Name: name, Value: v, Status: o.Status, Severity: o.Severity})
	}

	return ChartData{
		StatusDistribution: []Slice{
			{"Normal", statuses[StatusNormal], colorGreen},
			{"Low", statuses[StatusLow], colorAmber},
			{"High", statuses[StatusHigh], colorRed},
			{"Unknown", statuses[StatusUnknown], colorGray},
		},
		SeverityDistribution: []Slice{
			{"Healthy", severities[SeverityGreen], colorGreen},
			{"Borderline", severities[SeverityYellow], colorAmber},
			{"Needs Attention", severities[SeverityRed], colorRed},
			{"Unknown", severities[SeverityGray], colorGray},
		},
		TestResults: points,
	}
}
