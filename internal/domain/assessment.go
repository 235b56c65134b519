package domain

// RiskLabel is the human-readable outcome of a risk assessment.
type RiskLabel string

const (
	RiskHigh    RiskLabel = "High"
	RiskMedium  RiskLabel = "Medium"
	RiskLow     RiskLabel = "Low"
	RiskUnknown RiskLabel = "Unknown"
)

// SeverityLabels is the fixed table for severity-convention model output.
var SeverityLabels = map[int]RiskLabel{
	0: RiskHigh,
	1: RiskMedium,
	2: RiskLow,
}

// MapLabel looks up a model output in table. Outputs with no entry map to
// RiskUnknown.
func MapLabel(table map[int]RiskLabel, output int) RiskLabel {
	if label, ok := table[output]; ok {
		return label
	}
	return RiskUnknown
}

// RiskLabelForSeverity converts a recorded severity to the matching label.
func RiskLabelForSeverity(s Severity) RiskLabel {
	return MapLabel(SeverityLabels, s.Code())
}

// SlotSummary condenses the matched history for one time slot.
type SlotSummary struct {
	Slot            TimeSlot `json:"time_slot"`
	Count           int      `json:"count"`
	TypicalSeverity Severity `json:"typical_severity,omitempty"`
}

// RiskAssessment is the result of a place/time-slot risk query.
type RiskAssessment struct {
	Place string    `json:"place"`
	Slot  TimeSlot  `json:"time_slot"`
	Label RiskLabel `json:"risk_label"`

	// HighRiskReports counts matched user reports rated High. Informational
	// only; it never changes Label.
	HighRiskReports int `json:"high_risk_reports"`

	Matched []AccidentRecord `json:"matched"`

	// Features is the vector handed to the model; empty when nothing matched.
	Features    []float64 `json:"features,omitempty"`
	ModelOutput *int      `json:"model_output,omitempty"`

	// TypicalSeverity and TypicalTime describe matched records in the
	// queried slot. Empty when that slot has no history.
	TypicalSeverity Severity      `json:"typical_severity,omitempty"`
	TypicalTime     string        `json:"typical_time,omitempty"`
	Slots           []SlotSummary `json:"slots"`
}

// NoData reports whether the query matched no historical records.
func (a RiskAssessment) NoData() bool {
	return len(a.Matched) == 0
}
