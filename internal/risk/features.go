package risk

import (
	"fmt"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
)

// featureVector builds the model input for matched records following the
// model's convention. The vector is never padded or truncated to fit.
func featureVector(spec domain.ModelSpec, matched []domain.AccidentRecord, slot domain.TimeSlot) ([]float64, error) {
	lat, lon := meanCoordinates(matched)

	var vec []float64
	switch spec.Convention {
	case domain.ConventionSeverity:
		vec = []float64{lat, lon, float64(slot.Code())}
	case domain.ConventionCluster:
		vec = []float64{lat, lon}
	default:
		return nil, fmt.Errorf("%w: unknown model convention %q", domain.ErrModelShapeMismatch, spec.Convention)
	}

	if spec.Arity() != len(vec) {
		return nil, fmt.Errorf("%w: %s convention yields %d features, model declares %d %v",
			domain.ErrModelShapeMismatch, spec.Convention, len(vec), spec.Arity(), spec.Features)
	}
	return vec, nil
}

// meanCoordinates averages over every matched record regardless of slot.
func meanCoordinates(records []domain.AccidentRecord) (lat, lon float64) {
	for _, r := range records {
		lat += r.Lat
		lon += r.Lon
	}
	n := float64(len(records))
	return lat / n, lon / n
}

func countHighRiskReports(records []domain.AccidentRecord) int {
	n := 0
	for _, r := range records {
		if r.IsUserReport() && r.Severity == domain.SeverityHigh {
			n++
		}
	}
	return n
}

// typicalForSlot returns the most common severity among records in slot and
// the time of the first such record. Severity ties go to the alphabetically
// first label.
func typicalForSlot(records []domain.AccidentRecord, slot domain.TimeSlot) (domain.Severity, string) {
	counts := make(map[domain.Severity]int, len(domain.Severities))
	var firstTime string
	found := false
	for _, r := range records {
		if r.TimeFrame != slot {
			continue
		}
		if !found {
			firstTime, found = r.Time, true
		}
		counts[r.Severity]++
	}
	return modeSeverity(counts), firstTime
}

// modeSeverity returns the most frequent severity. Ties go to the
// alphabetically first label (High, Low, Medium).
func modeSeverity(counts map[domain.Severity]int) domain.Severity {
	var (
		best  domain.Severity
		bestN int
	)
	for _, sev := range domain.Severities {
		n := counts[sev]
		if n == 0 {
			continue
		}
		if n > bestN || (n == bestN && sev < best) {
			best, bestN = sev, n
		}
	}
	return best
}

// summarizeSlots reports the matched history for every slot in slot order.
func summarizeSlots(records []domain.AccidentRecord) []domain.SlotSummary {
	perSlot := make(map[domain.TimeSlot]map[domain.Severity]int, len(domain.TimeSlots))
	for _, r := range records {
		if perSlot[r.TimeFrame] == nil {
			perSlot[r.TimeFrame] = make(map[domain.Severity]int)
		}
		perSlot[r.TimeFrame][r.Severity]++
	}

	out := make([]domain.SlotSummary, 0, len(domain.TimeSlots))
	for _, slot := range domain.TimeSlots {
		counts := perSlot[slot]
		total := 0
		for _, n := range counts {
			total += n
		}
		out = append(out, domain.SlotSummary{
			Slot:            slot,
			Count:           total,
			TypicalSeverity: modeSeverity(counts),
		})
	}
	return out
}
