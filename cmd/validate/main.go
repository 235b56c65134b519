// Command validate checks an accident table and a model artifact before they
// are deployed together. It verifies that every row parses, that the table
// survives a write/read cycle unchanged, that the artifact declares a known
// convention with the right feature arity, and that every place and time slot
// in the table yields a known risk label.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -data data/kolkata_accidents.csv \
//	  -model models/accident_model.json
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/couchcryptid/accident-risk-service/internal/model"
	"github.com/couchcryptid/accident-risk-service/internal/observability"
	"github.com/couchcryptid/accident-risk-service/internal/risk"
	"github.com/couchcryptid/accident-risk-service/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataPath := flag.String("data", "data/kolkata_accidents.csv", "accident table CSV")
	modelPath := flag.String("model", "models/accident_model.json", "model artifact JSON")
	flag.Parse()

	os.Exit(run(*dataPath, *modelPath, os.Stdout))
}

func run(dataPath, modelPath string, out io.Writer) int {
	fmt.Fprintln(out, "=== Accident Risk Validation ===")
	fmt.Fprintln(out)

	raw, err := os.ReadFile(dataPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read data: %v\n", err)
		return 1
	}

	rowsPhase, records := validateRows(raw)
	artifactPhase, artifact := validateArtifact(modelPath)
	phases := []*phase{
		rowsPhase,
		validateRoundTrip(records),
		artifactPhase,
		validatePredictions(records, artifact),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-36s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Records: %d parsed from %s\n", len(records), dataPath)
	if artifact != nil {
		fmt.Fprintf(out, "Model: %s %s (%s)\n", artifact.Convention, artifact.Version, artifact.Algorithm)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func validateRows(raw []byte) (*phase, []domain.AccidentRecord) {
	p := &phase{name: "Phase 1: Rows parse"}
	records, rowErrs, err := store.DecodeLenient(bytes.NewReader(raw))
	if err != nil {
		p.errorf("%v", err)
		return p, nil
	}
	for _, re := range rowErrs {
		p.errorf("%v", re)
	}
	if len(records) == 0 && len(rowErrs) == 0 {
		p.errorf("table has no rows")
	}
	return p, records
}

func validateRoundTrip(records []domain.AccidentRecord) *phase {
	p := &phase{name: "Phase 2: Write/read round-trip"}
	var buf bytes.Buffer
	if err := store.Encode(&buf, records); err != nil {
		p.errorf("encode: %v", err)
		return p
	}
	back, err := store.Decode(&buf)
	if err != nil {
		p.errorf("decode: %v", err)
		return p
	}
	if len(back) != len(records) {
		p.errorf("row count changed: wrote %d, read %d", len(records), len(back))
		return p
	}
	for i := range records {
		if diff := cmp.Diff(records[i], back[i]); diff != "" {
			p.errorf("row %d changed (-wrote +read):\n%s", i+1, diff)
		}
	}
	return p
}

func validateArtifact(path string) (*phase, *model.Artifact) {
	p := &phase{name: "Phase 3: Artifact convention/arity"}
	a, err := model.LoadArtifact(path)
	if err != nil {
		p.errorf("%v", err)
		return p, nil
	}
	if a.Convention == domain.ConventionCluster {
		for _, c := range a.Centroids {
			if _, ok := a.Labels[c.Output]; !ok {
				p.errorf("cluster %d has no risk label", c.Output)
			}
		}
	}
	return p, &a
}

// validatePredictions runs every distinct place and slot in the table through
// the risk pipeline and requires a known label for each.
func validatePredictions(records []domain.AccidentRecord, a *model.Artifact) *phase {
	p := &phase{name: "Phase 4: Predictions total"}
	if a == nil || len(records) == 0 {
		p.errorf("skipped: needs parsed rows and a valid artifact")
		return p
	}
	m, err := model.New(*a)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	s := store.New("", records, logger)
	svc := risk.NewService(s, m, store.NewGazetteer(s), logger, metrics)

	ctx := context.Background()
	for _, place := range s.Places() {
		for _, slot := range domain.TimeSlots {
			res, err := svc.Assess(ctx, place, string(slot))
			if err != nil {
				p.errorf("%s @ %s: %v", place, slot, err)
				continue
			}
			if res.Label == domain.RiskUnknown {
				p.errorf("%s @ %s: model output %v has no risk label", place, slot, outputOf(res))
			}
		}
	}
	return p
}

func outputOf(a domain.RiskAssessment) any {
	if a.ModelOutput == nil {
		return "none"
	}
	return *a.ModelOutput
}
