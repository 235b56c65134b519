package domain

import (
	"context"
	"fmt"
	"slices"
)

// Convention names the feature/label convention a model was trained with.
type Convention string

const (
	// ConventionSeverity is supervised severity classification on
	// [latitude, longitude, time_frame_num] with ordinal severity output.
	ConventionSeverity Convention = "severity"

	// ConventionCluster is unsupervised grouping on [latitude, longitude]
	// with an arbitrary cluster id as output.
	ConventionCluster Convention = "cluster"
)

// Feature column names used in model artifacts.
const (
	FeatureLatitude  = "latitude"
	FeatureLongitude = "longitude"
	FeatureTimeFrame = "time_frame_num"
)

// Features returns the ordered feature names the convention requires.
func (c Convention) Features() ([]string, error) {
	switch c {
	case ConventionSeverity:
		return []string{FeatureLatitude, FeatureLongitude, FeatureTimeFrame}, nil
	case ConventionCluster:
		return []string{FeatureLatitude, FeatureLongitude}, nil
	default:
		return nil, fmt.Errorf("unknown model convention %q", c)
	}
}

// ModelSpec describes what a loaded risk model expects and emits.
type ModelSpec struct {
	Version    string
	Convention Convention
	Features   []string
	// Labels maps model outputs to risk labels. Only consulted for the
	// cluster convention; severity models use SeverityLabels.
	Labels map[int]RiskLabel
}

// Arity is the feature vector length the model expects.
func (s ModelSpec) Arity() int { return len(s.Features) }

// CheckFeatures verifies the declared feature list is the one the convention requires.
func (s ModelSpec) CheckFeatures() error {
	want, err := s.Convention.Features()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelShapeMismatch, err)
	}
	if !slices.Equal(want, s.Features) {
		return fmt.Errorf("%w: %s convention expects features %v, model declares %v",
			ErrModelShapeMismatch, s.Convention, want, s.Features)
	}
	return nil
}

// LabelTable returns the output→label table for the model's convention.
func (s ModelSpec) LabelTable() map[int]RiskLabel {
	if s.Convention == ConventionSeverity {
		return SeverityLabels
	}
	return s.Labels
}

// RiskModel is a pre-trained classifier or clusterer.
type RiskModel interface {
	Spec() ModelSpec
	Predict(ctx context.Context, features []float64) (int, error)
}
