package model

import (
	"context"
	"fmt"
	"math"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/malaschitz/randomForest"
	"gonum.org/v1/gonum/floats"
)

// Model serves predictions from a loaded artifact. It implements
// domain.RiskModel.
type Model struct {
	artifact Artifact
	forest   *randomForest.Forest
}

// New wraps a validated artifact.
func New(a Artifact) (*Model, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	m := &Model{artifact: a}
	if a.Algorithm == AlgorithmRandomForest {
		f, err := decodeForest(a.Forest)
		if err != nil {
			return nil, err
		}
		m.forest = f
	}
	return m, nil
}

// Load reads the artifact at path and wraps it.
func Load(path string) (*Model, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	return New(a)
}

// Artifact returns the underlying artifact.
func (m *Model) Artifact() Artifact { return m.artifact }

// Spec describes the features and labels of the model.
func (m *Model) Spec() domain.ModelSpec { return m.artifact.Spec() }

// Predict returns the forest's majority class, or the output of the centroid
// nearest to features, in scaled space. A vector of the wrong length is
// ErrModelShapeMismatch.
func (m *Model) Predict(_ context.Context, features []float64) (int, error) {
	arity := len(m.artifact.Features)
	if len(features) != arity {
		return 0, fmt.Errorf("%w: got %d features, model expects %d %v",
			domain.ErrModelShapeMismatch, len(features), arity, m.artifact.Features)
	}
	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: feature %s is not finite", domain.ErrPrediction, m.artifact.Features[i])
		}
	}

	scaled := m.artifact.Scaler.transform(features)
	if m.forest != nil {
		votes := m.forest.Vote(scaled)
		if len(votes) == 0 {
			return 0, fmt.Errorf("%w: forest returned no votes", domain.ErrPrediction)
		}
		return floats.MaxIdx(votes), nil
	}
	return nearest(m.artifact.Centroids, scaled), nil
}

func (s Scaler) transform(x []float64) []float64 {
	out := floats.SubTo(make([]float64, len(x)), x, s.Mean)
	floats.Div(out, s.Scale)
	return out
}

// nearest returns the output of the closest centroid. Ties go to the
// centroid listed first.
func nearest(centroids []Centroid, x []float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := floats.Distance(c.Point, x, 2); d < bestDist {
			best, bestDist = i, d
		}
	}
	return centroids[best].Output
}
