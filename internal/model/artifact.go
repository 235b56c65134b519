// Package model loads, evaluates, and trains the JSON risk model artifacts
// served by the risk pipeline.
//
// An artifact records its convention and ordered feature list next to the
// fitted parameters, so a loaded model can always tell the pipeline which
// feature vector and label table it expects.
package model

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/malaschitz/randomForest"
)

// FormatVersion is the artifact schema version this package reads and writes.
const FormatVersion = 1

// Algorithms.
const (
	AlgorithmNearestCentroid = "nearest_centroid"
	AlgorithmKMeans          = "kmeans"
	AlgorithmRandomForest    = "random_forest"
)

// Scaler standardizes features as (x - Mean) / Scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Centroid is a point in scaled feature space and the output it predicts.
type Centroid struct {
	Output int       `json:"output"`
	Point  []float64 `json:"point"`
}

// ClassMetrics holds holdout precision and recall for one label.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Support   int     `json:"support"`
}

// Evaluation summarizes a holdout evaluation.
type Evaluation struct {
	Accuracy float64                           `json:"accuracy"`
	Samples  int                               `json:"samples"`
	Classes  map[domain.RiskLabel]ClassMetrics `json:"classes,omitempty"`
}

// Artifact is the persisted form of a trained model.
type Artifact struct {
	FormatVersion int                      `json:"format_version"`
	Version       string                   `json:"version"`
	Convention    domain.Convention        `json:"convention"`
	Algorithm     string                   `json:"algorithm"`
	Features      []string                 `json:"features"`
	Labels        map[int]domain.RiskLabel `json:"labels,omitempty"`
	Scaler        Scaler                   `json:"scaler"`
	Centroids     []Centroid               `json:"centroids,omitempty"`

	// Forest is the gob-encoded forest for AlgorithmRandomForest.
	Forest []byte `json:"forest,omitempty"`

	TrainedAt    time.Time   `json:"trained_at"`
	TrainingRows int         `json:"training_rows"`
	Holdout      *Evaluation `json:"holdout,omitempty"`
}

// Spec returns the model description the risk pipeline consults.
func (a Artifact) Spec() domain.ModelSpec {
	return domain.ModelSpec{
		Version:    a.Version,
		Convention: a.Convention,
		Features:   a.Features,
		Labels:     a.Labels,
	}
}

// Validate checks the artifact is internally consistent and follows its
// declared convention.
func (a Artifact) Validate() error {
	if a.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported artifact format_version %d", a.FormatVersion)
	}
	if err := a.Spec().CheckFeatures(); err != nil {
		return err
	}
	arity := len(a.Features)
	if len(a.Scaler.Mean) != arity || len(a.Scaler.Scale) != arity {
		return fmt.Errorf("%w: scaler has %d/%d entries, want %d",
			domain.ErrModelShapeMismatch, len(a.Scaler.Mean), len(a.Scaler.Scale), arity)
	}
	for i, s := range a.Scaler.Scale {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("scaler scale[%d] must be positive, got %v", i, s)
		}
	}
	if a.Algorithm == AlgorithmRandomForest {
		f, err := decodeForest(a.Forest)
		if err != nil {
			return err
		}
		if votes := f.Vote(make([]float64, arity)); len(votes) == 0 {
			return errors.New("forest has no classes")
		}
		return nil
	}
	if len(a.Centroids) == 0 {
		return errors.New("artifact has no centroids")
	}
	for i, c := range a.Centroids {
		if len(c.Point) != arity {
			return fmt.Errorf("%w: centroid %d has %d dimensions, want %d",
				domain.ErrModelShapeMismatch, i, len(c.Point), arity)
		}
	}
	return nil
}

// LoadArtifact reads and validates an artifact file. A missing file is an
// ErrStorage naming the path.
func LoadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{}, fmt.Errorf("%w: model file %s not found", domain.ErrStorage, path)
		}
		return Artifact{}, fmt.Errorf("%w: read %s: %w", domain.ErrStorage, path, err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("decode model %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return Artifact{}, fmt.Errorf("invalid model %s: %w", path, err)
	}
	return a, nil
}

// SaveArtifact validates a and writes it as indented JSON.
func SaveArtifact(path string, a Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid model: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", domain.ErrStorage, path, err)
	}
	return nil
}

func encodeForest(f *randomForest.Forest) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return nil, fmt.Errorf("encode forest: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeForest(data []byte) (*randomForest.Forest, error) {
	if len(data) == 0 {
		return nil, errors.New("artifact has no forest")
	}
	var f randomForest.Forest
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode forest: %w", err)
	}
	return &f, nil
}
