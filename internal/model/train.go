package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/malaschitz/randomForest"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/stat"
)

// DefaultTrees is the forest size used when TrainOptions.Trees is unset.
const DefaultTrees = 100

// Sample is one training row: features in convention order and the target
// output (severity code for the severity convention).
type Sample struct {
	Features []float64
	Target   int
}

// TrainOptions controls artifact metadata and randomness. Seed drives the
// holdout split; forest bagging and k-means initialization draw from the
// libraries' own sources.
type TrainOptions struct {
	Version string
	Seed    uint64
	Trees   int
	Now     time.Time
}

// SeveritySamples builds [lat, lon, slot] samples labelled with the severity code.
func SeveritySamples(records []domain.AccidentRecord) []Sample {
	samples := make([]Sample, 0, len(records))
	for _, r := range records {
		samples = append(samples, Sample{
			Features: []float64{r.Lat, r.Lon, float64(r.TimeFrame.Code())},
			Target:   r.Severity.Code(),
		})
	}
	return samples
}

// Split shuffles samples with a seeded source and holds out testFraction of
// them for evaluation.
func Split(samples []Sample, testFraction float64, seed uint64) (train, test []Sample) {
	shuffled := make([]Sample, len(samples))
	copy(shuffled, samples)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	n := int(math.Round(float64(len(shuffled)) * testFraction))
	if n >= len(shuffled) {
		n = len(shuffled) - 1
	}
	if n < 0 {
		n = 0
	}
	return shuffled[n:], shuffled[:n]
}

// TrainSeverity fits a random forest severity classifier on standardized
// [lat, lon, slot] features.
func TrainSeverity(samples []Sample, opts TrainOptions) (Artifact, error) {
	if len(samples) == 0 {
		return Artifact{}, errors.New("no training samples")
	}
	features, _ := domain.ConventionSeverity.Features()
	points := make([][]float64, len(samples))
	for i, s := range samples {
		if len(s.Features) != len(features) {
			return Artifact{}, fmt.Errorf("%w: sample %d has %d features, want %d",
				domain.ErrModelShapeMismatch, i, len(s.Features), len(features))
		}
		points[i] = s.Features
	}

	scaler := fitScaler(points)
	data := randomForest.ForestData{X: make([][]float64, len(samples)), Class: make([]int, len(samples))}
	for i, s := range samples {
		data.X[i] = scaler.transform(points[i])
		data.Class[i] = s.Target
	}

	trees := opts.Trees
	if trees <= 0 {
		trees = DefaultTrees
	}
	forest := &randomForest.Forest{Data: data}
	forest.Train(trees)
	// Training rows are not part of the artifact.
	forest.Data = randomForest.ForestData{}

	blob, err := encodeForest(forest)
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{
		FormatVersion: FormatVersion,
		Version:       opts.Version,
		Convention:    domain.ConventionSeverity,
		Algorithm:     AlgorithmRandomForest,
		Features:      features,
		Scaler:        scaler,
		Forest:        blob,
		TrainedAt:     opts.Now.UTC(),
		TrainingRows:  len(samples),
	}, nil
}

// TrainClusters runs k-means on standardized [lat, lon] and labels each
// cluster with the rounded mean severity code of its members. It returns the
// artifact and the cluster assigned to each record.
func TrainClusters(records []domain.AccidentRecord, k int, opts TrainOptions) (Artifact, []int, error) {
	if k <= 0 {
		return Artifact{}, nil, fmt.Errorf("cluster count must be positive, got %d", k)
	}
	if len(records) < k {
		return Artifact{}, nil, fmt.Errorf("need at least %d records to form %d clusters, have %d", k, k, len(records))
	}

	features, _ := domain.ConventionCluster.Features()
	raw := make([][]float64, len(records))
	for i, r := range records {
		raw[i] = []float64{r.Lat, r.Lon}
	}
	scaler := fitScaler(raw)
	obs := make(clusters.Observations, len(raw))
	for i := range raw {
		obs[i] = clusters.Coordinates(scaler.transform(raw[i]))
	}

	cc, err := kmeans.New().Partition(obs, k)
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("partition: %w", err)
	}

	assign := make([]int, len(obs))
	sevSum := make([]float64, k)
	members := make([]int, k)
	for i, o := range obs {
		c := cc.Nearest(o)
		assign[i] = c
		sevSum[c] += float64(records[i].Severity.Code())
		members[c]++
	}

	centroids := make([]Centroid, k)
	labels := make(map[int]domain.RiskLabel, k)
	for c := range k {
		centroids[c] = Centroid{Output: c, Point: []float64(cc[c].Center)}
		if members[c] == 0 {
			continue
		}
		code := int(math.Round(sevSum[c] / float64(members[c])))
		labels[c] = domain.MapLabel(domain.SeverityLabels, code)
	}

	return Artifact{
		FormatVersion: FormatVersion,
		Version:       opts.Version,
		Convention:    domain.ConventionCluster,
		Algorithm:     AlgorithmKMeans,
		Features:      features,
		Labels:        labels,
		Scaler:        scaler,
		Centroids:     centroids,
		TrainedAt:     opts.Now.UTC(),
		TrainingRows:  len(records),
	}, assign, nil
}

// Evaluate scores m against labelled samples. Per-class metrics are keyed by
// the risk label of the true class.
func Evaluate(ctx context.Context, m *Model, samples []Sample) (Evaluation, error) {
	table := m.Spec().LabelTable()
	truePos := make(map[int]int)
	predicted := make(map[int]int)
	support := make(map[int]int)
	correct := 0

	for _, s := range samples {
		out, err := m.Predict(ctx, s.Features)
		if err != nil {
			return Evaluation{}, err
		}
		predicted[out]++
		support[s.Target]++
		if out == s.Target {
			correct++
			truePos[out]++
		}
	}

	ev := Evaluation{Samples: len(samples), Classes: make(map[domain.RiskLabel]ClassMetrics)}
	if len(samples) > 0 {
		ev.Accuracy = float64(correct) / float64(len(samples))
	}
	for code, n := range support {
		cm := ClassMetrics{Support: n, Recall: float64(truePos[code]) / float64(n)}
		if p := predicted[code]; p > 0 {
			cm.Precision = float64(truePos[code]) / float64(p)
		}
		ev.Classes[domain.MapLabel(table, code)] = cm
	}
	return ev, nil
}

// fitScaler uses population standard deviations. Constant columns keep their
// raw offset from the mean.
func fitScaler(points [][]float64) Scaler {
	dim := len(points[0])
	s := Scaler{Mean: make([]float64, dim), Scale: make([]float64, dim)}
	col := make([]float64, len(points))
	for j := range dim {
		for i, p := range points {
			col[i] = p[j]
		}
		s.Mean[j], s.Scale[j] = stat.PopMeanStdDev(col, nil)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s
}
