// Command train fits a risk model from the accident table and writes the
// JSON artifact the service loads at startup.
//
// Usage:
//
//	go run ./cmd/train \
//	  -data data/kolkata_accidents.csv \
//	  -out models/accident_model.json \
//	  -convention severity
//
// With -convention cluster it runs k-means on location instead and can write
// the table back out with each row's cluster via -clustered-out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/couchcryptid/accident-risk-service/internal/model"
	"github.com/couchcryptid/accident-risk-service/internal/store"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dataPath := flag.String("data", "data/kolkata_accidents.csv", "accident table CSV")
	outPath := flag.String("out", "models/accident_model.json", "output path for the model artifact")
	convention := flag.String("convention", string(domain.ConventionSeverity), "feature convention: severity or cluster")
	clusters := flag.Int("clusters", 5, "number of clusters for -convention cluster")
	seed := flag.Uint64("seed", 42, "random seed for the holdout split")
	trees := flag.Int("trees", model.DefaultTrees, "number of trees in the severity forest")
	testSplit := flag.Float64("test-split", 0.2, "fraction of rows held out for evaluation (severity only)")
	clusteredOut := flag.String("clustered-out", "", "optional CSV path for rows with their cluster (cluster only)")
	version := flag.String("version", "", "artifact version label (default: trained-at timestamp)")
	trainedAt := flag.String("trained-at", "", "fixed RFC3339 training timestamp for reproducible artifacts")
	flag.Parse()

	if *testSplit < 0 || *testSplit >= 1 {
		return fmt.Errorf("-test-split must be in [0, 1), got %v", *testSplit)
	}

	clock := clockwork.NewRealClock()
	if *trainedAt != "" {
		t, err := time.Parse(time.RFC3339, *trainedAt)
		if err != nil {
			return fmt.Errorf("parse -trained-at: %w", err)
		}
		clock = clockwork.NewFakeClockAt(t)
	}
	now := clock.Now().UTC()

	opts := model.TrainOptions{Version: *version, Seed: *seed, Trees: *trees, Now: now}
	if opts.Version == "" {
		opts.Version = now.Format("20060102T150405Z")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := store.Open(*dataPath, logger)
	if err != nil {
		return err
	}
	records := s.Records()
	log.Printf("loaded %d records from %s", len(records), *dataPath)

	var artifact model.Artifact
	switch domain.Convention(*convention) {
	case domain.ConventionSeverity:
		artifact, err = trainSeverity(records, *testSplit, opts)
	case domain.ConventionCluster:
		artifact, err = trainClusters(records, *clusters, *clusteredOut, opts, logger)
	default:
		return fmt.Errorf("unknown convention %q: want severity or cluster", *convention)
	}
	if err != nil {
		return err
	}

	if err := model.SaveArtifact(*outPath, artifact); err != nil {
		return err
	}
	log.Printf("wrote %s artifact %s to %s", artifact.Convention, artifact.Version, *outPath)
	return nil
}

func trainSeverity(records []domain.AccidentRecord, testSplit float64, opts model.TrainOptions) (model.Artifact, error) {
	train, test := model.Split(model.SeveritySamples(records), testSplit, opts.Seed)
	artifact, err := model.TrainSeverity(train, opts)
	if err != nil {
		return model.Artifact{}, err
	}
	if len(test) == 0 {
		log.Printf("no rows held out, skipping evaluation")
		return artifact, nil
	}

	m, err := model.New(artifact)
	if err != nil {
		return model.Artifact{}, err
	}
	ev, err := model.Evaluate(context.Background(), m, test)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("evaluate: %w", err)
	}
	artifact.Holdout = &ev

	log.Printf("train=%d test=%d accuracy=%.3f", len(train), len(test), ev.Accuracy)
	labels := make([]string, 0, len(ev.Classes))
	for label := range ev.Classes {
		labels = append(labels, string(label))
	}
	slices.Sort(labels)
	for _, label := range labels {
		cm := ev.Classes[domain.RiskLabel(label)]
		log.Printf("  %-7s precision=%.3f recall=%.3f support=%d", label, cm.Precision, cm.Recall, cm.Support)
	}
	return artifact, nil
}

func trainClusters(records []domain.AccidentRecord, k int, clusteredOut string, opts model.TrainOptions, logger *slog.Logger) (model.Artifact, error) {
	artifact, assign, err := model.TrainClusters(records, k, opts)
	if err != nil {
		return model.Artifact{}, err
	}

	counts := make([]int, k)
	for _, c := range assign {
		counts[c]++
	}
	for c := range k {
		log.Printf("  cluster %d: %d records, label %s", c, counts[c], domain.MapLabel(artifact.Labels, c))
	}

	if clusteredOut == "" {
		return artifact, nil
	}
	out := make([]domain.AccidentRecord, len(records))
	for i, r := range records {
		c := assign[i]
		r.Cluster = &c
		out[i] = r
	}
	if err := store.New(clusteredOut, out, logger).Save(); err != nil {
		return model.Artifact{}, err
	}
	log.Printf("wrote %d clustered rows to %s", len(out), clusteredOut)
	return artifact, nil
}
