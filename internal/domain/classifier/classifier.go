// Package classifier fits multiclass probabilistic models over feature
// vectors and predicts per-class score vectors.
package classifier

import (
	"fmt"
	"math"
	"time"

	"github.com/keyprint/keyprint/internal/domain/feature"
)

// Algorithm selects the learner family.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmBoostedTrees Algorithm = "boosted_trees"
	AlgorithmMaxEnt       Algorithm = "maxent"
)

// Config parameterizes a fit.
type Config struct {
	Algorithm      Algorithm
	Leaves         int
	Iterations     int
	LearningRate   float64
	MinLeafSamples int
}

// DeepBoostedConfig is the deeper, slower-learning boosted-tree candidate.
func DeepBoostedConfig() Config {
	return Config{
		Algorithm:      AlgorithmBoostedTrees,
		Leaves:         31,
		Iterations:     300,
		LearningRate:   0.05,
		MinLeafSamples: 1,
	}
}

// WideBoostedConfig is the wider, faster-learning boosted-tree candidate.
func WideBoostedConfig() Config {
	return Config{
		Algorithm:      AlgorithmBoostedTrees,
		Leaves:         63,
		Iterations:     200,
		LearningRate:   0.1,
		MinLeafSamples: 1,
	}
}

// MaxEntConfig is the maximum-entropy linear candidate.
func MaxEntConfig() Config {
	return Config{Algorithm: AlgorithmMaxEnt}
}

// Artifact is a fitted model plus everything needed to interpret its
// output: the canonical label order, the feature normalization parameters
// and the schema version it was trained under.
//
// Labels is the sole authority for mapping score indices to subjects.
type Artifact struct {
	SchemaVersion int           `cbor:"1,keyasint"`
	Algorithm     Algorithm     `cbor:"2,keyasint"`
	Labels        []string      `cbor:"3,keyasint"`
	FeatureMins   []float64     `cbor:"4,keyasint"`
	FeatureSpans  []float64     `cbor:"5,keyasint"`
	FeatureMeans  []float64     `cbor:"6,keyasint"`
	Boosted       *BoostedModel `cbor:"7,keyasint,omitempty"`
	MaxEnt        *MaxEntModel  `cbor:"8,keyasint,omitempty"`
	TrainedAt     time.Time     `cbor:"9,keyasint"`
}

// Fit trains a model over labeled feature vectors. Labels are assigned
// dense indices in order of first appearance; that order is frozen into
// the artifact.
func Fit(samples []feature.Vector, cfg Config) (*Artifact, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrFit)
	}

	labels, labelIdx := indexLabels(samples)
	if len(labels) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 distinct labels, got %d", ErrFit, len(labels))
	}

	raw := make([][]float64, len(samples))
	y := make([]int, len(samples))
	for i, s := range samples {
		raw[i] = widen(s.Values)
		y[i] = labelIdx[s.Label]
	}

	mins, spans, means := fitNormalization(raw)
	features := make([][]float64, len(raw))
	for i, row := range raw {
		features[i] = normalizeRow(row, mins, spans, means)
	}

	a := &Artifact{
		SchemaVersion: feature.SchemaVersion,
		Algorithm:     cfg.Algorithm,
		Labels:        labels,
		FeatureMins:   mins,
		FeatureSpans:  spans,
		FeatureMeans:  means,
		TrainedAt:     time.Now().UTC(),
	}

	switch cfg.Algorithm {
	case AlgorithmMaxEnt:
		a.MaxEnt = fitMaxEnt(features, y, len(labels))
	case AlgorithmBoostedTrees:
		a.Boosted = fitBoosted(features, y, len(labels), cfg)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrFit, cfg.Algorithm)
	}
	return a, nil
}

// Predict returns the label order and un-normalized per-class scores for a
// feature vector. The calibrator converts scores to probabilities.
func (a *Artifact) Predict(v feature.Vector) ([]string, []float64, error) {
	if a == nil {
		return nil, nil, ErrModelNotReady
	}
	if len(v.Values) != len(a.FeatureMins) {
		return nil, nil, fmt.Errorf("%w: vector width %d, artifact expects %d",
			ErrSchemaMismatch, len(v.Values), len(a.FeatureMins))
	}

	x := normalizeRow(widen(v.Values), a.FeatureMins, a.FeatureSpans, a.FeatureMeans)

	var scores []float64
	switch {
	case a.Boosted != nil:
		scores = a.Boosted.Scores(x)
	case a.MaxEnt != nil:
		scores = a.MaxEnt.Scores(x)
	default:
		return nil, nil, ErrModelNotReady
	}
	return a.Labels, scores, nil
}

func indexLabels(samples []feature.Vector) ([]string, map[string]int) {
	var labels []string
	idx := make(map[string]int)
	for _, s := range samples {
		if _, ok := idx[s.Label]; !ok {
			idx[s.Label] = len(labels)
			labels = append(labels, s.Label)
		}
	}
	return labels, idx
}

func widen(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// fitNormalization learns per-feature min, span and mean over finite
// values. Span is 0 for constant features.
func fitNormalization(rows [][]float64) (mins, spans, means []float64) {
	dims := len(rows[0])
	mins = make([]float64, dims)
	spans = make([]float64, dims)
	means = make([]float64, dims)

	for d := 0; d < dims; d++ {
		lo, hi, sum, count := math.Inf(1), math.Inf(-1), 0.0, 0
		for _, row := range rows {
			x := row[d]
			if math.IsNaN(x) || math.IsInf(x, 0) {
				continue
			}
			if x < lo {
				lo = x
			}
			if x > hi {
				hi = x
			}
			sum += x
			count++
		}
		if count == 0 {
			continue
		}
		mins[d] = lo
		spans[d] = hi - lo
		means[d] = sum / float64(count)
	}
	return mins, spans, means
}

// normalizeRow replaces non-finite values with the feature mean and
// min-max scales each feature; constant features map to 0.
func normalizeRow(row, mins, spans, means []float64) []float64 {
	out := make([]float64, len(row))
	for d, x := range row {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = means[d]
		}
		if spans[d] > 0 {
			out[d] = (x - mins[d]) / spans[d]
		}
	}
	return out
}
