// Package calibrate converts raw classifier scores into calibrated
// probability distributions with quality signals.
package calibrate

import (
	"math"
	"sort"

	"github.com/keyprint/keyprint/pkg/metrics"
)

// Confidence adjustment factors keyed on the quality signals.
const (
	highEntropyThreshold     = 0.70
	highEntropyFactor        = 0.85
	moderateEntropyThreshold = 0.50
	moderateEntropyFactor    = 0.92
	narrowMarginThreshold    = 0.10
	narrowMarginFactor       = 0.80
	moderateMarginThreshold  = 0.20
	moderateMarginFactor     = 0.90
	strongEntropyThreshold   = 0.30
	strongMarginThreshold    = 0.40
	strongSignalFactor       = 1.05
)

// Prediction is a calibrated per-sample classification result. Labels is
// the sole authority for interpreting probability indices.
type Prediction struct {
	PredictedLabel     string
	Probabilities      []float32
	Labels             []string
	Entropy            float64
	TopTwoMargin       float64
	AdjustedConfidence float64
}

// Option applies a configuration option to the Calibrator.
type Option func(*Calibrator)

// WithTemperature sets the softmax temperature. Values below 1 sharpen the
// distribution, above 1 flatten it. Non-positive values are ignored.
func WithTemperature(t float64) Option {
	return func(c *Calibrator) {
		if t > 0 {
			c.temperature = t
		}
	}
}

// Calibrator applies temperature-scaled softmax and quality-based
// confidence adjustment to raw score vectors.
type Calibrator struct {
	temperature float64
}

// New creates a Calibrator with a default temperature of 1.0.
func New(opts ...Option) *Calibrator {
	c := &Calibrator{temperature: 1.0}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calibrate turns raw per-class scores into a Prediction. The labels slice
// must be ordered to match the scores; index i of the probability vector IS
// subject labels[i].
func (c *Calibrator) Calibrate(labels []string, rawScores []float64) Prediction {
	probs := Softmax(rawScores, c.temperature)

	p := Prediction{
		Probabilities: make([]float32, len(probs)),
		Labels:        labels,
		Entropy:       NormalizedEntropy(probs),
		TopTwoMargin:  TopTwoMargin(probs),
	}

	best := 0
	for i, pr := range probs {
		p.Probabilities[i] = float32(pr)
		if pr > probs[best] {
			best = i
		}
	}
	if len(labels) > 0 {
		p.PredictedLabel = labels[best]
		p.AdjustedConfidence = adjustConfidence(probs[best], p.Entropy, p.TopTwoMargin)
	}
	return p
}

// Softmax computes a temperature-scaled softmax with max-subtraction for
// numeric stability. On underflow or non-finite input it falls back to a
// uniform distribution.
func Softmax(scores []float64, temperature float64) []float64 {
	n := len(scores)
	if n == 0 {
		return nil
	}
	if temperature <= 0 {
		temperature = 1.0
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	out := make([]float64, n)
	sum := 0.0
	for i, s := range scores {
		e := math.Exp((s - maxScore) / temperature)
		out[i] = e
		sum += e
	}

	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		metrics.RecordCalibrationFallback()
		return uniform(n)
	}
	for i := range out {
		out[i] /= sum
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			metrics.RecordCalibrationFallback()
			return uniform(n)
		}
	}
	return out
}

func uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// NormalizedEntropy is the Shannon entropy of probs divided by log(n);
// 0 means certain, 1 maximally uncertain. One or fewer classes yields 0.
func NormalizedEntropy(probs []float64) float64 {
	n := len(probs)
	if n <= 1 {
		return 0
	}
	h := 0.0
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	h /= math.Log(float64(n))
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return 0
	}
	return clamp(h, 0, 1)
}

// TopTwoMargin is the gap between the largest and second-largest
// probability. Fewer than two classes yields 1.
func TopTwoMargin(probs []float64) float64 {
	if len(probs) < 2 {
		return 1
	}
	sorted := make([]float64, len(probs))
	copy(sorted, probs)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return clamp(sorted[0]-sorted[1], 0, 1)
}

// adjustConfidence starts from the top probability and applies the
// multiplicative quality modifiers in a fixed order.
func adjustConfidence(top, entropy, margin float64) float64 {
	c := top
	switch {
	case entropy > highEntropyThreshold:
		c *= highEntropyFactor
	case entropy > moderateEntropyThreshold:
		c *= moderateEntropyFactor
	}
	switch {
	case margin < narrowMarginThreshold:
		c *= narrowMarginFactor
	case margin < moderateMarginThreshold:
		c *= moderateMarginFactor
	}
	if entropy < strongEntropyThreshold && margin > strongMarginThreshold {
		c *= strongSignalFactor
		if c > 1 {
			c = 1
		}
	}
	return clamp(c, 0, 1)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
