package training

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/keyprint/keyprint/internal/domain/calibrate"
	"github.com/keyprint/keyprint/internal/domain/classifier"
	"github.com/keyprint/keyprint/internal/domain/feature"
)

// Metrics is the persisted record of one training run.
type Metrics struct {
	MicroAccuracy    float64        `json:"microAccuracy"`
	MacroAccuracy    float64        `json:"macroAccuracy"`
	LogLoss          float64        `json:"logLoss"`
	LogLossReduction float64        `json:"logLossReduction"`
	TotalSamples     int            `json:"totalSamples"`
	UniqueLabels     int            `json:"uniqueLabels"`
	FeatureCount     int            `json:"featureCount"`
	Algorithm        string         `json:"algorithm"`
	TrainedAt        time.Time      `json:"trainedAt"`
	SamplesPerUser   map[string]int `json:"samplesPerUser"`
}

// Save writes the metrics record as indented JSON, atomically.
func (m *Metrics) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal training metrics: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write training metrics: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename training metrics: %w", err)
	}
	return nil
}

// evaluation holds held-out quality figures for one fitted candidate.
type evaluation struct {
	microAccuracy    float64
	macroAccuracy    float64
	logLoss          float64
	logLossReduction float64
}

// selectionScore weighs macro accuracy over micro for candidate ranking.
func (e evaluation) selectionScore() float64 {
	return 0.6*e.macroAccuracy + 0.4*e.microAccuracy
}

// evaluate scores a fitted artifact on held-out vectors: micro accuracy
// (per sample), macro accuracy (mean per-label recall), and log loss of
// the softmaxed score vectors against a uniform-prior baseline.
func evaluate(a *classifier.Artifact, held []feature.Vector) evaluation {
	if len(held) == 0 {
		return evaluation{}
	}

	correct := 0
	perLabelTotal := make(map[string]int)
	perLabelCorrect := make(map[string]int)
	sumLogLoss := 0.0

	for _, v := range held {
		labels, scores, err := a.Predict(v)
		if err != nil {
			continue
		}
		probs := calibrate.Softmax(scores, 1.0)

		best := 0
		trueIdx := -1
		for i, l := range labels {
			if probs[i] > probs[best] {
				best = i
			}
			if l == v.Label {
				trueIdx = i
			}
		}

		perLabelTotal[v.Label]++
		if labels[best] == v.Label {
			correct++
			perLabelCorrect[v.Label]++
		}

		trueProb := 1e-15
		if trueIdx >= 0 && probs[trueIdx] > trueProb {
			trueProb = probs[trueIdx]
		}
		sumLogLoss += -math.Log(trueProb)
	}

	e := evaluation{
		microAccuracy: float64(correct) / float64(len(held)),
		logLoss:       sumLogLoss / float64(len(held)),
	}

	macroSum := 0.0
	for label, total := range perLabelTotal {
		macroSum += float64(perLabelCorrect[label]) / float64(total)
	}
	if len(perLabelTotal) > 0 {
		e.macroAccuracy = macroSum / float64(len(perLabelTotal))
	}

	// Baseline loss is the uniform prior over the artifact's label set.
	if n := len(a.Labels); n > 1 {
		baseline := -math.Log(1 / float64(n))
		if baseline > 0 {
			e.logLossReduction = (baseline - e.logLoss) / baseline
		}
	}
	return e
}
