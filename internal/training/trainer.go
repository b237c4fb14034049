// Package training rebuilds the classifier from persisted labeled
// sessions: feature extraction with sliding-window augmentation,
// data-size-dependent model selection, and artifact persistence.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keyprint/keyprint/internal/adapters/repository"
	"github.com/keyprint/keyprint/internal/domain/classifier"
	"github.com/keyprint/keyprint/internal/domain/event"
	"github.com/keyprint/keyprint/internal/domain/feature"
	"github.com/keyprint/keyprint/pkg/logger"
	"github.com/keyprint/keyprint/pkg/metrics"
)

// Default training configuration.
const (
	defaultWindowFraction  = 0.7
	defaultStepFraction    = 0.3
	defaultHoldoutFraction = 0.15
	defaultFolds           = 5

	minVectorsOverall    = 5
	minVectorsPerLabel   = 2
	minEventsForAugment  = 30
	minWindowEvents      = 20
	ensembleMinVectors   = 30
	ensembleMinLabels    = 3
	crossValidateVectors = 20

	shuffleSeed        = 42
	extractConcurrency = 4
)

// Trainer orchestrates a full model rebuild.
type Trainer struct {
	store repository.Store

	windowFraction  float64
	stepFraction    float64
	holdoutFraction float64
	folds           int

	modelPath   string
	metricsPath string

	log logger.Logger
}

// Option applies a configuration option to the Trainer.
type Option func(*Trainer)

// WithAugmentation sets the sliding-window fractions.
func WithAugmentation(window, step float64) Option {
	return func(t *Trainer) {
		if window > 0 && window < 1 && step > 0 && step < 1 {
			t.windowFraction = window
			t.stepFraction = step
		}
	}
}

// WithHoldout sets the held-out fraction for split evaluation.
func WithHoldout(fraction float64) Option {
	return func(t *Trainer) {
		if fraction > 0 && fraction < 1 {
			t.holdoutFraction = fraction
		}
	}
}

// WithFolds sets the cross-validation fold count.
func WithFolds(k int) Option {
	return func(t *Trainer) {
		if k > 1 {
			t.folds = k
		}
	}
}

// WithArtifactPaths sets the model artifact and metrics file locations.
func WithArtifactPaths(modelPath, metricsPath string) Option {
	return func(t *Trainer) {
		t.modelPath = modelPath
		t.metricsPath = metricsPath
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(t *Trainer) {
		if log != nil {
			t.log = log
		}
	}
}

// New creates a Trainer reading labeled sessions from store.
func New(store repository.Store, opts ...Option) *Trainer {
	t := &Trainer{
		store:           store,
		windowFraction:  defaultWindowFraction,
		stepFraction:    defaultStepFraction,
		holdoutFraction: defaultHoldoutFraction,
		folds:           defaultFolds,
		modelPath:       "keyprint_model.bin",
		metricsPath:     "training_metrics.json",
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Get().Named("training")
	}
	return t
}

// Run executes a full training pass and returns the fitted artifact and
// its metrics record. The artifact and metrics are persisted before
// returning. Cancellation is honored at step boundaries.
func (t *Trainer) Run(ctx context.Context) (*classifier.Artifact, *Metrics, error) {
	start := time.Now()

	sessions, err := t.store.ListLabeled(ctx)
	if err != nil {
		metrics.RecordTrainingFailure()
		return nil, nil, fmt.Errorf("load labeled sessions: %w", err)
	}

	vectors, err := t.extractAll(ctx, sessions)
	if err != nil {
		metrics.RecordTrainingFailure()
		return nil, nil, err
	}

	vectors = filterSparseLabels(vectors)
	if len(vectors) < minVectorsOverall {
		metrics.RecordTrainingFailure()
		return nil, nil, fmt.Errorf("%w: %d valid vectors, need %d",
			ErrInsufficientData, len(vectors), minVectorsOverall)
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordTrainingFailure()
		return nil, nil, err
	}

	artifact, eval, algorithm, err := t.fitBest(ctx, vectors)
	if err != nil {
		metrics.RecordTrainingFailure()
		return nil, nil, err
	}

	record := &Metrics{
		MicroAccuracy:    eval.microAccuracy,
		MacroAccuracy:    eval.macroAccuracy,
		LogLoss:          eval.logLoss,
		LogLossReduction: eval.logLossReduction,
		TotalSamples:     len(vectors),
		UniqueLabels:     len(artifact.Labels),
		FeatureCount:     feature.SlotCount,
		Algorithm:        algorithm,
		TrainedAt:        artifact.TrainedAt,
		SamplesPerUser:   countPerLabel(vectors),
	}

	if err := artifact.Save(t.modelPath); err != nil {
		metrics.RecordTrainingFailure()
		metrics.RecordPersistenceError()
		return nil, nil, fmt.Errorf("persist artifact: %w", err)
	}
	if err := record.Save(t.metricsPath); err != nil {
		t.log.Warn(ctx, "failed to persist training metrics", logger.Error(err))
	}

	metrics.RecordTrainingRun()
	metrics.RecordTrainingDuration(time.Since(start).Seconds())
	t.log.Info(ctx, "training run complete",
		logger.String("algorithm", algorithm),
		logger.Int("vectors", len(vectors)),
		logger.Int("labels", len(artifact.Labels)),
		logger.Float64("microAccuracy", eval.microAccuracy),
		logger.Float64("macroAccuracy", eval.macroAccuracy),
		logger.Duration("elapsed", time.Since(start)),
	)
	return artifact, record, nil
}

// extractAll turns persisted sessions into feature vectors, augmenting
// long sessions with sliding windows. Sessions that fail to deserialize
// are skipped, not fatal.
func (t *Trainer) extractAll(ctx context.Context, sessions []repository.Session) ([]feature.Vector, error) {
	var mu sync.Mutex
	var vectors []feature.Vector

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)

	for _, s := range sessions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var raw []event.Keystroke
			if err := json.Unmarshal([]byte(s.RawData), &raw); err != nil {
				t.log.Warn(gctx, "skipping undecodable session",
					logger.String("sessionID", s.ID), logger.Error(err))
				return nil
			}
			normalized := event.Normalize(raw)
			extracted := t.extractSession(normalized, s.UserID)
			if len(extracted) == 0 {
				return nil
			}
			mu.Lock()
			vectors = append(vectors, extracted...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// extractSession produces the full-session vector plus sliding-window
// augmentations for long sessions. Every emitted vector must pass the
// validity gate.
func (t *Trainer) extractSession(events []event.Keystroke, label string) []feature.Vector {
	var out []feature.Vector

	if v, err := feature.ExtractTraining(events, label); err == nil && validVector(v) {
		out = append(out, v)
	}

	n := len(events)
	if n < minEventsForAugment {
		return out
	}
	window := int(math.Floor(t.windowFraction * float64(n)))
	step := int(math.Floor(t.stepFraction * float64(n)))
	if window < minWindowEvents || step < 1 {
		return out
	}
	// The offset-0 window is shorter than the full session, so it is a
	// distinct vector, not a duplicate.
	for start := 0; start+window <= n; start += step {
		v, err := feature.ExtractTraining(events[start:start+window], label)
		if err == nil && validVector(v) {
			out = append(out, v)
		}
	}
	return out
}

// validVector gates degenerate vectors out of training: positive mean
// dwell, mean flight and typing speed, and every slot finite.
func validVector(v feature.Vector) bool {
	if v.Values[feature.SlotMeanDwell] <= 0 ||
		v.Values[feature.SlotMeanFlight] <= 0 ||
		v.Values[feature.SlotTypingSpeed] <= 0 {
		return false
	}
	for _, x := range v.Values {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// filterSparseLabels drops vectors whose label has fewer than the
// per-label minimum.
func filterSparseLabels(vectors []feature.Vector) []feature.Vector {
	counts := countPerLabel(vectors)
	out := vectors[:0]
	for _, v := range vectors {
		if counts[v.Label] >= minVectorsPerLabel {
			out = append(out, v)
		}
	}
	return out
}

func countPerLabel(vectors []feature.Vector) map[string]int {
	counts := make(map[string]int)
	for _, v := range vectors {
		counts[v.Label]++
	}
	return counts
}

func distinctLabels(vectors []feature.Vector) int {
	return len(countPerLabel(vectors))
}

// fitBest picks the model-selection strategy from the post-augmentation
// data size, evaluates it, and refits the winner on the full data.
func (t *Trainer) fitBest(ctx context.Context, vectors []feature.Vector) (*classifier.Artifact, evaluation, string, error) {
	labels := distinctLabels(vectors)

	switch {
	case len(vectors) >= ensembleMinVectors && labels >= ensembleMinLabels:
		return t.ensembleSelect(ctx, vectors)
	case len(vectors) >= crossValidateVectors && labels >= ensembleMinLabels:
		return t.crossValidate(ctx, vectors)
	default:
		return t.singleSplit(ctx, vectors)
	}
}

// ensembleSelect fits three candidate pipelines on a train/test split and
// refits the best on the full data.
func (t *Trainer) ensembleSelect(ctx context.Context, vectors []feature.Vector) (*classifier.Artifact, evaluation, string, error) {
	train, held := t.split(vectors)

	candidates := []struct {
		name string
		cfg  classifier.Config
	}{
		{"boosted_trees_deep", classifier.DeepBoostedConfig()},
		{"boosted_trees_wide", classifier.WideBoostedConfig()},
		{"maxent", classifier.MaxEntConfig()},
	}

	bestIdx := -1
	var bestEval evaluation
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, evaluation{}, "", err
		}
		a, err := classifier.Fit(train, c.cfg)
		if err != nil {
			t.log.Warn(ctx, "candidate fit failed",
				logger.String("candidate", c.name), logger.Error(err))
			continue
		}
		e := evaluate(a, held)
		t.log.Info(ctx, "candidate evaluated",
			logger.String("candidate", c.name),
			logger.Float64("microAccuracy", e.microAccuracy),
			logger.Float64("macroAccuracy", e.macroAccuracy),
			logger.Float64("score", e.selectionScore()),
		)
		if bestIdx == -1 || e.selectionScore() > bestEval.selectionScore() {
			bestIdx = i
			bestEval = e
		}
	}
	if bestIdx == -1 {
		return nil, evaluation{}, "", fmt.Errorf("%w: all candidates failed", ErrInsufficientData)
	}

	winner := candidates[bestIdx]
	artifact, err := classifier.Fit(vectors, winner.cfg)
	if err != nil {
		return nil, evaluation{}, "", fmt.Errorf("refit %s: %w", winner.name, err)
	}
	return artifact, bestEval, winner.name, nil
}

// crossValidate runs k-fold CV of the deep boosted-tree pipeline, reports
// mean fold metrics, and refits on the full data.
func (t *Trainer) crossValidate(ctx context.Context, vectors []feature.Vector) (*classifier.Artifact, evaluation, string, error) {
	shuffled := t.shuffle(vectors)
	cfg := classifier.DeepBoostedConfig()

	var sum evaluation
	folds := 0
	for f := 0; f < t.folds; f++ {
		if err := ctx.Err(); err != nil {
			return nil, evaluation{}, "", err
		}
		train, held := foldSplit(shuffled, f, t.folds)
		if len(held) == 0 {
			continue
		}
		a, err := classifier.Fit(train, cfg)
		if err != nil {
			t.log.Warn(ctx, "fold fit failed", logger.Int("fold", f), logger.Error(err))
			continue
		}
		e := evaluate(a, held)
		sum.microAccuracy += e.microAccuracy
		sum.macroAccuracy += e.macroAccuracy
		sum.logLoss += e.logLoss
		sum.logLossReduction += e.logLossReduction
		folds++
	}
	if folds == 0 {
		return nil, evaluation{}, "", fmt.Errorf("%w: no usable folds", ErrInsufficientData)
	}
	mean := evaluation{
		microAccuracy:    sum.microAccuracy / float64(folds),
		macroAccuracy:    sum.macroAccuracy / float64(folds),
		logLoss:          sum.logLoss / float64(folds),
		logLossReduction: sum.logLossReduction / float64(folds),
	}

	artifact, err := classifier.Fit(vectors, cfg)
	if err != nil {
		return nil, evaluation{}, "", fmt.Errorf("refit after cv: %w", err)
	}
	return artifact, mean, "boosted_trees_cv", nil
}

// singleSplit evaluates the deep boosted-tree pipeline on one split and
// refits on the full data.
func (t *Trainer) singleSplit(ctx context.Context, vectors []feature.Vector) (*classifier.Artifact, evaluation, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, evaluation{}, "", err
	}
	train, held := t.split(vectors)
	cfg := classifier.DeepBoostedConfig()

	a, err := classifier.Fit(train, cfg)
	if err != nil {
		return nil, evaluation{}, "", fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	e := evaluate(a, held)

	artifact, err := classifier.Fit(vectors, cfg)
	if err != nil {
		return nil, evaluation{}, "", fmt.Errorf("refit after split: %w", err)
	}
	return artifact, e, "boosted_trees", nil
}

// split shuffles deterministically and holds out the configured fraction,
// keeping at least one vector on each side.
func (t *Trainer) split(vectors []feature.Vector) (train, held []feature.Vector) {
	shuffled := t.shuffle(vectors)
	holdout := int(math.Round(t.holdoutFraction * float64(len(shuffled))))
	if holdout < 1 {
		holdout = 1
	}
	if holdout >= len(shuffled) {
		holdout = len(shuffled) - 1
	}
	return shuffled[holdout:], shuffled[:holdout]
}

func (t *Trainer) shuffle(vectors []feature.Vector) []feature.Vector {
	out := make([]feature.Vector, len(vectors))
	copy(out, vectors)
	rng := rand.New(rand.NewSource(shuffleSeed)) //nolint:gosec // deterministic shuffles for reproducible training
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func foldSplit(vectors []feature.Vector, fold, folds int) (train, held []feature.Vector) {
	for i, v := range vectors {
		if i%folds == fold {
			held = append(held, v)
		} else {
			train = append(train, v)
		}
	}
	return train, held
}
