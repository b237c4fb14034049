// Package evidence fuses successive per-sample probability distributions
// into a running per-session belief with progressive elimination.
package evidence

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/keyprint/keyprint/pkg/logger"
	"github.com/keyprint/keyprint/pkg/metrics"
)

// Default accumulator configuration.
const (
	defaultTTL            = 10 * time.Minute
	defaultBase           = 0.05
	defaultStep           = 0.05
	defaultCap            = 0.50
	janitorInterval       = time.Minute
	minSurvivors          = 1
	eliminationStartCount = 3
	probabilityFloor      = 1e-4
	maxHistory            = 50
)

// Verdict is the outcome of one evidence step.
type Verdict struct {
	Label       string
	Confidence  float64
	SampleCount int
	Survivors   int
}

// UnknownLabel is returned when a verdict cannot name a subject.
const UnknownLabel = "Unknown"

// sessionState is the per-identification-session running belief.
type sessionState struct {
	mu          sync.Mutex
	labels      []string
	cumulative  []float64
	eliminated  map[int]bool
	sampleCount int
	lastUpdate  time.Time
	history     [][]float64
}

// Accumulator holds one session state per identification-session id with a
// sliding inactivity TTL. Evidence steps for the same session id are
// serialized; different sessions proceed in parallel.
type Accumulator struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	ttl  time.Duration
	base float64
	step float64
	cap  float64

	stopCh chan struct{}
	once   sync.Once
	log    logger.Logger
}

// Option applies a configuration option to the Accumulator.
type Option func(*Accumulator)

// WithTTL sets the sliding inactivity window for session eviction.
func WithTTL(ttl time.Duration) Option {
	return func(a *Accumulator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithEliminationSchedule sets the progressive threshold parameters.
func WithEliminationSchedule(base, step, capValue float64) Option {
	return func(a *Accumulator) {
		if base > 0 && step > 0 && capValue >= base {
			a.base = base
			a.step = step
			a.cap = capValue
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(a *Accumulator) {
		if log != nil {
			a.log = log
		}
	}
}

// New creates an Accumulator with default configuration.
func New(opts ...Option) *Accumulator {
	a := &Accumulator{
		sessions: make(map[string]*sessionState),
		ttl:      defaultTTL,
		base:     defaultBase,
		step:     defaultStep,
		cap:      defaultCap,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Get().Named("evidence")
	}
	return a
}

// Start launches the background janitor that evicts expired sessions.
func (a *Accumulator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.evictExpired()
			}
		}
	}()
}

// Stop terminates the janitor.
func (a *Accumulator) Stop() {
	a.once.Do(func() { close(a.stopCh) })
}

// AddEvidence folds one calibrated per-sample distribution into the
// session's running belief and returns the current verdict.
//
// labels is the model's canonical label order; probs is the per-sample
// probability vector in the same order.
func (a *Accumulator) AddEvidence(ctx context.Context, sessionID string, labels []string, probs []float64) Verdict {
	n := len(labels)
	if len(probs) < n {
		n = len(probs)
	}
	if n == 0 {
		return Verdict{Label: UnknownLabel}
	}
	labels = labels[:n]
	probs = probs[:n]

	st := a.acquire(sessionID, labels, n)
	st.mu.Lock()
	defer st.mu.Unlock()

	// A live-model swap can change the label set mid-session; a stale
	// dimension means the stored belief is no longer interpretable.
	if len(st.labels) != n || time.Since(st.lastUpdate) > a.ttl && st.sampleCount > 0 {
		st.reset(labels, n)
	}

	p := normalize(probs)

	st.history = append(st.history, p)
	if len(st.history) > maxHistory {
		st.history = st.history[1:]
	}
	st.sampleCount++
	st.lastUpdate = time.Now()

	a.updateCumulative(st, p)
	a.eliminate(ctx, sessionID, st)

	return a.verdict(st)
}

// acquire returns the state for sessionID, creating it under the coarse
// lock when absent.
func (a *Accumulator) acquire(sessionID string, labels []string, n int) *sessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		st.reset(labels, n)
		a.sessions[sessionID] = st
		metrics.UpdateEvidenceSessions(len(a.sessions))
	}
	return st
}

func (s *sessionState) reset(labels []string, n int) {
	s.labels = append([]string(nil), labels[:n]...)
	s.cumulative = make([]float64, n)
	s.eliminated = make(map[int]bool)
	s.sampleCount = 0
	s.history = nil
	s.lastUpdate = time.Now()
}

// normalize floors non-positive entries and scales to sum 1, falling back
// to uniform on a degenerate vector.
func normalize(probs []float64) []float64 {
	out := make([]float64, len(probs))
	sum := 0.0
	for i, p := range probs {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			p = probabilityFloor
		}
		out[i] = p
		sum += p
	}
	if sum <= 0 {
		u := 1 / float64(len(out))
		for i := range out {
			out[i] = u
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// updateCumulative applies the sample-count-dependent exponential moving
// average and renormalizes over survivors.
func (a *Accumulator) updateCumulative(st *sessionState, p []float64) {
	if st.sampleCount == 1 {
		copy(st.cumulative, p)
	} else {
		alpha := 0.3 + 0.4*math.Min(float64(st.sampleCount), 5)/5
		for i := range st.cumulative {
			st.cumulative[i] = alpha*p[i] + (1-alpha)*st.cumulative[i]
		}
	}
	for i := range st.cumulative {
		if st.eliminated[i] {
			st.cumulative[i] = 0
		}
	}
	renormalize(st.cumulative)
}

// Threshold returns the active elimination threshold for a sample count.
// Monotonically non-decreasing, capped.
func (a *Accumulator) Threshold(sampleCount int) float64 {
	if sampleCount < eliminationStartCount {
		return 0
	}
	if sampleCount < 10 {
		return a.base
	}
	t := a.base + a.step*float64((sampleCount-10)/5+1)
	if t > a.cap {
		t = a.cap
	}
	return t
}

// eliminate removes subjects whose cumulative belief falls strictly below
// the active threshold, weakest first, always keeping at least one.
func (a *Accumulator) eliminate(ctx context.Context, sessionID string, st *sessionState) {
	if st.sampleCount < eliminationStartCount {
		return
	}
	survivors := len(st.labels) - len(st.eliminated)
	if survivors <= 1 {
		return
	}
	threshold := a.Threshold(st.sampleCount)

	type candidate struct {
		idx  int
		prob float64
	}
	var ranked []candidate
	for i := range st.labels {
		if !st.eliminated[i] {
			ranked = append(ranked, candidate{i, st.cumulative[i]})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].prob < ranked[j].prob })

	removed := false
	for _, c := range ranked {
		if survivors <= minSurvivors {
			break
		}
		if c.prob >= threshold {
			break
		}
		st.eliminated[c.idx] = true
		st.cumulative[c.idx] = 0
		survivors--
		removed = true
		metrics.RecordSubjectEliminated()
		a.log.Info(ctx, "subject eliminated",
			logger.String("sessionID", sessionID),
			logger.String("subject", st.labels[c.idx]),
			logger.Float64("belief", c.prob),
			logger.Float64("threshold", threshold),
			logger.Int("sampleCount", st.sampleCount),
		)
	}
	if removed {
		renormalize(st.cumulative)
	}
}

// verdict computes the final confidence from the surviving belief.
func (a *Accumulator) verdict(st *sessionState) Verdict {
	best := -1
	var top, second float64
	survivors := 0
	for i := range st.labels {
		if st.eliminated[i] {
			continue
		}
		survivors++
		c := st.cumulative[i]
		if best == -1 || c > top {
			if best != -1 {
				second = top
			}
			top = c
			best = i
		} else if c > second {
			second = c
		}
	}
	if best == -1 {
		return Verdict{Label: UnknownLabel, SampleCount: st.sampleCount}
	}

	margin := 0.0
	if survivors > 1 {
		margin = top - second
	}

	conf := top + 0.3*margin + math.Min(0.15, 0.03*float64(st.sampleCount))
	if survivors <= 3 {
		conf *= 1.10
	}
	if survivors == 2 {
		conf *= 1.15
	}
	conf = math.Max(0.05, math.Min(0.99, conf))

	return Verdict{
		Label:       st.labels[best],
		Confidence:  conf,
		SampleCount: st.sampleCount,
		Survivors:   survivors,
	}
}

// ActiveSessions returns the number of live identification sessions.
func (a *Accumulator) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *Accumulator) evictExpired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for id, st := range a.sessions {
		st.mu.Lock()
		expired := now.Sub(st.lastUpdate) > a.ttl
		st.mu.Unlock()
		if expired {
			delete(a.sessions, id)
		}
	}
	metrics.UpdateEvidenceSessions(len(a.sessions))
}

func renormalize(xs []float64) {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	if sum <= 0 {
		return
	}
	for i := range xs {
		xs[i] /= sum
	}
}
