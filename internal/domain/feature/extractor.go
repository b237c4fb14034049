package feature

import (
	"fmt"

	"github.com/keyprint/keyprint/internal/domain/event"
	"github.com/keyprint/keyprint/pkg/metrics"
)

// Timing validity bounds, in milliseconds. Intervals outside the validity
// window are dropped, not clipped.
const (
	validityWindowMs = 2000
	overlapWindowMs  = 100
	shortPauseMs     = 200
	longPauseMs      = 500
)

// minTrainingEvents is the floor below which training extraction refuses
// to produce a vector.
const minTrainingEvents = 10

const backspaceKey = "backspace"

// Extract derives a feature vector from a normalized event stream. Fewer
// than two events yields a zero-filled vector labeled "Unknown". Every slot
// of the result is finite.
func Extract(events []event.Keystroke, label string) Vector {
	if len(events) < 2 {
		return NewVector(UnknownLabel)
	}
	v := NewVector(label)
	metrics.RecordFeatureExtraction()

	keydowns := make([]event.Keystroke, 0, len(events))
	for _, e := range events {
		if e.Type == event.KeyDown {
			keydowns = append(keydowns, e)
		}
	}

	dwellByKey := collectDwells(events)
	var allDwells []float64
	for _, ds := range dwellByKey {
		allDwells = append(allDwells, ds...)
	}
	flights := collectFlights(keydowns)

	fillTiming(&v, events, keydowns, allDwells, flights)
	fillPauses(&v, flights)
	fillErrors(&v, events, keydowns)
	fillHands(&v, keydowns)
	fillRows(&v, keydowns)
	fillFingers(&v, dwellByKey)
	fillNGrams(&v, keydowns, mean(flights))
	fillPerKeyDwells(&v, dwellByKey)
	fillOverlap(&v, events, len(keydowns))
	fillWordBoundaries(&v, keydowns)
	fillFatigue(&v, keydowns)

	return v
}

// ExtractTraining is the stricter variant used when a vector feeds model
// fitting. It refuses streams shorter than ten events.
func ExtractTraining(events []event.Keystroke, label string) (Vector, error) {
	if len(events) < minTrainingEvents {
		return Vector{}, fmt.Errorf("%w: %d events, need %d", ErrInsufficientInput, len(events), minTrainingEvents)
	}
	return Extract(events, label), nil
}

// collectDwells matches each keyup to the earliest outstanding keydown of
// the same key and keeps durations inside (0, validityWindowMs].
func collectDwells(events []event.Keystroke) map[string][]float64 {
	pending := make(map[string][]int64)
	dwells := make(map[string][]float64)
	for _, e := range events {
		switch e.Type {
		case event.KeyDown:
			pending[e.Key] = append(pending[e.Key], e.Timestamp)
		case event.KeyUp:
			q := pending[e.Key]
			if len(q) == 0 {
				continue
			}
			down := q[0]
			pending[e.Key] = q[1:]
			d := float64(e.Timestamp - down)
			if d > 0 && d <= validityWindowMs {
				dwells[e.Key] = append(dwells[e.Key], d)
			}
		}
	}
	return dwells
}

// collectFlights keeps inter-keydown intervals inside (0, validityWindowMs].
func collectFlights(keydowns []event.Keystroke) []float64 {
	var flights []float64
	for i := 1; i < len(keydowns); i++ {
		f := float64(keydowns[i].Timestamp - keydowns[i-1].Timestamp)
		if f > 0 && f <= validityWindowMs {
			flights = append(flights, f)
		}
	}
	return flights
}

func fillTiming(v *Vector, events, keydowns []event.Keystroke, dwells, flights []float64) {
	meanDwell := mean(dwells)
	meanFlight := mean(flights)

	v.Values[SlotMeanDwell] = finite(meanDwell)
	v.Values[SlotMeanFlight] = finite(meanFlight)

	durationMs := float64(events[len(events)-1].Timestamp - events[0].Timestamp)
	if durationMs > 0 {
		v.Values[SlotTypingSpeed] = finite(float64(len(keydowns)) / (durationMs / 1000))
	}

	v.Values[SlotDwellVariance] = finite(sampleVariance(dwells))
	v.Values[SlotDwellStdDev] = finite(stdDev(dwells))
	v.Values[SlotFlightVariance] = finite(sampleVariance(flights))
	v.Values[SlotFlightStdDev] = finite(stdDev(flights))

	v.Values[SlotDwellP25] = finite(percentile(dwells, 25))
	v.Values[SlotDwellP50] = finite(percentile(dwells, 50))
	v.Values[SlotDwellP75] = finite(percentile(dwells, 75))
	v.Values[SlotFlightP25] = finite(percentile(flights, 25))
	v.Values[SlotFlightP50] = finite(percentile(flights, 50))
	v.Values[SlotFlightP75] = finite(percentile(flights, 75))

	if meanFlight > 0 {
		v.Values[SlotRhythmConsistency] = finite(stdDev(flights) / meanFlight)
		v.Values[SlotDwellFlightRatio] = finite(meanDwell / meanFlight)
	}
	if meanDwell > 0 {
		v.Values[SlotDwellConsistency] = finite(stdDev(dwells) / meanDwell)
	}
}

func fillPauses(v *Vector, flights []float64) {
	if len(flights) == 0 {
		return
	}
	var flow, short, long int
	var pauses []float64
	for _, f := range flights {
		switch {
		case f < shortPauseMs:
			flow++
		case f < longPauseMs:
			short++
		default:
			long++
		}
		if f >= shortPauseMs {
			pauses = append(pauses, f)
		}
	}
	total := float64(len(flights))
	v.Values[SlotFlowFrequency] = finite(float64(flow) / total)
	v.Values[SlotShortPauseFrequency] = finite(float64(short) / total)
	v.Values[SlotLongPauseFrequency] = finite(float64(long) / total)
	v.Values[SlotMeanPauseDuration] = finite(mean(pauses))
}

func fillErrors(v *Vector, events, keydowns []event.Keystroke) {
	if len(keydowns) == 0 {
		return
	}

	var backspaces int
	var runLengths []float64
	run := 0
	for _, k := range keydowns {
		if k.Key == backspaceKey {
			backspaces++
			run++
			continue
		}
		if run > 0 {
			runLengths = append(runLengths, float64(run))
			run = 0
		}
	}
	if run > 0 {
		runLengths = append(runLengths, float64(run))
	}

	v.Values[SlotBackspaceFrequency] = finite(float64(backspaces) / float64(len(keydowns)))
	v.Values[SlotConsecutiveBackspaces] = finite(mean(runLengths))

	// Time from each backspace to the next non-backspace keydown.
	var corrections []float64
	for i, k := range keydowns {
		if k.Key != backspaceKey {
			continue
		}
		for j := i + 1; j < len(keydowns); j++ {
			if keydowns[j].Key == backspaceKey {
				continue
			}
			d := float64(keydowns[j].Timestamp - k.Timestamp)
			if d > 0 && d <= validityWindowMs {
				corrections = append(corrections, d)
			}
			break
		}
	}
	v.Values[SlotErrorCorrectionSpeed] = finite(mean(corrections))

	// Backspace count growth across the session timeline, split at the
	// midpoint between first and last timestamps.
	mid := (events[0].Timestamp + events[len(events)-1].Timestamp) / 2
	var firstHalf, secondHalf int
	for _, k := range keydowns {
		if k.Key != backspaceKey {
			continue
		}
		if k.Timestamp <= mid {
			firstHalf++
		} else {
			secondHalf++
		}
	}
	denom := firstHalf
	if denom < 1 {
		denom = 1
	}
	v.Values[SlotErrorRateIncrease] = finite(float64(secondHalf-firstHalf) / float64(denom))
}

func fillHands(v *Vector, keydowns []event.Keystroke) {
	var ll, lr, rl, rr int
	prev := HandUnknown
	for _, k := range keydowns {
		h := HandOf(k.Key)
		if h == HandUnknown {
			continue
		}
		if prev != HandUnknown {
			switch {
			case prev == HandLeft && h == HandLeft:
				ll++
			case prev == HandLeft && h == HandRight:
				lr++
			case prev == HandRight && h == HandLeft:
				rl++
			default:
				rr++
			}
		}
		prev = h
	}
	total := ll + lr + rl + rr
	if total == 0 {
		v.Values[SlotHandAlternation] = 0.5
		return
	}
	ft := float64(total)
	v.Values[SlotLeftLeftFrequency] = finite(float64(ll) / ft)
	v.Values[SlotLeftRightFrequency] = finite(float64(lr) / ft)
	v.Values[SlotRightLeftFrequency] = finite(float64(rl) / ft)
	v.Values[SlotRightRightFrequency] = finite(float64(rr) / ft)
	v.Values[SlotHandAlternation] = finite(float64(lr+rl) / ft)
}

func fillRows(v *Vector, keydowns []event.Keystroke) {
	var home, top, bottom, classified int
	var transitions, pairs int
	prev := RowUnknown
	for _, k := range keydowns {
		r := RowOf(k.Key)
		if r == RowUnknown {
			continue
		}
		classified++
		switch r {
		case RowHome:
			home++
		case RowTop:
			top++
		case RowBottom:
			bottom++
		}
		if prev != RowUnknown {
			pairs++
			if prev != r {
				transitions++
			}
		}
		prev = r
	}
	if classified > 0 {
		fc := float64(classified)
		v.Values[SlotHomeRowFrequency] = finite(float64(home) / fc)
		v.Values[SlotTopRowFrequency] = finite(float64(top) / fc)
		v.Values[SlotBottomRowFrequency] = finite(float64(bottom) / fc)
	}
	if pairs > 0 {
		v.Values[SlotRowTransitionFrequency] = finite(float64(transitions) / float64(pairs))
	}
}

func fillFingers(v *Vector, dwellByKey map[string][]float64) {
	sums := make(map[Finger]float64)
	counts := make(map[Finger]int)
	for key, ds := range dwellByKey {
		f := FingerOf(key)
		if f == FingerUnknown {
			continue
		}
		for _, d := range ds {
			sums[f] += d
			counts[f]++
		}
	}
	set := func(slot int, f Finger) {
		if counts[f] > 0 {
			v.Values[slot] = finite(sums[f] / float64(counts[f]))
		}
	}
	set(SlotPinkyDwell, FingerPinky)
	set(SlotRingDwell, FingerRing)
	set(SlotMiddleDwell, FingerMiddle)
	set(SlotIndexDwell, FingerIndex)
	set(SlotThumbDwell, FingerThumb)
}

// fillNGrams computes mean flight time per enumerated digraph and trigraph.
// Untyped n-grams default to the global mean flight time so they do not
// pull the vector toward zero.
func fillNGrams(v *Vector, keydowns []event.Keystroke, globalMeanFlight float64) {
	digraphTimes := make(map[string][]float64)
	trigraphTimes := make(map[string][]float64)

	for i := 1; i < len(keydowns); i++ {
		g1 := float64(keydowns[i].Timestamp - keydowns[i-1].Timestamp)
		if g1 <= 0 || g1 > validityWindowMs {
			continue
		}
		dg := keydowns[i-1].Key + "-" + keydowns[i].Key
		digraphTimes[dg] = append(digraphTimes[dg], g1)

		if i < 2 {
			continue
		}
		g0 := float64(keydowns[i-1].Timestamp - keydowns[i-2].Timestamp)
		if g0 <= 0 || g0 > validityWindowMs {
			continue
		}
		tg := keydowns[i-2].Key + "-" + keydowns[i-1].Key + "-" + keydowns[i].Key
		trigraphTimes[tg] = append(trigraphTimes[tg], (g0+g1)/2)
	}

	for i, tg := range Trigraphs {
		if ts, ok := trigraphTimes[tg]; ok {
			v.Values[TrigraphSlot(i)] = finite(mean(ts))
		} else {
			v.Values[TrigraphSlot(i)] = finite(globalMeanFlight)
		}
	}
	for i, dg := range Digraphs {
		if ts, ok := digraphTimes[dg]; ok {
			v.Values[DigraphSlot(i)] = finite(mean(ts))
		} else {
			v.Values[DigraphSlot(i)] = finite(globalMeanFlight)
		}
	}
	for i, dg := range VarianceDigraphs {
		if ts := digraphTimes[dg]; len(ts) >= 2 {
			v.Values[DigraphVarianceSlot(i)] = finite(sampleVariance(ts))
		}
	}
}

func fillPerKeyDwells(v *Vector, dwellByKey map[string][]float64) {
	for i, key := range DwellKeys {
		if ds := dwellByKey[key]; len(ds) > 0 {
			v.Values[DwellKeySlot(i)] = finite(mean(ds))
		}
	}
}

// fillOverlap samples rollover typing: at each keydown, every still-pressed
// key whose own keydown was within the last overlapWindowMs contributes one
// sample valued at the gap.
func fillOverlap(v *Vector, events []event.Keystroke, keydownCount int) {
	if keydownCount == 0 {
		return
	}
	pressed := make(map[string]int64)
	var gaps []float64
	for _, e := range events {
		switch e.Type {
		case event.KeyDown:
			for key, downAt := range pressed {
				if key == e.Key {
					continue
				}
				gap := float64(e.Timestamp - downAt)
				if gap > 0 && gap <= overlapWindowMs {
					gaps = append(gaps, gap)
				}
			}
			pressed[e.Key] = e.Timestamp
		case event.KeyUp:
			delete(pressed, e.Key)
		}
	}
	v.Values[SlotOverlapFrequency] = finite(float64(len(gaps)) / float64(keydownCount))
	v.Values[SlotOverlapMeanGap] = finite(mean(gaps))
}

func fillWordBoundaries(v *Vector, keydowns []event.Keystroke) {
	var afterSpace, toSpace []float64
	var wordLengths []float64
	run := 0
	for i, k := range keydowns {
		if k.Key == event.SpaceKey {
			if run > 0 {
				wordLengths = append(wordLengths, float64(run))
				run = 0
			}
		} else {
			run++
		}
		if i == 0 {
			continue
		}
		gap := float64(k.Timestamp - keydowns[i-1].Timestamp)
		if gap <= 0 || gap > validityWindowMs {
			continue
		}
		if keydowns[i-1].Key == event.SpaceKey {
			afterSpace = append(afterSpace, gap)
		}
		if k.Key == event.SpaceKey {
			toSpace = append(toSpace, gap)
		}
	}
	if run > 0 {
		wordLengths = append(wordLengths, float64(run))
	}
	v.Values[SlotFlightAfterSpace] = finite(mean(afterSpace))
	v.Values[SlotFlightToSpace] = finite(mean(toSpace))
	v.Values[SlotMeanWordLength] = finite(mean(wordLengths))
}

// fillFatigue compares flight-time means between the first and second half
// of the keydown sequence. Splitting by position, not by valid flight,
// keeps an out-of-window pause from shifting intervals across halves.
func fillFatigue(v *Vector, keydowns []event.Keystroke) {
	if len(keydowns) < 4 {
		return
	}
	half := len(keydowns) / 2
	firstMean := mean(collectFlights(keydowns[:half]))
	secondMean := mean(collectFlights(keydowns[half:]))
	if firstMean > 0 {
		v.Values[SlotSpeedDecay] = finite((secondMean - firstMean) / firstMean)
	}
}
