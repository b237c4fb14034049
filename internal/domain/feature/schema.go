// Package feature turns normalized keystroke streams into fixed-schema
// numeric vectors for classification.
package feature

// SchemaVersion identifies the frozen slot layout. Any slot addition,
// removal or reordering must bump this; artifacts trained under a different
// version are rejected at load time.
const SchemaVersion = 1

// Scalar slot indices. The order is frozen; trained models depend on it.
const (
	// Core timing.
	SlotMeanDwell = iota
	SlotMeanFlight
	SlotTypingSpeed

	// Dwell/flight dispersion.
	SlotDwellVariance
	SlotDwellStdDev
	SlotFlightVariance
	SlotFlightStdDev

	// Dwell/flight percentiles.
	SlotDwellP25
	SlotDwellP50
	SlotDwellP75
	SlotFlightP25
	SlotFlightP50
	SlotFlightP75

	// Rhythm.
	SlotRhythmConsistency
	SlotDwellConsistency
	SlotDwellFlightRatio

	// Pause profile. Buckets split flight times at 200ms and 500ms.
	SlotFlowFrequency
	SlotShortPauseFrequency
	SlotLongPauseFrequency
	SlotMeanPauseDuration

	// Error correction.
	SlotBackspaceFrequency
	SlotConsecutiveBackspaces
	SlotErrorCorrectionSpeed

	// Hand transitions.
	SlotLeftLeftFrequency
	SlotLeftRightFrequency
	SlotRightLeftFrequency
	SlotRightRightFrequency
	SlotHandAlternation

	// Row position.
	SlotHomeRowFrequency
	SlotTopRowFrequency
	SlotBottomRowFrequency
	SlotRowTransitionFrequency

	// Per-finger mean dwell.
	SlotPinkyDwell
	SlotRingDwell
	SlotMiddleDwell
	SlotIndexDwell
	SlotThumbDwell

	scalarSlotCount
)

// Enumerated n-gram features. The lists are frozen at schema-version time
// and must match between trainer and predictor.
var (
	// Trigraphs tracks mean flight time for the ten most common English
	// trigraphs, dash-joined normalized keys.
	Trigraphs = []string{
		"t-h-e", "a-n-d", "i-n-g", "i-o-n", "t-i-o",
		"e-n-t", "f-o-r", "h-e-r", "h-a-t", "h-i-s",
	}

	// DwellKeys tracks per-key mean dwell for fifteen frequent keys.
	DwellKeys = []string{
		"e", "t", "a", "o", "i", "n", "s", "r", "h", "l",
		"d", "c", "u", "m", "Space",
	}

	// Digraphs tracks mean flight time for fifty common English digraphs.
	Digraphs = []string{
		"t-h", "h-e", "i-n", "e-r", "a-n", "r-e", "o-n", "a-t", "e-n", "n-d",
		"t-i", "e-s", "o-r", "t-e", "o-f", "e-d", "i-s", "i-t", "a-l", "a-r",
		"s-t", "t-o", "n-t", "n-g", "s-e", "h-a", "a-s", "o-u", "i-o", "l-e",
		"v-e", "c-o", "m-e", "d-e", "h-i", "r-i", "r-o", "i-c", "n-e", "e-a",
		"r-a", "c-e", "l-i", "c-h", "l-l", "b-e", "m-a", "s-i", "o-m", "u-r",
	}

	// VarianceDigraphs tracks flight-time variance for the five most
	// common digraphs. Defaults to 0 below two observations.
	VarianceDigraphs = []string{"t-h", "h-e", "i-n", "e-r", "a-n"}
)

// Offsets of the n-gram and trailing groups within the flat vector.
const (
	trigraphOffset        = scalarSlotCount
	dwellKeyOffset        = trigraphOffset + 10
	digraphOffset         = dwellKeyOffset + 15
	digraphVarOffset      = digraphOffset + 50
	SlotOverlapFrequency  = digraphVarOffset + 5
	SlotOverlapMeanGap    = SlotOverlapFrequency + 1
	SlotFlightAfterSpace  = SlotOverlapMeanGap + 1
	SlotFlightToSpace     = SlotFlightAfterSpace + 1
	SlotMeanWordLength    = SlotFlightToSpace + 1
	SlotSpeedDecay        = SlotMeanWordLength + 1
	SlotErrorRateIncrease = SlotSpeedDecay + 1

	// SlotCount is the total width of the feature vector.
	SlotCount = SlotErrorRateIncrease + 1
)

// UnknownLabel marks vectors without a trusted subject label.
const UnknownLabel = "Unknown"

// Vector is an ordered, fixed-schema feature vector plus a subject label.
type Vector struct {
	Label  string
	Values []float32
}

// NewVector returns a zero-filled vector carrying the given label.
func NewVector(label string) Vector {
	if label == "" {
		label = UnknownLabel
	}
	return Vector{Label: label, Values: make([]float32, SlotCount)}
}

// TrigraphSlot returns the flat index of the i-th enumerated trigraph.
func TrigraphSlot(i int) int { return trigraphOffset + i }

// DwellKeySlot returns the flat index of the i-th enumerated dwell key.
func DwellKeySlot(i int) int { return dwellKeyOffset + i }

// DigraphSlot returns the flat index of the i-th enumerated digraph.
func DigraphSlot(i int) int { return digraphOffset + i }

// DigraphVarianceSlot returns the flat index of the i-th variance digraph.
func DigraphVarianceSlot(i int) int { return digraphVarOffset + i }
