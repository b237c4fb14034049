package feature

// Fixed QWERTY layout tables. Keys are normalized (lower-case, "Space"
// sentinel). A key absent from every table contributes to aggregate
// dwell/flight statistics but not to per-hand/row/finger sums.

// Hand identifies the typing hand for a key.
type Hand int

// Hand values.
const (
	HandUnknown Hand = iota
	HandLeft
	HandRight
)

// Row identifies the keyboard row for a key.
type Row int

// Row values.
const (
	RowUnknown Row = iota
	RowHome
	RowTop
	RowBottom
)

// Finger identifies the finger conventionally used for a key.
type Finger int

// Finger values.
const (
	FingerUnknown Finger = iota
	FingerPinky
	FingerRing
	FingerMiddle
	FingerIndex
	FingerThumb
)

var handTable = buildTable(map[Hand]string{
	HandLeft:  "q w e r t a s d f g z x c v b 1 2 3 4 5 ` ~",
	HandRight: `y u i o p h j k l n m 6 7 8 9 0 - = [ ] \ ; ' , . /`,
})

var rowTable = buildTable(map[Row]string{
	RowHome:   "a s d f g h j k l ;",
	RowTop:    `q w e r t y u i o p [ ] \`,
	RowBottom: "z x c v b n m , . /",
})

var fingerTable = map[string]Finger{
	"q": FingerPinky, "a": FingerPinky, "z": FingerPinky,
	"p": FingerPinky, ";": FingerPinky, "/": FingerPinky,
	"1": FingerPinky, "0": FingerPinky, "`": FingerPinky,
	"-": FingerPinky, "=": FingerPinky, "[": FingerPinky,
	"]": FingerPinky, "'": FingerPinky, `\`: FingerPinky,

	"w": FingerRing, "s": FingerRing, "x": FingerRing,
	"o": FingerRing, "l": FingerRing, ".": FingerRing,
	"2": FingerRing, "9": FingerRing,

	"e": FingerMiddle, "d": FingerMiddle, "c": FingerMiddle,
	"i": FingerMiddle, "k": FingerMiddle, ",": FingerMiddle,
	"3": FingerMiddle, "8": FingerMiddle,

	"r": FingerIndex, "f": FingerIndex, "v": FingerIndex,
	"t": FingerIndex, "g": FingerIndex, "b": FingerIndex,
	"y": FingerIndex, "h": FingerIndex, "n": FingerIndex,
	"u": FingerIndex, "j": FingerIndex, "m": FingerIndex,
	"4": FingerIndex, "5": FingerIndex, "6": FingerIndex, "7": FingerIndex,

	SpaceSentinel: FingerThumb,
}

// SpaceSentinel mirrors the normalizer's space key name.
const SpaceSentinel = "Space"

func buildTable[T comparable](groups map[T]string) map[string]T {
	table := make(map[string]T)
	for val, keys := range groups {
		for _, k := range splitKeys(keys) {
			table[k] = val
		}
	}
	return table
}

func splitKeys(s string) []string {
	var keys []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				keys = append(keys, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		keys = append(keys, cur)
	}
	return keys
}

// HandOf classifies a normalized key; HandUnknown when unclassified.
func HandOf(key string) Hand { return handTable[key] }

// RowOf classifies a normalized key; RowUnknown when unclassified.
func RowOf(key string) Row { return rowTable[key] }

// FingerOf classifies a normalized key; FingerUnknown when unclassified.
func FingerOf(key string) Finger { return fingerTable[key] }
