// Package event defines the keystroke event model and the stream normalizer.
package event

import (
	"sort"
	"strings"
)

// Type discriminates key-press from key-release events.
type Type string

// Keystroke event types.
const (
	KeyDown Type = "keydown"
	KeyUp   Type = "keyup"
)

// Sentinel key name for the space character.
const SpaceKey = "Space"

// Keystroke is a single time-stamped key event as captured by the client.
// Timestamp is in milliseconds, session-relative or wall-clock; within a
// session it is expected to be monotonically non-decreasing.
type Keystroke struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
	Type      Type   `json:"type"`
}

// NormalizeKey canonicalizes a raw key name: lower-cased, with a single
// space character mapped to the "Space" sentinel. Idempotent.
func NormalizeKey(key string) string {
	if key == " " || key == SpaceKey {
		return SpaceKey
	}
	return strings.ToLower(key)
}

// Normalize canonicalizes an event stream: keys are normalized, events are
// stably sorted by timestamp ascending, and keyup events whose matching
// keydown was not observed since the last matching keyup are dropped.
// The input slice is not modified.
func Normalize(events []Keystroke) []Keystroke {
	out := make([]Keystroke, 0, len(events))
	for _, e := range events {
		if e.Type != KeyDown && e.Type != KeyUp {
			continue
		}
		e.Key = NormalizeKey(e.Key)
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	// Drop unmatched keyups: a keyup is kept only when a keydown of the
	// same key is currently outstanding.
	pressed := make(map[string]int)
	kept := out[:0]
	for _, e := range out {
		switch e.Type {
		case KeyDown:
			pressed[e.Key]++
			kept = append(kept, e)
		case KeyUp:
			if pressed[e.Key] > 0 {
				pressed[e.Key]--
				kept = append(kept, e)
			}
		}
	}
	return kept
}
