package event_test

import (
	"testing"

	"github.com/keyprint/keyprint/internal/domain/event"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNormalizeKey(t *testing.T) {
	Convey("Given raw key names", t, func() {
		Convey("When normalizing a single space", func() {
			So(event.NormalizeKey(" "), ShouldEqual, event.SpaceKey)
		})

		Convey("When normalizing the Space sentinel itself", func() {
			So(event.NormalizeKey(event.SpaceKey), ShouldEqual, event.SpaceKey)
		})

		Convey("When normalizing mixed-case keys", func() {
			So(event.NormalizeKey("A"), ShouldEqual, "a")
			So(event.NormalizeKey("Shift"), ShouldEqual, "shift")
		})

		Convey("Then normalization is idempotent", func() {
			for _, key := range []string{" ", "Q", "backspace", event.SpaceKey} {
				once := event.NormalizeKey(key)
				So(event.NormalizeKey(once), ShouldEqual, once)
			}
		})
	})
}

func TestNormalize(t *testing.T) {
	Convey("Given a raw keystroke stream", t, func() {
		Convey("When events arrive out of timestamp order", func() {
			out := event.Normalize([]event.Keystroke{
				{Key: "b", Timestamp: 200, Type: event.KeyDown},
				{Key: "a", Timestamp: 100, Type: event.KeyDown},
				{Key: "a", Timestamp: 150, Type: event.KeyUp},
			})

			Convey("Then the output is sorted ascending", func() {
				So(len(out), ShouldEqual, 3)
				So(out[0].Key, ShouldEqual, "a")
				So(out[1].Key, ShouldEqual, "a")
				So(out[2].Key, ShouldEqual, "b")
			})
		})

		Convey("When a keyup has no matching keydown", func() {
			out := event.Normalize([]event.Keystroke{
				{Key: "a", Timestamp: 100, Type: event.KeyUp},
				{Key: "b", Timestamp: 200, Type: event.KeyDown},
				{Key: "b", Timestamp: 300, Type: event.KeyUp},
			})

			Convey("Then the unmatched keyup is dropped", func() {
				So(len(out), ShouldEqual, 2)
				So(out[0].Key, ShouldEqual, "b")
				So(out[0].Type, ShouldEqual, event.KeyDown)
			})
		})

		Convey("When an event carries an unknown type", func() {
			out := event.Normalize([]event.Keystroke{
				{Key: "a", Timestamp: 100, Type: "keypress"},
				{Key: "a", Timestamp: 110, Type: event.KeyDown},
			})

			Convey("Then it is filtered out", func() {
				So(len(out), ShouldEqual, 1)
				So(out[0].Type, ShouldEqual, event.KeyDown)
			})
		})

		Convey("When keys are upper-case or literal spaces", func() {
			out := event.Normalize([]event.Keystroke{
				{Key: "A", Timestamp: 100, Type: event.KeyDown},
				{Key: " ", Timestamp: 200, Type: event.KeyDown},
			})

			Convey("Then keys come out canonical", func() {
				So(out[0].Key, ShouldEqual, "a")
				So(out[1].Key, ShouldEqual, event.SpaceKey)
			})
		})

		Convey("When the same key is pressed twice before release", func() {
			out := event.Normalize([]event.Keystroke{
				{Key: "a", Timestamp: 100, Type: event.KeyDown},
				{Key: "a", Timestamp: 110, Type: event.KeyDown},
				{Key: "a", Timestamp: 150, Type: event.KeyUp},
				{Key: "a", Timestamp: 160, Type: event.KeyUp},
				{Key: "a", Timestamp: 170, Type: event.KeyUp},
			})

			Convey("Then only as many keyups as outstanding keydowns survive", func() {
				So(len(out), ShouldEqual, 4)
			})
		})

		Convey("When the input is empty", func() {
			So(event.Normalize(nil), ShouldBeEmpty)
		})

		Convey("Then the input slice is left untouched", func() {
			in := []event.Keystroke{
				{Key: "B", Timestamp: 200, Type: event.KeyDown},
				{Key: "A", Timestamp: 100, Type: event.KeyDown},
			}
			_ = event.Normalize(in)
			So(in[0].Key, ShouldEqual, "B")
			So(in[1].Key, ShouldEqual, "A")
		})
	})
}
