package classifier_test

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/keyprint/keyprint/internal/domain/classifier"
	"github.com/keyprint/keyprint/internal/domain/feature"
	. "github.com/smartystreets/goconvey/convey"
)

// syntheticSamples builds separable per-subject vectors: each subject
// types with its own characteristic dwell and flight plus small jitter.
func syntheticSamples(perLabel int, profiles map[string][2]float64) []feature.Vector {
	rng := rand.New(rand.NewSource(7))
	var out []feature.Vector
	for label, p := range profiles {
		for i := 0; i < perLabel; i++ {
			v := feature.NewVector(label)
			v.Values[feature.SlotMeanDwell] = float32(p[0] + rng.Float64()*4)
			v.Values[feature.SlotMeanFlight] = float32(p[1] + rng.Float64()*4)
			v.Values[feature.SlotTypingSpeed] = float32(1000/p[1] + rng.Float64()*0.2)
			v.Values[feature.SlotDwellP50] = float32(p[0] + rng.Float64()*3)
			v.Values[feature.SlotFlightP50] = float32(p[1] + rng.Float64()*3)
			out = append(out, v)
		}
	}
	return out
}

var testProfiles = map[string][2]float64{
	"alice": {60, 110},
	"bob":   {95, 170},
	"carol": {130, 240},
}

func trainingAccuracy(a *classifier.Artifact, samples []feature.Vector) float64 {
	correct := 0
	for _, s := range samples {
		labels, scores, err := a.Predict(s)
		if err != nil {
			continue
		}
		best := 0
		for i := range scores {
			if scores[i] > scores[best] {
				best = i
			}
		}
		if labels[best] == s.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

func TestFit(t *testing.T) {
	Convey("Given separable labeled samples", t, func() {
		samples := syntheticSamples(12, testProfiles)

		Convey("When fitting boosted trees", func() {
			a, err := classifier.Fit(samples, classifier.DeepBoostedConfig())

			Convey("Then the artifact separates the subjects", func() {
				So(err, ShouldBeNil)
				So(a.Boosted, ShouldNotBeNil)
				So(a.MaxEnt, ShouldBeNil)
				So(len(a.Labels), ShouldEqual, 3)
				So(trainingAccuracy(a, samples), ShouldBeGreaterThan, 0.9)
			})

			Convey("Then the artifact freezes the schema version", func() {
				So(err, ShouldBeNil)
				So(a.SchemaVersion, ShouldEqual, feature.SchemaVersion)
				So(len(a.FeatureMins), ShouldEqual, feature.SlotCount)
			})
		})

		Convey("When fitting the maximum-entropy model", func() {
			a, err := classifier.Fit(samples, classifier.MaxEntConfig())

			Convey("Then the linear model also separates them", func() {
				So(err, ShouldBeNil)
				So(a.MaxEnt, ShouldNotBeNil)
				So(trainingAccuracy(a, samples), ShouldBeGreaterThan, 0.8)
			})
		})

		Convey("When the sample set is empty", func() {
			_, err := classifier.Fit(nil, classifier.DeepBoostedConfig())
			So(errors.Is(err, classifier.ErrFit), ShouldBeTrue)
		})

		Convey("When only one label is present", func() {
			solo := syntheticSamples(5, map[string][2]float64{"alice": {60, 110}})
			_, err := classifier.Fit(solo, classifier.DeepBoostedConfig())
			So(errors.Is(err, classifier.ErrFit), ShouldBeTrue)
		})
	})
}

func TestPredict(t *testing.T) {
	Convey("Given a fitted artifact", t, func() {
		samples := syntheticSamples(10, testProfiles)
		a, err := classifier.Fit(samples, classifier.DeepBoostedConfig())
		So(err, ShouldBeNil)

		Convey("When predicting a vector of the wrong width", func() {
			_, _, err := a.Predict(feature.Vector{Values: make([]float32, 3)})
			So(errors.Is(err, classifier.ErrSchemaMismatch), ShouldBeTrue)
		})

		Convey("When the artifact is nil", func() {
			var missing *classifier.Artifact
			_, _, err := missing.Predict(feature.NewVector("x"))
			So(errors.Is(err, classifier.ErrModelNotReady), ShouldBeTrue)
		})

		Convey("When predicting a known profile", func() {
			probe := feature.NewVector("")
			probe.Values[feature.SlotMeanDwell] = 62
			probe.Values[feature.SlotMeanFlight] = 112
			probe.Values[feature.SlotTypingSpeed] = 9
			probe.Values[feature.SlotDwellP50] = 61
			probe.Values[feature.SlotFlightP50] = 111

			labels, scores, err := a.Predict(probe)
			So(err, ShouldBeNil)
			So(len(labels), ShouldEqual, len(scores))

			best := 0
			for i := range scores {
				if scores[i] > scores[best] {
					best = i
				}
			}
			So(labels[best], ShouldEqual, "alice")
		})
	})
}

func TestArtifactCodec(t *testing.T) {
	Convey("Given a fitted artifact", t, func() {
		samples := syntheticSamples(8, testProfiles)
		a, err := classifier.Fit(samples, classifier.WideBoostedConfig())
		So(err, ShouldBeNil)

		Convey("When encoding and decoding", func() {
			data, err := a.Encode()
			So(err, ShouldBeNil)
			So(len(data), ShouldBeGreaterThan, 0)

			back, err := classifier.Decode(data)

			Convey("Then the round trip preserves labels and predictions", func() {
				So(err, ShouldBeNil)
				So(back.Labels, ShouldResemble, a.Labels)
				So(back.Algorithm, ShouldEqual, a.Algorithm)

				_, want, err := a.Predict(samples[0])
				So(err, ShouldBeNil)
				_, got, err := back.Predict(samples[0])
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, len(want))
				for i := range got {
					So(got[i], ShouldAlmostEqual, want[i], 1e-9)
				}
			})
		})

		Convey("When decoding an artifact from another schema version", func() {
			stale := *a
			stale.SchemaVersion = feature.SchemaVersion + 1
			data, err := stale.Encode()
			So(err, ShouldBeNil)

			_, err = classifier.Decode(data)
			So(errors.Is(err, classifier.ErrSchemaMismatch), ShouldBeTrue)
		})

		Convey("When saving and loading from disk", func() {
			path := filepath.Join(t.TempDir(), "model.bin")
			So(a.Save(path), ShouldBeNil)

			back, err := classifier.Load(path)
			So(err, ShouldBeNil)
			So(back.Labels, ShouldResemble, a.Labels)
		})

		Convey("When loading a missing file", func() {
			_, err := classifier.Load(filepath.Join(t.TempDir(), "absent.bin"))
			So(errors.Is(err, classifier.ErrModelNotReady), ShouldBeTrue)
		})
	})
}
