package calibrate_test

import (
	"math"
	"testing"

	"github.com/keyprint/keyprint/internal/domain/calibrate"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSoftmax(t *testing.T) {
	Convey("Given raw score vectors", t, func() {
		Convey("When applying softmax at temperature 1", func() {
			probs := calibrate.Softmax([]float64{2, 1, 0}, 1.0)

			Convey("Then probabilities sum to 1 and preserve order", func() {
				sum := 0.0
				for _, p := range probs {
					sum += p
				}
				So(sum, ShouldAlmostEqual, 1.0, 1e-9)
				So(probs[0], ShouldBeGreaterThan, probs[1])
				So(probs[1], ShouldBeGreaterThan, probs[2])
			})
		})

		Convey("When scores are large", func() {
			probs := calibrate.Softmax([]float64{1e6, 1e6 - 1}, 1.0)

			Convey("Then max-subtraction keeps the result finite", func() {
				So(math.IsNaN(probs[0]), ShouldBeFalse)
				So(probs[0]+probs[1], ShouldAlmostEqual, 1.0, 1e-9)
			})
		})

		Convey("When the temperature is raised", func() {
			sharp := calibrate.Softmax([]float64{2, 0}, 0.5)
			flat := calibrate.Softmax([]float64{2, 0}, 4.0)

			Convey("Then higher temperature flattens the distribution", func() {
				So(flat[0], ShouldBeLessThan, sharp[0])
				So(flat[0], ShouldBeGreaterThan, 0.5)
			})
		})

		Convey("When scores are identical", func() {
			probs := calibrate.Softmax([]float64{3, 3, 3, 3}, 1.0)

			Convey("Then the distribution is uniform", func() {
				for _, p := range probs {
					So(p, ShouldAlmostEqual, 0.25, 1e-9)
				}
			})
		})

		Convey("When the input is empty", func() {
			So(calibrate.Softmax(nil, 1.0), ShouldBeNil)
		})
	})
}

func TestQualitySignals(t *testing.T) {
	Convey("Given probability distributions", t, func() {
		Convey("When the distribution is uniform", func() {
			So(calibrate.NormalizedEntropy([]float64{0.25, 0.25, 0.25, 0.25}), ShouldAlmostEqual, 1.0, 1e-9)
		})

		Convey("When one class dominates", func() {
			So(calibrate.NormalizedEntropy([]float64{1, 0, 0}), ShouldAlmostEqual, 0, 1e-9)
		})

		Convey("When there is a single class", func() {
			So(calibrate.NormalizedEntropy([]float64{1}), ShouldEqual, 0)
		})

		Convey("When computing the top-two margin", func() {
			So(calibrate.TopTwoMargin([]float64{0.7, 0.2, 0.1}), ShouldAlmostEqual, 0.5, 1e-9)
			So(calibrate.TopTwoMargin([]float64{0.5, 0.5}), ShouldAlmostEqual, 0, 1e-9)
		})

		Convey("When fewer than two probabilities exist", func() {
			So(calibrate.TopTwoMargin([]float64{1}), ShouldEqual, 1)
		})
	})
}

func TestCalibrate(t *testing.T) {
	Convey("Given a calibrator", t, func() {
		labels := []string{"alice", "bob", "carol"}

		Convey("When the signal is clean", func() {
			c := calibrate.New()
			p := c.Calibrate(labels, []float64{6, 0, 0})

			Convey("Then the top label wins with high adjusted confidence", func() {
				So(p.PredictedLabel, ShouldEqual, "alice")
				So(p.Entropy, ShouldBeLessThan, 0.30)
				So(p.TopTwoMargin, ShouldBeGreaterThan, 0.40)
				So(p.AdjustedConfidence, ShouldBeGreaterThan, float64(p.Probabilities[0])-1e-9)
				So(p.AdjustedConfidence, ShouldBeLessThanOrEqualTo, 1)
			})
		})

		Convey("When the distribution is nearly uniform", func() {
			c := calibrate.New()
			p := c.Calibrate(labels, []float64{0.02, 0.01, 0})

			Convey("Then high entropy and a narrow margin both penalize", func() {
				top := float64(p.Probabilities[0])
				So(p.Entropy, ShouldBeGreaterThan, 0.70)
				So(p.TopTwoMargin, ShouldBeLessThan, 0.10)
				So(p.AdjustedConfidence, ShouldAlmostEqual, top*0.85*0.80, 1e-6)
			})
		})

		Convey("When a custom temperature is configured", func() {
			c := calibrate.New(calibrate.WithTemperature(4.0))
			p := c.Calibrate(labels, []float64{2, 0, 0})
			base := calibrate.New().Calibrate(labels, []float64{2, 0, 0})

			Convey("Then the distribution is flatter than at temperature 1", func() {
				So(float64(p.Probabilities[0]), ShouldBeLessThan, float64(base.Probabilities[0]))
			})
		})

		Convey("When labels and probabilities align by index", func() {
			c := calibrate.New()
			p := c.Calibrate(labels, []float64{0, 5, 0})

			Convey("Then index i is subject labels[i]", func() {
				So(p.PredictedLabel, ShouldEqual, "bob")
				So(p.Probabilities[1], ShouldBeGreaterThan, p.Probabilities[0])
				So(p.Labels, ShouldResemble, labels)
			})
		})

		Convey("When calibrating an empty score vector", func() {
			c := calibrate.New()
			p := c.Calibrate(nil, nil)
			So(p.PredictedLabel, ShouldEqual, "")
			So(p.Probabilities, ShouldBeEmpty)
		})
	})
}
