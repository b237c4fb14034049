package evidence_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/keyprint/keyprint/internal/domain/evidence"
	"github.com/keyprint/keyprint/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var subjects = []string{"alice", "bob", "carol", "dave"}

func evenSplit(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

func favoring(n, idx int, top float64) []float64 {
	out := make([]float64, n)
	rest := (1 - top) / float64(n-1)
	for i := range out {
		out[i] = rest
	}
	out[idx] = top
	return out
}

func TestAddEvidence(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fresh accumulator", t, func() {
		a := evidence.New()

		Convey("When the first sample arrives", func() {
			v := a.AddEvidence(ctx, "s1", subjects, favoring(4, 0, 0.7))

			Convey("Then the belief copies the sample", func() {
				So(v.Label, ShouldEqual, "alice")
				So(v.SampleCount, ShouldEqual, 1)
				So(v.Survivors, ShouldEqual, 4)
			})
		})

		Convey("When consistent evidence accumulates", func() {
			var v evidence.Verdict
			for i := 0; i < 6; i++ {
				v = a.AddEvidence(ctx, "s1", subjects, favoring(4, 1, 0.91))
			}

			Convey("Then confidence grows and weak subjects drop out", func() {
				So(v.Label, ShouldEqual, "bob")
				So(v.SampleCount, ShouldEqual, 6)
				So(v.Confidence, ShouldBeGreaterThan, 0.8)
				So(v.Survivors, ShouldBeLessThan, 4)
			})
		})

		Convey("When evidence conflicts", func() {
			a.AddEvidence(ctx, "s1", subjects, favoring(4, 0, 0.6))
			v := a.AddEvidence(ctx, "s1", subjects, favoring(4, 1, 0.6))

			Convey("Then the verdict stays below certainty", func() {
				So(v.SampleCount, ShouldEqual, 2)
				So(v.Confidence, ShouldBeLessThan, 0.9)
				So(v.Survivors, ShouldEqual, 4)
			})
		})

		Convey("When the input is empty", func() {
			v := a.AddEvidence(ctx, "s1", nil, nil)
			So(v.Label, ShouldEqual, evidence.UnknownLabel)
		})

		Convey("When sessions are independent", func() {
			a.AddEvidence(ctx, "s1", subjects, favoring(4, 0, 0.9))
			v := a.AddEvidence(ctx, "s2", subjects, favoring(4, 2, 0.9))

			Convey("Then each session keeps its own belief", func() {
				So(v.Label, ShouldEqual, "carol")
				So(v.SampleCount, ShouldEqual, 1)
				So(a.ActiveSessions(), ShouldEqual, 2)
			})
		})

		Convey("When the label dimension changes mid-session", func() {
			a.AddEvidence(ctx, "s1", subjects, favoring(4, 0, 0.9))
			v := a.AddEvidence(ctx, "s1", subjects[:2], favoring(2, 1, 0.9))

			Convey("Then the belief restarts under the new label set", func() {
				So(v.SampleCount, ShouldEqual, 1)
				So(v.Label, ShouldEqual, "bob")
				So(v.Survivors, ShouldEqual, 2)
			})
		})
	})
}

func TestElimination(t *testing.T) {
	ctx := context.Background()

	Convey("Given an accumulator with the default schedule", t, func() {
		a := evidence.New()

		Convey("When only two samples have arrived", func() {
			a.AddEvidence(ctx, "s1", subjects, favoring(4, 0, 0.97))
			v := a.AddEvidence(ctx, "s1", subjects, favoring(4, 0, 0.97))

			Convey("Then nobody is eliminated yet", func() {
				So(v.Survivors, ShouldEqual, 4)
			})
		})

		Convey("When the third consistent sample arrives", func() {
			var v evidence.Verdict
			for i := 0; i < 3; i++ {
				v = a.AddEvidence(ctx, "s1", subjects, favoring(4, 0, 0.97))
			}

			Convey("Then weak subjects fall below the base threshold", func() {
				So(v.Survivors, ShouldBeLessThan, 4)
				So(v.Label, ShouldEqual, "alice")
			})
		})

		Convey("When evidence stays uniform", func() {
			var v evidence.Verdict
			for i := 0; i < 12; i++ {
				v = a.AddEvidence(ctx, "s1", subjects, evenSplit(4))
			}

			Convey("Then everyone survives a threshold they all clear", func() {
				So(v.Survivors, ShouldEqual, 4)
			})
		})

		Convey("Then at least one subject always survives", func() {
			var v evidence.Verdict
			for i := 0; i < 30; i++ {
				v = a.AddEvidence(ctx, "s1", subjects, favoring(4, 3, 0.99))
			}
			So(v.Survivors, ShouldBeGreaterThanOrEqualTo, 1)
			So(v.Label, ShouldEqual, "dave")
		})
	})
}

func TestThresholdSchedule(t *testing.T) {
	Convey("Given the default elimination schedule", t, func() {
		a := evidence.New()

		Convey("Then the threshold is zero before the start count", func() {
			So(a.Threshold(0), ShouldEqual, 0)
			So(a.Threshold(2), ShouldEqual, 0)
		})

		Convey("Then the base threshold applies from three to nine samples", func() {
			So(a.Threshold(3), ShouldAlmostEqual, 0.05, 1e-9)
			So(a.Threshold(9), ShouldAlmostEqual, 0.05, 1e-9)
		})

		Convey("Then it steps every five samples from ten", func() {
			So(a.Threshold(10), ShouldAlmostEqual, 0.10, 1e-9)
			So(a.Threshold(14), ShouldAlmostEqual, 0.10, 1e-9)
			So(a.Threshold(15), ShouldAlmostEqual, 0.15, 1e-9)
		})

		Convey("Then it never exceeds the cap", func() {
			So(a.Threshold(500), ShouldAlmostEqual, 0.50, 1e-9)
		})

		Convey("Then it is monotonically non-decreasing", func() {
			prev := 0.0
			for n := 0; n < 100; n++ {
				cur := a.Threshold(n)
				So(cur, ShouldBeGreaterThanOrEqualTo, prev)
				prev = cur
			}
		})

		Convey("When a custom schedule is configured", func() {
			b := evidence.New(evidence.WithEliminationSchedule(0.10, 0.10, 0.30))
			So(b.Threshold(3), ShouldAlmostEqual, 0.10, 1e-9)
			So(b.Threshold(10), ShouldAlmostEqual, 0.20, 1e-9)
			So(b.Threshold(100), ShouldAlmostEqual, 0.30, 1e-9)
		})
	})
}

func TestSessionTTL(t *testing.T) {
	ctx := context.Background()

	Convey("Given an accumulator with a very short TTL", t, func() {
		a := evidence.New(evidence.WithTTL(30 * time.Millisecond))

		Convey("When a session goes idle past the TTL", func() {
			for i := 0; i < 5; i++ {
				a.AddEvidence(ctx, "s1", subjects, favoring(4, 0, 0.9))
			}
			time.Sleep(60 * time.Millisecond)
			v := a.AddEvidence(ctx, "s1", subjects, favoring(4, 1, 0.9))

			Convey("Then the belief restarts from scratch", func() {
				So(v.SampleCount, ShouldEqual, 1)
				So(v.Label, ShouldEqual, "bob")
				So(v.Survivors, ShouldEqual, 4)
			})
		})
	})
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()

	Convey("Given many goroutines feeding distinct sessions", t, func() {
		a := evidence.New()

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				id := fmt.Sprintf("s%d", g)
				for i := 0; i < 50; i++ {
					a.AddEvidence(ctx, id, subjects, favoring(4, g%4, 0.8))
				}
			}(g)
		}
		wg.Wait()

		Convey("Then every session reaches its own stable verdict", func() {
			So(a.ActiveSessions(), ShouldEqual, 8)
			v := a.AddEvidence(ctx, "s0", subjects, favoring(4, 0, 0.8))
			So(v.Label, ShouldEqual, "alice")
			So(v.SampleCount, ShouldEqual, 51)
		})
	})
}
