package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keyprint/keyprint/internal/adapters/http/api"
	"github.com/keyprint/keyprint/internal/app"
	"github.com/keyprint/keyprint/internal/domain/event"
	"github.com/keyprint/keyprint/internal/domain/feature"
	"github.com/keyprint/keyprint/internal/training"
	. "github.com/smartystreets/goconvey/convey"
)

// stubService records calls and returns canned results.
type stubService struct {
	submitted    []string
	submitErr    error
	identify     app.IdentifyResult
	identifyErr  error
	trainRecord  *training.Metrics
	trainErr     error
	lastEvents   []event.Keystroke
	lastSession  string
	lastPlatform string
}

func (s *stubService) SubmitLabeled(ctx context.Context, subject, platform string, events []event.Keystroke) error {
	s.submitted = append(s.submitted, subject)
	s.lastPlatform = platform
	s.lastEvents = events
	return s.submitErr
}

func (s *stubService) Identify(ctx context.Context, sessionID string, events []event.Keystroke) (app.IdentifyResult, error) {
	s.lastSession = sessionID
	s.lastEvents = events
	if s.identifyErr != nil {
		return app.IdentifyResult{}, s.identifyErr
	}
	out := s.identify
	if out.SessionID == "" {
		out.SessionID = sessionID
	}
	return out, nil
}

func (s *stubService) Train(ctx context.Context) (*training.Metrics, error) {
	return s.trainRecord, s.trainErr
}

func (s *stubService) GetStats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"modelReady": true, "knownSubjects": 2}
}

func newTestServer(stub *stubService) *http.ServeMux {
	mux := http.NewServeMux()
	srv := api.NewServer(stub, stub, map[string]string{"tok-alice": "alice"})
	srv.Register(context.Background(), mux)
	return mux
}

func postJSON(mux *http.ServeMux, path, token string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func someEvents(n int) []event.Keystroke {
	var out []event.Keystroke
	for i := 0; i < n; i++ {
		out = append(out, event.Keystroke{Key: "a", Timestamp: int64(i * 100), Type: event.KeyDown})
	}
	return out
}

func TestSessionEndpoint(t *testing.T) {
	Convey("Given the session endpoint", t, func() {
		stub := &stubService{}
		mux := newTestServer(stub)

		Convey("When posting with a valid token", func() {
			rec := postJSON(mux, "/api/profiler/session", "tok-alice",
				map[string]any{"platform": "web", "events": someEvents(3)})

			Convey("Then the session lands under the token's subject", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(stub.submitted, ShouldResemble, []string{"alice"})
				So(stub.lastPlatform, ShouldEqual, "web")
				So(len(stub.lastEvents), ShouldEqual, 3)

				var resp map[string]any
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["message"], ShouldNotBeEmpty)
			})
		})

		Convey("When posting without a token", func() {
			rec := postJSON(mux, "/api/profiler/session", "",
				map[string]any{"events": someEvents(3)})

			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(stub.submitted, ShouldBeEmpty)
		})

		Convey("When posting with an unknown token", func() {
			rec := postJSON(mux, "/api/profiler/session", "tok-mallory",
				map[string]any{"events": someEvents(3)})

			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When posting without events", func() {
			rec := postJSON(mux, "/api/profiler/session", "tok-alice", map[string]any{"platform": "web"})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When posting malformed JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/profiler/session", bytes.NewReader([]byte("{")))
			req.Header.Set("Authorization", "Bearer tok-alice")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When using GET", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/profiler/session", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestIdentifyEndpoint(t *testing.T) {
	Convey("Given the identify endpoint", t, func() {
		stub := &stubService{
			identify: app.IdentifyResult{
				User:        "alice",
				Confidence:  0.87,
				SampleCount: 4,
				Status:      app.StatusAuthenticated,
				SessionID:   "sess-1",
			},
		}
		mux := newTestServer(stub)

		Convey("When posting a verdict-producing batch", func() {
			rec := postJSON(mux, "/api/profiler/identify", "",
				map[string]any{"sessionId": "sess-1", "events": someEvents(6)})

			Convey("Then the verdict is returned with percentage confidence", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["user"], ShouldEqual, "alice")
				So(resp["confidence"], ShouldAlmostEqual, 87.0, 1e-6)
				So(resp["status"], ShouldEqual, "Authenticated")
				So(resp["sessionId"], ShouldEqual, "sess-1")
				So(stub.lastSession, ShouldEqual, "sess-1")
			})
		})

		Convey("When the batch is too small", func() {
			stub.identifyErr = fmt.Errorf("%w: 2 events, need 5", feature.ErrInsufficientInput)
			rec := postJSON(mux, "/api/profiler/identify", "",
				map[string]any{"events": someEvents(2)})

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the model is not trained", func() {
			stub.identify = app.IdentifyResult{
				User: "Unknown", Status: app.StatusError, SessionID: "sess-2",
			}
			rec := postJSON(mux, "/api/profiler/identify", "",
				map[string]any{"sessionId": "sess-2", "events": someEvents(6)})

			Convey("Then the response is benign, not an HTTP failure", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["status"], ShouldEqual, "Error")
				So(resp["user"], ShouldEqual, "Unknown")
				So(resp["message"], ShouldEqual, "model not trained")
			})
		})
	})
}

func TestTrainEndpoint(t *testing.T) {
	Convey("Given the train endpoint", t, func() {
		Convey("When training succeeds", func() {
			stub := &stubService{trainRecord: &training.Metrics{
				MicroAccuracy: 0.9, UniqueLabels: 2, Algorithm: "boosted_trees",
			}}
			mux := newTestServer(stub)
			rec := postJSON(mux, "/api/profiler/train", "", nil)

			Convey("Then the metrics record is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp training.Metrics
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.UniqueLabels, ShouldEqual, 2)
				So(resp.Algorithm, ShouldEqual, "boosted_trees")
			})
		})

		Convey("When there is not enough data", func() {
			stub := &stubService{trainErr: fmt.Errorf("%w: 1 valid vectors, need 5", training.ErrInsufficientData)}
			mux := newTestServer(stub)
			rec := postJSON(mux, "/api/profiler/train", "", nil)

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When training fails outright", func() {
			stub := &stubService{trainErr: fmt.Errorf("disk full")}
			mux := newTestServer(stub)
			rec := postJSON(mux, "/api/profiler/train", "", nil)

			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestObservabilityEndpoints(t *testing.T) {
	Convey("Given the observability endpoints", t, func() {
		mux := newTestServer(&stubService{})

		Convey("When requesting health", func() {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			So(rec.Code, ShouldEqual, http.StatusOK)
			var resp map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp["status"], ShouldEqual, "ok")
			So(resp["modelReady"], ShouldEqual, true)
		})

		Convey("When requesting stats", func() {
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			So(rec.Code, ShouldEqual, http.StatusOK)
			var resp map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp["knownSubjects"], ShouldEqual, 2)
		})

		Convey("When requesting metrics", func() {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "keyprint")
		})
	})
}
