package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	api "github.com/avalem/pricewatch/internal/adapters/http/api"
	service "github.com/avalem/pricewatch/internal/app"
	"github.com/avalem/pricewatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeService scripts the orchestrator surface the handlers depend on.
type fakeService struct {
	triggerRun model.CycleRun
	triggerErr error
	statusRun  model.CycleRun
	statusErr  error
	running    bool
}

func (f *fakeService) Trigger(ctx context.Context) (model.CycleRun, error) {
	return f.triggerRun, f.triggerErr
}

func (f *fakeService) Status(ctx context.Context) (model.CycleRun, error) {
	return f.statusRun, f.statusErr
}

func (f *fakeService) Running() bool { return f.running }

func (f *fakeService) GetStats() map[string]interface{} {
	return map[string]interface{}{"running": f.running, "workerCount": 8}
}

func newTestServer(svc *fakeService) *httptest.Server {
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func TestMonitorEndpoints(t *testing.T) {
	Convey("Given the monitor API", t, func() {
		Convey("When POSTing /monitor/run and the trigger is accepted", func() {
			svc := &fakeService{triggerRun: model.CycleRun{ID: "run-1", Status: model.CycleRunning}}
			srv := newTestServer(svc)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/monitor/run", "application/json", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the cycle is acknowledged with 202", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)

				var body struct {
					CycleID string `json:"cycle_id"`
					Status  string `json:"status"`
				}
				So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
				So(body.CycleID, ShouldEqual, "run-1")
				So(body.Status, ShouldEqual, "running")
			})
		})

		Convey("When POSTing /monitor/run while a cycle is in flight", func() {
			svc := &fakeService{triggerErr: service.ErrAlreadyRunning, running: true}
			srv := newTestServer(svc)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/monitor/run", "application/json", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the request is rejected with 409", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusConflict)

				var body struct {
					Code string `json:"code"`
				}
				So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
				So(body.Code, ShouldEqual, "already_running")
			})
		})

		Convey("When POSTing /monitor/run and storage is down", func() {
			svc := &fakeService{triggerErr: service.ErrStorageUnavailable}
			srv := newTestServer(svc)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/monitor/run", "application/json", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the request fails with 503", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When GETting /monitor/run", func() {
			srv := newTestServer(&fakeService{})
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/monitor/run")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the method is not routed", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When GETting /monitor/status with a finished run", func() {
			finished := model.CycleRun{
				ID:         "run-9",
				StartedAt:  time.Now().Add(-time.Minute),
				FinishedAt: time.Now(),
				Status:     model.CycleCompleted,
				Counts:     model.CycleCounts{ProductsChecked: 12, EventsRaised: 3},
			}
			srv := newTestServer(&fakeService{statusRun: finished})
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/monitor/status")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the run is returned as JSON", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)

				var body model.CycleRun
				So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
				So(body.ID, ShouldEqual, "run-9")
				So(body.Status, ShouldEqual, model.CycleCompleted)
				So(body.Counts.ProductsChecked, ShouldEqual, 12)
			})
		})

		Convey("When GETting /monitor/status before any run", func() {
			srv := newTestServer(&fakeService{statusErr: service.ErrNoCycles})
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/monitor/status")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then 404 reports that no cycle exists yet", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestHealthAndStats(t *testing.T) {
	Convey("Given the service endpoints", t, func() {
		srv := newTestServer(&fakeService{running: true})
		defer srv.Close()

		Convey("When GETting /healthz", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the service reports ok", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)

				var body map[string]string
				So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
				So(body["status"], ShouldEqual, "ok")
			})
		})

		Convey("When GETting /stats", func() {
			resp, err := http.Get(srv.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the service stats are returned", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)

				var body map[string]interface{}
				So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
				So(body["running"], ShouldEqual, true)
			})
		})
	})
}
