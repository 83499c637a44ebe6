package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		Convey("When creating options", func() {
			namespaceOpt := WithNamespace("test-namespace")
			subsystemOpt := WithSubsystem("test-subsystem")
			histogramBucketsOpt := WithHistogramBuckets([]float64{0.1, 0.5, 1.0})
			metricsEnabledOpt := WithMetricsEnabled(true)
			refreshIntervalOpt := WithRefreshInterval(5 * time.Second)

			Convey("Then they should be valid functions", func() {
				So(namespaceOpt, ShouldNotBeNil)
				So(subsystemOpt, ShouldNotBeNil)
				So(histogramBucketsOpt, ShouldNotBeNil)
				So(metricsEnabledOpt, ShouldNotBeNil)
				So(refreshIntervalOpt, ShouldNotBeNil)
			})
		})
	})
}

func TestManagerCreation(t *testing.T) {
	Convey("Given manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test-namespace"),
				WithSubsystem("test-subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given metrics recording", t, func() {
		Convey("When recording cycle metrics", func() {
			Convey("Then it should record without panicking", func() {
				So(func() {
					RecordCycleStarted()
					RecordCycleRejected()
					RecordCycleFinished("completed", 1500*time.Millisecond)
				}, ShouldNotPanic)
			})
		})

		Convey("When recording fetch metrics", func() {
			Convey("Then it should record without panicking", func() {
				So(func() {
					RecordFetch("amazon")
					RecordFetchFailure("amazon", "timeout")
					RecordFetchLatency(125)
				}, ShouldNotPanic)
			})
		})

		Convey("When recording detection metrics", func() {
			Convey("Then it should record without panicking", func() {
				So(func() {
					RecordPriceEvent("drop")
					RecordPriceEvent("rise")
					RecordBaselineReplacement()
				}, ShouldNotPanic)
			})
		})

		Convey("When recording dispatch metrics", func() {
			Convey("Then it should record without panicking", func() {
				So(func() {
					RecordNotificationSent()
					RecordNotificationFailed()
					RecordNotificationDuplicate()
					RecordSendRetry()
					RecordSendLatency(42)
				}, ShouldNotPanic)
			})
		})

		Convey("When updating queue and worker gauges", func() {
			Convey("Then it should update without panicking", func() {
				So(func() {
					UpdateQueueCapacity(1024)
					UpdateQueueSize(10, 1024)
					RecordQueueEnqueueError()
					UpdateWorkerCount(8)
				}, ShouldNotPanic)
			})
		})

		Convey("When recording HTTP and system metrics", func() {
			Convey("Then it should record without panicking", func() {
				So(func() {
					RecordHTTPRequest("monitor_run", "POST", "202")
					RecordHTTPRequestDuration("monitor_run", "POST", "202", 3.5)
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(42)
				}, ShouldNotPanic)
			})
		})
	})
}

func TestHandler(t *testing.T) {
	Convey("Given the metrics handler", t, func() {
		Convey("When requesting the handler", func() {
			h := Handler()

			Convey("Then it should not be nil", func() {
				So(h, ShouldNotBeNil)
			})
		})
	})
}
