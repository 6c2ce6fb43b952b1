package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with custom options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the namespace", func() {
				manager.calculations.WithLabelValues(OutcomeSuccess).Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := make(map[string]bool, len(families))
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_calculations_total"], ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording calculations", func() {
			before := testutil.ToFloat64(globalManager.calculations.WithLabelValues(OutcomeSuccess))
			RecordCalculation(OutcomeSuccess, 12)
			RecordCalculation(OutcomeSuccess, 3)

			So(testutil.ToFloat64(globalManager.calculations.WithLabelValues(OutcomeSuccess)), ShouldEqual, before+2)
		})

		Convey("When recording a batch", func() {
			before := testutil.ToFloat64(globalManager.batchUsers.WithLabelValues("failed"))
			RecordBatch(8, 2, 1, 0.5)

			So(testutil.ToFloat64(globalManager.batchUsers.WithLabelValues("failed")), ShouldEqual, before+2)
		})

		Convey("When a worker goes busy and idle", func() {
			done := WorkerBusy()
			So(testutil.ToFloat64(globalManager.workerActive), ShouldEqual, 1)
			done()
			So(testutil.ToFloat64(globalManager.workerActive), ShouldEqual, 0)
		})

		Convey("When updating gauges and the remaining counters", func() {
			So(func() {
				RecordCalculationError("StoreUnavailable", "Fetching")
				RecordStageLatency("Blending", 0.2)
				RecordMomentumState("Rising")
				RecordHysteresisHold("NeedsCare")
				RecordEventsIgnored(3)
				RecordEventsIgnored(0)
				RecordConflictRetry()
				RecordStoreLatency("events_for_day", 1.5)
				UpdateQueueSize(4)
				UpdateQueueCapacity(128)
				RecordQueueEnqueue()
				RecordQueueRejected()
				RecordRecalculationDuplicate()
				UpdateWorkerCount(8)
				RecordWorkerJobLatency(7)
				RecordBackfillInserted(10)
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordHTTPRequestDuration("/healthz", "GET", "200", 0.4)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 4)
		})

		Convey("Then the registry gathers without error", func() {
			_, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
		})
	})
}
