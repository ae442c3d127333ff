package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels a model call or submission that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels a failed model call or submission.
	OutcomeError = "error"
	// OutcomeSkipped labels a model with no loaded handle.
	OutcomeSkipped = "skipped"
)

var (
	modelPredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civic",
			Name:      "model_predictions_total",
			Help:      "Model prediction calls, partitioned by model label and outcome.",
		},
		[]string{"model", "outcome"},
	)

	fusionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civic",
			Name:      "model_fusion_fallbacks_total",
			Help:      "Unfused reloads triggered by a batch-norm/fusion prediction failure.",
		},
		[]string{"model"},
	)

	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civic",
			Name:      "detections_total",
			Help:      "Detections produced, partitioned by class name.",
		},
		[]string{"class"},
	)

	geocodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "civic",
			Name:      "geocode_failures_total",
			Help:      "Reverse geocoding lookups that fell back to the sentinel.",
		},
	)

	reportsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civic",
			Name:      "reports_submitted_total",
			Help:      "Report submissions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "civic",
			Name:      "pipeline_seconds",
			Help:      "Pipeline operation latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"operation"},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		modelPredictionsTotal,
		fusionFallbacksTotal,
		detectionsTotal,
		geocodeFailuresTotal,
		reportsSubmittedTotal,
		pipelineSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveModelPrediction(model, outcome string) {
	modelPredictionsTotal.WithLabelValues(model, outcome).Inc()
}

func ObserveFusionFallback(model string) {
	fusionFallbacksTotal.WithLabelValues(model).Inc()
}

func ObserveDetections(classes []string) {
	for _, c := range classes {
		detectionsTotal.WithLabelValues(c).Inc()
	}
}

func ObserveGeocodeFailure() {
	geocodeFailuresTotal.Inc()
}

func ObserveSubmission(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	reportsSubmittedTotal.WithLabelValues(label).Inc()
}

// ObserveDuration records how long operation took since start.
func ObserveDuration(operation string, start time.Time) {
	d := time.Since(start)
	if d < 0 {
		d = 0
	}
	pipelineSeconds.WithLabelValues(operation).Observe(d.Seconds())
}
