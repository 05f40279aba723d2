// Package metrics provides Prometheus metrics for the recognition pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics of the attendance backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecognitionTotal    *prometheus.CounterVec
	RecognitionDuration *prometheus.HistogramVec
	EnrollmentTotal     *prometheus.CounterVec
	DetectionCandidates *prometheus.HistogramVec

	TrainingTotal    *prometheus.CounterVec
	TrainingDuration prometheus.Histogram

	// Current state gauges
	ModelSamplesGauge prometheus.Gauge
	ModelVersionGauge prometheus.Gauge
	ModelReadyGauge   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the metrics and registers them on registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register attendance metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.RecognitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_recognitions_total",
			Help: "Recognition requests partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.RecognitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attendance_recognition_duration_seconds",
			Help:    "Time taken to process a recognition request",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		},
		[]string{"outcome"},
	)
	m.EnrollmentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_enrollments_total",
			Help: "Enrollment requests partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.DetectionCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attendance_detection_candidates",
			Help:    "Number of deduplicated face candidates per located frame",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"path"},
	)
	m.TrainingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_classifier_trainings_total",
			Help: "Classifier rebuilds partitioned by status.",
		},
		[]string{"status"},
	)
	m.TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attendance_classifier_training_duration_seconds",
			Help:    "Time taken for a full classifier rebuild",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
	m.ModelSamplesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attendance_classifier_samples",
			Help: "Number of templates in the published classifier",
		},
	)
	m.ModelVersionGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attendance_classifier_version",
			Help: "Version of the published classifier",
		},
	)
	m.ModelReadyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attendance_classifier_ready",
			Help: "Whether a trained classifier is published (1) or not (0)",
		},
	)
}

// RecordRecognition counts a finished recognition request.
func (m *Metrics) RecordRecognition(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RecognitionTotal.WithLabelValues(outcome).Inc()
	m.RecognitionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordEnrollment counts a finished enrollment request.
func (m *Metrics) RecordEnrollment(outcome string) {
	if m == nil {
		return
	}
	m.EnrollmentTotal.WithLabelValues(outcome).Inc()
}

// ObserveCandidates records how many faces a locate pass returned.
func (m *Metrics) ObserveCandidates(path string, n int) {
	if m == nil {
		return
	}
	m.DetectionCandidates.WithLabelValues(path).Observe(float64(n))
}

// RecordTraining records a rebuild attempt. samples and version describe the
// published model and are ignored on failure.
func (m *Metrics) RecordTraining(d time.Duration, samples int, version uint64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.TrainingTotal.WithLabelValues("error").Inc()
		return
	}
	m.TrainingTotal.WithLabelValues("success").Inc()
	m.TrainingDuration.Observe(d.Seconds())
	m.ModelSamplesGauge.Set(float64(samples))
	m.ModelVersionGauge.Set(float64(version))
	if samples > 0 {
		m.ModelReadyGauge.Set(1)
	} else {
		m.ModelReadyGauge.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.RecognitionTotal.Describe(ch)
	m.RecognitionDuration.Describe(ch)
	m.EnrollmentTotal.Describe(ch)
	m.DetectionCandidates.Describe(ch)
	m.TrainingTotal.Describe(ch)
	ch <- m.TrainingDuration.Desc()
	ch <- m.ModelSamplesGauge.Desc()
	ch <- m.ModelVersionGauge.Desc()
	ch <- m.ModelReadyGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.RecognitionTotal.Collect(ch)
	m.RecognitionDuration.Collect(ch)
	m.EnrollmentTotal.Collect(ch)
	m.DetectionCandidates.Collect(ch)
	m.TrainingTotal.Collect(ch)
	ch <- m.TrainingDuration
	ch <- m.ModelSamplesGauge
	ch <- m.ModelVersionGauge
	ch <- m.ModelReadyGauge
}
