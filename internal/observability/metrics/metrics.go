// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_transcription"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	RunDuration     prometheus.Histogram

	// Recognition stream metrics
	StreamAttempts prometheus.Counter
	StreamErrors   *prometheus.CounterVec

	// Segment metrics
	SegmentsAccepted     prometheus.Counter
	SegmentsDeduplicated prometheus.Counter
	PersistErrors        *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter

	// Pipeline metrics
	QuestionsDetected prometheus.Counter
	PipelineJobs      *prometheus.CounterVec
	PipelineDropped   *prometheus.CounterVec
	LLMCalls          *prometheus.CounterVec
	LLMLatency        *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// HTTP control surface metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of streaming runs started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently streaming sessions",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of streaming runs in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),

		StreamAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_attempts_total",
			Help:      "Total number of recognition streams opened",
		}),
		StreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total number of recognition stream failures",
		}, []string{"reason"}),

		SegmentsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_accepted_total",
			Help:      "Total number of transcript segments accepted",
		}),
		SegmentsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_deduplicated_total",
			Help:      "Total number of final results discarded as repeats",
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Total number of durable storage write failures",
		}, []string{"artifact"}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes forwarded to recognition",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames forwarded to recognition",
		}),

		QuestionsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_detected_total",
			Help:      "Total number of questions detected in segments",
		}),
		PipelineJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_jobs_total",
			Help:      "Total number of derived artifact jobs processed",
		}, []string{"kind", "status"}),
		PipelineDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_jobs_dropped_total",
			Help:      "Total number of derived artifact jobs dropped on a full queue",
		}, []string{"kind"}),
		LLMCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of language service calls",
		}, []string{"task", "status"}),
		LLMLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Language service call latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"task"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of control surface HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control surface HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordRunStart records a streaming run starting.
func (m *Metrics) RecordRunStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordRunEnd records a streaming run ending.
func (m *Metrics) RecordRunEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.RunDuration.Observe(durationSeconds)
}

// RecordStreamAttempt records a recognition stream being opened.
func (m *Metrics) RecordStreamAttempt() {
	m.StreamAttempts.Inc()
}

// RecordStreamError records a recognition stream failure.
func (m *Metrics) RecordStreamError(reason string) {
	m.StreamErrors.WithLabelValues(reason).Inc()
}

// RecordSegmentAccepted records an accepted segment.
func (m *Metrics) RecordSegmentAccepted() {
	m.SegmentsAccepted.Inc()
}

// RecordSegmentDeduplicated records a final result discarded as a repeat.
func (m *Metrics) RecordSegmentDeduplicated() {
	m.SegmentsDeduplicated.Inc()
}

// RecordPersistError records a failed durable write.
func (m *Metrics) RecordPersistError(artifact string) {
	m.PersistErrors.WithLabelValues(artifact).Inc()
}

// RecordAudioReceived records audio bytes and frames forwarded.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordQuestionDetected records a detected question.
func (m *Metrics) RecordQuestionDetected() {
	m.QuestionsDetected.Inc()
}

// RecordPipelineJob records a processed pipeline job.
func (m *Metrics) RecordPipelineJob(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PipelineJobs.WithLabelValues(kind, status).Inc()
}

// RecordPipelineDropped records a pipeline job dropped on a full queue.
func (m *Metrics) RecordPipelineDropped(kind string) {
	m.PipelineDropped.WithLabelValues(kind).Inc()
}

// RecordLLMCall records a language service call.
func (m *Metrics) RecordLLMCall(task string, err error, latencySeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LLMCalls.WithLabelValues(task, status).Inc()
	m.LLMLatency.WithLabelValues(task).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordHTTPRequest records a control surface request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(latencySeconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
