// Package metrics exposes process-wide Prometheus instrumentation for HTTP
// requests, job execution, upload throughput, and webhook ingest — grounded
// on the same prometheus/client_golang wiring used across the retrieval
// pack's NATS/gRPC services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates the counters and histograms emitted by the API,
// job runner, and event listener processes. All fields are safe for
// concurrent use (they are Prometheus collectors).
type Recorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	jobsProcessed *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsRedelivered *prometheus.CounterVec

	uploadsStarted   prometheus.Counter
	uploadsCompleted prometheus.Counter
	uploadBytes      prometheus.Counter

	webhookEvents  *prometheus.CounterVec
	webhookRejects prometheus.Counter

	videosByStatus *prometheus.GaugeVec
}

var defaultRecorder = New(prometheus.DefaultRegisterer)

// Default returns the process-wide Recorder registered against the default
// Prometheus registry.
func Default() *Recorder { return defaultRecorder }

// New constructs a Recorder registering its collectors against reg. Passing
// a fresh prometheus.NewRegistry() is useful in tests to avoid collisions
// with the default registry.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmhand_http_requests_total",
			Help: "Total HTTP requests handled, by method/path/status.",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmhand_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmhand_jobs_processed_total",
			Help: "Total job messages processed, by subject/outcome.",
		}, []string{"subject", "outcome"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmhand_job_duration_seconds",
			Help:    "Job processing duration in seconds, by subject.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"subject"}),
		jobsRedelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmhand_jobs_redelivered_total",
			Help: "Total job redeliveries, by subject.",
		}, []string{"subject"}),
		uploadsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmhand_uploads_started_total",
			Help: "Total multipart uploads initiated.",
		}),
		uploadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmhand_uploads_completed_total",
			Help: "Total multipart uploads finalized.",
		}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmhand_upload_bytes_total",
			Help: "Total bytes accepted via the legacy chunked upload path.",
		}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmhand_webhook_events_total",
			Help: "Total webhook notifications received, by message type.",
		}, []string{"message_type"}),
		webhookRejects: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmhand_webhook_signature_rejects_total",
			Help: "Total webhook deliveries rejected for signature mismatch.",
		}),
		videosByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmhand_videos_by_status",
			Help: "Current count of videos by processing_status.",
		}, []string{"status"}),
	}
}

// Handler returns the HTTP handler that exposes metrics in the Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (r *Recorder) ObserveRequest(method, path, status string, seconds float64) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(method, path, status).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(seconds)
}

func (r *Recorder) ObserveJob(subject, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.jobsProcessed.WithLabelValues(subject, outcome).Inc()
	r.jobDuration.WithLabelValues(subject).Observe(seconds)
}

func (r *Recorder) RecordRedelivery(subject string) {
	if r == nil {
		return
	}
	r.jobsRedelivered.WithLabelValues(subject).Inc()
}

func (r *Recorder) RecordUploadStarted() {
	if r == nil {
		return
	}
	r.uploadsStarted.Inc()
}

func (r *Recorder) RecordUploadCompleted() {
	if r == nil {
		return
	}
	r.uploadsCompleted.Inc()
}

func (r *Recorder) RecordUploadBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.uploadBytes.Add(float64(n))
}

func (r *Recorder) RecordWebhookEvent(messageType string) {
	if r == nil {
		return
	}
	r.webhookEvents.WithLabelValues(messageType).Inc()
}

func (r *Recorder) RecordWebhookReject() {
	if r == nil {
		return
	}
	r.webhookRejects.Inc()
}

func (r *Recorder) SetVideosByStatus(status string, count float64) {
	if r == nil {
		return
	}
	r.videosByStatus.WithLabelValues(status).Set(count)
}
