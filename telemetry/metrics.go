// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsReceived      *prometheus.CounterVec // labels: listener
	EventsIgnored       *prometheus.CounterVec // labels: listener, reason
	PollErrors          *prometheus.CounterVec // labels: listener, class
	QueueRegistrations  *prometheus.CounterVec // labels: listener
	BlogsCreated        prometheus.Counter
	PostsPublished      prometheus.Counter
	BuildsFailed        prometheus.Counter
	DomainRejections    *prometheus.CounterVec // labels: reason
	AttachmentsFetched  prometheus.Counter
	AttachmentsSkipped  prometheus.Counter
	AttachmentsFailed   prometheus.Counter
	RepliesFailed       prometheus.Counter

	// Histograms (seconds)
	BuildDuration  prometheus.Observer
	HandleDuration prometheus.Observer

	// Gauges
	CursorGauge *prometheus.GaugeVec // labels: listener
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "blogbot_events_received_total", Help: "Events returned by the event queue, heartbeats excluded"}, []string{"listener"})
		EventsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{Name: "blogbot_events_ignored_total", Help: "Events dropped by the router"}, []string{"listener", "reason"})
		PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "blogbot_poll_errors_total", Help: "Failed event fetches by error class"}, []string{"listener", "class"})
		QueueRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "blogbot_queue_registrations_total", Help: "Event queue registrations (including re-registrations)"}, []string{"listener"})
		BlogsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "blogbot_blogs_created_total", Help: "Blogs registered"})
		PostsPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "blogbot_posts_published_total", Help: "Posts stored and built successfully"})
		BuildsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "blogbot_builds_failed_total", Help: "Site builds that exited non-zero or could not start"})
		DomainRejections = promauto.NewCounterVec(prometheus.CounterOpts{Name: "blogbot_domain_rejections_total", Help: "Events rejected with a user-facing domain error"}, []string{"reason"})
		AttachmentsFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "blogbot_attachments_fetched_total", Help: "Uploads downloaded"})
		AttachmentsSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "blogbot_attachments_skipped_total", Help: "Uploads already present locally"})
		AttachmentsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "blogbot_attachments_failed_total", Help: "Uploads that could not be fetched"})
		RepliesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "blogbot_replies_failed_total", Help: "Reply messages that could not be sent"})
		BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "blogbot_build_duration_seconds", Help: "Site build duration seconds", Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}})
		HandleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "blogbot_event_handle_duration_seconds", Help: "Time spent handling one routed event", Buckets: prometheus.DefBuckets})
		CursorGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "blogbot_event_cursor", Help: "Last event id seen per listener"}, []string{"listener"})
	})
}

// SetCursor records the current cursor of a listener.
func SetCursor(listener string, id int64) {
	if CursorGauge != nil {
		CursorGauge.WithLabelValues(listener).Set(float64(id))
	}
}

// IncQueueRegistration counts an event queue registration for a listener.
func IncQueueRegistration(listener string) {
	if QueueRegistrations != nil {
		QueueRegistrations.WithLabelValues(listener).Inc()
	}
}

// AddEventsReceived counts non-heartbeat events returned to a listener.
func AddEventsReceived(listener string, n int) {
	if EventsReceived != nil && n > 0 {
		EventsReceived.WithLabelValues(listener).Add(float64(n))
	}
}

// IncPollError counts a failed event fetch by error class.
func IncPollError(listener, class string) {
	if PollErrors != nil {
		PollErrors.WithLabelValues(listener, class).Inc()
	}
}

// IncIgnored counts an event dropped by the router.
func IncIgnored(listener, reason string) {
	if EventsIgnored != nil {
		EventsIgnored.WithLabelValues(listener, reason).Inc()
	}
}

// IncRejection counts a user-facing domain rejection.
func IncRejection(reason string) {
	if DomainRejections != nil {
		DomainRejections.WithLabelValues(reason).Inc()
	}
}

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
