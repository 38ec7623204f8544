package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pubclient/internal/pub"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Publisher metrics
	publishTotal     *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	publishBatchSize *prometheus.HistogramVec
	eventsPublished  *prometheus.CounterVec

	// Consumer metrics
	consumeTotal    *prometheus.CounterVec
	consumeDuration *prometheus.HistogramVec
	eventsConsumed  *prometheus.CounterVec
	commitTotal     *prometheus.CounterVec
	eventsCommitted *prometheus.CounterVec
	eventsDead      *prometheus.CounterVec

	// Poller metrics
	pollCycleTotal *prometheus.CounterVec
	pollerRunning  *prometheus.GaugeVec

	// Transport metrics
	transportRequestTotal    *prometheus.CounterVec
	transportRequestDuration *prometheus.HistogramVec

	// System metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	subLabels := []string{"organization", "topic", "subscription"}

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_publish_total",
				Help: "Total number of publish calls",
			},
			[]string{"organization", "topic", "status"}, // status: success, partial, failed
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubclient_publish_duration_seconds",
				Help:    "Time spent publishing batches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"organization", "topic"},
		),

		publishBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubclient_publish_batch_size",
				Help:    "Number of events in published batches",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"organization", "topic"},
		),

		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_events_published_total",
				Help: "Total number of events accepted by the service",
			},
			[]string{"organization", "topic"},
		),

		consumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_consume_total",
				Help: "Total number of consume cycles",
			},
			append(subLabels, "status"), // status: success, error, empty
		),

		consumeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubclient_consume_duration_seconds",
				Help:    "Time spent reading and handling a batch",
				Buckets: prometheus.DefBuckets,
			},
			subLabels,
		),

		eventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_events_consumed_total",
				Help: "Total number of events handed to handlers",
			},
			subLabels,
		),

		commitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_commit_total",
				Help: "Total number of commit calls",
			},
			append(subLabels, "status"), // status: success, error
		),

		eventsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_events_committed_total",
				Help: "Total number of events the service acknowledged",
			},
			subLabels,
		),

		eventsDead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_events_dead_lettered_total",
				Help: "Total number of events dropped after exceeding the delivery limit",
			},
			subLabels,
		),

		pollCycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_poll_cycle_total",
				Help: "Total number of scheduled poll cycles",
			},
			append(subLabels, "status"), // status: success, error
		),

		pollerRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubclient_poller_running",
				Help: "Whether the poller is currently scheduled (1) or not (0)",
			},
			subLabels,
		),

		transportRequestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubclient_transport_request_total",
				Help: "Total number of requests sent to the service",
			},
			[]string{"operation", "result"}, // result: ok or an error kind
		),

		transportRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubclient_transport_request_duration_seconds",
				Help:    "Round trip time of requests sent to the service",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubclient_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pubclient_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.publishBatchSize,
		r.eventsPublished,
		r.consumeTotal,
		r.consumeDuration,
		r.eventsConsumed,
		r.commitTotal,
		r.eventsCommitted,
		r.eventsDead,
		r.pollCycleTotal,
		r.pollerRunning,
		r.transportRequestTotal,
		r.transportRequestDuration,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry for scraping in tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordPublish records a publish call. Publish failures are not returned
// to callers, so status is derived from how many events were accepted.
func (r *Registry) RecordPublish(organization, topic string, batchSize, accepted int, duration time.Duration) {
	status := "success"
	switch {
	case accepted == 0 && batchSize > 0:
		status = "failed"
	case accepted < batchSize:
		status = "partial"
	}

	r.publishTotal.WithLabelValues(organization, topic, status).Inc()
	r.publishDuration.WithLabelValues(organization, topic).Observe(duration.Seconds())
	r.publishBatchSize.WithLabelValues(organization, topic).Observe(float64(batchSize))
	if accepted > 0 {
		r.eventsPublished.WithLabelValues(organization, topic).Add(float64(accepted))
	}
}

// RecordConsume records one read/process/commit cycle
func (r *Registry) RecordConsume(coord pub.Coordinate, consumed int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else if consumed == 0 {
		status = "empty"
	}

	r.consumeTotal.WithLabelValues(coord.Organization, coord.Topic, coord.Subscription, status).Inc()
	r.consumeDuration.WithLabelValues(coord.Organization, coord.Topic, coord.Subscription).Observe(duration.Seconds())
	if consumed > 0 {
		r.eventsConsumed.WithLabelValues(coord.Organization, coord.Topic, coord.Subscription).Add(float64(consumed))
	}
}

// RecordCommit records a commit call and how many events it acknowledged
func (r *Registry) RecordCommit(coord pub.Coordinate, acknowledged int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.commitTotal.WithLabelValues(coord.Organization, coord.Topic, coord.Subscription, status).Inc()
	if acknowledged > 0 {
		r.eventsCommitted.WithLabelValues(coord.Organization, coord.Topic, coord.Subscription).Add(float64(acknowledged))
	}
}

// RecordDeadLetter records events dropped by the redelivery policy
func (r *Registry) RecordDeadLetter(coord pub.Coordinate, count int) {
	r.eventsDead.WithLabelValues(coord.Organization, coord.Topic, coord.Subscription).Add(float64(count))
}

// RecordPollCycle records the outcome of a scheduled cycle
func (r *Registry) RecordPollCycle(coord pub.Coordinate, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.pollCycleTotal.WithLabelValues(coord.Organization, coord.Topic, coord.Subscription, status).Inc()
}

// SetPollerRunning updates the poller state gauge
func (r *Registry) SetPollerRunning(coord pub.Coordinate, running bool) {
	v := 0.0
	if running {
		v = 1
	}

	r.pollerRunning.WithLabelValues(coord.Organization, coord.Topic, coord.Subscription).Set(v)
}

// RecordTransportRequest records a request to the service
func (r *Registry) RecordTransportRequest(operation string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = pub.KindOf(err).String()
	}

	r.transportRequestTotal.WithLabelValues(operation, result).Inc()
	r.transportRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
