// Package metrics exposes Prometheus instrumentation for the packetizer
// profiles, the UDP link, the HTTP API and the archive.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultValid   = "valid"
	resultInvalid = "invalid"

	directionRx = "rx"
	directionTx = "tx"
)

// Metrics holds all Prometheus metrics for the node
type Metrics struct {
	registry *prometheus.Registry

	// Packetizer metrics
	encodeTotal       *prometheus.CounterVec
	decodeTotal       *prometheus.CounterVec
	reconfigureTotal  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	packetBytes       *prometheus.HistogramVec

	// Link metrics
	linkDatagramsTotal *prometheus.CounterVec
	linkBytesTotal     *prometheus.CounterVec
	linkDropsTotal     *prometheus.CounterVec

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec

	// Archive metrics
	archiveWritesTotal *prometheus.CounterVec
	archivePrunedTotal prometheus.Counter
	websocketClients   prometheus.Gauge
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		encodeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packet_nexus_encode_total",
				Help: "Total number of messages encoded",
			},
			[]string{"profile"},
		),

		decodeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packet_nexus_decode_total",
				Help: "Total number of packets decoded, by integrity result",
			},
			[]string{"profile", "result"},
		),

		reconfigureTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packet_nexus_reconfigure_total",
				Help: "Total number of profile reconfigurations",
			},
			[]string{"profile", "rebuilt"},
		),

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "packet_nexus_operation_duration_seconds",
				Help:    "Packetizer encode/decode duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"operation"},
		),

		packetBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "packet_nexus_packet_bytes",
				Help:    "Encoded packet size in bytes",
				Buckets: prometheus.ExponentialBuckets(8, 2, 10),
			},
			[]string{"profile"},
		),

		linkDatagramsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packet_nexus_link_datagrams_total",
				Help: "Total number of UDP datagrams on the link",
			},
			[]string{"direction"},
		),

		linkBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packet_nexus_link_bytes_total",
				Help: "Total number of bytes on the link",
			},
			[]string{"direction"},
		),

		linkDropsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packet_nexus_link_drops_total",
				Help: "Total number of datagrams dropped by the link",
			},
			[]string{"reason"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packet_nexus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "packet_nexus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		httpRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "packet_nexus_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method", "endpoint"},
		),

		archiveWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packet_nexus_archive_writes_total",
				Help: "Total number of archive writes",
			},
			[]string{"status"},
		),

		archivePrunedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "packet_nexus_archive_pruned_total",
				Help: "Total number of archive records removed by retention",
			},
		),

		websocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "packet_nexus_websocket_clients",
				Help: "Number of connected WebSocket clients",
			},
		),
	}

	return m
}

// Registry returns the registry holding every metric
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEncode records an encoded message
func (m *Metrics) ObserveEncode(profile string, messageLength, packetLength int, d time.Duration) {
	m.encodeTotal.WithLabelValues(profile).Inc()
	m.operationDuration.WithLabelValues("encode").Observe(d.Seconds())
	m.packetBytes.WithLabelValues(profile).Observe(float64(packetLength))
}

// ObserveDecode records a decoded packet
func (m *Metrics) ObserveDecode(profile string, packetLength int, valid bool, d time.Duration) {
	result := resultValid
	if !valid {
		result = resultInvalid
	}
	m.decodeTotal.WithLabelValues(profile, result).Inc()
	m.operationDuration.WithLabelValues("decode").Observe(d.Seconds())
}

// ObserveReconfigure records a profile reconfiguration
func (m *Metrics) ObserveReconfigure(profile string, rebuilt bool) {
	m.reconfigureTotal.WithLabelValues(profile, strconv.FormatBool(rebuilt)).Inc()
}

// RecordLinkRx records a received datagram
func (m *Metrics) RecordLinkRx(size int) {
	m.linkDatagramsTotal.WithLabelValues(directionRx).Inc()
	m.linkBytesTotal.WithLabelValues(directionRx).Add(float64(size))
}

// RecordLinkTx records a transmitted datagram
func (m *Metrics) RecordLinkTx(size int) {
	m.linkDatagramsTotal.WithLabelValues(directionTx).Inc()
	m.linkBytesTotal.WithLabelValues(directionTx).Add(float64(size))
}

// RecordLinkDrop records a datagram the link discarded
func (m *Metrics) RecordLinkDrop(reason string) {
	m.linkDropsTotal.WithLabelValues(reason).Inc()
}

// RecordArchiveWrite records an archive write
func (m *Metrics) RecordArchiveWrite(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.archiveWritesTotal.WithLabelValues(status).Inc()
}

// RecordArchivePrune records records removed by retention
func (m *Metrics) RecordArchivePrune(removed int) {
	m.archivePrunedTotal.Add(float64(removed))
}

// SetWebSocketClients sets the connected client gauge
func (m *Metrics) SetWebSocketClients(n int) {
	m.websocketClients.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	statusCodeStr := strconv.Itoa(statusCode)

	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCodeStr).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// InstrumentHandler instruments an HTTP handler with metrics
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		gauge := m.httpRequestsInFlight.WithLabelValues(method, endpoint)
		gauge.Inc()
		defer gauge.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)

		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
