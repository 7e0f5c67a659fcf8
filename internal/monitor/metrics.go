// Package monitor holds the server's Prometheus metrics, the background
// model runtime health probe and the periodic metrics broadcaster.
package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics collects Prometheus metrics for the server.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	ollamaRequests  *prometheus.CounterVec
	upstreamHealthy prometheus.Gauge
	streamChunks    prometheus.Counter
	wsClients       prometheus.Gauge
	wsMessages      *prometheus.CounterVec
	wsDropped       prometheus.Counter
	cliCommands     *prometheus.CounterVec
	gatewayRequests *prometheus.CounterVec
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics registers the server metrics on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uas_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uas_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		ollamaRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uas_ollama_requests_total",
				Help: "Total number of calls to the model runtime",
			},
			[]string{"op", "outcome"},
		),
		upstreamHealthy: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "uas_ollama_upstream_healthy",
				Help: "Model runtime health status (1 = healthy, 0 = unhealthy)",
			},
		),
		streamChunks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "uas_stream_chunks_total",
				Help: "Total number of chunks relayed over SSE",
			},
		),
		wsClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "uas_ws_clients",
				Help: "Number of connected WebSocket clients",
			},
		),
		wsMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uas_ws_messages_total",
				Help: "Total number of broadcast messages by type",
			},
			[]string{"type"},
		),
		wsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "uas_ws_dropped_total",
				Help: "Total number of messages dropped for slow WebSocket clients",
			},
		),
		cliCommands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uas_cli_commands_total",
				Help: "Total number of CLI agent commands by outcome",
			},
			[]string{"outcome"},
		),
		gatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uas_gateway_requests_total",
				Help: "Total number of proxied gateway requests",
			},
			[]string{"route", "outcome"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = label(route)
	method = label(method)
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordOllama records one finished runtime call.
func (m *Metrics) RecordOllama(op string, err error) {
	if m == nil {
		return
	}
	m.ollamaRequests.WithLabelValues(label(op), outcome(err)).Inc()
}

// UpdateUpstreamHealth updates the upstream health gauge.
func (m *Metrics) UpdateUpstreamHealth(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.upstreamHealthy.Set(1)
	} else {
		m.upstreamHealthy.Set(0)
	}
}

// RecordStreamChunks adds n relayed chunks.
func (m *Metrics) RecordStreamChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamChunks.Add(float64(n))
}

func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func (m *Metrics) RecordWSMessage(msgType string) {
	if m == nil {
		return
	}
	m.wsMessages.WithLabelValues(label(msgType)).Inc()
}

func (m *Metrics) RecordWSDropped() {
	if m == nil {
		return
	}
	m.wsDropped.Inc()
}

// RecordCLICommand records a CLI agent command outcome
// (success, failed, denied, rate_limited).
func (m *Metrics) RecordCLICommand(result string) {
	if m == nil {
		return
	}
	m.cliCommands.WithLabelValues(label(result)).Inc()
}

// RecordGateway records one proxied request.
func (m *Metrics) RecordGateway(route, result string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(label(route), label(result)).Inc()
}

// Snapshot sums the server metrics into the shape sent as metrics.update.
func (m *Metrics) Snapshot() map[string]any {
	out := map[string]any{
		"httpRequests":    0.0,
		"ollamaRequests":  0.0,
		"ollamaFailures":  0.0,
		"streamChunks":    0.0,
		"wsClients":       0.0,
		"wsMessages":      0.0,
		"wsDropped":       0.0,
		"cliCommands":     0.0,
		"gatewayRequests": 0.0,
		"upstreamHealthy": false,
	}
	if m == nil {
		return out
	}
	families, err := m.gatherer.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "uas_http_requests_total":
			out["httpRequests"] = sumFamily(mf, nil)
		case "uas_ollama_requests_total":
			out["ollamaRequests"] = sumFamily(mf, nil)
			out["ollamaFailures"] = sumFamily(mf, map[string]string{"outcome": "error"})
		case "uas_stream_chunks_total":
			out["streamChunks"] = sumFamily(mf, nil)
		case "uas_ws_clients":
			out["wsClients"] = sumFamily(mf, nil)
		case "uas_ws_messages_total":
			out["wsMessages"] = sumFamily(mf, nil)
		case "uas_ws_dropped_total":
			out["wsDropped"] = sumFamily(mf, nil)
		case "uas_cli_commands_total":
			out["cliCommands"] = sumFamily(mf, nil)
		case "uas_gateway_requests_total":
			out["gatewayRequests"] = sumFamily(mf, nil)
		case "uas_ollama_upstream_healthy":
			out["upstreamHealthy"] = sumFamily(mf, nil) == 1
		}
	}
	return out
}

// sumFamily adds up counter and gauge samples whose labels match want.
func sumFamily(mf *dto.MetricFamily, want map[string]string) float64 {
	total := 0.0
	for _, metric := range mf.GetMetric() {
		if !labelsMatch(metric, want) {
			continue
		}
		switch {
		case metric.GetCounter() != nil:
			total += metric.GetCounter().GetValue()
		case metric.GetGauge() != nil:
			total += metric.GetGauge().GetValue()
		}
	}
	return total
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	matched := 0
	for _, lp := range metric.GetLabel() {
		if v, ok := want[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
