// Package metrics exposes Prometheus metrics for Gemini calls and the relay
// server.
//
// Metrics live in a private registry (not the global default) so embedding
// the client in another program does not collide with its metrics. The
// /metrics endpoint is served through Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}

// Registry holds all exported metrics. It implements gemini.Recorder.
type Registry struct {
	reg *prometheus.Registry

	// gemini_calls_total{method,outcome}
	calls *prometheus.CounterVec

	// gemini_call_duration_seconds{method,outcome}
	callDuration *prometheus.HistogramVec

	// gemini_call_request_size_bytes{method}
	requestSize *prometheus.HistogramVec

	// gemini_call_response_size_bytes{method}
	responseSize *prometheus.HistogramVec

	// gemini_cache_operations_total{result}
	cacheOps *prometheus.CounterVec

	// http_inflight_requests
	inFlight prometheus.Gauge

	// http_requests_total{route,status}
	httpRequests *prometheus.CounterVec

	// http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// build_info{version,model}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

var _ gemini.Recorder = (*Registry)(nil)

func New() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gemini_calls_total",
				Help: "Gemini API calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),

		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gemini_call_duration_seconds",
				Help:    "Gemini API call duration in seconds, including cache lookups",
				Buckets: durationBuckets,
			},
			[]string{"method", "outcome"},
		),

		requestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gemini_call_request_size_bytes",
				Help:    "Serialized request body size in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 2, 14), // 64B .. ~512KB
			},
			[]string{"method"},
		),

		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gemini_call_response_size_bytes",
				Help:    "Response body size in bytes for 200 responses",
				Buckets: prometheus.ExponentialBuckets(256, 2, 14), // 256B .. ~2MB
			},
			[]string{"method"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gemini_cache_operations_total",
				Help: "Response cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Relay HTTP requests currently being served",
		}),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Relay HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Relay HTTP request duration in seconds",
				Buckets: durationBuckets,
			},
			[]string{"route"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "build_info",
				Help: "Build information",
			},
			[]string{"version", "model"},
		),
	}

	reg.MustRegister(
		r.calls,
		r.callDuration,
		r.requestSize,
		r.responseSize,
		r.cacheOps,
		r.inFlight,
		r.httpRequests,
		r.httpDuration,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// Record implements gemini.Recorder.
func (r *Registry) Record(rec gemini.CallRecord) {
	outcome := string(rec.Outcome)
	r.calls.WithLabelValues(rec.Method, outcome).Inc()
	r.callDuration.WithLabelValues(rec.Method, outcome).Observe(rec.Latency.Seconds())
	if rec.RequestBytes > 0 {
		r.requestSize.WithLabelValues(rec.Method).Observe(float64(rec.RequestBytes))
	}
	if rec.Status == 200 {
		r.responseSize.WithLabelValues(rec.Method).Observe(float64(rec.ResponseBytes))
	}
}

// CacheRecorder returns a gemini.Recorder that only counts cache hits and
// misses. Attach it only to clients configured with a cache.
func (r *Registry) CacheRecorder() gemini.Recorder {
	return gemini.RecorderFunc(func(rec gemini.CallRecord) {
		if rec.Outcome == gemini.OutcomeEncodeError {
			return
		}
		if rec.Cached {
			r.cacheOps.WithLabelValues("hit").Inc()
			return
		}
		r.cacheOps.WithLabelValues("miss").Inc()
	})
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records one relay request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	r.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

func (r *Registry) SetBuildInfo(version, model string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version, model).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
