package monitoring

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics Prometheus 指标，注册在独立的 Registry 上
type Metrics struct {
	registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	requestCounter    *prometheus.CounterVec
	predictions       *prometheus.CounterVec
	predictionErrors  *prometheus.CounterVec
	predictionLatency prometheus.Histogram
	trainingRuns      *prometheus.CounterVec
	trainingDuration  prometheus.Histogram
	modelReloads      *prometheus.CounterVec
	modelLoaded       prometheus.Gauge
	wsClients         prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowguard_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		requestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_predictions_total",
				Help: "Predictions served by predicted label",
			},
			[]string{"label"},
		),
		predictionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_prediction_errors_total",
				Help: "Failed predictions by error kind",
			},
			[]string{"kind"},
		),
		predictionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowguard_prediction_duration_seconds",
				Help:    "Time spent aligning and scoring one feature map",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
		),
		trainingRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_training_runs_total",
				Help: "Training runs by outcome",
			},
			[]string{"status"},
		),
		trainingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowguard_training_duration_seconds",
				Help:    "Wall time of successful training runs",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		modelReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_model_loads_total",
				Help: "Model bundle load attempts by result",
			},
			[]string{"result"},
		),
		modelLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowguard_model_loaded",
				Help: "1 when a model bundle is resident",
			},
		),
		wsClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowguard_ws_clients",
				Help: "Connected prediction feed clients",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument wraps a route handler and records request count and duration.
func (m *Metrics) Instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		labels := prometheus.Labels{
			"handler": name,
			"method":  r.Method,
			"status":  fmt.Sprintf("%d", sw.status),
		}
		m.requestDuration.With(labels).Observe(time.Since(start).Seconds())
		m.requestCounter.With(labels).Inc()
	})
}

func (m *Metrics) RecordPrediction(label string, d time.Duration) {
	m.predictions.WithLabelValues(label).Inc()
	m.predictionLatency.Observe(d.Seconds())
}

func (m *Metrics) RecordPredictionError(kind string) {
	m.predictionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordTraining(status string, d time.Duration) {
	m.trainingRuns.WithLabelValues(status).Inc()
	if status == "succeeded" && d > 0 {
		m.trainingDuration.Observe(d.Seconds())
	}
}

// RecordModelLoad matches the ml.ModelHandle load hook signature.
func (m *Metrics) RecordModelLoad(_ string, err error) {
	if err != nil {
		m.modelReloads.WithLabelValues("error").Inc()
		return
	}
	m.modelReloads.WithLabelValues("ok").Inc()
	m.modelLoaded.Set(1)
}

func (m *Metrics) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
