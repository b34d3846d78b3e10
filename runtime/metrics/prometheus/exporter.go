package prometheus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// defaultReadHeaderTimeout is the timeout for reading request headers.
	defaultReadHeaderTimeout = 10 * time.Second
)

// HealthFunc reports whether the bridge is healthy. A non-nil error turns
// /health into a 503 carrying the error text.
type HealthFunc func() error

// Exporter serves Prometheus metrics and a health probe over HTTP.
type Exporter struct {
	addr     string
	server   *http.Server
	registry *prometheus.Registry
	health   HealthFunc
	mu       sync.Mutex
	started  bool
	closed   bool
}

// NewExporter creates an exporter serving the bridge metrics and the Go
// runtime collectors at addr.
func NewExporter(addr string) *Exporter {
	reg := prometheus.NewRegistry()

	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Exporter{
		addr:     addr,
		registry: reg,
	}
}

// NewExporterWithRegistry creates an exporter with a custom registry.
func NewExporterWithRegistry(addr string, registry *prometheus.Registry) *Exporter {
	return &Exporter{
		addr:     addr,
		registry: registry,
	}
}

// SetHealthCheck installs fn behind /health. Without one /health always
// answers ok.
func (e *Exporter) SetHealthCheck(fn HealthFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health = fn
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Start serves /metrics and /health. It blocks until the server stops and
// returns http.ErrServerClosed after Shutdown. Once shut down the exporter
// does not start again.
func (e *Exporter) Start() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return http.ErrServerClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	mux.HandleFunc("/health", e.serveHealth)

	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	e.started = true
	e.mu.Unlock()

	return e.server.ListenAndServe()
}

func (e *Exporter) serveHealth(w http.ResponseWriter, _ *http.Request) {
	e.mu.Lock()
	check := e.health
	e.mu.Unlock()

	if check != nil {
		if err := check(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	// Write error is intentionally ignored - client may have disconnected
	_, _ = w.Write([]byte("ok"))
}

// Shutdown gracefully stops the exporter with the given context.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	if e.server != nil && e.started {
		e.started = false
		return e.server.Shutdown(ctx)
	}
	return nil
}

// Handler returns an http.Handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers additional collectors. Panics if registration fails.
func (e *Exporter) MustRegister(cs ...prometheus.Collector) {
	e.registry.MustRegister(cs...)
}

// Register registers an additional collector.
func (e *Exporter) Register(c prometheus.Collector) error {
	return e.registry.Register(c)
}
