// Package metrics contains support for reporting validation metrics to Prometheus.
// They can be scraped from an HTTP endpoint and/or pushed to a pushgateway, which is
// useful because editors often start and stop language servers far too quickly to be scraped.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("metrics")

// This is the maximum number of errors after which we stop attempting to push metrics.
const maxErrors = 3

// Outcomes of a validation run.
const (
	Success               = "success"
	InfrastructureFailure = "infrastructure_failure"
	ExecFailure           = "exec_failure"
)

// Config configures how metrics are exported.
type Config struct {
	// Port serves /metrics on this port if non-zero.
	Port int
	// PushGatewayURL pushes metrics to this pushgateway if non-empty.
	PushGatewayURL string
	PushFrequency  time.Duration
	PushTimeout    time.Duration
}

type metrics struct {
	registry            *prometheus.Registry
	validationCounter   *prometheus.CounterVec
	diagnosticCounter   *prometheus.CounterVec
	validationHistogram *prometheus.HistogramVec

	url        string
	ticker     *time.Ticker
	timeout    time.Duration
	mutex      sync.Mutex
	newMetrics bool
	cancelled  bool
	errors     int
	pushes     int
	server     *http.Server
	port       int
}

// m is the singleton metrics instance.
var m *metrics

// Init sets up metrics. If neither a port nor a pushgateway are configured, it does nothing.
func Init(config Config) error {
	if config.Port == 0 && config.PushGatewayURL == "" {
		return nil
	}
	m = newMetrics()
	if config.Port != 0 {
		if err := m.serve(config.Port); err != nil {
			return err
		}
	}
	if config.PushGatewayURL != "" {
		m.startPushing(config.PushGatewayURL, config.PushFrequency, config.PushTimeout)
	}
	return nil
}

// newMetrics initialises a new metrics instance.
// This is deliberately not exposed but is useful for testing.
func newMetrics() *metrics {
	u, err := user.Current()
	if err != nil {
		log.Warning("Can't determine current user name for metrics")
		u = &user.User{Username: "unknown"}
	}
	constLabels := prometheus.Labels{
		"user": u.Username,
		"arch": runtime.GOOS + "_" + runtime.GOARCH,
	}
	m := &metrics{registry: prometheus.NewRegistry()}

	// Count of validation runs for each linter.
	m.validationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "validation_runs",
		Help:        "Count of linter runs, by linter and outcome",
		ConstLabels: constLabels,
	}, []string{"linter", "outcome"})

	// Count of diagnostics published for each linter.
	m.diagnosticCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "diagnostics_published",
		Help:        "Count of diagnostics found by linter runs",
		ConstLabels: constLabels,
	}, []string{"linter"})

	// Durations of each linter run, including container exec overhead.
	m.validationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "validation_durations_histogram",
		Help:        "Durations of linter runs",
		Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		ConstLabels: constLabels,
	}, []string{"linter"})

	m.registry.MustRegister(m.validationCounter, m.diagnosticCounter, m.validationHistogram)
	return m
}

// RecordValidation records the outcome of one linter run.
func RecordValidation(linter, outcome string, duration time.Duration, diagnostics int) {
	if m != nil {
		m.record(linter, outcome, duration, diagnostics)
	}
}

func (m *metrics) record(linter, outcome string, duration time.Duration, diagnostics int) {
	m.validationCounter.WithLabelValues(linter, outcome).Inc()
	if outcome == Success {
		m.diagnosticCounter.WithLabelValues(linter).Add(float64(diagnostics))
		m.validationHistogram.WithLabelValues(linter).Observe(duration.Seconds())
	}
	m.mutex.Lock()
	m.newMetrics = true
	m.mutex.Unlock()
}

// Stop shuts down the metrics and ensures the final ones are sent before returning.
func Stop() {
	if m != nil {
		m.stop()
	}
}

func (m *metrics) stop() {
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.server.Shutdown(ctx)
	}
	if m.ticker != nil {
		m.ticker.Stop()
		m.mutex.Lock()
		cancelled := m.cancelled
		m.mutex.Unlock()
		if !cancelled {
			m.pushMetrics()
		}
	}
}

func (m *metrics) serve(port int) error {
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d for metrics: %w", port, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Handler: mux}
	m.port = lis.Addr().(*net.TCPAddr).Port
	go func() {
		if err := m.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed: %s", err)
		}
	}()
	log.Notice("Serving metrics on %s", lis.Addr())
	return nil
}

func (m *metrics) startPushing(url string, frequency, timeout time.Duration) {
	m.url = url
	m.timeout = timeout
	m.ticker = time.NewTicker(frequency)
	go m.keepPushing()
}

func (m *metrics) keepPushing() {
	for range m.ticker.C {
		if m.pushMetrics() >= maxErrors {
			log.Warning("Metrics don't seem to be working, giving up")
			m.mutex.Lock()
			m.cancelled = true
			m.mutex.Unlock()
			return
		}
	}
}

// deadline applies a deadline to an arbitrary function and returns when either the function
// completes or the deadline expires.
func deadline(f func() error, timeout time.Duration) error {
	c := make(chan error, 1)
	go func() {
		c <- f()
	}()
	select {
	case err := <-c:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("Metrics push timed out")
	}
}

// pushMetrics attempts to send some new metrics to the server. It returns the new number of errors.
func (m *metrics) pushMetrics() int {
	m.mutex.Lock()
	if !m.newMetrics {
		defer m.mutex.Unlock()
		return m.errors
	}
	m.newMetrics = false
	m.mutex.Unlock()

	start := time.Now()
	err := deadline(func() error {
		return push.New(m.url, "docker_linter").Grouping("instance", hostname()).Gatherer(m.registry).Add()
	}, m.timeout)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err != nil {
		log.Warning("Could not push metrics: %s", err)
		m.newMetrics = true
		m.errors++
		return m.errors
	}
	m.pushes++
	m.errors = 0
	log.Debug("Push #%d of metrics in %0.3fs", m.pushes, time.Since(start).Seconds())
	return 0
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
