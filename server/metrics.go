package server

import (
	"io"
	"net/http"
	"time"

	"github.com/echotools/gamespace/service"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var _ service.Metrics = (*LocalMetrics)(nil)

// LocalMetrics reports to Prometheus through a tally root scope.
type LocalMetrics struct {
	logger *zap.Logger
	config *Config

	registry         *prom.Registry
	PrometheusScope  tally.Scope
	prometheusCloser io.Closer

	snapshotConnections *atomic.Int64
}

func NewLocalMetrics(logger, startupLogger *zap.Logger, config *Config) *LocalMetrics {
	m := &LocalMetrics{
		logger:              logger,
		config:              config,
		registry:            prom.NewRegistry(),
		snapshotConnections: atomic.NewInt64(0),
	}

	reporter := prometheus.NewReporter(prometheus.Options{
		Registerer: m.registry,
		OnRegisterError: func(err error) {
			logger.Error("Error registering Prometheus metric", zap.Error(err))
		},
	})

	tags := map[string]string{"node_name": config.Name}
	if namespace := config.Metrics.Namespace; namespace != "" {
		tags["namespace"] = namespace
	}
	m.PrometheusScope, m.prometheusCloser = tally.NewRootScope(tally.ScopeOptions{
		Prefix:          config.Metrics.Prefix,
		Tags:            tags,
		CachedReporter:  reporter,
		Separator:       prometheus.DefaultSeparator,
		SanitizeOptions: &prometheus.DefaultSanitizerOpts,
	}, time.Duration(config.Metrics.ReportingFreqSec)*time.Second)

	startupLogger.Info("Metrics initialized", zap.Int("reporting_freq_sec", config.Metrics.ReportingFreqSec), zap.String("prefix", config.Metrics.Prefix))
	return m
}

// Handler serves the Prometheus exposition for this node.
func (m *LocalMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *LocalMetrics) Stop(logger *zap.Logger) {
	if err := m.prometheusCloser.Close(); err != nil {
		logger.Error("Prometheus closer error", zap.Error(err))
	}
}

func (m *LocalMetrics) CountWebsocketOpened(delta int64) {
	m.snapshotConnections.Add(delta)
	m.PrometheusScope.Counter("socket_ws_opened").Inc(delta)
	m.PrometheusScope.Gauge("socket_ws_connections").Update(float64(m.snapshotConnections.Load()))
}

func (m *LocalMetrics) CountWebsocketClosed(delta int64) {
	m.snapshotConnections.Sub(delta)
	m.PrometheusScope.Counter("socket_ws_closed").Inc(delta)
	m.PrometheusScope.Gauge("socket_ws_connections").Update(float64(m.snapshotConnections.Load()))
}

// Connections is the number of currently open sockets.
func (m *LocalMetrics) Connections() int64 {
	return m.snapshotConnections.Load()
}

func (m *LocalMetrics) CounterAdd(name string, tags map[string]string, delta int64) {
	if len(tags) == 0 {
		m.PrometheusScope.Counter(name).Inc(delta)
		return
	}
	m.PrometheusScope.Tagged(tags).Counter(name).Inc(delta)
}

func (m *LocalMetrics) GaugeSet(name string, tags map[string]string, value float64) {
	if len(tags) == 0 {
		m.PrometheusScope.Gauge(name).Update(value)
		return
	}
	m.PrometheusScope.Tagged(tags).Gauge(name).Update(value)
}

func (m *LocalMetrics) TimerRecord(name string, tags map[string]string, value time.Duration) {
	if len(tags) == 0 {
		m.PrometheusScope.Timer(name).Record(value)
		return
	}
	m.PrometheusScope.Tagged(tags).Timer(name).Record(value)
}
