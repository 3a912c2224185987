package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/metrics"

	kitlogrus "github.com/go-kit/kit/log/logrus"
	discardMetrics "github.com/go-kit/kit/metrics/discard"
	expvarMetrics "github.com/go-kit/kit/metrics/expvar"
	kitinflux "github.com/go-kit/kit/metrics/influx"
	prometheusMetrics "github.com/go-kit/kit/metrics/prometheus"
	influx "github.com/influxdata/influxdb1-client/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type MetricsBuilder interface {
	BuildConnectorMetrics() *ConnectorMetrics
	Start(ctx context.Context) error
}

const (
	MetricsBackendExpvar     = "expvar"
	MetricsBackendPrometheus = "prometheus"
	MetricsBackendInfluxDB   = "influxdb"
	MetricsBackendDiscard    = "discard"
)

type MetricsBackendConfig struct {
	Influxdb struct {
		Interval        time.Duration     `default:"1m"`
		Tags            map[string]string `usage:"any extra tags to be included with all reported metrics"`
		Addr            string
		Username        string
		Password        string
		Database        string
		RetentionPolicy string
	}
}

type ConnectorMetrics struct {
	Errors               metrics.Counter
	Rejections           metrics.Counter
	BytesTransmitted     metrics.Counter
	ConnectionsFrontend  metrics.Counter
	ConnectionsBackend   metrics.Counter
	ActiveConnections    metrics.Gauge
	SynthesizedResponses metrics.Counter
	RateLimitAvailable   metrics.Gauge
}

// NewMetricsBuilder creates a new MetricsBuilder based on the specified backend.
// If the backend is not recognized, a discard builder is returned.
// config can be nil if the backend is not influxdb.
func NewMetricsBuilder(backend string, config *MetricsBackendConfig) MetricsBuilder {
	switch strings.ToLower(backend) {
	case MetricsBackendExpvar:
		return &expvarMetricsBuilder{}
	case MetricsBackendPrometheus:
		return &prometheusMetricsBuilder{}
	case MetricsBackendInfluxDB:
		return &influxMetricsBuilder{config: config}
	case MetricsBackendDiscard:
		return &discardMetricsBuilder{}
	default:
		return &discardMetricsBuilder{}
	}
}

type expvarMetricsBuilder struct {
}

func (b expvarMetricsBuilder) Start(_ context.Context) error {
	// nothing needed
	return nil
}

func (b expvarMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	c := expvarMetrics.NewCounter("connections")
	return &ConnectorMetrics{
		Errors:               expvarMetrics.NewCounter("errors").With("subsystem", "connector"),
		Rejections:           expvarMetrics.NewCounter("rejections"),
		BytesTransmitted:     expvarMetrics.NewCounter("bytes"),
		ConnectionsFrontend:  c,
		ConnectionsBackend:   c,
		ActiveConnections:    expvarMetrics.NewGauge("active_connections"),
		SynthesizedResponses: expvarMetrics.NewCounter("synthesized_responses"),
		RateLimitAvailable:   expvarMetrics.NewGauge("rate_limit_available"),
	}
}

type discardMetricsBuilder struct {
}

func (b discardMetricsBuilder) Start(_ context.Context) error {
	// nothing needed
	return nil
}

func (b discardMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	return &ConnectorMetrics{
		Errors:               discardMetrics.NewCounter(),
		Rejections:           discardMetrics.NewCounter(),
		BytesTransmitted:     discardMetrics.NewCounter(),
		ConnectionsFrontend:  discardMetrics.NewCounter(),
		ConnectionsBackend:   discardMetrics.NewCounter(),
		ActiveConnections:    discardMetrics.NewGauge(),
		SynthesizedResponses: discardMetrics.NewCounter(),
		RateLimitAvailable:   discardMetrics.NewGauge(),
	}
}

type influxMetricsBuilder struct {
	config  *MetricsBackendConfig
	metrics *kitinflux.Influx
}

func (b *influxMetricsBuilder) Start(ctx context.Context) error {
	influxConfig := &b.config.Influxdb
	if influxConfig.Addr == "" {
		return errors.New("influx addr is required")
	}

	ticker := time.NewTicker(influxConfig.Interval)
	client, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     influxConfig.Addr,
		Username: influxConfig.Username,
		Password: influxConfig.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to create influx http client: %w", err)
	}

	go b.metrics.WriteLoop(ctx, ticker.C, client)

	logrus.WithField("addr", influxConfig.Addr).
		Debug("reporting metrics to influxdb")

	return nil
}

func (b *influxMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	influxConfig := &b.config.Influxdb

	m := kitinflux.New(influxConfig.Tags, influx.BatchPointsConfig{
		Database:        influxConfig.Database,
		RetentionPolicy: influxConfig.RetentionPolicy,
	}, kitlogrus.NewLogger(logrus.StandardLogger()))

	b.metrics = m

	c := m.NewCounter("mc_gateway_connections")
	return &ConnectorMetrics{
		Errors:               m.NewCounter("mc_gateway_errors"),
		Rejections:           m.NewCounter("mc_gateway_rejections"),
		BytesTransmitted:     m.NewCounter("mc_gateway_transmitted_bytes"),
		ConnectionsFrontend:  c.With("side", "frontend"),
		ConnectionsBackend:   c.With("side", "backend"),
		ActiveConnections:    m.NewGauge("mc_gateway_connections_active"),
		SynthesizedResponses: m.NewCounter("mc_gateway_synthesized_responses"),
		RateLimitAvailable:   m.NewGauge("mc_gateway_rate_limit_available"),
	}
}

type prometheusMetricsBuilder struct {
}

func (b prometheusMetricsBuilder) Start(_ context.Context) error {
	// nothing needed
	return nil
}

func (b prometheusMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	return &ConnectorMetrics{
		Errors: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mc_gateway",
			Name:      "errors",
			Help:      "The total number of errors",
		}, []string{"type"})),
		Rejections: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mc_gateway",
			Name:      "rejections",
			Help:      "The total number of connections rejected by the abuse guard",
		}, []string{"reason"})),
		BytesTransmitted: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mc_gateway",
			Name:      "bytes",
			Help:      "The total number of bytes transmitted",
		}, nil)),
		ConnectionsFrontend: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "mc_gateway",
			Subsystem:   "frontend",
			Name:        "connections",
			Help:        "The total number of connections",
			ConstLabels: prometheus.Labels{"side": "frontend"},
		}, nil)),
		ConnectionsBackend: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "mc_gateway",
			Subsystem:   "backend",
			Name:        "connections",
			Help:        "The total number of backend connections",
			ConstLabels: prometheus.Labels{"side": "backend"},
		}, []string{"host"})),
		ActiveConnections: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mc_gateway",
			Name:      "active_connections",
			Help:      "The number of active connections",
		}, nil)),
		SynthesizedResponses: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mc_gateway",
			Name:      "synthesized_responses",
			Help:      "The total number of status/disconnect replies served for origin-less endpoints",
		}, []string{"kind"})),
		RateLimitAvailable: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mc_gateway",
			Name:      "rate_limit_available",
			Help:      "The number of available tokens in the rate limit bucket",
		}, nil)),
	}
}
