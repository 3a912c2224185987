package server

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/mcgateway/mc-gateway/mcproto"
)

type Server struct {
	ctx              context.Context
	config           *Config
	connector        *Connector
	reloadConfigChan chan struct{}
}

func NewServer(ctx context.Context, config *Config) (*Server, error) {
	mcproto.SetInspectionLimit(config.LogInspectBufferLimit)

	Routes.SetCacheSize(config.CacheSize)

	blocklist := make([]string, 0)
	if config.Endpoints.Config != "" {
		endpointsConfig, err := EndpointsConfigLoader.Load(config.Endpoints.Config)
		if err != nil {
			return nil, fmt.Errorf("could not load endpoints config file: %w", err)
		}
		blocklist = endpointsConfig.Blocklist

		if config.Endpoints.ConfigWatch {
			if err := EndpointsConfigLoader.WatchForChanges(ctx); err != nil {
				return nil, fmt.Errorf("could not watch for changes to endpoints config file: %w", err)
			}
		}
	}

	guard, err := NewAbuseGuard(GuardConfig{
		Blocklist:       blocklist,
		RateLimit:       config.Ratelimit,
		RateLimitWindow: config.RatelimitWindow,
		ConcurrentLimit: config.ConcurrentLimit,
		ClientsLimit:    config.ClientsLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create abuse guard: %w", err)
	}

	metricsBuilder := NewMetricsBuilder(config.MetricsBackend, &config.MetricsBackendConfig)

	if config.ConnectionRateLimit < 1 {
		config.ConnectionRateLimit = 1
	}

	connector := NewConnector(ctx, metricsBuilder.BuildConnectorMetrics(), guard, config)

	if config.Webhook.Url != "" {
		logrus.WithField("url", config.Webhook.Url).
			WithField("only-core", config.Webhook.OnlyCore).
			Info("Using webhook for connection status notifications")
		connector.UseConnectionNotifier(
			NewWebhookNotifier(config.Webhook.Url, config.Webhook.OnlyCore))
	}

	if config.ReceiveProxyProtocol {
		trustedIpNets := make([]*net.IPNet, 0)
		for _, ip := range config.TrustedProxies {
			_, ipNet, err := net.ParseCIDR(ip)
			if err != nil {
				return nil, fmt.Errorf("could not parse trusted proxy CIDR block: %w", err)
			}
			trustedIpNets = append(trustedIpNets, ipNet)
		}

		connector.UseReceiveProxyProto(trustedIpNets)
	}

	if config.ApiBinding != "" {
		StartApiServer(config.ApiBinding)
	}

	if config.InKubeCluster {
		if err := K8sWatcher.WithNamespace(config.KubeNamespace).StartInCluster(); err != nil {
			return nil, fmt.Errorf("could not start in-cluster kubernetes integration: %w", err)
		}
	} else if config.KubeConfig != "" {
		if err := K8sWatcher.WithNamespace(config.KubeNamespace).StartWithConfig(config.KubeConfig); err != nil {
			return nil, fmt.Errorf("could not start kubernetes integration: %w", err)
		}
	}

	if err := metricsBuilder.Start(ctx); err != nil {
		return nil, fmt.Errorf("could not start metrics reporter: %w", err)
	}

	return &Server{
		ctx:              ctx,
		config:           config,
		connector:        connector,
		reloadConfigChan: make(chan struct{}),
	}, nil
}

// ReloadConfig indicates that an external request, such as a SIGHUP,
// is requesting the endpoints config file to be reloaded, if enabled
func (s *Server) ReloadConfig() {
	s.reloadConfigChan <- struct{}{}
}

// AcceptConnection provides a way to externally supply a connection to consume.
// Note that this will skip the accept-loop rate limiting.
func (s *Server) AcceptConnection(conn net.Conn) {
	s.connector.AcceptConnection(conn)
}

// Run will run the server until the context is done or a fatal error occurs, so this should be
// in a go routine.
func (s *Server) Run() {
	err := s.connector.StartAcceptingConnections(
		net.JoinHostPort("", strconv.Itoa(s.config.Port)),
		s.config.ConnectionRateLimit,
	)
	if err != nil {
		logrus.WithError(err).Error("Could not start accepting connections")
		return
	}

	for {
		select {
		case <-s.reloadConfigChan:
			if s.config.Endpoints.Config == "" {
				logrus.Warn("No endpoints config file to re-read")
				continue
			}
			if err := EndpointsConfigLoader.Reload(); err != nil {
				logrus.WithError(err).
					Error("Could not re-read the endpoints config file")
			}

		case <-s.ctx.Done():
			logrus.Info("Server Stopping. Waiting for connections to complete...")
			K8sWatcher.Stop()
			s.connector.WaitForConnections()
			logrus.Info("Stopped")
			return
		}
	}
}
