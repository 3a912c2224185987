package server

import "time"

type WebhookConfig struct {
	Url      string `usage:"If set, a POST request that contains connection lifecycle notifications will be sent to this HTTP address"`
	OnlyCore bool   `default:"false" usage:"Indicates if the webhook will only be called for relay outcomes rather than every admission decision"`
}

type EndpointsFileConfig struct {
	Config      string `usage:"Name or full [path] to the endpoints/blocklist config file"`
	ConfigWatch bool   `usage:"Watch for config file changes"`
}

type Config struct {
	Port                  int           `default:"25565" usage:"The [port] bound to listen for Minecraft client connections"`
	CacheSize             int           `default:"128" usage:"Number of entries held in the hostname resolution cache"`
	HandshakeTimeout      time.Duration `default:"5s" usage:"Maximum [duration] a client may take to complete its handshake"`
	ClientBufferSize      int           `default:"4096" usage:"Size in [bytes] of the per-connection client read buffer"`
	BackendBufferSize     int           `default:"4096" usage:"Size in [bytes] of the per-connection backend read buffer"`
	ClientPacketsLimit    int           `default:"3" usage:"Maximum number of packets a client may send before completing its handshake"`
	RatelimitWindow       time.Duration `default:"10s" usage:"Length of the sliding [window] for per-IP connection attempts"`
	Ratelimit             int           `default:"5" usage:"Maximum connection attempts per IP within the rate limit window"`
	ConcurrentLimit       int           `default:"10" usage:"Maximum concurrent connections per client IP"`
	ClientsLimit          int           `default:"512" usage:"Maximum concurrent connections across all clients"`
	LogInspectBufferLimit int           `default:"64" usage:"Maximum number of raw payload [bytes] included in diagnostic log output"`
	ConnectionRateLimit   int           `default:"128" usage:"Max number of connections to accept per second"`
	ApiBinding            string        `usage:"The [host:port] bound for servicing API requests"`
	Debug                 bool          `usage:"Enable debug logging"`
	CpuProfile            string        `usage:"Enables CPU profiling and writes to given path"`

	Endpoints EndpointsFileConfig

	MetricsBackend       string `default:"discard" usage:"Backend to use for metrics exposure/publishing: discard,expvar,influxdb,prometheus"`
	MetricsBackendConfig MetricsBackendConfig

	UseProxyProtocol     bool     `default:"false" usage:"Send PROXY protocol to backend servers"`
	ReceiveProxyProtocol bool     `default:"false" usage:"Receive PROXY protocol from upstream proxies, by default trusts every proxy header that it receives, combine with -trusted-proxies to specify a list of trusted proxies"`
	TrustedProxies       []string `usage:"Comma delimited list of CIDR notation IP blocks to trust when receiving PROXY protocol"`

	InKubeCluster bool   `usage:"Use in-cluster Kubernetes config"`
	KubeConfig    string `usage:"The path to a Kubernetes configuration file"`
	KubeNamespace string `usage:"The namespace to watch or blank for all, which is the default"`

	Webhook WebhookConfig `usage:"Webhook configuration"`
}
