package server

import (
	"context"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mcgateway/mc-gateway/mcproto"
)

const (
	backendDialTimeout = 3 * time.Second
	readChunkSize      = 1024
)

var noDeadline time.Time

// Connector owns the accept loop and the per-connection pipeline:
// guard -> handshake decode -> route -> relay or synthesized reply. Every
// failure along the pipeline closes the client connection without a reply.
type Connector struct {
	ctx     context.Context
	metrics *ConnectorMetrics
	guard   *AbuseGuard

	notifier          ConnectionNotifier
	sendProxyProto    bool
	receiveProxyProto bool
	trustedProxyNets  []*net.IPNet

	handshakeTimeout   time.Duration
	clientBufferSize   int
	backendBufferSize  int
	clientPacketsLimit int

	connections sync.WaitGroup
}

func NewConnector(ctx context.Context, metrics *ConnectorMetrics, guard *AbuseGuard, config *Config) *Connector {
	return &Connector{
		ctx:                ctx,
		metrics:            metrics,
		guard:              guard,
		sendProxyProto:     config.UseProxyProtocol,
		handshakeTimeout:   config.HandshakeTimeout,
		clientBufferSize:   config.ClientBufferSize,
		backendBufferSize:  config.BackendBufferSize,
		clientPacketsLimit: config.ClientPacketsLimit,
	}
}

func (c *Connector) UseConnectionNotifier(notifier ConnectionNotifier) {
	c.notifier = notifier
}

func (c *Connector) UseReceiveProxyProto(trustedNets []*net.IPNet) {
	c.receiveProxyProto = true
	c.trustedProxyNets = trustedNets
}

func (c *Connector) StartAcceptingConnections(listenAddress string, connRateLimit int) error {
	ln, err := c.createListener(listenAddress)
	if err != nil {
		return err
	}

	go c.acceptConnections(ln, connRateLimit)

	return nil
}

func (c *Connector) createListener(listenAddress string) (net.Listener, error) {
	ln, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return nil, errors.Wrap(err, "unable to start listening")
	}
	logrus.WithField("listenAddress", listenAddress).Info("Listening for Minecraft client connections")

	if c.receiveProxyProto {
		proxyListener := &proxyproto.Listener{
			Listener: ln,
			Policy:   c.createProxyProtoPolicy(),
		}
		logrus.Info("Using PROXY protocol listener")
		return proxyListener, nil
	}

	return ln, nil
}

func (c *Connector) createProxyProtoPolicy() proxyproto.PolicyFunc {
	return func(upstream net.Addr) (proxyproto.Policy, error) {
		if len(c.trustedProxyNets) == 0 {
			logrus.Debug("No trusted proxy networks configured, using PROXY protocol from all connections")
			return proxyproto.USE, nil
		}

		upstreamIP := upstream.(*net.TCPAddr).IP
		for _, ipNet := range c.trustedProxyNets {
			if ipNet.Contains(upstreamIP) {
				logrus.WithField("upstream", upstream).Debug("Trusted proxy")
				return proxyproto.USE, nil
			}
		}

		logrus.WithField("upstream", upstream).Debug("Untrusted proxy")
		return proxyproto.IGNORE, nil
	}
}

func (c *Connector) acceptConnections(ln net.Listener, connRateLimit int) {
	//noinspection GoUnhandledErrorResult
	defer ln.Close()

	bucket := ratelimit.NewBucketWithRate(float64(connRateLimit), int64(connRateLimit*2))

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-time.After(bucket.Take(1)):
			c.metrics.RateLimitAvailable.Set(float64(bucket.Available()))

			conn, err := ln.Accept()
			if err != nil {
				logrus.WithError(err).Error("Failed to accept connection")
			} else {
				c.AcceptConnection(conn)
			}
		}
	}
}

// AcceptConnection provides a way to externally supply a connection to consume.
// Note that this will skip the accept-loop rate limiting.
func (c *Connector) AcceptConnection(conn net.Conn) {
	c.connections.Add(1)
	go func() {
		defer c.connections.Done()
		c.HandleConnection(conn)
	}()
}

// WaitForConnections blocks until every in-flight connection has finished.
func (c *Connector) WaitForConnections() {
	c.connections.Wait()
}

func (c *Connector) HandleConnection(frontendConn net.Conn) {
	//noinspection GoUnhandledErrorResult
	defer frontendConn.Close()

	clientAddr := frontendConn.RemoteAddr()
	clientIP := clientIPFromAddr(clientAddr)

	if reason, ok := c.guard.Admit(clientIP); !ok {
		logrus.
			WithField("client", clientAddr).
			WithField("reason", reason).
			Info("Rejected connection")
		c.metrics.Rejections.With("reason", string(reason)).Add(1)
		if c.notifier != nil {
			_ = c.notifier.NotifyRejected(c.ctx, clientAddr, reason)
		}
		return
	}
	defer c.guard.Release(clientIP)

	c.metrics.ConnectionsFrontend.Add(1)
	c.metrics.ActiveConnections.Set(float64(c.guard.ActiveConnections()))
	defer func() {
		c.metrics.ActiveConnections.Set(float64(c.guard.ActiveConnections()))
	}()

	logrus.
		WithField("client", clientAddr).
		Debug("Got connection")
	defer logrus.WithField("client", clientAddr).Debug("Closing frontend connection")

	handshake, rawHandshake, decoder, ok := c.readHandshake(frontendConn, clientAddr)
	if !ok {
		return
	}

	if handshake.NextState != mcproto.StateStatus && handshake.NextState != mcproto.StateLogin {
		logrus.
			WithField("client", clientAddr).
			WithField("handshake", handshake).
			Warn("Unexpected next state in handshake")
		c.metrics.Errors.With("type", "unexpected_content").Add(1)
		return
	}

	endpoint := Routes.FindEndpointForServerAddress(handshake.ServerAddress)
	if endpoint == nil {
		logrus.
			WithField("client", clientAddr).
			WithField("serverAddress", handshake.ServerAddress).
			Warn("Unable to find endpoint for server address")
		c.metrics.Errors.With("type", "missing_route").Add(1)
		if c.notifier != nil {
			_ = c.notifier.NotifyMissingRoute(c.ctx, clientAddr, handshake.ServerAddress)
		}
		return
	}

	if endpoint.HasOrigin() {
		c.connectAndRelay(frontendConn, clientAddr, handshake, endpoint, rawHandshake, decoder.Buffered())
	} else {
		c.serveSynthesizedResponses(frontendConn, clientAddr, decoder, handshake, endpoint)
	}
}

// readHandshake drives the incremental decoder against the client connection
// under the handshake read deadline. On success it returns the decoded
// handshake, the byte-exact frame for backend replay, and the decoder still
// holding any pipelined bytes that followed the handshake.
func (c *Connector) readHandshake(frontendConn net.Conn, clientAddr net.Addr) (*mcproto.Handshake, []byte, *mcproto.Decoder, bool) {
	decoder := mcproto.NewDecoder(c.clientBufferSize, c.clientPacketsLimit)

	if err := frontendConn.SetReadDeadline(time.Now().Add(c.handshakeTimeout)); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Error("Failed to set read deadline")
		c.metrics.Errors.With("type", "read_deadline").Add(1)
		return nil, nil, nil, false
	}

	chunk := make([]byte, readChunkSize)
	for {
		packet, raw, err := decoder.Next()
		if err != nil {
			c.logHandshakeFailure(clientAddr, decoder, err)
			return nil, nil, nil, false
		}

		if packet != nil {
			if packet.PacketID != mcproto.PacketIdHandshake {
				logrus.
					WithField("client", clientAddr).
					WithField("packet", packet).
					Debug("Skipping packet received before handshake")
				continue
			}

			handshake, err := mcproto.DecodeHandshake(packet.Data)
			if err != nil {
				logrus.
					WithError(err).
					WithField("client", clientAddr).
					WithField("packet", packet).
					Warn("Failed to decode handshake")
				c.metrics.Errors.With("type", "parse").Add(1)
				return nil, nil, nil, false
			}

			logrus.
				WithField("client", clientAddr).
				WithField("handshake", handshake).
				Debug("Got handshake")
			return handshake, raw, decoder, true
		}

		n, err := frontendConn.Read(chunk)
		if n > 0 {
			if feedErr := decoder.Feed(chunk[:n]); feedErr != nil {
				c.logHandshakeFailure(clientAddr, decoder, feedErr)
				return nil, nil, nil, false
			}
		}
		if err != nil {
			if netErr, isNetErr := err.(net.Error); isNetErr && netErr.Timeout() {
				logrus.
					WithField("client", clientAddr).
					Warn("Handshake did not arrive in time")
				c.metrics.Errors.With("type", "handshake_timeout").Add(1)
			} else if err != io.EOF {
				logrus.
					WithError(err).
					WithField("client", clientAddr).
					Debug("Failed to read from client")
				c.metrics.Errors.With("type", "read").Add(1)
			}
			return nil, nil, nil, false
		}
	}
}

func (c *Connector) logHandshakeFailure(clientAddr net.Addr, decoder *mcproto.Decoder, err error) {
	switch {
	case errors.Is(err, mcproto.ErrLegacyClientPing):
		entry := logrus.WithField("client", clientAddr)
		if ping, decodeErr := mcproto.DecodeLegacyServerListPing(decoder.Buffered()); decodeErr == nil {
			entry = entry.WithField("ping", ping)
		}
		entry.Info("Closing legacy server list ping")
		c.metrics.Errors.With("type", "legacy_ping").Add(1)

	case errors.Is(err, mcproto.ErrBufferLimitExceeded):
		logrus.
			WithField("client", clientAddr).
			Warn("Client exceeded handshake buffer limit")
		c.metrics.Errors.With("type", "buffer_limit").Add(1)

	case errors.Is(err, mcproto.ErrPacketBudgetExceeded):
		logrus.
			WithField("client", clientAddr).
			Warn("Client exceeded packet budget before handshake")
		c.metrics.Errors.With("type", "packet_budget").Add(1)

	default:
		inspection := &mcproto.Frame{Length: len(decoder.Buffered()), Payload: decoder.Buffered()}
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			WithField("inspection", inspection).
			Warn("Failed to parse handshake")
		c.metrics.Errors.With("type", "parse").Add(1)
	}
}

// connectAndRelay dials the endpoint origin and, once the captured handshake
// bytes have been replayed verbatim, turns the connection into a transparent
// byte pipe.
func (c *Connector) connectAndRelay(frontendConn net.Conn, clientAddr net.Addr,
	handshake *mcproto.Handshake, endpoint *Endpoint, rawHandshake []byte, pipelined []byte) {

	logrus.
		WithField("client", clientAddr).
		WithField("server", handshake.ServerAddress).
		WithField("backend", endpoint.Origin).
		Info("Connecting to backend")

	backendConn, err := net.DialTimeout("tcp", endpoint.Origin, backendDialTimeout)
	if err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			WithField("serverAddress", handshake.ServerAddress).
			WithField("backend", endpoint.Origin).
			Warn("Unable to connect to backend")
		c.metrics.Errors.With("type", "backend_failed").Add(1)
		if c.notifier != nil {
			_ = c.notifier.NotifyFailedBackendConnection(c.ctx, clientAddr, handshake.ServerAddress, endpoint.Origin, err)
		}
		return
	}

	c.metrics.ConnectionsBackend.With("host", handshake.ServerAddress).Add(1)

	if c.sendProxyProto {
		if err := writeProxyProtoHeader(frontendConn, clientAddr, backendConn); err != nil {
			logrus.
				WithError(err).
				WithField("client", clientAddr).
				WithField("backend", endpoint.Origin).
				Error("Failed to write PROXY header")
			c.metrics.Errors.With("type", "proxy_write").Add(1)
			_ = backendConn.Close()
			return
		}
	}

	if _, err := backendConn.Write(rawHandshake); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Error("Failed to write handshake to backend connection")
		c.metrics.Errors.With("type", "backend_failed").Add(1)
		_ = backendConn.Close()
		return
	}
	// forward any bytes the client pipelined right behind its handshake
	if len(pipelined) > 0 {
		if _, err := backendConn.Write(pipelined); err != nil {
			logrus.
				WithError(err).
				WithField("client", clientAddr).
				Error("Failed to write pipelined bytes to backend connection")
			c.metrics.Errors.With("type", "backend_failed").Add(1)
			_ = backendConn.Close()
			return
		}
	}

	logrus.
		WithField("client", clientAddr).
		WithField("amount", len(rawHandshake)+len(pipelined)).
		Debug("Relayed handshake to backend")

	if err = frontendConn.SetReadDeadline(noDeadline); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Error("Failed to clear read deadline")
		c.metrics.Errors.With("type", "read_deadline").Add(1)
		_ = backendConn.Close()
		return
	}

	if c.notifier != nil {
		_ = c.notifier.NotifyConnected(c.ctx, clientAddr, handshake.ServerAddress, endpoint.Origin)
	}

	c.pumpConnections(frontendConn, backendConn, clientAddr)

	if c.notifier != nil {
		_ = c.notifier.NotifyDisconnected(c.ctx, clientAddr, handshake.ServerAddress, endpoint.Origin)
	}
}

func (c *Connector) pumpConnections(frontendConn, backendConn net.Conn, clientAddr net.Addr) {
	//noinspection GoUnhandledErrorResult
	defer backendConn.Close()
	defer logrus.WithField("client", clientAddr).Debug("Closing backend connection")

	errorsChan := make(chan error, 2)

	go c.pumpFrames(backendConn, frontendConn, c.backendBufferSize, errorsChan, "backend", "frontend", clientAddr)
	go c.pumpFrames(frontendConn, backendConn, c.clientBufferSize, errorsChan, "frontend", "backend", clientAddr)

	select {
	case err := <-errorsChan:
		if err != io.EOF {
			logrus.WithError(err).
				WithField("client", clientAddr).
				Error("Error observed on connection relay")
			c.metrics.Errors.With("type", "relay").Add(1)
		}

	case <-c.ctx.Done():
		logrus.Debug("Observed context cancellation")
	}
}

func (c *Connector) pumpFrames(incoming io.Reader, outgoing io.Writer, bufferSize int,
	errorsChan chan<- error, from, to string, clientAddr net.Addr) {

	amount, err := io.CopyBuffer(outgoing, incoming, make([]byte, bufferSize))
	logrus.
		WithField("client", clientAddr).
		WithField("amount", amount).
		Infof("Finished relay %s->%s", from, to)

	c.metrics.BytesTransmitted.Add(float64(amount))

	if err != nil {
		errorsChan <- err
	} else {
		// successful io.Copy returns nil error, not EOF...simulate that to trigger outer handling
		errorsChan <- io.EOF
	}
}

func writeProxyProtoHeader(frontendConn net.Conn, clientAddr net.Addr, backendConn net.Conn) error {
	// Determine transport protocol for the PROXY header by "analyzing" the frontend connection's address
	transportProtocol := proxyproto.TCPv4
	ourHostIpPart, _, err := net.SplitHostPort(frontendConn.LocalAddr().String())
	if err != nil {
		return errors.Wrap(err, "failed to extract host part of our address")
	}
	ourFrontendIp := net.ParseIP(ourHostIpPart)
	if ourFrontendIp.To4() == nil {
		transportProtocol = proxyproto.TCPv6
	}

	header := &proxyproto.Header{
		Version:           2,
		Command:           proxyproto.PROXY,
		TransportProtocol: transportProtocol,
		SourceAddr:        clientAddr,
		DestinationAddr:   frontendConn.LocalAddr(), // our end of the client's connection
	}

	_, err = header.WriteTo(backendConn)
	return err
}

// clientIPFromAddr extracts the client IP for guard bookkeeping. Addresses
// that are not host:port shaped (net.Pipe in tests) map to the zero Addr,
// which the guard treats as a regular key.
func clientIPFromAddr(addr net.Addr) netip.Addr {
	if addrPort, err := netip.ParseAddrPort(addr.String()); err == nil {
		return addrPort.Addr()
	}
	return netip.Addr{}
}
