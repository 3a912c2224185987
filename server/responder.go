package server

import (
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcgateway/mc-gateway/mcproto"
)

const (
	synthesizedVersionName = "1.20.4"
	synthesizedMaxPlayers  = 20

	defaultDisconnectMessage = "Server configuration error"
)

// serveSynthesizedResponses answers a client on behalf of an endpoint that has
// no origin to dial. Status handshakes get a full status/ping exchange and
// login handshakes get a disconnect message, after which the connection is
// closed either way.
func (c *Connector) serveSynthesizedResponses(frontendConn net.Conn, clientAddr net.Addr,
	decoder *mcproto.Decoder, handshake *mcproto.Handshake, endpoint *Endpoint) {

	logrus.
		WithField("client", clientAddr).
		WithField("serverAddress", handshake.ServerAddress).
		WithField("state", handshake.NextState).
		Debug("Serving synthesized response")

	if handshake.NextState == mcproto.StateLogin {
		message := endpoint.Message
		if message == "" {
			message = defaultDisconnectMessage
		}
		if err := mcproto.WriteLoginDisconnect(frontendConn, message); err != nil {
			logrus.
				WithError(err).
				WithField("client", clientAddr).
				Debug("Failed to write login disconnect")
			c.metrics.Errors.With("type", "synth_write").Add(1)
			return
		}
		c.metrics.SynthesizedResponses.With("kind", "disconnect").Add(1)
		return
	}

	// the handshake consumed the packet budget tracking; the status exchange
	// gets a fresh decoder carrying over any pipelined bytes
	statusDecoder := mcproto.NewDecoder(c.clientBufferSize, c.clientPacketsLimit)
	if err := statusDecoder.Feed(decoder.Buffered()); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Debug("Pipelined bytes exceeded buffer limit")
		c.metrics.Errors.With("type", "buffer_limit").Add(1)
		return
	}

	if _, ok := c.readStatusPacket(frontendConn, clientAddr, statusDecoder, mcproto.PacketIdStatusRequest); !ok {
		return
	}

	status := &mcproto.StatusResponse{
		Version: mcproto.StatusVersion{
			Name: synthesizedVersionName,
			// echo the client's protocol version so every client sees itself as compatible
			Protocol: handshake.ProtocolVersion,
		},
		Players: mcproto.StatusPlayers{
			Max:    synthesizedMaxPlayers,
			Online: 0,
			Sample: []mcproto.StatusPlayerEntry{},
		},
		Description: mcproto.ChatMessage{Text: endpoint.Motd},
	}
	if err := mcproto.WriteStatusResponse(frontendConn, status); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Debug("Failed to write status response")
		c.metrics.Errors.With("type", "synth_write").Add(1)
		return
	}
	c.metrics.SynthesizedResponses.With("kind", "status").Add(1)

	// most clients follow up with a ping to measure latency; echo the
	// payload back untouched, tolerate clients that just hang up
	packet, ok := c.readStatusPacket(frontendConn, clientAddr, statusDecoder, mcproto.PacketIdPing)
	if !ok {
		return
	}

	if err := mcproto.WritePong(frontendConn, packet.Data); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Debug("Failed to write pong")
		c.metrics.Errors.With("type", "synth_write").Add(1)
		return
	}
	c.metrics.SynthesizedResponses.With("kind", "pong").Add(1)
}

// readStatusPacket reads frames until one with the expected packet id arrives,
// skipping any others. A read failure, decode failure, or clean client
// hang-up reports false.
func (c *Connector) readStatusPacket(frontendConn net.Conn, clientAddr net.Addr,
	decoder *mcproto.Decoder, expectedPacketID int) (*mcproto.Packet, bool) {

	if err := frontendConn.SetReadDeadline(time.Now().Add(c.handshakeTimeout)); err != nil {
		logrus.
			WithError(err).
			WithField("client", clientAddr).
			Error("Failed to set read deadline")
		c.metrics.Errors.With("type", "read_deadline").Add(1)
		return nil, false
	}

	chunk := make([]byte, readChunkSize)
	for {
		packet, _, err := decoder.Next()
		if err != nil {
			c.logHandshakeFailure(clientAddr, decoder, err)
			return nil, false
		}

		if packet != nil {
			if packet.PacketID == expectedPacketID {
				return packet, true
			}
			logrus.
				WithField("client", clientAddr).
				WithField("packet", packet).
				Debug("Skipping unexpected status packet")
			continue
		}

		n, err := frontendConn.Read(chunk)
		if n > 0 {
			if feedErr := decoder.Feed(chunk[:n]); feedErr != nil {
				c.logHandshakeFailure(clientAddr, decoder, feedErr)
				return nil, false
			}
		}
		if err != nil {
			if err != io.EOF {
				logrus.
					WithError(err).
					WithField("client", clientAddr).
					Debug("Failed to read status packet")
				c.metrics.Errors.With("type", "read").Add(1)
			}
			return nil, false
		}
	}
}
