package mcproto

import "fmt"

// State is the protocol state a client requests in its handshake.
type State int

const (
	StateHandshaking State = 0
	StateStatus      State = 1
	StateLogin       State = 2
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	PacketIdHandshake       = 0x00
	PacketIdStatusRequest   = 0x00
	PacketIdStatusResponse  = 0x00
	PacketIdPing            = 0x01
	PacketIdPong            = 0x01
	PacketIdLoginDisconnect = 0x00

	// PacketIdLegacyServerListPing is the single-byte prefix sent by pre-Netty
	// clients instead of a framed handshake.
	PacketIdLegacyServerListPing = 0xFE
)

var inspectLimit = 64

// SetInspectionLimit caps how many raw payload bytes are rendered when
// frames and packets are formatted for log output.
func SetInspectionLimit(limit int) {
	if limit > 0 {
		inspectLimit = limit
	}
}

func trimBytes(data []byte) ([]byte, string) {
	if len(data) < inspectLimit {
		return data, ""
	} else {
		return data[:inspectLimit], "..."
	}
}

type Frame struct {
	Length  int
	Payload []byte
}

func (f *Frame) String() string {
	trimmed, cont := trimBytes(f.Payload)
	return fmt.Sprintf("Frame:[len=%d, payload=%#X%s]", f.Length, trimmed, cont)
}

type Packet struct {
	Length   int
	PacketID int
	Data     []byte
}

func (p *Packet) String() string {
	trimmed, cont := trimBytes(p.Data)
	return fmt.Sprintf("Packet:[len=%d, packetId=%d, data=%#X%s]", p.Length, p.PacketID, trimmed, cont)
}

// Handshake is the first message of a modern client connection. ServerAddress
// is kept verbatim as the client sent it; routing decisions are made on it
// without any normalization.
type Handshake struct {
	ProtocolVersion int
	ServerAddress   string
	ServerPort      uint16
	NextState       State
}

func (h *Handshake) String() string {
	return fmt.Sprintf("Handshake:[proto=%d, addr=%s, port=%d, nextState=%s]",
		h.ProtocolVersion, h.ServerAddress, h.ServerPort, h.NextState)
}

// LegacyServerListPing carries the fields of a pre-Netty server list ping.
// These connections are never routed; the decoded fields only inform logging.
type LegacyServerListPing struct {
	ProtocolVersion int
	ServerAddress   string
	ServerPort      uint16
}

func (p *LegacyServerListPing) String() string {
	return fmt.Sprintf("LegacyServerListPing:[proto=%d, addr=%s, port=%d]",
		p.ProtocolVersion, p.ServerAddress, p.ServerPort)
}
