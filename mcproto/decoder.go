package mcproto

import (
	"bytes"

	"github.com/pkg/errors"
)

// Limit frame length to 2^21 - 1, the same cap the vanilla protocol uses
const maxFrameLength = 2097151

// The protocol caps the handshake server address at 255 bytes
const maxServerAddressLength = 255

var (
	ErrVarIntTooBig         = errors.New("VarInt is too big")
	ErrFrameTooLarge        = errors.New("frame length too large")
	ErrBufferLimitExceeded  = errors.New("accumulated bytes exceed buffer limit")
	ErrPacketBudgetExceeded = errors.New("packet budget exceeded before handshake")
	ErrLegacyClientPing     = errors.New("legacy server list ping")
	ErrAddressTooLong       = errors.New("server address exceeds protocol limit")
)

// Decoder assembles frames from a byte stream delivered in arbitrary-sized
// chunks. It never blocks and never reads from a socket itself, which keeps
// it testable against raw byte sequences. Feed appends a chunk, Next pops the
// next complete frame. Hostile streams are bounded three ways: accumulated
// unparsed bytes are capped, the number of frames handed out is capped, and
// VarInts are capped at 5 bytes.
type Decoder struct {
	buf         []byte
	byteLimit   int
	frameBudget int
	framesRead  int
}

func NewDecoder(byteLimit int, frameBudget int) *Decoder {
	return &Decoder{
		byteLimit:   byteLimit,
		frameBudget: frameBudget,
	}
}

// Feed appends a chunk of received bytes. It fails when the unparsed
// remainder would exceed the configured buffer limit.
func (d *Decoder) Feed(chunk []byte) error {
	if len(d.buf)+len(chunk) > d.byteLimit {
		return errors.Wrapf(ErrBufferLimitExceeded, "%d > %d", len(d.buf)+len(chunk), d.byteLimit)
	}
	d.buf = append(d.buf, chunk...)
	return nil
}

// Buffered returns the bytes accepted by Feed but not yet consumed by Next.
func (d *Decoder) Buffered() []byte {
	return d.buf
}

// Next extracts the next complete frame. A nil packet with a nil error means
// more bytes are needed. The raw slice is the byte-exact frame as received,
// including the length prefix, suitable for verbatim replay to a backend.
func (d *Decoder) Next() (packet *Packet, raw []byte, err error) {
	if len(d.buf) == 0 {
		return nil, nil, nil
	}

	// 0xFE can only be a legacy ping as the very first byte of the stream;
	// later on it is a legitimate length byte
	if d.framesRead == 0 && d.buf[0] == PacketIdLegacyServerListPing {
		return nil, nil, ErrLegacyClientPing
	}

	frameLength, lengthBytes, err := readVarIntFromBuffer(d.buf)
	if err != nil {
		return nil, nil, err
	}
	if lengthBytes == 0 {
		// length prefix itself is still incomplete
		return nil, nil, nil
	}
	if frameLength <= 0 || frameLength > maxFrameLength {
		return nil, nil, errors.Wrapf(ErrFrameTooLarge, "length %d", frameLength)
	}

	total := lengthBytes + frameLength
	if len(d.buf) < total {
		return nil, nil, nil
	}

	d.framesRead++
	if d.framesRead > d.frameBudget {
		return nil, nil, errors.Wrapf(ErrPacketBudgetExceeded, "limit %d", d.frameBudget)
	}

	raw = make([]byte, total)
	copy(raw, d.buf[:total])
	d.buf = append(d.buf[:0], d.buf[total:]...)

	payload := raw[lengthBytes:]
	packetID, idBytes, err := readVarIntFromBuffer(payload)
	if err != nil {
		return nil, nil, err
	}
	if idBytes == 0 {
		return nil, nil, errors.Errorf("frame of %d bytes too short for packet id", frameLength)
	}

	packet = &Packet{
		Length:   total,
		PacketID: packetID,
		Data:     payload[idBytes:],
	}
	return packet, raw, nil
}

// readVarIntFromBuffer decodes a VarInt from the start of buf. It returns
// consumed=0 when buf ends before the VarInt does.
func readVarIntFromBuffer(buf []byte) (value int, consumed int, err error) {
	result := 0
	for i := 0; i < len(buf); i++ {
		if i >= 5 {
			return 0, 0, ErrVarIntTooBig
		}
		b := buf[i]
		result |= int(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	if len(buf) >= 5 {
		return 0, 0, ErrVarIntTooBig
	}
	return 0, 0, nil
}

// DecodeHandshake decodes a Handshake message from Packet.Data bytes
func DecodeHandshake(data []byte) (*Handshake, error) {
	handshake := &Handshake{}
	buffer := bytes.NewBuffer(data)
	var err error

	handshake.ProtocolVersion, err = ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read protocol version")
	}

	handshake.ServerAddress, err = ReadString(buffer, maxServerAddressLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read server address")
	}

	handshake.ServerPort, err = ReadUnsignedShort(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read server port")
	}

	nextState, err := ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read next state")
	}
	handshake.NextState = State(nextState)

	return handshake, nil
}
