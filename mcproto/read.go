package mcproto

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadVarInt reads a VarInt from reader, capped at 5 bytes.
func ReadVarInt(reader io.Reader) (int, error) {
	b := make([]byte, 1)
	result := 0
	for numRead := 0; numRead < 5; numRead++ {
		_, err := io.ReadFull(reader, b)
		if err != nil {
			return 0, err
		}
		result |= int(b[0]&0x7F) << (7 * numRead)

		if b[0]&0x80 == 0 {
			return result, nil
		}
	}

	return 0, ErrVarIntTooBig
}

// ReadString reads a VarInt length-prefixed UTF-8 string. Lengths beyond
// limit are rejected before any allocation for the content happens.
func ReadString(reader io.Reader, limit int) (string, error) {
	length, err := ReadVarInt(reader)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", errors.Errorf("negative string length %d", length)
	}
	if length > limit {
		return "", errors.Wrapf(ErrAddressTooLong, "%d > %d", length, limit)
	}

	content := make([]byte, length)
	if _, err := io.ReadFull(reader, content); err != nil {
		return "", err
	}

	return string(content), nil
}

func ReadByte(reader io.Reader) (byte, error) {
	buf := make([]byte, 1)
	_, err := io.ReadFull(reader, buf)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func ReadUnsignedShort(reader io.Reader) (uint16, error) {
	var value uint16
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func ReadUnsignedInt(reader io.Reader) (uint32, error) {
	var value uint32
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func ReadUTF16BEString(reader io.Reader, symbolLen uint16) (string, error) {
	bsUtf16be := make([]byte, symbolLen*2)

	_, err := io.ReadFull(reader, bsUtf16be)
	if err != nil {
		return "", err
	}

	result, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder(), bsUtf16be)
	if err != nil {
		return "", err
	}

	return string(result), nil
}

// DecodeLegacyServerListPing decodes the 1.6-style server list ping from raw
// buffered bytes beginning with the 0xFE prefix. Older clients send shorter
// prefixes of the same sequence; those decode with an error and the caller
// falls back to reporting a bare legacy ping.
func DecodeLegacyServerListPing(data []byte) (*LegacyServerListPing, error) {
	reader := bytes.NewReader(data)

	prefix, err := ReadByte(reader)
	if err != nil {
		return nil, err
	}
	if prefix != PacketIdLegacyServerListPing {
		return nil, errors.Errorf("expected legacy server list ping packet ID, got %x", prefix)
	}

	payload, err := ReadByte(reader)
	if err != nil {
		return nil, err
	}
	if payload != 0x01 {
		return nil, errors.Errorf("expected payload=1 from legacy server list ping, got %x", payload)
	}

	packetIdForPluginMsg, err := ReadByte(reader)
	if err != nil {
		return nil, err
	}
	if packetIdForPluginMsg != 0xFA {
		return nil, errors.Errorf("expected packetIdForPluginMsg=0xFA from legacy server list ping, got %x", packetIdForPluginMsg)
	}

	messageNameShortLen, err := ReadUnsignedShort(reader)
	if err != nil {
		return nil, err
	}
	if messageNameShortLen != 11 {
		return nil, errors.Errorf("expected messageNameShortLen=11 from legacy server list ping, got %d", messageNameShortLen)
	}

	messageName, err := ReadUTF16BEString(reader, messageNameShortLen)
	if err != nil {
		return nil, err
	}
	if messageName != "MC|PingHost" {
		return nil, errors.Errorf("expected messageName=MC|PingHost, got %s", messageName)
	}

	remainingLen, err := ReadUnsignedShort(reader)
	if err != nil {
		return nil, err
	}
	remainingReader := io.LimitReader(reader, int64(remainingLen))

	protocolVersion, err := ReadByte(remainingReader)
	if err != nil {
		return nil, err
	}

	hostnameLen, err := ReadUnsignedShort(remainingReader)
	if err != nil {
		return nil, err
	}
	hostname, err := ReadUTF16BEString(remainingReader, hostnameLen)
	if err != nil {
		return nil, err
	}

	port, err := ReadUnsignedInt(remainingReader)
	if err != nil {
		return nil, err
	}

	return &LegacyServerListPing{
		ProtocolVersion: int(protocolVersion),
		ServerAddress:   hostname,
		ServerPort:      uint16(port),
	}, nil
}
