package mcproto

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadVarInt(t *testing.T) {
	tests := []struct {
		Name     string
		Input    []byte
		Expected int
	}{
		{
			Name:     "Single byte",
			Input:    []byte{0xFA, 0x00},
			Expected: 0x7A,
		},
		{
			Name:     "Two byte",
			Input:    []byte{0x81, 0x04},
			Expected: 0x0201,
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			result, err := ReadVarInt(bytes.NewBuffer(tt.Input))
			require.NoError(t, err)

			assert.Equal(t, tt.Expected, result)
		})
	}
}

func TestVarIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, 0x7F, 0x80, 0x0201, 300, 25565, 2097151, 1 << 28, 1<<31 - 1}

	random := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		values = append(values, random.Int31())
	}

	for _, value := range values {
		var buf bytes.Buffer
		require.NoError(t, WriteVarInt(&buf, value))

		result, err := ReadVarInt(&buf)
		require.NoError(t, err)
		assert.Equal(t, int(value), result)
	}
}

func TestReadVarIntTooBig(t *testing.T) {
	_, err := ReadVarInt(bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}))
	assert.ErrorIs(t, err, ErrVarIntTooBig)
}

func encodedHandshake(t *testing.T, handshake *Handshake) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteHandshake(&buf, handshake))
	return buf.Bytes()
}

func TestDecoderAssemblesFragmentedHandshake(t *testing.T) {
	given := &Handshake{
		ProtocolVersion: 765,
		ServerAddress:   "server1.example.com",
		ServerPort:      25565,
		NextState:       StateLogin,
	}
	frame := encodedHandshake(t, given)

	decoder := NewDecoder(4096, 3)

	// deliver one byte at a time to exercise resumption at every boundary
	for i, b := range frame {
		packet, _, err := decoder.Next()
		require.NoError(t, err)
		require.Nilf(t, packet, "frame should be incomplete after %d bytes", i)
		require.NoError(t, decoder.Feed([]byte{b}))
	}

	packet, raw, err := decoder.Next()
	require.NoError(t, err)
	require.NotNil(t, packet)

	assert.Equal(t, PacketIdHandshake, packet.PacketID)
	assert.Equal(t, frame, raw)
	assert.Empty(t, decoder.Buffered())

	decoded, err := DecodeHandshake(packet.Data)
	require.NoError(t, err)
	assert.Equal(t, given, decoded)
}

func TestDecoderRetainsPipelinedBytes(t *testing.T) {
	frame := encodedHandshake(t, &Handshake{
		ProtocolVersion: 765,
		ServerAddress:   "server1.example.com",
		ServerPort:      25565,
		NextState:       StateLogin,
	})
	pipelined := []byte{0x03, 0x00, 0x01, 0x61}

	decoder := NewDecoder(4096, 3)
	require.NoError(t, decoder.Feed(append(append([]byte{}, frame...), pipelined...)))

	packet, raw, err := decoder.Next()
	require.NoError(t, err)
	require.NotNil(t, packet)

	assert.Equal(t, frame, raw)
	assert.Equal(t, pipelined, decoder.Buffered())
}

func TestDecoderLegacyPing(t *testing.T) {
	decoder := NewDecoder(4096, 3)
	require.NoError(t, decoder.Feed([]byte{0xFE, 0x01}))

	_, _, err := decoder.Next()
	assert.ErrorIs(t, err, ErrLegacyClientPing)
}

func TestDecoderMalformedVarInt(t *testing.T) {
	decoder := NewDecoder(4096, 3)
	require.NoError(t, decoder.Feed([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}))

	_, _, err := decoder.Next()
	assert.ErrorIs(t, err, ErrVarIntTooBig)
}

func TestDecoderBufferLimit(t *testing.T) {
	decoder := NewDecoder(16, 3)

	require.NoError(t, decoder.Feed(make([]byte, 16)))
	err := decoder.Feed([]byte{0x00})
	assert.ErrorIs(t, err, ErrBufferLimitExceeded)
}

func TestDecoderPacketBudget(t *testing.T) {
	// two minimal frames of a single 0x00 packet id each
	junk := []byte{0x01, 0x00, 0x01, 0x00}

	decoder := NewDecoder(4096, 1)
	require.NoError(t, decoder.Feed(junk))

	packet, _, err := decoder.Next()
	require.NoError(t, err)
	require.NotNil(t, packet)

	_, _, err = decoder.Next()
	assert.ErrorIs(t, err, ErrPacketBudgetExceeded)
}

func TestDecoderOversizedAddressRejected(t *testing.T) {
	longName := make([]byte, 300)
	for i := range longName {
		longName[i] = 'a'
	}

	var payload bytes.Buffer
	require.NoError(t, WriteVarInt(&payload, 765))
	require.NoError(t, WriteString(&payload, string(longName)))
	require.NoError(t, WriteUnsignedShort(&payload, 25565))
	require.NoError(t, WriteVarInt(&payload, int32(StateLogin)))

	frame := buildPacket(PacketIdHandshake, payload.Bytes())

	decoder := NewDecoder(4096, 3)
	require.NoError(t, decoder.Feed(frame))

	packet, _, err := decoder.Next()
	require.NoError(t, err)
	require.NotNil(t, packet)

	_, err = DecodeHandshake(packet.Data)
	assert.ErrorIs(t, err, ErrAddressTooLong)
}

// Randomly truncated or mutated handshake bytes must decode to either an
// error or a valid handshake without panicking or growing past the budgets.
func TestDecoderMalformedInputNeverPanics(t *testing.T) {
	frame := encodedHandshake(t, &Handshake{
		ProtocolVersion: 765,
		ServerAddress:   "server2.example.com",
		ServerPort:      25565,
		NextState:       StateStatus,
	})

	random := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		mutated := append([]byte{}, frame...)
		mutated = mutated[:random.Intn(len(mutated)+1)]
		for j := range mutated {
			if random.Intn(4) == 0 {
				mutated[j] = byte(random.Intn(256))
			}
		}

		decoder := NewDecoder(64, 3)
		if err := decoder.Feed(mutated); err != nil {
			continue
		}

		for {
			packet, _, err := decoder.Next()
			if err != nil || packet == nil {
				break
			}
			if packet.PacketID == PacketIdHandshake {
				_, _ = DecodeHandshake(packet.Data)
			}
		}

		assert.LessOrEqual(t, len(decoder.Buffered()), 64)
	}
}

func utf16be(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r>>8), byte(r))
	}
	return out
}

func TestDecodeLegacyServerListPing(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFE, 0x01, 0xFA})

	_ = binary.Write(&buf, binary.BigEndian, uint16(11))
	buf.Write(utf16be("MC|PingHost"))

	var rest bytes.Buffer
	rest.WriteByte(74)
	_ = binary.Write(&rest, binary.BigEndian, uint16(len("legacy.example.com")))
	rest.Write(utf16be("legacy.example.com"))
	_ = binary.Write(&rest, binary.BigEndian, uint32(25565))

	_ = binary.Write(&buf, binary.BigEndian, uint16(rest.Len()))
	buf.Write(rest.Bytes())

	ping, err := DecodeLegacyServerListPing(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 74, ping.ProtocolVersion)
	assert.Equal(t, "legacy.example.com", ping.ServerAddress)
	assert.Equal(t, uint16(25565), ping.ServerPort)
}

func TestDecodeLegacyServerListPingTruncated(t *testing.T) {
	_, err := DecodeLegacyServerListPing([]byte{0xFE, 0x01})
	assert.Error(t, err)
}
