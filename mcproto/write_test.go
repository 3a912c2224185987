package mcproto

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFramedString(t *testing.T, buf *bytes.Buffer, expectedPacketID int) string {
	t.Helper()

	frameLength, err := ReadVarInt(buf)
	require.NoError(t, err)
	require.Equal(t, frameLength, buf.Len())

	packetID, err := ReadVarInt(buf)
	require.NoError(t, err)
	require.Equal(t, expectedPacketID, packetID)

	content, err := ReadString(buf, maxFrameLength)
	require.NoError(t, err)
	return content
}

func TestWriteStatusResponse(t *testing.T) {
	var buf bytes.Buffer
	err := WriteStatusResponse(&buf, &StatusResponse{
		Version:     StatusVersion{Name: "1.20.4", Protocol: 765},
		Players:     StatusPlayers{Max: 20, Online: 0, Sample: []StatusPlayerEntry{}},
		Description: ChatMessage{Text: "Epic server 2"},
	})
	require.NoError(t, err)

	content := readFramedString(t, &buf, PacketIdStatusResponse)

	var status StatusResponse
	require.NoError(t, json.Unmarshal([]byte(content), &status))

	assert.Equal(t, "Epic server 2", status.Description.Text)
	assert.Equal(t, 765, status.Version.Protocol)
	assert.Equal(t, 0, status.Players.Online)
}

func TestWriteLoginDisconnect(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLoginDisconnect(&buf, "Sorry this server is not available"))

	content := readFramedString(t, &buf, PacketIdLoginDisconnect)

	var reason ChatMessage
	require.NoError(t, json.Unmarshal([]byte(content), &reason))

	assert.Equal(t, "Sorry this server is not available", reason.Text)
}

func TestWritePongEchoesPayload(t *testing.T) {
	payload := []byte{0, 0, 0, 0, 0, 0, 48, 57}

	var buf bytes.Buffer
	require.NoError(t, WritePong(&buf, payload))

	frameLength, err := ReadVarInt(&buf)
	require.NoError(t, err)
	assert.Equal(t, 9, frameLength)

	packetID, err := ReadVarInt(&buf)
	require.NoError(t, err)
	assert.Equal(t, PacketIdPong, packetID)

	assert.Equal(t, payload, buf.Bytes())
}
