package mcproto

import (
	"bytes"
	"encoding/json"
	"io"
)

// WriteVarInt writes a VarInt (Minecraft format) to w
func WriteVarInt(w io.Writer, value int32) error {
	var buf [5]byte
	i := 0
	v := uint32(value)
	for {
		temp := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			temp |= 0x80
		}
		buf[i] = temp
		i++
		if v == 0 {
			break
		}
	}
	_, err := w.Write(buf[:i])
	return err
}

// WriteString writes a Minecraft length-prefixed string
func WriteString(w io.Writer, s string) error {
	if err := WriteVarInt(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func WriteUnsignedShort(w io.Writer, value uint16) error {
	_, err := w.Write([]byte{byte(value >> 8), byte(value)})
	return err
}

// buildPacket builds a framed packet: [length VarInt][packetId VarInt][payload]
func buildPacket(packetID int32, payload []byte) []byte {
	var b bytes.Buffer
	_ = WriteVarInt(&b, packetID)
	b.Write(payload)

	var framed bytes.Buffer
	_ = WriteVarInt(&framed, int32(b.Len()))
	framed.Write(b.Bytes())
	return framed.Bytes()
}

// ChatMessage is the chat-component shape used for status descriptions and
// disconnect reasons.
type ChatMessage struct {
	Text string `json:"text"`
}

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type StatusPlayerEntry struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type StatusPlayers struct {
	Max    int                 `json:"max"`
	Online int                 `json:"online"`
	Sample []StatusPlayerEntry `json:"sample"`
}

// StatusResponse is the JSON payload of a status response (packet 0x00)
type StatusResponse struct {
	Version            StatusVersion `json:"version"`
	Players            StatusPlayers `json:"players"`
	Description        ChatMessage   `json:"description"`
	Favicon            string        `json:"favicon,omitempty"`
	EnforcesSecureChat bool          `json:"enforcesSecureChat"`
}

// WriteStatusResponse writes a fully framed status response packet
func WriteStatusResponse(w io.Writer, status *StatusResponse) error {
	b, err := json.Marshal(status)
	if err != nil {
		return err
	}

	var payload bytes.Buffer
	if err := WriteString(&payload, string(b)); err != nil {
		return err
	}
	_, err = w.Write(buildPacket(PacketIdStatusResponse, payload.Bytes()))
	return err
}

// WritePong echoes a ping payload back as a pong packet (0x01). The payload
// is written byte-for-byte as received.
func WritePong(w io.Writer, payload []byte) error {
	_, err := w.Write(buildPacket(PacketIdPong, payload))
	return err
}

// WriteLoginDisconnect writes a login-state disconnect packet (0x00) whose
// reason is a chat component carrying the given message.
func WriteLoginDisconnect(w io.Writer, message string) error {
	b, err := json.Marshal(&ChatMessage{Text: message})
	if err != nil {
		return err
	}

	var payload bytes.Buffer
	if err := WriteString(&payload, string(b)); err != nil {
		return err
	}
	_, err = w.Write(buildPacket(PacketIdLoginDisconnect, payload.Bytes()))
	return err
}

// WriteHandshake writes a fully framed handshake packet
func WriteHandshake(w io.Writer, handshake *Handshake) error {
	var payload bytes.Buffer
	if err := WriteVarInt(&payload, int32(handshake.ProtocolVersion)); err != nil {
		return err
	}
	if err := WriteString(&payload, handshake.ServerAddress); err != nil {
		return err
	}
	if err := WriteUnsignedShort(&payload, handshake.ServerPort); err != nil {
		return err
	}
	if err := WriteVarInt(&payload, int32(handshake.NextState)); err != nil {
		return err
	}

	_, err := w.Write(buildPacket(PacketIdHandshake, payload.Bytes()))
	return err
}
