package ws

import (
	"encoding/json"
	"fmt"
)

// Inbound message types for the presence channel.
const (
	msgHeartbeatResponse = "heartbeat_response"
	msgDisconnect        = "disconnect"
)

// Inbound message types for the call channel.
const (
	msgStartTranscription = "start_transcription"
	msgAudio              = "audio"
	msgStopTranscription  = "stop_transcription"
)

// inboundMessage is the envelope for every client-to-server frame on both
// channel surfaces. Data carries base64-encoded audio for "audio" frames
// and is empty otherwise.
type inboundMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// decodeInbound parses a raw client frame.
func decodeInbound(raw []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return inboundMessage{}, fmt.Errorf("ws: decode message: %w", err)
	}
	if msg.Type == "" {
		return inboundMessage{}, fmt.Errorf("ws: message missing type")
	}
	return msg, nil
}
