package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// MessageType is the "type" tag of an inbound client message.
type MessageType string

const (
	MessageInit        MessageType = "init"
	MessageAudioAppend MessageType = "input_audio_buffer.append"
	MessageCommit      MessageType = "commit"
	MessageClose       MessageType = "close"
)

// Message is one validated inbound client message.
type Message struct {
	Type MessageType

	// init; zero values mean "keep the current value"
	SampleRateHz int
	Codec        string
	ContextID    string

	// IgnoredSampleRate holds a rate that was present but unusable, as sent.
	IgnoredSampleRate string

	// input_audio_buffer.append; base64, forwarded as received
	Audio string
}

type inboundWire struct {
	Type         MessageType     `json:"type"`
	SampleRateHz json.RawMessage `json:"sample_rate_hz"`
	SampleRate   json.RawMessage `json:"sample_rate"`
	Codec        string          `json:"codec"`
	PatientID    string          `json:"patient_id"`
	Audio        string          `json:"audio"`
}

// ParseMessage validates one client text frame.
func ParseMessage(data []byte) (Message, error) {
	var raw inboundWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: invalid JSON: %v", ErrClientProtocol, err)
	}

	switch raw.Type {
	case MessageInit:
		msg := Message{Type: MessageInit, Codec: raw.Codec, ContextID: raw.PatientID}
		msg.SampleRateHz, msg.IgnoredSampleRate = sampleRate(raw.SampleRateHz, raw.SampleRate)
		return msg, nil

	case MessageAudioAppend:
		if raw.Audio == "" {
			return Message{}, fmt.Errorf("%w: empty audio payload", ErrClientProtocol)
		}
		if _, err := base64.StdEncoding.DecodeString(raw.Audio); err != nil {
			return Message{}, fmt.Errorf("%w: audio is not base64: %v", ErrClientProtocol, err)
		}
		return Message{Type: MessageAudioAppend, Audio: raw.Audio}, nil

	case MessageCommit, MessageClose:
		return Message{Type: raw.Type}, nil

	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrClientProtocol)

	default:
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrClientProtocol, raw.Type)
	}
}

// sampleRate picks the first usable positive integer rate, preferring
// sample_rate_hz. When neither is usable it returns the first rate that was
// sent so the caller can report it.
func sampleRate(candidates ...json.RawMessage) (rate int, ignored string) {
	for _, raw := range candidates {
		if isAbsent(raw) {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil && f > 0 && f == math.Trunc(f) && f <= math.MaxInt32 {
			return int(f), ""
		}
		if ignored == "" {
			ignored = string(raw)
		}
	}
	return 0, ignored
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
