// Package transcript turns upstream realtime events into the client-facing
// event protocol and accumulates the running transcript between response
// boundaries.
package transcript

import (
	"encoding/json"

	"github.com/lukasbauer/medrelay/internal/realtime"
)

// EventType is the "type" tag of an outbound client event.
type EventType string

const (
	EventSpeechStarted         EventType = "speech_started"
	EventSpeechStopped         EventType = "speech_stopped"
	EventTranscriptionUpdate   EventType = "transcription_update"
	EventTranscriptionComplete EventType = "transcription_complete"
	EventError                 EventType = "error"
)

// Event is one message sent to the downstream client.
type Event struct {
	Type EventType

	TextDelta string             // transcription_update
	FullText  string             // transcription_complete
	Segments  []realtime.Segment // transcription_update, transcription_complete
	IsFinal   bool               // transcription_update
	Message   string             // error
}

// ErrorEvent builds an error event for the client.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

type updateWire struct {
	Type      EventType          `json:"type"`
	TextDelta string             `json:"text_delta"`
	Segments  []realtime.Segment `json:"segments"`
	IsFinal   bool               `json:"is_final"`
}

type completeWire struct {
	Type     EventType          `json:"type"`
	FullText string             `json:"full_text"`
	Segments []realtime.Segment `json:"segments"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

type bareWire struct {
	Type EventType `json:"type"`
}

// MarshalJSON writes the exact wire shape of each event type. Segment lists
// are always arrays, never null.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTranscriptionUpdate:
		return json.Marshal(updateWire{
			Type:      e.Type,
			TextDelta: e.TextDelta,
			Segments:  nonNil(e.Segments),
			IsFinal:   e.IsFinal,
		})
	case EventTranscriptionComplete:
		return json.Marshal(completeWire{
			Type:     e.Type,
			FullText: e.FullText,
			Segments: nonNil(e.Segments),
		})
	case EventError:
		return json.Marshal(errorWire{Type: e.Type, Message: e.Message})
	default:
		return json.Marshal(bareWire{Type: e.Type})
	}
}

func nonNil(segs []realtime.Segment) []realtime.Segment {
	if segs == nil {
		return []realtime.Segment{}
	}
	return segs
}
