package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrProtocol marks an upstream message that could not be understood.
var ErrProtocol = errors.New("malformed upstream message")

// Kind identifies the variant carried by an Event.
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionReady
	KindSpeechStarted
	KindSpeechStopped
	KindTranscriptDelta
	KindUtteranceCompleted
	KindResponseCompleted
	KindError
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindSessionReady:
		return "session_ready"
	case KindSpeechStarted:
		return "speech_started"
	case KindSpeechStopped:
		return "speech_stopped"
	case KindTranscriptDelta:
		return "transcript_delta"
	case KindUtteranceCompleted:
		return "utterance_completed"
	case KindResponseCompleted:
		return "response_completed"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Segment is one speaker-attributed span within a completed utterance.
type Segment struct {
	ID      string  `json:"id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Type    string  `json:"type"`
}

// Event is one message received from the upstream service.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind Kind
	Type string // raw upstream type tag

	Text     string    // TranscriptDelta, UtteranceCompleted
	Segments []Segment // UtteranceCompleted
	Message  string    // Error
	Code     int       // Closed
	Reason   string    // Closed
}

// Upstream type tags.
const (
	typeTranscriptionSessionCreated = "transcription_session.created"
	typeTranscriptionSessionUpdated = "transcription_session.updated"
	typeSessionCreated              = "session.created"
	typeSessionUpdated              = "session.updated"
	typeSpeechStarted               = "input_audio_buffer.speech_started"
	typeSpeechStopped               = "input_audio_buffer.speech_stopped"
	typeTranscriptionDelta          = "conversation.item.input_audio_transcription.delta"
	typeTranscriptionCompleted      = "conversation.item.input_audio_transcription.completed"
	typeResponseDelta               = "response.delta"
	typeResponseOutputTextDelta     = "response.output_text.delta"
	typeResponseCompleted           = "response.completed"
	typeResponseOutputTextDone      = "response.output_text.done"
	typeError                       = "error"
)

// envelope is decoded first so that unmapped event shapes never fail to parse.
type envelope struct {
	Type string `json:"type"`
}

type deltaPayload struct {
	Delta      looseString     `json:"delta"`
	OutputText json.RawMessage `json:"output_text"`
}

type completedPayload struct {
	Transcript looseString     `json:"transcript"`
	Text       looseString     `json:"text"`
	Segments   json.RawMessage `json:"segments"`
}

type errorPayload struct {
	Error json.RawMessage `json:"error"`
}

// segmentWire tolerates ids, speakers and times of any scalar JSON type.
type segmentWire struct {
	ID      looseString `json:"id"`
	Start   looseFloat  `json:"start"`
	End     looseFloat  `json:"end"`
	Speaker looseString `json:"speaker"`
	Text    looseString `json:"text"`
	Type    looseString `json:"type"`
}

// ParseEvent decodes one upstream text frame. Unrecognized type tags yield
// KindUnknown without error whatever their payload; only frames that are not
// a JSON object with a string type return an ErrProtocol error.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrProtocol)
	}

	ev := Event{Type: env.Type}
	switch env.Type {
	case typeTranscriptionSessionCreated, typeTranscriptionSessionUpdated,
		typeSessionCreated, typeSessionUpdated:
		ev.Kind = KindSessionReady
	case typeSpeechStarted:
		ev.Kind = KindSpeechStarted
	case typeSpeechStopped:
		ev.Kind = KindSpeechStopped
	case typeTranscriptionDelta, typeResponseDelta, typeResponseOutputTextDelta:
		var p deltaPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrProtocol, env.Type, err)
		}
		ev.Kind = KindTranscriptDelta
		ev.Text = string(p.Delta)
		if ev.Text == "" && len(p.OutputText) > 0 {
			var nested struct {
				Delta looseString `json:"delta"`
			}
			if json.Unmarshal(p.OutputText, &nested) == nil {
				ev.Text = string(nested.Delta)
			}
		}
	case typeTranscriptionCompleted:
		var p completedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrProtocol, env.Type, err)
		}
		ev.Kind = KindUtteranceCompleted
		ev.Text = string(p.Transcript)
		if ev.Text == "" {
			ev.Text = string(p.Text)
		}
		ev.Segments = parseSegments(p.Segments)
	case typeResponseCompleted, typeResponseOutputTextDone:
		ev.Kind = KindResponseCompleted
	case typeError:
		var p errorPayload
		_ = json.Unmarshal(data, &p)
		ev.Kind = KindError
		ev.Message = errorMessage(p.Error)
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}

// parseSegments keeps every element that is a JSON object. Anything else,
// including a non-array value, contributes no segments.
func parseSegments(raw json.RawMessage) []Segment {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	var out []Segment
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			continue
		}
		var w segmentWire
		if json.Unmarshal(item, &w) != nil {
			continue
		}
		out = append(out, Segment{
			ID:      string(w.ID),
			Start:   float64(w.Start),
			End:     float64(w.End),
			Speaker: string(w.Speaker),
			Text:    string(w.Text),
			Type:    string(w.Type),
		})
	}
	return out
}

// looseString decodes a JSON string or number as text. Other values decode
// to "" without error.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*s = looseString(n.String())
		return nil
	}
	*s = ""
	return nil
}

// looseFloat decodes a JSON number or numeric string. Other values decode to 0.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	var v float64
	if err := json.Unmarshal(b, &v); err == nil {
		*f = looseFloat(v)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if v, err := strconv.ParseFloat(str, 64); err == nil {
			*f = looseFloat(v)
			return nil
		}
	}
	*f = 0
	return nil
}

// errorMessage accepts both {"error":{"message":...}} and {"error":"..."}.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "upstream error"
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return "upstream error"
}

// ProtocolError wraps a parse failure as a recoverable Error event.
func ProtocolError(err error) Event {
	return Event{Kind: KindError, Type: typeError, Message: err.Error()}
}
