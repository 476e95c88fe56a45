package transcript

import "github.com/lukasbauer/medrelay/internal/realtime"

const (
	DefaultSampleRateHz = 16000
	DefaultCodec        = "pcm16"
)

// Session is the per-connection transcription state. It is not safe for
// concurrent use: the owner must confine all calls to one goroutine.
type Session struct {
	SampleRateHz int
	Codec        string
	ContextID    string // optional patient/context id supplied by the client

	ready    bool
	text     string
	segments []realtime.Segment
}

// NewSession returns a session with default audio parameters.
func NewSession() *Session {
	return &Session{
		SampleRateHz: DefaultSampleRateHz,
		Codec:        DefaultCodec,
	}
}

// Ready reports whether the upstream service has acknowledged the session.
func (s *Session) Ready() bool { return s.ready }

// Text returns the transcript accumulated since the last completed response.
func (s *Session) Text() string { return s.text }

// Segments returns a copy of the segments accumulated since the last
// completed response.
func (s *Session) Segments() []realtime.Segment {
	out := make([]realtime.Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Translate applies one upstream event to the session and returns the client
// events it produces, in order.
func (s *Session) Translate(ev realtime.Event) []Event {
	switch ev.Kind {
	case realtime.KindSessionReady:
		s.ready = true
		return nil

	case realtime.KindSpeechStarted:
		return []Event{{Type: EventSpeechStarted}}

	case realtime.KindSpeechStopped:
		return []Event{{Type: EventSpeechStopped}}

	case realtime.KindTranscriptDelta:
		if ev.Text == "" {
			return nil
		}
		s.text += ev.Text
		return []Event{{
			Type:      EventTranscriptionUpdate,
			TextDelta: ev.Text,
			Segments:  []realtime.Segment{},
		}}

	case realtime.KindUtteranceCompleted:
		segs := ev.Segments
		if segs == nil {
			segs = []realtime.Segment{}
		}
		s.segments = append(s.segments, segs...)
		if ev.Text != "" {
			if s.text != "" {
				s.text += " "
			}
			s.text += ev.Text
		}
		return []Event{{
			Type:      EventTranscriptionUpdate,
			TextDelta: ev.Text,
			Segments:  segs,
			IsFinal:   true,
		}}

	case realtime.KindResponseCompleted:
		out := Event{
			Type:     EventTranscriptionComplete,
			FullText: s.text,
			Segments: s.segments,
		}
		if out.Segments == nil {
			out.Segments = []realtime.Segment{}
		}
		s.text = ""
		s.segments = nil
		return []Event{out}

	case realtime.KindError:
		return []Event{ErrorEvent(ev.Message)}
	}

	// Closed is handled by the session owner; unknown tags are ignored.
	return nil
}
