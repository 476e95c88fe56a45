package realtime

import (
	"errors"
	"testing"
)

func TestParseEventKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
		text string
	}{
		{"transcription session created", `{"type":"transcription_session.created"}`, KindSessionReady, ""},
		{"transcription session updated", `{"type":"transcription_session.updated"}`, KindSessionReady, ""},
		{"session updated", `{"type":"session.updated"}`, KindSessionReady, ""},
		{"speech started", `{"type":"input_audio_buffer.speech_started","audio_start_ms":10}`, KindSpeechStarted, ""},
		{"speech stopped", `{"type":"input_audio_buffer.speech_stopped"}`, KindSpeechStopped, ""},
		{"transcription delta", `{"type":"conversation.item.input_audio_transcription.delta","delta":"ol"}`, KindTranscriptDelta, "ol"},
		{"response delta", `{"type":"response.delta","delta":"á"}`, KindTranscriptDelta, "á"},
		{"output text delta nested", `{"type":"response.output_text.delta","output_text":{"delta":"hi"}}`, KindTranscriptDelta, "hi"},
		{"response completed", `{"type":"response.completed"}`, KindResponseCompleted, ""},
		{"output text done", `{"type":"response.output_text.done"}`, KindResponseCompleted, ""},
		{"unknown tag", `{"type":"rate_limits.updated"}`, KindUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if ev.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", ev.Kind, tt.kind)
			}
			if ev.Text != tt.text {
				t.Errorf("Text = %q, want %q", ev.Text, tt.text)
			}
		})
	}
}

func TestParseEventUtteranceCompleted(t *testing.T) {
	raw := `{
		"type": "conversation.item.input_audio_transcription.completed",
		"transcript": "good morning",
		"segments": [
			{"id":"seg_0","start":0.0,"end":0.8,"speaker":"A","text":"good","type":"speech"},
			{"id":"seg_1","start":0.8,"end":1.4,"speaker":"B","text":"morning","type":"speech"}
		]
	}`

	ev, err := ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Kind != KindUtteranceCompleted {
		t.Fatalf("Kind = %v, want %v", ev.Kind, KindUtteranceCompleted)
	}
	if ev.Text != "good morning" {
		t.Errorf("Text = %q, want %q", ev.Text, "good morning")
	}
	if len(ev.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(ev.Segments))
	}
	if ev.Segments[1].Speaker != "B" || ev.Segments[1].End != 1.4 {
		t.Errorf("Segments[1] = %+v", ev.Segments[1])
	}
}

func TestParseEventUtteranceCompletedFallsBackToText(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","text":"fallback"}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Text != "fallback" {
		t.Errorf("Text = %q, want %q", ev.Text, "fallback")
	}
}

func TestParseEventErrorMessage(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"type":"error","error":{"type":"invalid_request_error","message":"buffer too small"}}`, "buffer too small"},
		{`{"type":"error","error":"boom"}`, "boom"},
		{`{"type":"error"}`, "upstream error"},
	}

	for _, tt := range tests {
		ev, err := ParseEvent([]byte(tt.raw))
		if err != nil {
			t.Fatalf("ParseEvent(%s) error = %v", tt.raw, err)
		}
		if ev.Kind != KindError {
			t.Errorf("Kind = %v, want %v", ev.Kind, KindError)
		}
		if ev.Message != tt.want {
			t.Errorf("Message = %q, want %q", ev.Message, tt.want)
		}
	}
}

func TestParseEventMalformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"delta":"x"}`, `{"type":42}`} {
		_, err := ParseEvent([]byte(raw))
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("ParseEvent(%q) error = %v, want ErrProtocol", raw, err)
		}
	}
}

func TestProtocolErrorEvent(t *testing.T) {
	_, err := ParseEvent([]byte(`{`))
	ev := ProtocolError(err)
	if ev.Kind != KindError {
		t.Errorf("Kind = %v, want %v", ev.Kind, KindError)
	}
	if ev.Message == "" {
		t.Error("Message should not be empty")
	}
}

func TestParseEventUnknownTagIgnoresPayloadShape(t *testing.T) {
	tests := []string{
		`{"type":"response.future_event","delta":{"index":1}}`,
		`{"type":"conversation.item.future","text":{"value":"x"}}`,
		`{"type":"rate_limits.updated","segments":{"n":2}}`,
		`{"type":"conversation.item.created","transcript":[1,2],"error":7}`,
	}

	for _, raw := range tests {
		ev, err := ParseEvent([]byte(raw))
		if err != nil {
			t.Errorf("ParseEvent(%s) error = %v", raw, err)
			continue
		}
		if ev.Kind != KindUnknown {
			t.Errorf("ParseEvent(%s) Kind = %v, want %v", raw, ev.Kind, KindUnknown)
		}
	}
}

func TestParseEventDeltaWithUnexpectedShape(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"response.output_text.delta","delta":{"index":1},"output_text":"x"}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Kind != KindTranscriptDelta || ev.Text != "" {
		t.Errorf("event = %+v, want empty delta", ev)
	}
}

func TestParseEventUtteranceCompletedLooseSegments(t *testing.T) {
	raw := `{
		"type": "conversation.item.input_audio_transcription.completed",
		"transcript": "hello world",
		"segments": [
			{"id":0,"start":"0.5","end":1.25,"speaker":2,"text":"hello","type":null},
			"not a segment",
			{"id":"seg_1","start":1.25,"end":{"bad":true},"speaker":"A","text":"world"}
		]
	}`

	ev, err := ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Kind != KindUtteranceCompleted || ev.Text != "hello world" {
		t.Fatalf("event = %+v, want completed utterance %q", ev, "hello world")
	}
	want := []Segment{
		{ID: "0", Start: 0.5, End: 1.25, Speaker: "2", Text: "hello"},
		{ID: "seg_1", Start: 1.25, End: 0, Speaker: "A", Text: "world"},
	}
	if len(ev.Segments) != len(want) {
		t.Fatalf("Segments = %+v, want %+v", ev.Segments, want)
	}
	for i := range want {
		if ev.Segments[i] != want[i] {
			t.Errorf("Segments[%d] = %+v, want %+v", i, ev.Segments[i], want[i])
		}
	}
}

func TestParseEventUtteranceCompletedKeepsTextWithoutSegments(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"kept","segments":{"n":1}}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Text != "kept" {
		t.Errorf("Text = %q, want %q", ev.Text, "kept")
	}
	if len(ev.Segments) != 0 {
		t.Errorf("Segments = %+v, want none", ev.Segments)
	}
}
