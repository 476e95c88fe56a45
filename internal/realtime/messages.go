package realtime

// Outbound message shapes of the realtime transcription protocol.

type typedMessage struct {
	Type string `json:"type"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type transcriptionSessionUpdate struct {
	Type    string               `json:"type"`
	Session transcriptionSession `json:"session"`
}

type transcriptionSession struct {
	InputAudioFormat         string                  `json:"input_audio_format"`
	InputAudioTranscription  inputAudioTranscription `json:"input_audio_transcription"`
	InputAudioNoiseReduction *noiseReduction         `json:"input_audio_noise_reduction"`
	// Always serialized as null: turn boundaries come from client commits.
	TurnDetection *struct{} `json:"turn_detection"`
}

type inputAudioTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type noiseReduction struct {
	Type string `json:"type"`
}

type responseCreateMessage struct {
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type responseParams struct {
	Conversation string        `json:"conversation"`
	Instructions string        `json:"instructions,omitempty"`
	InputAudio   []inputBuffer `json:"input_audio"`
}

type inputBuffer struct {
	Buffer string `json:"buffer"`
}

func sessionUpdate(cfg Config) transcriptionSessionUpdate {
	format := cfg.InputFormat
	if format == "" {
		format = "pcm16"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-transcribe"
	}
	var nr *noiseReduction
	if cfg.NoiseReduction != "" {
		nr = &noiseReduction{Type: cfg.NoiseReduction}
	}
	return transcriptionSessionUpdate{
		Type: "transcription_session.update",
		Session: transcriptionSession{
			InputAudioFormat: format,
			InputAudioTranscription: inputAudioTranscription{
				Model:    model,
				Language: cfg.Language,
			},
			InputAudioNoiseReduction: nr,
		},
	}
}

func responseCreate(instructions string) responseCreateMessage {
	return responseCreateMessage{
		Type: "response.create",
		Response: responseParams{
			Conversation: "none",
			Instructions: instructions,
			InputAudio:   []inputBuffer{{Buffer: "default"}},
		},
	}
}
