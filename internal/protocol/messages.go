package protocol

// TranscribeRequest asks a remote ASR worker to transcribe an uploaded clip.
type TranscribeRequest struct {
	Audio        []byte `json:"audio"`
	Format       string `json:"format"`
	LanguageHint string `json:"language_hint,omitempty"`
}

type TranscribeReply struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// SynthesizeRequest asks a remote TTS worker for one utterance fragment.
type SynthesizeRequest struct {
	Text     string `json:"text"`
	VoiceRef string `json:"voice_ref,omitempty"`
	Language string `json:"language,omitempty"`
}

type SynthesizeReply struct {
	Audio      []byte  `json:"audio"`
	SampleRate int     `json:"sample_rate"`
	DurationS  float64 `json:"duration_s"`
	Error      string  `json:"error,omitempty"`
}

// AnimateRequest asks a remote lip-sync worker to render one video chunk.
type AnimateRequest struct {
	Audio          []byte `json:"audio"`
	PortraitRef    string `json:"portrait_ref,omitempty"`
	FPS            int    `json:"fps,omitempty"`
	Resolution     int    `json:"resolution,omitempty"`
	DiffusionSteps int    `json:"diffusion_steps,omitempty"`
}

type AnimateReply struct {
	Video      []byte  `json:"video"`
	DurationS  float64 `json:"duration_s"`
	FrameCount int     `json:"frame_count"`
	Error      string  `json:"error,omitempty"`
}

// TurnEvent is the lightweight announcement published for every SSE emit so
// external observers can follow turn progress without holding the stream.
type TurnEvent struct {
	TurnID    string  `json:"turn_id"`
	Seq       int     `json:"seq"`
	Kind      string  `json:"kind"`
	Timestamp float64 `json:"timestamp"`
}

const (
	SubjectTranscribe = "avatar.asr.transcribe"
	SubjectSynthesize = "avatar.tts.synthesize"
	SubjectAnimate    = "avatar.lipsync.animate"
	SubjectTurnEvents = "avatar.turn.event"
)
