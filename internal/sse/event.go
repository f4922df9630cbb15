// Package sse serializes pipeline events onto one response body. Every
// event gets a dense per-turn sequence number and a monotonic timestamp at
// emission time, and the body is flushed per event so nothing lingers in a
// chunk buffer.
package sse

// Kind is the closed set of event types on the wire.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindLLMResponse   Kind = "llm_response"
	KindVideoChunk    Kind = "video_chunk"
	KindComplete      Kind = "complete"
	KindError         Kind = "error"
)

// Meta carries the fields every event payload shares. The writer stamps it
// during Emit; producers leave it zero.
type Meta struct {
	Seq             int     `json:"seq"`
	ServerTimestamp float64 `json:"server_timestamp"`
}

func (m *Meta) stamp(seq int, ts float64) {
	m.Seq = seq
	m.ServerTimestamp = ts
}

type stampable interface {
	stamp(seq int, ts float64)
}

// Transcription reports the recognized user utterance.
type Transcription struct {
	Meta
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Time     float64 `json:"time"`
}

// LLMResponse reports the full assistant text before chunking.
type LLMResponse struct {
	Meta
	Text string `json:"text"`
}

// VideoChunk announces one playable artifact. ChunkIndex values are dense
// and strictly increasing within a turn.
type VideoChunk struct {
	Meta
	ChunkIndex     int     `json:"chunk_index"`
	VideoURL       string  `json:"video_url"`
	TextChunk      string  `json:"text_chunk"`
	ChunkTime      float64 `json:"chunk_time"`
	AudioDurationS float64 `json:"audio_duration_s"`
	VideoDurationS float64 `json:"video_duration_s"`
}

// Complete terminates a successful turn.
type Complete struct {
	Meta
	TotalTime  float64 `json:"total_time"`
	ChunkCount int     `json:"chunk_count"`
}

// Error terminates a failed turn.
type Error struct {
	Meta
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
