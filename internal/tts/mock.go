package tts

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type mockSynth struct {
	sampleRate int
}

// NewMock synthesizes a quiet sine tone sized to a rough speaking rate of
// 15 characters per second. The output is a real WAV file so duration
// probing and downstream stages behave as they would with an engine.
func NewMock(sampleRate int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, text, _, _ string) (Result, error) {
	const op = "tts.Synthesize"

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}

	durationS := float64(len(text)) / 15.0
	if durationS < 0.2 {
		durationS = 0.2
	}
	samples := int(durationS * float64(m.sampleRate))
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: m.sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, samples),
	}
	for i := range buf.Data {
		buf.Data[i] = int(3000 * math.Sin(2*math.Pi*220*float64(i)/float64(m.sampleRate)))
	}

	// The wav encoder needs a seekable target to patch up the header.
	f, err := os.CreateTemp("", "avatar_tts_*.wav")
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "temp file", err)
	}
	defer os.Remove(f.Name())

	enc := wav.NewEncoder(f, m.sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		return Result{}, fault.E(fault.AdapterFailure, op, "encode wav", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return Result{}, fault.E(fault.AdapterFailure, op, "finalize wav", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "close wav", err)
	}
	data, err := os.ReadFile(f.Name())
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "read wav", err)
	}

	return Result{Audio: data, SampleRate: m.sampleRate, DurationS: durationS}, nil
}
