// Package tts fronts the speech-synthesis engines. One call produces the
// full clip for one utterance fragment; the pipeline stores it and hands it
// to the lip-sync stage.
package tts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/config"
)

// Result is one synthesized utterance fragment. Audio is a complete WAV
// container.
type Result struct {
	Audio      []byte
	SampleRate int
	DurationS  float64
}

// Synthesizer abstracts TTS backends. voiceRef names a reference sample for
// voice cloning; engines without cloning may ignore it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceRef, language string) (Result, error)
}

func New(cfg config.TTSConfig, busClient *bus.Client) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(cfg.SampleRate), nil
	case "exec":
		return NewExec(cfg)
	case "http":
		return NewHTTP(cfg), nil
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("tts mode bus requires a connected bus")
		}
		return NewBus(cfg, busClient), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

// WavDuration reads the play time of a WAV clip from its header. Used when
// an engine reports no duration and by the pipeline's audio metadata.
func WavDuration(audio []byte) (float64, error) {
	decoder := wav.NewDecoder(bytes.NewReader(audio))
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("not a valid wav file")
	}
	d, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	return d.Seconds(), nil
}
