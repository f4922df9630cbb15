// Package lipsync fronts the talking-head video engines. One call turns a
// synthesized audio clip plus a portrait into one video chunk. Engines are
// expected to emit fast-start MP4 (moov atom before mdat) so a browser can
// begin playback while the file is still downloading.
package lipsync

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/config"
)

// Options carries the render parameters for one chunk.
type Options struct {
	FPS            int
	Resolution     int
	DiffusionSteps int
}

// Result is one rendered video chunk.
type Result struct {
	Video      []byte
	DurationS  float64
	FrameCount int
}

// Animator abstracts lip-sync backends. The GPU-bound engines serialize
// concurrent turns internally; callers only promise sequential use within
// one turn.
type Animator interface {
	Animate(ctx context.Context, audio []byte, portraitRef string, opts Options) (Result, error)
}

func New(cfg config.LipSyncConfig, busClient *bus.Client) (Animator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "exec":
		return NewExec(cfg)
	case "http":
		return NewHTTP(cfg), nil
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("lipsync mode bus requires a connected bus")
		}
		return NewBus(cfg, busClient), nil
	default:
		return nil, fmt.Errorf("unknown lipsync mode %q", cfg.Mode)
	}
}

// OptionsFrom fills render options from config.
func OptionsFrom(cfg config.LipSyncConfig) Options {
	return Options{
		FPS:            cfg.FPS,
		Resolution:     cfg.Resolution,
		DiffusionSteps: cfg.DiffusionSteps,
	}
}
