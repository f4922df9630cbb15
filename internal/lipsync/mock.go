package lipsync

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type mockAnimator struct{}

// NewMock renders a placeholder MP4 whose box layout matches what the real
// engines produce: ftyp, then moov, then mdat. The payload is not decodable
// video, but the container shape and duration metadata are right, which is
// what the streaming path cares about.
func NewMock() Animator {
	return &mockAnimator{}
}

func (m *mockAnimator) Animate(ctx context.Context, audio []byte, _ string, opts Options) (Result, error) {
	if len(audio) == 0 {
		return Result{}, fault.E(fault.AdapterFailure, "lipsync.Animate", "empty audio clip", nil)
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}

	durationS := probeDuration(audio)
	fps := opts.FPS
	if fps <= 0 {
		fps = 25
	}
	frames := int(durationS * float64(fps))
	if frames < 1 {
		frames = 1
	}

	video := buildFastStartMP4(durationS, audio)
	return Result{Video: video, DurationS: durationS, FrameCount: frames}, nil
}

func probeDuration(audio []byte) float64 {
	decoder := wav.NewDecoder(bytes.NewReader(audio))
	if decoder.IsValidFile() {
		if d, err := decoder.Duration(); err == nil && d > 0 {
			return d.Seconds()
		}
	}
	// Raw PCM guess: 16-bit mono at 22.05 kHz.
	return float64(len(audio)) / (22050 * 2)
}

// buildFastStartMP4 assembles a minimal box sequence with moov ahead of
// mdat. The mvhd carries the real duration at a millisecond timescale.
func buildFastStartMP4(durationS float64, payload []byte) []byte {
	ftyp := box("ftyp", []byte("isom\x00\x00\x02\x00isomiso2avc1mp41"))

	mvhd := make([]byte, 100)
	binary.BigEndian.PutUint32(mvhd[12:], 1000)                     // timescale: ms
	binary.BigEndian.PutUint32(mvhd[16:], uint32(durationS*1000))   // duration
	binary.BigEndian.PutUint32(mvhd[20:], 0x00010000)               // rate 1.0
	moov := box("moov", box("mvhd", mvhd))

	mdat := box("mdat", payload)

	out := make([]byte, 0, len(ftyp)+len(moov)+len(mdat))
	out = append(out, ftyp...)
	out = append(out, moov...)
	out = append(out, mdat...)
	return out
}

func box(kind string, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(b, uint32(8+len(payload)))
	copy(b[4:], kind)
	copy(b[8:], payload)
	return b
}
