package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
)

func TestMockProducesProbeableWav(t *testing.T) {
	m := NewMock(22050)
	res, err := m.Synthesize(context.Background(), "Hello there, how are you today?", "", "en")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.Audio) == 0 {
		t.Fatal("expected audio bytes")
	}
	if res.SampleRate != 22050 {
		t.Fatalf("unexpected sample rate %d", res.SampleRate)
	}
	if res.DurationS <= 0 {
		t.Fatalf("unexpected duration %f", res.DurationS)
	}

	probed, err := WavDuration(res.Audio)
	if err != nil {
		t.Fatalf("wav duration: %v", err)
	}
	if diff := probed - res.DurationS; diff > 0.05 || diff < -0.05 {
		t.Fatalf("probed duration %f disagrees with reported %f", probed, res.DurationS)
	}
}

func TestMockDurationScalesWithText(t *testing.T) {
	m := NewMock(16000)
	short, err := m.Synthesize(context.Background(), "Hi.", "", "en")
	if err != nil {
		t.Fatalf("short: %v", err)
	}
	long, err := m.Synthesize(context.Background(),
		"This is a substantially longer fragment that should take several seconds to speak aloud.", "", "en")
	if err != nil {
		t.Fatalf("long: %v", err)
	}
	if long.DurationS <= short.DurationS {
		t.Fatalf("expected longer text to produce longer audio: %f vs %f", long.DurationS, short.DurationS)
	}
}

func TestHTTPSynthTalksToSidecar(t *testing.T) {
	mock := NewMock(22050)
	sample, err := mock.Synthesize(context.Background(), "sidecar sample", "", "en")
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/generate" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req protocol.SynthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Text != "hello" || req.VoiceRef != "anna" || req.Language != "es" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(protocol.SynthesizeReply{
			Audio:      sample.Audio,
			SampleRate: sample.SampleRate,
		})
	}))
	defer srv.Close()

	cfg := config.Default().TTS
	cfg.Endpoint = srv.URL
	s := NewHTTP(cfg)

	res, err := s.Synthesize(context.Background(), "hello", "anna", "es")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	// The sidecar omitted duration_s, so the adapter probes the WAV header.
	if res.DurationS <= 0 {
		t.Fatalf("expected probed duration, got %f", res.DurationS)
	}
}

func TestHTTPSynthSurfacesSidecarError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(protocol.SynthesizeReply{Error: "speaker reference missing"})
	}))
	defer srv.Close()

	cfg := config.Default().TTS
	cfg.Endpoint = srv.URL
	s := NewHTTP(cfg)
	if _, err := s.Synthesize(context.Background(), "hello", "", "en"); err == nil {
		t.Fatal("expected an error from the sidecar reply")
	}
}
