package readiness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotTransitions(t *testing.T) {
	r := NewRegistry(discard())
	r.Register("asr", nil)
	r.Register("tts", func(ctx context.Context) error { return nil })

	// tts has not been probed yet.
	if st := r.Snapshot(); st.Status != "initializing" || st.ModelsLoaded {
		t.Fatalf("expected initializing, got %+v", st)
	}

	r.probeAll(context.Background())
	st := r.Snapshot()
	if st.Status != "healthy" || !st.ModelsLoaded {
		t.Fatalf("expected healthy, got %+v", st)
	}
	if !st.Models["asr"] || !st.Models["tts"] {
		t.Fatalf("expected both engines ready: %+v", st.Models)
	}
}

func TestFailingProbeMakesUnhealthy(t *testing.T) {
	r := NewRegistry(discard())
	r.Register("lipsync", func(ctx context.Context) error { return errors.New("sidecar down") })
	r.probeAll(context.Background())

	st := r.Snapshot()
	if st.Status != "unhealthy" || st.ModelsLoaded {
		t.Fatalf("expected unhealthy, got %+v", st)
	}
	if st.Models["lipsync"] {
		t.Fatal("failing engine must not report ready")
	}
}

func TestEmptyRegistryNeverReportsModelsLoaded(t *testing.T) {
	r := NewRegistry(discard())
	if st := r.Snapshot(); st.ModelsLoaded {
		t.Fatalf("no engines means nothing loaded: %+v", st)
	}
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := HTTPProbe(srv.URL)(context.Background()); err != nil {
		t.Fatalf("probe against healthy server: %v", err)
	}

	srv.Close()
	if err := HTTPProbe(srv.URL)(context.Background()); err == nil {
		t.Fatal("expected probe failure against closed server")
	}
}
