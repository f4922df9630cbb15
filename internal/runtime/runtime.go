// Package runtime assembles the daemon: telemetry, the emit journal, the
// message bus, the asset store, the inference adapters, the pipeline, and
// the HTTP server, wired in dependency order and torn down in reverse.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-avatar/internal/asr"
	"github.com/loqalabs/loqa-avatar/internal/assetstore"
	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/catalog"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/gateway"
	"github.com/loqalabs/loqa-avatar/internal/history"
	"github.com/loqalabs/loqa-avatar/internal/journal"
	"github.com/loqalabs/loqa-avatar/internal/lipsync"
	"github.com/loqalabs/loqa-avatar/internal/llm"
	"github.com/loqalabs/loqa-avatar/internal/natsserver"
	"github.com/loqalabs/loqa-avatar/internal/pipeline"
	"github.com/loqalabs/loqa-avatar/internal/readiness"
	"github.com/loqalabs/loqa-avatar/internal/tts"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger}
}

// Start brings the whole daemon up and blocks until the context ends.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	jnl, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	busClient, busCleanup, err := r.startBus(ctx)
	if err != nil {
		return err
	}
	defer busCleanup()

	store, err := assetstore.New(r.cfg.AssetStore, r.logger)
	if err != nil {
		return fmt.Errorf("open asset store: %w", err)
	}
	go store.Run(ctx, time.Duration(r.cfg.AssetStore.SweepIntervalMS)*time.Millisecond)

	transcriber, err := asr.New(r.cfg.ASR, busClient)
	if err != nil {
		return fmt.Errorf("build asr adapter: %w", err)
	}
	responder, err := llm.New(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("build llm adapter: %w", err)
	}
	synthesizer, err := tts.New(r.cfg.TTS, busClient)
	if err != nil {
		return fmt.Errorf("build tts adapter: %w", err)
	}
	animator, err := lipsync.New(r.cfg.LipSync, busClient)
	if err != nil {
		return fmt.Errorf("build lipsync adapter: %w", err)
	}

	ready := readiness.NewRegistry(r.logger)
	ready.Register("asr", r.engineProbe(r.cfg.ASR.Mode, "", busClient))
	ready.Register("llm", r.llmProbe())
	ready.Register("tts", r.engineProbe(r.cfg.TTS.Mode, r.cfg.TTS.Endpoint, busClient))
	ready.Register("lipsync", r.engineProbe(r.cfg.LipSync.Mode, r.cfg.LipSync.Endpoint, busClient))
	ready.Start(ctx)

	hist := history.New(r.cfg.LLM.HistoryTurns)
	portraits := catalog.NewPortraits(r.cfg.LipSync.PortraitDir, r.cfg.LipSync.DefaultPortrait, r.logger)
	voices := catalog.NewVoices(r.cfg.TTS.VoiceDir, r.cfg.TTS.DefaultVoice, r.logger)

	p := pipeline.New(r.cfg, transcriber, responder, synthesizer, animator, store, hist, r.logger)
	gw := gateway.New(r.cfg, p, store, portraits, voices, ready, jnl, busClient, metricHandler, r.logger)

	return r.serve(ctx, gw.Handler())
}

// startBus starts the embedded broker when configured and connects the
// client. Both are optional: with the bus disabled every adapter must run in
// a local mode, which config validation already guarantees.
func (r *Runtime) startBus(ctx context.Context) (*bus.Client, func(), error) {
	if !r.cfg.Bus.Enabled {
		return nil, func() {}, nil
	}

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("start embedded bus: %w", err)
	}
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		embedded.Shutdown()
		return nil, nil, fmt.Errorf("connect to bus: %w", err)
	}
	return client, func() {
		client.Close()
		embedded.Shutdown()
	}, nil
}

// engineProbe picks the readiness probe for an adapter mode. Local modes
// have nothing to ping; http modes get their sidecar health URL and bus
// modes report the connection state.
func (r *Runtime) engineProbe(mode, endpoint string, busClient *bus.Client) readiness.Probe {
	switch mode {
	case "http":
		return readiness.HTTPProbe(endpoint + "/health")
	case "bus":
		return func(context.Context) error {
			if !busClient.Healthy() {
				return errors.New("bus connection down")
			}
			return nil
		}
	default:
		return nil
	}
}

func (r *Runtime) llmProbe() readiness.Probe {
	if r.cfg.LLM.Mode == "ollama" {
		return readiness.HTTPProbe(r.cfg.LLM.Endpoint + "/api/tags")
	}
	return nil
}

// serve runs the HTTP server with the configured protocol. SSE plus several
// parallel video fetches per turn exceed HTTP/1.1 per-origin connection
// limits, so multiplexed transports are the default and http1 is a dev-only
// escape hatch.
func (r *Runtime) serve(ctx context.Context, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", r.cfg.Server.Bind, r.cfg.Server.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if r.cfg.Server.Protocol == "h2c" {
		srv.Handler = h2c.NewHandler(handler, &http2.Server{})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("server listening",
			slog.String("addr", addr),
			slog.String("protocol", r.cfg.Server.Protocol))
		var err error
		if r.cfg.Server.Protocol == "h2" {
			err = srv.ListenAndServeTLS(r.cfg.Server.TLSCert, r.cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		r.logger.Info("server stopping")
		grace := time.Duration(r.cfg.Server.ShutdownGraceMS) * time.Millisecond
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
