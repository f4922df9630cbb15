// Package pipeline drives one user turn end to end: recognize the clip,
// ask the dialogue model, split the reply, then render and publish each
// chunk strictly in order. Chunk generation is serial: the lip-sync stage
// is GPU-bound, so the design optimizes chunk size, not chunk parallelism.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-avatar/internal/asr"
	"github.com/loqalabs/loqa-avatar/internal/assetstore"
	"github.com/loqalabs/loqa-avatar/internal/chunker"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/history"
	"github.com/loqalabs/loqa-avatar/internal/lipsync"
	"github.com/loqalabs/loqa-avatar/internal/llm"
	"github.com/loqalabs/loqa-avatar/internal/sse"
	"github.com/loqalabs/loqa-avatar/internal/tts"
)

// TurnInput is everything one turn needs from the transport layer.
type TurnInput struct {
	TurnID       string
	SessionID    string
	Audio        []byte
	Format       string
	LanguageHint string
	PortraitRef  string
	VoiceRef     string
}

type Pipeline struct {
	cfg      config.Config
	asr      asr.Transcriber
	llm      llm.Responder
	tts      tts.Synthesizer
	lipsync  lipsync.Animator
	splitter *chunker.Splitter
	store    *assetstore.Store
	history  *history.Store
	logger   *slog.Logger
	tracer   trace.Tracer

	ttffHist  metric.Float64Histogram
	rtfHist   metric.Float64Histogram
	chunkHist metric.Float64Histogram
	turnHist  metric.Float64Histogram
}

func New(
	cfg config.Config,
	transcriber asr.Transcriber,
	responder llm.Responder,
	synthesizer tts.Synthesizer,
	animator lipsync.Animator,
	store *assetstore.Store,
	hist *history.Store,
	logger *slog.Logger,
) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		asr:      transcriber,
		llm:      responder,
		tts:      synthesizer,
		lipsync:  animator,
		splitter: chunker.New(cfg.Chunker),
		store:    store,
		history:  hist,
		logger:   logger.With(slog.String("component", "pipeline")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-avatar/pipeline"),
	}
	p.initMetrics()
	return p
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-avatar/pipeline")
	var err error
	if p.ttffHist, err = meter.Float64Histogram("avatar.pipeline.ttff_seconds",
		metric.WithDescription("Time from turn start to the first video_chunk emission")); err != nil {
		p.logger.Warn("ttff metric unavailable", slog.String("error", err.Error()))
	}
	if p.rtfHist, err = meter.Float64Histogram("avatar.pipeline.rtf",
		metric.WithDescription("Chunk generation time divided by produced video duration")); err != nil {
		p.logger.Warn("rtf metric unavailable", slog.String("error", err.Error()))
	}
	if p.chunkHist, err = meter.Float64Histogram("avatar.pipeline.chunk_seconds",
		metric.WithDescription("Wall time per generated chunk")); err != nil {
		p.logger.Warn("chunk metric unavailable", slog.String("error", err.Error()))
	}
	if p.turnHist, err = meter.Float64Histogram("avatar.pipeline.turn_seconds",
		metric.WithDescription("Wall time per completed turn")); err != nil {
		p.logger.Warn("turn metric unavailable", slog.String("error", err.Error()))
	}
}

// RunTurn executes one turn and emits its events through w. The returned
// error is for logging only: every failure the client should hear about
// has already gone out as a terminal error event.
func (p *Pipeline) RunTurn(ctx context.Context, in TurnInput, w *sse.Writer) error {
	start := time.Now()
	logger := p.logger.With(slog.String("turn_id", in.TurnID))

	ctx, span := p.tracer.Start(ctx, "pipeline.RunTurn",
		trace.WithAttributes(attribute.String("turn_id", in.TurnID)))
	defer span.End()

	// Terminal no matter how the turn ends; the grace period starts here.
	defer p.store.ReleaseTurn(in.TurnID)

	transcript, language, err := p.transcribe(ctx, in)
	if err != nil {
		w.EmitError(ctx, err)
		return err
	}
	if err := w.Emit(sse.KindTranscription, &sse.Transcription{
		Text:     transcript,
		Language: language,
		Time:     time.Since(start).Seconds(),
	}); err != nil {
		return err
	}

	response, err := p.respond(ctx, in.SessionID, transcript)
	if err != nil {
		w.EmitError(ctx, err)
		return err
	}
	if err := w.Emit(sse.KindLLMResponse, &sse.LLMResponse{Text: response}); err != nil {
		return err
	}

	fragments := p.splitter.Split(response)
	logger.Info("response chunked",
		slog.Int("fragments", len(fragments)),
		slog.Int("response_chars", len(response)))

	for i, fragment := range fragments {
		if err := ctx.Err(); err != nil {
			logger.Info("turn cancelled", slog.Int("at_chunk", i))
			w.Close()
			return err
		}
		chunk, err := p.generateChunk(ctx, in, language, i, fragment)
		if err != nil {
			w.EmitError(ctx, err)
			return err
		}
		if i == 0 && p.ttffHist != nil {
			p.ttffHist.Record(ctx, time.Since(start).Seconds())
		}
		if err := w.Emit(sse.KindVideoChunk, chunk); err != nil {
			return err
		}
	}

	if err := w.Emit(sse.KindComplete, &sse.Complete{
		TotalTime:  time.Since(start).Seconds(),
		ChunkCount: len(fragments),
	}); err != nil {
		return err
	}

	p.history.AppendExchange(in.SessionID, transcript, response)
	if p.turnHist != nil {
		p.turnHist.Record(ctx, time.Since(start).Seconds())
	}
	logger.Info("turn complete",
		slog.Int("chunks", len(fragments)),
		slog.Duration("total", time.Since(start)))
	return nil
}

func (p *Pipeline) transcribe(ctx context.Context, in TurnInput) (text, language string, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.transcribe")
	defer span.End()

	ctx, cancel := stageContext(ctx, p.cfg.ASR.TimeoutMS, 30*time.Second)
	defer cancel()

	res, err := p.asr.Transcribe(ctx, in.Audio, in.Format, in.LanguageHint)
	if err != nil {
		return "", "", err
	}
	language = res.Language
	if language == "" {
		language = p.cfg.Upload.DefaultLanguage
	}
	return res.Text, language, nil
}

// respond asks the dialogue model. An LLM failure is the one recoverable
// fault in the pipeline: when fallback is enabled, the turn continues with
// the canned template instead of dying before any video is produced.
func (p *Pipeline) respond(ctx context.Context, sessionID, transcript string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.respond")
	defer span.End()

	snapshot := p.history.Snapshot(sessionID)

	llmCtx, cancel := stageContext(ctx, p.cfg.LLM.TimeoutMS, 60*time.Second)
	defer cancel()

	response, err := p.llm.Respond(llmCtx, transcript, snapshot, p.cfg.LLM.SystemPrompt)
	if err == nil {
		return response, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if !p.cfg.LLM.FallbackEnabled {
		return "", err
	}
	p.logger.Warn("llm failed, using fallback response", slog.String("error", err.Error()))
	return fmt.Sprintf(p.cfg.LLM.FallbackTemplate, transcript), nil
}

// generateChunk runs TTS, then lip-sync, then stores and verifies the video
// artifact. It returns the ready-to-emit event; the artifact is readable by
// the time the caller publishes it.
func (p *Pipeline) generateChunk(ctx context.Context, in TurnInput, language string, index int, fragment string) (*sse.VideoChunk, error) {
	chunkStart := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.generateChunk",
		trace.WithAttributes(attribute.Int("chunk_index", index)))
	defer span.End()

	ttsCtx, cancelTTS := stageContext(ctx, p.cfg.TTS.TimeoutMS, 30*time.Second)
	speech, err := p.tts.Synthesize(ttsCtx, fragment, in.VoiceRef, language)
	cancelTTS()
	if err != nil {
		return nil, err
	}
	if _, err := p.store.Put(in.TurnID, assetstore.KindAudio, speech.Audio); err != nil {
		return nil, err
	}

	lipCtx, cancelLip := stageContext(ctx, p.cfg.LipSync.TimeoutMS, 60*time.Second)
	video, err := p.lipsync.Animate(lipCtx, speech.Audio, in.PortraitRef, lipsync.OptionsFrom(p.cfg.LipSync))
	cancelLip()
	if err != nil {
		return nil, err
	}

	artifact, err := p.store.Put(in.TurnID, assetstore.KindVideo, video.Video)
	if err != nil {
		return nil, err
	}
	if err := p.store.ConfirmStable(ctx, artifact, 0); err != nil {
		return nil, err
	}

	elapsed := time.Since(chunkStart).Seconds()
	if p.chunkHist != nil {
		p.chunkHist.Record(ctx, elapsed)
	}
	if p.rtfHist != nil && video.DurationS > 0 {
		p.rtfHist.Record(ctx, elapsed/video.DurationS)
	}

	return &sse.VideoChunk{
		ChunkIndex:     index,
		VideoURL:       "/videos/" + artifact.ID,
		TextChunk:      fragment,
		ChunkTime:      elapsed,
		AudioDurationS: speech.DurationS,
		VideoDurationS: video.DurationS,
	}, nil
}

func stageContext(ctx context.Context, timeoutMS int, fallback time.Duration) (context.Context, context.CancelFunc) {
	timeout := fallback
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	return context.WithTimeout(ctx, timeout)
}

// Language validation lives here so both transport and pipeline agree on
// the supported set.
func ValidLanguage(cfg config.UploadConfig, lang string) bool {
	for _, l := range cfg.Languages {
		if l == lang {
			return true
		}
	}
	return false
}
