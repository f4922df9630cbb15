package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-avatar/internal/fault"
	"github.com/loqalabs/loqa-avatar/internal/pipeline"
	"github.com/loqalabs/loqa-avatar/internal/sse"
)

// allowedFormats is the set of container formats browsers actually produce
// from MediaRecorder plus the raw fallback.
var allowedFormats = map[string]bool{
	"webm": true,
	"wav":  true,
	"ogg":  true,
}

// handleStream accepts one voice clip and streams the whole turn back as
// server-sent events on the same response. The request context is the turn's
// lifetime: when the client goes away, the pipeline stops at the next stage
// boundary and nothing further is written.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	const op = "gateway.stream"

	r.Body = http.MaxBytesReader(w, r.Body, g.cfg.Upload.MaxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		g.writeError(w, fault.E(fault.InvalidInput, op, "multipart form unreadable or too large", err))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		g.writeError(w, fault.E(fault.InvalidInput, op, "missing audio field", err))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		g.writeError(w, fault.E(fault.InvalidInput, op, "audio upload truncated", err))
		return
	}
	if len(audio) == 0 {
		g.writeError(w, fault.E(fault.InvalidInput, op, "audio upload is empty", nil))
		return
	}

	format := uploadFormat(header)
	if !allowedFormats[format] {
		g.writeError(w, fault.E(fault.InvalidInput, op,
			fmt.Sprintf("unsupported audio format %q", format), nil))
		return
	}

	language := strings.ToLower(strings.TrimSpace(r.FormValue("language")))
	if language == "" {
		language = g.cfg.Upload.DefaultLanguage
	}
	if !pipeline.ValidLanguage(g.cfg.Upload, language) {
		g.writeError(w, fault.E(fault.InvalidInput, op,
			fmt.Sprintf("unsupported language %q", language), nil))
		return
	}

	portraitPath, err := g.portraits.Resolve(r.FormValue("portrait"))
	if err != nil {
		g.writeError(w, err)
		return
	}
	voicePath, err := g.voices.Resolve(r.FormValue("voice"))
	if err != nil {
		g.writeError(w, err)
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	turnID := uuid.NewString()

	if err := g.journal.RecordTurn(r.Context(), turnID, sessionID); err != nil {
		g.logger.Warn("turn not journaled",
			slog.String("turn_id", turnID), slog.String("error", err.Error()))
	}

	observers := []sse.Observer{journalObserver{store: g.journal, log: g.logger}}
	if g.bus.Healthy() {
		observers = append(observers, busAnnouncer{
			bus:     g.bus,
			subject: g.cfg.Bus.AnnounceSubject,
			log:     g.logger,
		})
	}

	stream, err := sse.Open(w, turnID, g.logger, observers...)
	if err != nil {
		g.writeError(w, err)
		return
	}

	// Commit the headers before the first stage runs so the client sees the
	// stream open immediately instead of after ASR finishes.
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	g.logger.Info("turn started",
		slog.String("turn_id", turnID),
		slog.String("session_id", sessionID),
		slog.String("format", format),
		slog.String("language", language),
		slog.Int("audio_bytes", len(audio)))

	in := pipeline.TurnInput{
		TurnID:       turnID,
		SessionID:    sessionID,
		Audio:        audio,
		Format:       format,
		LanguageHint: language,
		PortraitRef:  portraitPath,
		VoiceRef:     voicePath,
	}
	if err := g.pipeline.RunTurn(r.Context(), in, stream); err != nil {
		g.logger.Warn("turn failed",
			slog.String("turn_id", turnID),
			slog.String("kind", string(fault.KindOf(err))),
			slog.String("error", err.Error()))
	}
}

// uploadFormat prefers the filename extension and falls back to the part's
// declared content type.
func uploadFormat(header *multipart.FileHeader) string {
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), ".")); ext != "" {
		return ext
	}
	ct := strings.ToLower(header.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "webm"):
		return "webm"
	case strings.Contains(ct, "wav"):
		return "wav"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	}
	return ""
}
