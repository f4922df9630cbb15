package gateway

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/loqalabs/loqa-avatar/internal/fault"
)

// handleVideo serves one rendered chunk with full Range support. Reads are
// bounded to the artifact's at-write-time size; an artifact that cannot
// prove stability inside the serving budget gets a 503 with Retry-After: 0
// so the player re-requests instead of decoding a short read.
func (g *Gateway) handleVideo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id := mux.Vars(r)["artifact_id"]
	id = strings.TrimSuffix(id, ".mp4")

	artifact, ok := g.store.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := g.store.ConfirmStable(r.Context(), artifact, 100*time.Millisecond); err != nil {
		g.logger.Warn("artifact not stable at serve time",
			slog.String("artifact_id", id), slog.String("error", err.Error()))
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	handle, err := g.store.OpenRange(artifact)
	if err != nil {
		g.logger.Warn("artifact unreadable",
			slog.String("artifact_id", id), slog.String("error", err.Error()))
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(fault.HTTPStatus(err))
		return
	}
	defer handle.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Accept-Ranges", "bytes")

	cw := &countingWriter{ResponseWriter: w}
	http.ServeContent(cw, r, "", artifact.MTime, handle)

	elapsed := time.Since(start)
	ttfb := elapsed
	if !cw.firstByte.IsZero() {
		ttfb = cw.firstByte.Sub(start)
	}
	throughput := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(cw.bytes) / secs
	}

	g.logger.Info("video served",
		slog.String("artifact_id", id),
		slog.String("turn_id", artifact.TurnID),
		slog.Int("status", cw.statusCode()),
		slog.String("range", r.Header.Get("Range")),
		slog.Int64("bytes", cw.bytes),
		slog.Duration("ttfb", ttfb),
		slog.Float64("throughput_bytes_per_s", throughput),
		slog.Duration("file_age", start.Sub(artifact.MTime)))

	if g.ttfbHist != nil {
		g.ttfbHist.Record(r.Context(), ttfb.Seconds())
	}
	if g.bytesHist != nil {
		g.bytesHist.Record(r.Context(), cw.bytes)
	}
	if g.thruHist != nil && throughput > 0 {
		g.thruHist.Record(r.Context(), throughput)
	}
}

// countingWriter records the response status, byte count, and time of first
// body byte. It forwards Flush so streaming behavior is preserved.
type countingWriter struct {
	http.ResponseWriter
	status    int
	bytes     int64
	firstByte time.Time
}

func (c *countingWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.firstByte.IsZero() {
		c.firstByte = time.Now()
	}
	if c.status == 0 {
		c.status = http.StatusOK
	}
	n, err := c.ResponseWriter.Write(p)
	c.bytes += int64(n)
	return n, err
}

func (c *countingWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *countingWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
