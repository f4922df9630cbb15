// Package gateway binds the pipeline, the asset store, and the static
// player to the HTTP surface. One handler tree serves the SSE conversation
// stream, range-capable video delivery, health, asset catalogs, metrics,
// and the embedded browser client.
package gateway

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-avatar/internal/assetstore"
	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/catalog"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
	"github.com/loqalabs/loqa-avatar/internal/journal"
	"github.com/loqalabs/loqa-avatar/internal/pipeline"
	"github.com/loqalabs/loqa-avatar/internal/readiness"
	"github.com/loqalabs/loqa-avatar/web"
)

type Gateway struct {
	cfg       config.Config
	pipeline  *pipeline.Pipeline
	store     *assetstore.Store
	portraits *catalog.Catalog
	voices    *catalog.Catalog
	ready     *readiness.Registry
	journal   *journal.Store
	bus       *bus.Client
	logger    *slog.Logger
	metrics   http.Handler

	ttfbHist  metric.Float64Histogram
	bytesHist metric.Int64Histogram
	thruHist  metric.Float64Histogram
}

func New(
	cfg config.Config,
	p *pipeline.Pipeline,
	store *assetstore.Store,
	portraits, voices *catalog.Catalog,
	ready *readiness.Registry,
	jnl *journal.Store,
	busClient *bus.Client,
	metricsHandler http.Handler,
	logger *slog.Logger,
) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		pipeline:  p,
		store:     store,
		portraits: portraits,
		voices:    voices,
		ready:     ready,
		journal:   jnl,
		bus:       busClient,
		logger:    logger.With(slog.String("component", "gateway")),
		metrics:   metricsHandler,
	}
	g.initMetrics()
	return g
}

func (g *Gateway) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-avatar/gateway")
	var err error
	if g.ttfbHist, err = meter.Float64Histogram("avatar.videos.ttfb_seconds",
		metric.WithDescription("Time from request receipt to first body byte")); err != nil {
		g.logger.Warn("ttfb metric unavailable", slog.String("error", err.Error()))
	}
	if g.bytesHist, err = meter.Int64Histogram("avatar.videos.bytes",
		metric.WithDescription("Bytes served per video request")); err != nil {
		g.logger.Warn("bytes metric unavailable", slog.String("error", err.Error()))
	}
	if g.thruHist, err = meter.Float64Histogram("avatar.videos.throughput_bytes_per_s",
		metric.WithDescription("Delivery throughput per video request")); err != nil {
		g.logger.Warn("throughput metric unavailable", slog.String("error", err.Error()))
	}
}

// Handler builds the route tree.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/conversation/stream", g.handleStream).Methods(http.MethodPost)
	r.HandleFunc("/videos/{artifact_id}", g.handleVideo).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/assets/portraits", g.handlePortraits).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/assets/voices", g.handleVoices).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/turns/{turn_id}/events", g.handleTurnEvents).Methods(http.MethodGet)
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics).Methods(http.MethodGet)
	}

	static, err := fs.Sub(web.Static, "static")
	if err == nil {
		r.PathPrefix("/").Handler(http.FileServer(http.FS(static)))
	}
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := g.ready.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if st.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(st)
}

// handleTurnEvents replays a turn's journaled emits in seq order, the
// retrospective proof of what the backend sent when a client reports
// out-of-order arrival.
func (g *Gateway) handleTurnEvents(w http.ResponseWriter, r *http.Request) {
	records, err := g.journal.ListTurnEvents(r.Context(), mux.Vars(r)["turn_id"])
	if err != nil {
		g.writeError(w, err)
		return
	}
	if records == nil {
		records = []journal.EmitRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]journal.EmitRecord{"events": records})
}

func (g *Gateway) handlePortraits(w http.ResponseWriter, _ *http.Request) {
	g.writeCatalog(w, "portraits", g.portraits)
}

func (g *Gateway) handleVoices(w http.ResponseWriter, _ *http.Request) {
	g.writeCatalog(w, "voices", g.voices)
}

func (g *Gateway) writeCatalog(w http.ResponseWriter, key string, c *catalog.Catalog) {
	entries, err := c.List()
	if err != nil {
		g.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]catalog.Entry{key: entries})
}

func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(fault.HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]string{
		"error": fault.Message(err),
		"kind":  string(fault.KindOf(err)),
	})
}
