// Package readiness tracks whether the inference engines behind the
// adapters are able to serve. The health endpoint reports its snapshot and
// an OTel gauge exposes it to dashboards.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Probe checks one engine. A nil error marks it ready.
type Probe func(ctx context.Context) error

type engine struct {
	probe   Probe
	ready   bool
	lastErr string
	probed  bool
}

// Status is what the health endpoint reports.
type Status struct {
	Status       string          `json:"status"` // healthy, initializing, unhealthy
	ModelsLoaded bool            `json:"models_loaded"`
	Models       map[string]bool `json:"models"`
}

type Registry struct {
	log      *slog.Logger
	interval time.Duration

	mu      sync.RWMutex
	engines map[string]*engine

	meter metric.Meter
	gauge metric.Int64ObservableGauge
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:      log.With(slog.String("component", "readiness")),
		interval: 30 * time.Second,
		engines:  make(map[string]*engine),
		meter:    otel.Meter("github.com/loqalabs/loqa-avatar/readiness"),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// Register adds an engine. A nil probe marks the engine always ready,
// which is right for mock and exec modes where there is nothing to ping.
func (r *Registry) Register(name string, probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = &engine{probe: probe, ready: probe == nil, probed: probe == nil}
}

// Start probes everything once, then re-probes on the interval until the
// context ends.
func (r *Registry) Start(ctx context.Context) {
	r.probeAll(ctx)
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.probeAll(ctx)
			}
		}
	}()
}

func (r *Registry) probeAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.engines))
	for name, e := range r.engines {
		if e.probe != nil {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.probeOne(ctx, name)
	}
}

func (r *Registry) probeOne(ctx context.Context, name string) {
	r.mu.RLock()
	e := r.engines[name]
	r.mu.RUnlock()
	if e == nil || e.probe == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := e.probe(probeCtx)
	cancel()

	r.mu.Lock()
	e.probed = true
	wasReady := e.ready
	e.ready = err == nil
	if err != nil {
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}
	r.mu.Unlock()

	if err != nil && wasReady {
		r.log.Warn("engine went unready",
			slog.String("engine", name), slog.String("error", err.Error()))
	} else if err == nil && !wasReady {
		r.log.Info("engine ready", slog.String("engine", name))
	}
}

// Snapshot reports the current view. "initializing" until every engine has
// been probed at least once, "unhealthy" when any probed engine fails.
func (r *Registry) Snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{Models: make(map[string]bool, len(r.engines))}
	allProbed := true
	allReady := true
	for name, e := range r.engines {
		st.Models[name] = e.ready
		if !e.probed {
			allProbed = false
		}
		if !e.ready {
			allReady = false
		}
	}
	st.ModelsLoaded = allReady && len(r.engines) > 0
	switch {
	case !allProbed:
		st.Status = "initializing"
	case allReady:
		st.Status = "healthy"
	default:
		st.Status = "unhealthy"
	}
	return st
}

func (r *Registry) initMetrics() error {
	gauge, err := r.meter.Int64ObservableGauge("avatar.engines.ready",
		metric.WithDescription("1 when the engine's last probe succeeded"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for name, e := range r.engines {
			var v int64
			if e.ready {
				v = 1
			}
			obs.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("engine", name)))
		}
		return nil
	}, gauge)
	return err
}

// HTTPProbe pings an engine sidecar's health URL and expects a 2xx.
func HTTPProbe(url string) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("probe returned status %s", resp.Status)
		}
		return nil
	}
}
