// Package assetstore owns the generated audio and video artifacts for the
// lifetime of a turn. Writers get unique paths, every put ends with an
// explicit flush and fsync, and readers can demand proof that a file has
// reached stable storage before bytes are served to a browser.
package assetstore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Artifact is an immutable stored file. ByteSize is the at-write-time size
// and stays authoritative for range reads even if the file on disk is later
// tampered with.
type Artifact struct {
	ID        string
	TurnID    string
	Kind      Kind
	Path      string
	ByteSize  int64
	MTime     time.Time
	FsyncDone bool
	CreatedAt time.Time
}

type Store struct {
	root      string
	pollEvery time.Duration
	budget    time.Duration
	grace     time.Duration
	logger    *slog.Logger
	clock     func() time.Time

	mu        sync.Mutex
	artifacts map[string]Artifact
	released  map[string]time.Time
}

func New(cfg config.AssetStoreConfig, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fault.E(fault.StorageFailure, "assetstore.New", "cannot create artifact root", err)
	}
	s := &Store{
		root:      cfg.Root,
		pollEvery: time.Duration(cfg.StablePollMS) * time.Millisecond,
		budget:    time.Duration(cfg.StableBudgetMS) * time.Millisecond,
		grace:     time.Duration(cfg.RetentionGraceMS) * time.Millisecond,
		logger:    logger,
		clock:     time.Now,
		artifacts: make(map[string]Artifact),
		released:  make(map[string]time.Time),
	}
	s.removeStaleFiles()
	return s, nil
}

// removeStaleFiles clears leftovers from a previous process. The registry
// starts empty, so nothing can reference files already on disk.
func (s *Store) removeStaleFiles() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("removed stale artifacts", slog.Int("count", removed))
	}
}

// Put writes data to a fresh unique path, flushes, fsyncs, and registers the
// artifact. Once Put returns, any later reader sees the complete file.
func (s *Store) Put(turnID string, kind Kind, data []byte) (Artifact, error) {
	const op = "assetstore.Put"

	id := uuid.NewString()
	path := filepath.Join(s.root, id+extension(kind))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return Artifact{}, fault.E(fault.StorageFailure, op, "cannot create artifact file", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return Artifact{}, fault.E(fault.StorageFailure, op, "artifact write failed", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return Artifact{}, fault.E(fault.StorageFailure, op, "artifact flush failed", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return Artifact{}, fault.E(fault.StorageFailure, op, "artifact fsync failed", err)
	}
	if err := f.Close(); err != nil {
		return Artifact{}, fault.E(fault.StorageFailure, op, "artifact close failed", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fault.E(fault.StorageFailure, op, "artifact stat failed", err)
	}

	artifact := Artifact{
		ID:        id,
		TurnID:    turnID,
		Kind:      kind,
		Path:      path,
		ByteSize:  info.Size(),
		MTime:     info.ModTime(),
		FsyncDone: true,
		CreatedAt: s.clock(),
	}

	s.mu.Lock()
	s.artifacts[id] = artifact
	s.mu.Unlock()

	return artifact, nil
}

func extension(kind Kind) string {
	if kind == KindVideo {
		return ".mp4"
	}
	return ".wav"
}

func (s *Store) Lookup(id string) (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	return a, ok
}

// ConfirmStable reports whether the artifact has reached stable storage.
// Artifacts registered by Put short-circuit: fsync already completed and the
// on-disk size matches the recorded one. Otherwise the file size is polled
// until two consecutive samples agree, failing once the budget is spent.
// A budget of zero uses the configured default.
func (s *Store) ConfirmStable(ctx context.Context, artifact Artifact, budget time.Duration) error {
	const op = "assetstore.ConfirmStable"

	if budget <= 0 {
		budget = s.budget
	}
	deadline := s.clock().Add(budget)

	if artifact.FsyncDone {
		if info, err := os.Stat(artifact.Path); err == nil && info.Size() == artifact.ByteSize {
			return nil
		}
	}

	lastSize := int64(-1)
	for {
		info, err := os.Stat(artifact.Path)
		if err != nil {
			return fault.E(fault.ArtifactNotReady, op, "artifact missing", err)
		}
		if artifact.FsyncDone && info.Size() == lastSize {
			return nil
		}
		lastSize = info.Size()

		if s.clock().After(deadline) {
			return fault.E(fault.ArtifactNotReady, op,
				fmt.Sprintf("size not stable within %s", budget), nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
}

// OpenRange opens a read handle bounded to the artifact's at-write-time
// size, positioned for use in a Range response.
func (s *Store) OpenRange(artifact Artifact) (io.ReadSeekCloser, error) {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return nil, fault.E(fault.ArtifactNotReady, "assetstore.OpenRange", "artifact unreadable", err)
	}
	return &rangeHandle{
		SectionReader: io.NewSectionReader(f, 0, artifact.ByteSize),
		file:          f,
	}, nil
}

type rangeHandle struct {
	*io.SectionReader
	file *os.File
}

func (h *rangeHandle) Close() error { return h.file.Close() }

// Evict removes every artifact matching the predicate and returns how many
// were removed.
func (s *Store) Evict(match func(Artifact) bool) int {
	s.mu.Lock()
	var victims []Artifact
	for id, a := range s.artifacts {
		if match(a) {
			victims = append(victims, a)
			delete(s.artifacts, id)
		}
	}
	s.mu.Unlock()

	for _, a := range victims {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("artifact removal failed",
				slog.String("artifact_id", a.ID), slog.String("error", err.Error()))
		}
	}
	return len(victims)
}

// ReleaseTurn marks a turn terminal. Its artifacts stay readable for the
// retention grace period and are removed by the next sweep after that.
func (s *Store) ReleaseTurn(turnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.released[turnID]; !ok {
		s.released[turnID] = s.clock()
	}
}

// Sweep evicts artifacts whose turn has been released for longer than the
// grace period.
func (s *Store) Sweep() int {
	now := s.clock()

	s.mu.Lock()
	expired := make(map[string]bool)
	for turnID, at := range s.released {
		if now.Sub(at) >= s.grace {
			expired[turnID] = true
		}
	}
	s.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	n := s.Evict(func(a Artifact) bool { return expired[a.TurnID] })

	s.mu.Lock()
	for turnID := range expired {
		delete(s.released, turnID)
	}
	s.mu.Unlock()

	if n > 0 {
		s.logger.Debug("swept artifacts", slog.Int("count", n))
	}
	return n
}

// Run sweeps on the configured interval until the context ends.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
