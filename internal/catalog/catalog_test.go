package catalog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-avatar/internal/fault"
)

func seedDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	return dir
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListPicksUpAssetsAndSidecars(t *testing.T) {
	dir := seedDir(t, map[string]string{
		"anna.png":   "img",
		"anna.yaml":  "display_name: Anna\nlanguage: es\n",
		"marco.jpg":  "img",
		"notes.txt":  "ignored",
		"stray.yaml": "display_name: Orphan\n",
	})
	c := NewPortraits(dir, "anna", discard())

	entries, err := c.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Name != "anna" || entries[0].DisplayName != "Anna" || entries[0].Language != "es" {
		t.Fatalf("sidecar not applied: %+v", entries[0])
	}
	if entries[1].Name != "marco" || entries[1].DisplayName != "" {
		t.Fatalf("unexpected entry: %+v", entries[1])
	}
}

func TestListMissingDirIsEmpty(t *testing.T) {
	c := NewVoices(filepath.Join(t.TempDir(), "nope"), "default", discard())
	entries, err := c.List()
	if err != nil || entries != nil {
		t.Fatalf("expected empty catalog, got %v %v", entries, err)
	}
}

func TestResolve(t *testing.T) {
	dir := seedDir(t, map[string]string{
		"anna.wav":    "pcm",
		"default.wav": "pcm",
	})
	c := NewVoices(dir, "default", discard())

	path, err := c.Resolve("anna")
	if err != nil || path != filepath.Join(dir, "anna.wav") {
		t.Fatalf("resolve anna: %q %v", path, err)
	}
	path, err = c.Resolve("")
	if err != nil || path != filepath.Join(dir, "default.wav") {
		t.Fatalf("resolve default: %q %v", path, err)
	}

	if _, err := c.Resolve("ghost"); !fault.Is(err, fault.InvalidInput) {
		t.Fatalf("expected invalid_input for unknown asset, got %v", err)
	}
	if _, err := c.Resolve("../etc/passwd"); !fault.Is(err, fault.InvalidInput) {
		t.Fatalf("expected invalid_input for traversal, got %v", err)
	}
}

func TestResolveNoDefaultFileMeansEngineDefault(t *testing.T) {
	c := NewVoices(t.TempDir(), "default", discard())
	path, err := c.Resolve("")
	if err != nil || path != "" {
		t.Fatalf("expected empty engine-default path, got %q %v", path, err)
	}
}
