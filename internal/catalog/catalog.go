// Package catalog lists the portrait images and voice reference samples a
// client may pick from, and resolves incoming references to safe paths.
// Optional YAML sidecars (<name>.yaml next to the asset) carry display
// metadata.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-avatar/internal/fault"
)

// Entry is one selectable asset.
type Entry struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Language    string `json:"language,omitempty"`
	Path        string `json:"-"`
}

type sidecar struct {
	DisplayName string `yaml:"display_name"`
	Language    string `yaml:"language"`
}

type Catalog struct {
	dir        string
	defaultRef string
	exts       []string
	logger     *slog.Logger
}

// NewPortraits catalogs portrait images.
func NewPortraits(dir, defaultRef string, logger *slog.Logger) *Catalog {
	return &Catalog{
		dir:        dir,
		defaultRef: defaultRef,
		exts:       []string{".png", ".jpg", ".jpeg"},
		logger:     logger.With(slog.String("component", "catalog"), slog.String("kind", "portraits")),
	}
}

// NewVoices catalogs voice reference samples.
func NewVoices(dir, defaultRef string, logger *slog.Logger) *Catalog {
	return &Catalog{
		dir:        dir,
		defaultRef: defaultRef,
		exts:       []string{".wav", ".mp3", ".flac"},
		logger:     logger.With(slog.String("component", "catalog"), slog.String("kind", "voices")),
	}
}

// List scans the directory. A missing directory is an empty catalog, not an
// error; single-box deployments often run with mock engines and no assets.
func (c *Catalog) List() ([]Entry, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}

	var out []Entry
	for _, de := range entries {
		if de.IsDir() || !c.allowed(de.Name()) {
			continue
		}
		name := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
		entry := Entry{Name: name, Path: filepath.Join(c.dir, de.Name())}
		c.applySidecar(&entry)
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) applySidecar(entry *Entry) {
	data, err := os.ReadFile(filepath.Join(c.dir, entry.Name+".yaml"))
	if err != nil {
		return
	}
	var meta sidecar
	if err := yaml.Unmarshal(data, &meta); err != nil {
		c.logger.Warn("bad sidecar ignored",
			slog.String("entry", entry.Name), slog.String("error", err.Error()))
		return
	}
	entry.DisplayName = meta.DisplayName
	entry.Language = meta.Language
}

func (c *Catalog) allowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range c.exts {
		if e == ext {
			return true
		}
	}
	return false
}

// Resolve maps a client-supplied reference to an asset path. Empty falls
// back to the configured default; a default of "default" with no matching
// file resolves to empty, which adapters treat as engine-default. Path
// separators are rejected outright.
func (c *Catalog) Resolve(ref string) (string, error) {
	const op = "catalog.Resolve"

	if ref == "" {
		ref = c.defaultRef
	}
	if ref == "" || ref == "default" {
		if path := c.lookup("default"); path != "" {
			return path, nil
		}
		return "", nil
	}
	if strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return "", fault.E(fault.InvalidInput, op, fmt.Sprintf("invalid asset reference %q", ref), nil)
	}
	if path := c.lookup(ref); path != "" {
		return path, nil
	}
	return "", fault.E(fault.InvalidInput, op, fmt.Sprintf("unknown asset %q", ref), nil)
}

func (c *Catalog) lookup(name string) string {
	for _, ext := range c.exts {
		path := filepath.Join(c.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
