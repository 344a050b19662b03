// Package output writes compiled content blockers to disk for the host
// that loads them.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/cbsync/internal/clock"
	"github.com/bnema/cbsync/internal/events"
	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
)

const manifestFile = "manifest.json"

// GroupResult describes one written content blocker
type GroupResult struct {
	File       string `json:"file"`
	RulesCount int    `json:"rules_count"`
	OverLimit  bool   `json:"over_limit"`
	HasError   bool   `json:"has_error"`
}

// Manifest summarizes the last compilation pass
type Manifest struct {
	Version                    string                 `json:"version"`
	GeneratedAt                string                 `json:"generated_at"`
	TotalRules                 int                    `json:"total_rules"`
	OverLimit                  bool                   `json:"over_limit"`
	AdvancedBlockingRulesCount int                    `json:"advanced_blocking_rules_count"`
	Groups                     map[string]GroupResult `json:"groups"`
}

// Writer stores one JSON file per output group plus a manifest
type Writer struct {
	dir      string
	manifest bool
	clock    clock.Clock
	logger   log.Logger

	mu     sync.Mutex
	groups map[models.OutputGroup]GroupResult
}

// New creates a Writer for cfg.Dir
func New(cfg models.OutputConfig, clk clock.Clock, logger log.Logger) *Writer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Writer{
		dir:      cfg.Dir,
		manifest: cfg.GenerateManifest,
		clock:    clk,
		logger:   logger,
		groups:   make(map[models.OutputGroup]GroupResult),
	}
}

// FileName returns the file a group is written to
func FileName(group models.OutputGroup) string {
	return string(group) + ".json"
}

// WriteGroup replaces the file of one group
func (w *Writer) WriteGroup(group models.OutputGroup, set *models.CompiledBlockSet, info events.BlockerInfo) error {
	if err := writeJSON(w.dir, FileName(group), set); err != nil {
		return fmt.Errorf("writing %s: %w", group, err)
	}

	w.mu.Lock()
	w.groups[group] = GroupResult{
		File:       FileName(group),
		RulesCount: info.RulesCount,
		OverLimit:  info.OverLimit,
		HasError:   info.HasError,
	}
	w.mu.Unlock()
	return nil
}

// WriteManifest records the summary of a pass next to the group files
func (w *Writer) WriteManifest(summary events.ContentBlockerUpdated) error {
	now := w.clock.Now()

	w.mu.Lock()
	groups := make(map[string]GroupResult, len(w.groups))
	for g, r := range w.groups {
		groups[string(g)] = r
	}
	w.mu.Unlock()

	m := Manifest{
		Version:                    now.Format("2006.01.02"),
		GeneratedAt:                now.UTC().Format(time.RFC3339),
		TotalRules:                 summary.RulesCount,
		OverLimit:                  summary.OverLimit,
		AdvancedBlockingRulesCount: summary.AdvancedBlockingRulesCount,
		Groups:                     groups,
	}
	return writeJSON(w.dir, manifestFile, m)
}

// Handle is a bus listener writing every published content blocker
func (w *Writer) Handle(ev events.Event) {
	switch e := ev.(type) {
	case events.ContentBlockerUpdateRequired:
		if err := w.WriteGroup(e.Group, e.Compiled, e.Info); err != nil {
			w.logger.Error(map[string]any{"group": e.Group, "error": err}, "Failed to write content blocker")
		}
	case events.ContentBlockerUpdated:
		if !w.manifest {
			return
		}
		if err := w.WriteManifest(e); err != nil {
			w.logger.Error(map[string]any{"error": err}, "Failed to write manifest")
		}
	}
}

// writeJSON replaces dir/filename through a temporary file so readers never
// see a partial file
func writeJSON(dir, filename string, data any) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filename+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, filepath.Join(dir, filename))
}
