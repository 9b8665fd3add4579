// Package storage implements StorageManager (spec.md §4.4): bounded local
// persistence with pending/uploaded partitions, sidecar metadata, and
// size/retention-based eviction. Grounded on the teacher's internal/queue
// package (directory layout, health-level thresholds, single-writer
// cleanup mutex) generalized from aviationwx-bridge's per-camera upload
// queue to sai-cam's pending/uploaded lifecycle.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sai-cam/agentd/internal/agenterr"
)

// Manager owns one base directory laid out per spec.md §3 StorageLayout:
// pending items at the root, uploaded items under uploaded/, and sidecar
// JSON metadata mirrored under metadata/ and uploaded/metadata/.
type Manager struct {
	base               string
	maxBytes           int64
	cleanupThreshold   int64
	retention          time.Duration
	logger             *slog.Logger

	cleanupMu sync.Mutex // serializes cleanup; StorageManager's one critical section
}

// Config configures a Manager from the spec's storage policy.
type Config struct {
	BasePath           string
	MaxSizeGB          float64
	CleanupThresholdGB float64
	RetentionDays      int
}

// New builds a Manager and ensures the directory layout exists.
func New(cfg Config, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		base:             cfg.BasePath,
		maxBytes:         int64(cfg.MaxSizeGB * 1e9),
		cleanupThreshold: int64(cfg.CleanupThresholdGB * 1e9),
		retention:        time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:           logger,
	}
	for _, dir := range []string{m.base, m.uploadedDir(), m.metadataDir(), m.uploadedMetadataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	return m, nil
}

func (m *Manager) uploadedDir() string         { return filepath.Join(m.base, "uploaded") }
func (m *Manager) metadataDir() string         { return filepath.Join(m.base, "metadata") }
func (m *Manager) uploadedMetadataDir() string { return filepath.Join(m.base, "uploaded", "metadata") }

// Store writes bytes at base/key and, if metadata is non-nil, its sidecar
// at base/metadata/<key>.json. If current usage is at or above max_size it
// forces a cleanup first.
func (m *Manager) Store(key string, data []byte, metadata any) error {
	used, err := m.usage()
	if err != nil {
		return fmt.Errorf("storage: measure usage: %w", err)
	}
	if m.maxBytes > 0 && used >= m.maxBytes {
		if err := m.Cleanup(true); err != nil && m.logger != nil {
			m.logger.Warn("forced cleanup before store failed", "error", err)
		}
	}

	dest := filepath.Join(m.base, key)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return &agenterr.StorageExhaustion{UsedBytes: used, MaxBytes: m.maxBytes}
	}

	if metadata != nil {
		sidecar, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("storage: marshal metadata for %s: %w", key, err)
		}
		if err := os.WriteFile(filepath.Join(m.metadataDir(), key+".json"), sidecar, 0o644); err != nil {
			return fmt.Errorf("storage: write sidecar for %s: %w", key, err)
		}
	}

	if m.logger != nil {
		m.logger.Debug("stored item", "key", key, "size_kib", len(data)/1024)
	}
	return nil
}

// MarkUploaded atomically moves base/key to base/uploaded/key and mirrors
// the sidecar, if present, into uploaded/metadata/. A missing source file
// is tolerated silently: it means the item was evicted between enqueue and
// ack.
func (m *Manager) MarkUploaded(key string) error {
	src := filepath.Join(m.base, key)
	dst := filepath.Join(m.uploadedDir(), key)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("storage: move %s to uploaded: %w", key, err)
	}

	sidecarSrc := filepath.Join(m.metadataDir(), key+".json")
	sidecarDst := filepath.Join(m.uploadedMetadataDir(), key+".json")
	if err := os.Rename(sidecarSrc, sidecarDst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: move sidecar for %s to uploaded: %w", key, err)
	}
	return nil
}

// Cleanup reclaims space. When force is false it is a no-op unless current
// usage is at or above cleanup_threshold_gb; force=true ignores retention
// and deletes outright. Deletion order is uploaded-before-pending,
// oldest-first, stopping once usage falls below the soft threshold.
// Individual "file not found" errors are swallowed; anything else is
// logged and the scan continues. The whole method is serialized by
// cleanupMu: cleanup is never reentered concurrently, but Store may
// proceed in parallel with an in-progress cleanup.
func (m *Manager) Cleanup(force bool) error {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	if !force {
		used, err := m.usage()
		if err != nil {
			return err
		}
		if m.cleanupThreshold > 0 && used < m.cleanupThreshold {
			return nil
		}
	}

	for _, dir := range []string{m.uploadedDir(), m.base} {
		if err := m.reclaimDir(dir, force); err != nil {
			return err
		}
		used, err := m.usage()
		if err != nil {
			return err
		}
		if m.cleanupThreshold > 0 && used < m.cleanupThreshold {
			return nil
		}
	}
	return nil
}

// reclaimDir deletes items from dir oldest-first. force=true ignores
// retention and deletes outright; otherwise only items older than the
// retention window are eligible.
func (m *Manager) reclaimDir(dir string, force bool) error {
	entries, err := sortedByModTime(dir)
	if err != nil {
		return fmt.Errorf("storage: scan %s: %w", dir, err)
	}

	now := time.Now()
	for _, e := range entries {
		if !force && m.retention > 0 && now.Sub(e.modTime) < m.retention {
			continue
		}

		path := filepath.Join(dir, e.name)
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // another pass already removed it
			}
			if m.logger != nil {
				m.logger.Error("cleanup: delete failed", "path", path, "error", err)
			}
			continue
		}

		sidecarDir := m.metadataDirFor(dir)
		_ = os.Remove(filepath.Join(sidecarDir, e.name+".json"))

		used, uerr := m.usage()
		if uerr == nil && m.cleanupThreshold > 0 && used < m.cleanupThreshold {
			return nil
		}
	}
	return nil
}

func (m *Manager) metadataDirFor(dataDir string) string {
	if dataDir == m.uploadedDir() {
		return m.uploadedMetadataDir()
	}
	return m.metadataDir()
}

type direntWithTime struct {
	name    string
	modTime time.Time
}

// sortedByModTime lists regular files directly under dir (ignoring the
// metadata/ and uploaded/ subdirectories so nested layout dirs never get
// swept as content), sorted oldest-first.
func sortedByModTime(dir string) ([]direntWithTime, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]direntWithTime, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, direntWithTime{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].modTime.Before(out[j].modTime) })
	return out, nil
}

// usage returns total bytes used by pending + uploaded content (sidecars
// excluded — they're small and not the budgeted resource).
func (m *Manager) usage() (int64, error) {
	var total int64
	for _, dir := range []string{m.base, m.uploadedDir()} {
		entries, err := sortedByModTime(dir)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			fi, err := os.Stat(filepath.Join(dir, e.name))
			if err != nil {
				continue
			}
			total += fi.Size()
		}
	}
	return total, nil
}

// RunPeriodic invokes Cleanup(false) once an hour until stopCh is closed.
// Unexpected errors cause a short sleep and retry, matching spec.md §4.4.
func (m *Manager) RunPeriodic(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := m.Cleanup(false); err != nil {
				if m.logger != nil {
					m.logger.Error("periodic cleanup failed", "error", err)
				}
				time.Sleep(5 * time.Second)
			}
		}
	}
}

// PendingCount returns the number of pending (not-yet-uploaded) items,
// surfaced through the health snapshot as pending_images.
func (m *Manager) PendingCount() int {
	entries, err := sortedByModTime(m.base)
	if err != nil {
		return 0
	}
	return len(entries)
}

// Stats is the storage summary backed by /api/status's "storage" field.
type Stats struct {
	PendingImages int     `json:"pending_images"`
	UsageBytes    int64   `json:"usage_bytes"`
	MaxSizeBytes  int64   `json:"max_size_bytes"`
	UsagePercent  float64 `json:"usage_percent"`
	BasePath      string  `json:"base_path"`
}

// Stats assembles the storage summary: pending count, usage, and the
// configured hard limit, the "storage" key of /api/status (spec.md §4.7).
func (m *Manager) Stats() Stats {
	used, _ := m.usage()
	st := Stats{
		PendingImages: m.PendingCount(),
		UsageBytes:    used,
		MaxSizeBytes:  m.maxBytes,
		BasePath:      m.base,
	}
	if m.maxBytes > 0 {
		st.UsagePercent = float64(used) / float64(m.maxBytes) * 100
	}
	return st
}

// LatestForCamera returns the bytes of the newest stored item (pending or
// uploaded) for cameraID, for /api/images/{camera_id}/latest.
func (m *Manager) LatestForCamera(cameraID string) ([]byte, string, error) {
	var best direntWithTime
	var bestDir string
	for _, dir := range []string{m.base, m.uploadedDir()} {
		entries, err := sortedByModTime(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if len(e.name) <= len(cameraID) || e.name[:len(cameraID)+1] != cameraID+"_" {
				continue
			}
			if e.modTime.After(best.modTime) {
				best = e
				bestDir = dir
			}
		}
	}
	if bestDir == "" {
		return nil, "", fmt.Errorf("storage: no image found for camera %s", cameraID)
	}
	data, err := os.ReadFile(filepath.Join(bestDir, best.name))
	if err != nil {
		return nil, "", err
	}
	return data, best.name, nil
}

// Base returns the configured base directory, for callers that need the
// raw path (e.g. the fleet CLI's disk-usage reporting).
func (m *Manager) Base() string { return m.base }
