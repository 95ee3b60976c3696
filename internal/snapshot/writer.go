package snapshot

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/laik/xnet/internal/config"
	"github.com/laik/xnet/internal/model"
)

// Writer persists one statistics snapshot. Implementations are driven by
// the manager on their own interval.
type Writer interface {
	Write(snap model.Snapshot) error
	GetInterval() time.Duration
}

// New builds a writer from its config definition.
func New(def config.WriterDef) (Writer, error) {
	interval, err := time.ParseDuration(def.SnapshotInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot interval %q: %w", def.SnapshotInterval, err)
	}
	switch def.Type {
	case "gob":
		return NewGobWriter(def.Gob, interval), nil
	case "clickhouse":
		return NewClickHouseWriter(def.ClickHouse, interval)
	default:
		return nil, fmt.Errorf("unknown writer type: %s", def.Type)
	}
}

// SummaryData holds the metadata written next to each on-disk snapshot.
type SummaryData struct {
	TotalPackets uint64 `json:"total_packets"`
	TotalBytes   uint64 `json:"total_bytes"`
	IPs          int    `json:"ip_records"`
	Connections  int    `json:"connection_records"`
	Devices      int    `json:"device_records"`
	Timestamp    string `json:"timestamp"`
}

// GobWriter writes snapshots to disk, one timestamped directory per
// snapshot with a gob-encoded table dump and a JSON summary.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new on-disk snapshot writer.
func NewGobWriter(cfg config.GobConfig, interval time.Duration) *GobWriter {
	return &GobWriter{rootPath: cfg.RootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write serializes the snapshot under a timestamped directory.
func (w *GobWriter) Write(snap model.Snapshot) error {
	dir := filepath.Join(w.rootPath, snap.TakenAt.Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	statsPath := filepath.Join(dir, "stats.gob")
	file, err := os.Create(statsPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", statsPath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot to gob: %w", err)
	}

	summary := SummaryData{
		TotalPackets: snap.TotalPackets,
		TotalBytes:   snap.TotalBytes,
		IPs:          len(snap.IPs),
		Connections:  len(snap.Connections),
		Devices:      len(snap.Devices),
		Timestamp:    snap.TakenAt.UTC().Format(time.RFC3339),
	}
	summaryPath := filepath.Join(dir, "summary.json")
	summaryFile, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	encoder := json.NewEncoder(summaryFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	return nil
}
