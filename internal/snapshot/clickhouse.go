package snapshot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/laik/xnet/internal/config"
	"github.com/laik/xnet/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createConnectionTableStatement = `
CREATE TABLE IF NOT EXISTS connection_metrics (
    Timestamp DateTime,
    SrcIP     String,
    SrcPort   UInt16,
    DstIP     String,
    DstPort   UInt16,
    State     String,
    Packets   UInt64,
    Bytes     UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, SrcIP);
`

const createDeviceTableStatement = `
CREATE TABLE IF NOT EXISTS device_metrics (
    Timestamp DateTime,
    DeviceID  UInt32,
    Device    String,
    Direction String,
    Packets   UInt64,
    Bytes     UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (DeviceID, Timestamp);
`

// ClickHouseWriter ships connection and device rows of each snapshot to
// ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter creates a new ClickHouse writer and ensures the
// target tables exist.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range []string{createConnectionTableStatement, createDeviceTableStatement} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// Write inserts the snapshot's rows into the connection_metrics and
// device_metrics tables.
func (w *ClickHouseWriter) Write(snap model.Snapshot) error {
	if err := w.writeConnections(snap); err != nil {
		return err
	}
	return w.writeDevices(snap)
}

func (w *ClickHouseWriter) writeConnections(snap model.Snapshot) error {
	if len(snap.Connections) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO connection_metrics")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, c := range snap.Connections {
		err = batch.Append(
			snap.TakenAt,
			c.SrcIP,
			c.SrcPort,
			c.DstIP,
			c.DstPort,
			c.State,
			c.Packets,
			c.Bytes,
		)
		if err != nil {
			return fmt.Errorf("failed to append connection to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d connection rows to ClickHouse", len(snap.Connections))
	return nil
}

func (w *ClickHouseWriter) writeDevices(snap model.Snapshot) error {
	if len(snap.Devices) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO device_metrics")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, d := range snap.Devices {
		err = batch.Append(
			snap.TakenAt,
			d.DeviceID,
			d.Device,
			d.Direction,
			d.Packets,
			d.Bytes,
		)
		if err != nil {
			return fmt.Errorf("failed to append device to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d device rows to ClickHouse", len(snap.Devices))
	return nil
}
