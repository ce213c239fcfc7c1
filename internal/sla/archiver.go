package sla

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"slasentinel/internal/types"
)

const (
	// DefaultArchiveRetention keeps closed episodes queryable for 90 days
	// before they are compacted out of the hot table.
	DefaultArchiveRetention = 90 * 24 * time.Hour

	// DefaultArchiveBatchSize bounds a single compaction batch.
	DefaultArchiveBatchSize = 500
)

// ArchiveStore is the compaction surface of the violation store.
type ArchiveStore interface {
	// ListArchivable returns closed episodes whose resolution predates the
	// cutoff, up to limit rows.
	ListArchivable(ctx context.Context, before time.Time, limit int) ([]types.SLAViolation, error)
	// ArchiveBatch writes the compressed batch to the archive table and
	// removes the source rows, atomically.
	ArchiveBatch(ctx context.Context, violationIDs []string, compressed []byte) error
}

// Archiver compacts old closed violation episodes: each batch is serialized,
// zstd-compressed, and moved from the hot violations table into the archive.
// Open episodes are never touched.
type Archiver struct {
	store     ArchiveStore
	retention time.Duration
	batchSize int
	clock     types.Clock
	logger    *slog.Logger
	encoder   *zstd.Encoder
}

// NewArchiver creates an Archiver. Zero retention or batch size fall back to
// the defaults.
func NewArchiver(store ArchiveStore, retention time.Duration, batchSize int, clock types.Clock, logger *slog.Logger) (*Archiver, error) {
	if retention <= 0 {
		retention = DefaultArchiveRetention
	}
	if batchSize <= 0 {
		batchSize = DefaultArchiveBatchSize
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	return &Archiver{
		store:     store,
		retention: retention,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger,
		encoder:   encoder,
	}, nil
}

// RunOnce archives at most one batch and reports how many episodes it moved.
// Callers loop until it returns zero to drain the backlog.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	cutoff := a.clock.Now().Add(-a.retention)

	violations, err := a.store.ListArchivable(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("listing archivable violations: %w", err)
	}
	if len(violations) == 0 {
		return 0, nil
	}

	raw, err := json.Marshal(violations)
	if err != nil {
		return 0, fmt.Errorf("serializing archive batch: %w", err)
	}
	compressed := a.encoder.EncodeAll(raw, nil)

	ids := make([]string, len(violations))
	for i, v := range violations {
		ids[i] = v.ID
	}

	if err := a.store.ArchiveBatch(ctx, ids, compressed); err != nil {
		return 0, fmt.Errorf("writing archive batch: %w", err)
	}

	a.logger.InfoContext(ctx, "violation batch archived",
		"count", len(ids),
		"cutoff", cutoff.Format(time.RFC3339),
		"raw_bytes", len(raw),
		"compressed_bytes", len(compressed),
	)
	return len(ids), nil
}

// Drain runs batches until the backlog is empty, returning the total moved.
func (a *Archiver) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := a.RunOnce(ctx)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}
