package retention

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

// SnapshotCoordinator pairs a snapshot save with a cutoff advance. The two
// writes are deliberately not one transaction: a snapshot without a cutoff
// advance is safe (the archiver simply does nothing new) and the caller can
// retry. Callers must never pass a version above the stream's LastVersion.
type SnapshotCoordinator struct {
	snapshots event.SnapshotStore
	cutoffs   event.CutoffAdvancer
	clock     event.Clock
	logger    *zap.Logger
}

func NewSnapshotCoordinator(snapshots event.SnapshotStore, cutoffs event.CutoffAdvancer, logger *zap.Logger) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		snapshots: snapshots,
		cutoffs:   cutoffs,
		clock:     event.UTCClock{},
		logger:    logger,
	}
}

// SaveSnapshotAndAdvanceCutoff persists the snapshot, then tries to move
// the archive cutoff to the snapshot version. Returns whether the cutoff
// advanced; false with nil error means a newer cutoff was already in place.
func (c *SnapshotCoordinator) SaveSnapshotAndAdvanceCutoff(ctx context.Context, domain, streamID string, version int32, data []byte) (bool, error) {
	if err := event.ValidateStreamKey(domain, streamID); err != nil {
		return false, err
	}
	if version < 1 {
		return false, errors.NewValidationError("INVALID_SNAPSHOT_VERSION", "snapshot version must be at least 1")
	}

	err := c.snapshots.Save(ctx, &event.Snapshot{
		StreamID:      streamID,
		StreamVersion: version,
		Data:          data,
		CreatedUtc:    c.clock.Now(),
	})
	if err != nil {
		return false, err
	}

	advanced, err := c.cutoffs.TryAdvance(ctx, domain, streamID, version)
	if err != nil {
		return false, err
	}
	c.logger.Debug("snapshot saved",
		zap.String("domain", domain),
		zap.String("stream_id", streamID),
		zap.Int32("version", version),
		zap.Bool("cutoff_advanced", advanced))
	return advanced, nil
}
