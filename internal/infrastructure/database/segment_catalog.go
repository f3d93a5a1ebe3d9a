package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

// SegmentCatalog records archived segment files and their position ranges.
// Records are append-only once written; the tx-scoped methods run inside
// the archive coordinator's per-stream transaction.
type SegmentCatalog struct {
	pool   *pgxpool.Pool
	prefix string
}

var _ event.SegmentCatalog = (*SegmentCatalog)(nil)

func NewSegmentCatalog(pool *pgxpool.Pool, storeName string) (*SegmentCatalog, error) {
	if err := event.ValidateStoreName(storeName); err != nil {
		return nil, err
	}
	return &SegmentCatalog{pool: pool, prefix: storeName}, nil
}

func (c *SegmentCatalog) GetActiveSegments(ctx context.Context) ([]event.SegmentRecord, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf(`
		SELECT segment_id, min_position, max_position, file_name, status, stream_namespace
		FROM %s_archive_segments
		WHERE status = $1
		ORDER BY min_position`, c.prefix),
		int16(event.SegmentStatusActive))
	if err != nil {
		return nil, errors.NewStorageError("get active segments", "query failed").WithCause(err)
	}
	defer rows.Close()

	var records []event.SegmentRecord
	for rows.Next() {
		var rec event.SegmentRecord
		var status int16
		if err := rows.Scan(&rec.SegmentID, &rec.MinPosition, &rec.MaxPosition,
			&rec.FileName, &status, &rec.StreamNamespace); err != nil {
			return nil, errors.NewStorageError("get active segments", "row scan failed").WithCause(err)
		}
		rec.Status = event.SegmentStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("get active segments", "iteration failed").WithCause(err)
	}
	return records, nil
}

// HasOverlap reports whether any recorded segment intersects
// [minPos, maxPos]. Called first thing inside the archival transaction;
// a hit means a prior run already archived the range.
func (c *SegmentCatalog) HasOverlap(ctx context.Context, tx pgx.Tx, minPos, maxPos int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s_archive_segments
			WHERE min_position <= $2 AND max_position >= $1
		)`, c.prefix),
		minPos, maxPos).Scan(&exists)
	if err != nil {
		return false, errors.NewStorageError("segment overlap check", "query failed").WithCause(err)
	}
	return exists, nil
}

// Insert records a segment. A unique-range violation from a concurrent
// archiver surfaces as a SegmentOverlap signal for the caller to skip on.
func (c *SegmentCatalog) Insert(ctx context.Context, tx pgx.Tx, rec *event.SegmentRecord) error {
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s_archive_segments (min_position, max_position, file_name, status, stream_namespace)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING segment_id`, c.prefix),
		rec.MinPosition, rec.MaxPosition, rec.FileName, int16(rec.Status), rec.StreamNamespace).
		Scan(&rec.SegmentID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewSegmentOverlapError(rec.MinPosition, rec.MaxPosition)
		}
		return errors.NewStorageError("insert segment", "insert failed").WithCause(err)
	}
	return nil
}
