package database

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

// SnapshotStore keeps the latest snapshot per stream id. Writes upsert.
type SnapshotStore struct {
	pool   *pgxpool.Pool
	prefix string
}

var _ event.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore(pool *pgxpool.Pool, storeName string) (*SnapshotStore, error) {
	if err := event.ValidateStoreName(storeName); err != nil {
		return nil, err
	}
	return &SnapshotStore{pool: pool, prefix: storeName}, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snapshot *event.Snapshot) error {
	if snapshot == nil || snapshot.StreamID == "" {
		return errors.NewValidationError("INVALID_SNAPSHOT", "snapshot stream id is required")
	}
	if snapshot.StreamVersion < 1 {
		return errors.NewValidationError("INVALID_SNAPSHOT", "snapshot version must be at least 1")
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s_snapshots (stream_id, stream_version, data, created_utc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id) DO UPDATE SET
			stream_version = EXCLUDED.stream_version,
			data           = EXCLUDED.data,
			created_utc    = EXCLUDED.created_utc`, s.prefix),
		snapshot.StreamID, snapshot.StreamVersion, snapshot.Data, snapshot.CreatedUtc)
	if err != nil {
		return errors.NewStorageError("save snapshot", "upsert failed").
			WithDetails(map[string]interface{}{"stream_id": snapshot.StreamID}).
			WithCause(err)
	}
	return nil
}

func (s *SnapshotStore) GetLatest(ctx context.Context, streamID string) (*event.Snapshot, error) {
	snapshot := event.Snapshot{StreamID: streamID}
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT stream_version, data, created_utc FROM %s_snapshots WHERE stream_id = $1`, s.prefix),
		streamID).Scan(&snapshot.StreamVersion, &snapshot.Data, &snapshot.CreatedUtc)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewStorageError("get latest snapshot", "query failed").
			WithDetails(map[string]interface{}{"stream_id": streamID}).
			WithCause(err)
	}
	snapshot.CreatedUtc = snapshot.CreatedUtc.UTC()
	return &snapshot, nil
}
