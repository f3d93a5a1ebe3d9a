package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

// CutoffAdvancer moves a stream's archive cutoff forward. The conditional
// update is the only write path for the cutoff, which is how the
// never-decreases invariant holds under concurrent advancers.
type CutoffAdvancer struct {
	pool   *pgxpool.Pool
	prefix string
}

var _ event.CutoffAdvancer = (*CutoffAdvancer)(nil)

func NewCutoffAdvancer(pool *pgxpool.Pool, storeName string) (*CutoffAdvancer, error) {
	if err := event.ValidateStoreName(storeName); err != nil {
		return nil, err
	}
	return &CutoffAdvancer{pool: pool, prefix: storeName}, nil
}

func (a *CutoffAdvancer) TryAdvance(ctx context.Context, domain, streamID string, newCutoff int32) (bool, error) {
	if err := event.ValidateStreamKey(domain, streamID); err != nil {
		return false, err
	}
	if newCutoff < 1 {
		return false, errors.NewValidationError("INVALID_CUTOFF", "cutoff version must be at least 1")
	}
	tag, err := a.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s_streams SET archive_cutoff_version = $3
		WHERE domain = $1 AND stream_id = $2
		  AND (archive_cutoff_version IS NULL OR archive_cutoff_version < $3)`, a.prefix),
		domain, streamID, newCutoff)
	if err != nil {
		return false, errors.NewStorageError("advance cutoff", "update failed").
			WithDetails(map[string]interface{}{"domain": domain, "stream_id": streamID}).
			WithCause(err)
	}
	return tag.RowsAffected() == 1, nil
}
