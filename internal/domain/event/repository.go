package event

import (
	"context"
	"time"
)

// Cursor is a pull iterator over envelopes. Next checks cancellation on
// every pull; after it returns false the caller must consult Err. Close is
// safe to call more than once.
type Cursor interface {
	Next(ctx context.Context) bool
	Envelope() *Envelope
	Err() error
	Close()
}

// AppendResult reports the stream state after a successful append.
type AppendResult struct {
	LastVersion  int32
	LastPosition int64
}

// ReadAllOptions filters a forward read over the hot store. Nil filter
// fields mean "no filter"; an empty Namespace string is a real namespace
// value and only filters when the pointer is set.
type ReadAllOptions struct {
	Domain       *string
	Namespace    *string
	FromPosition int64 // exclusive
	BatchSize    int
}

// Store is the hot event store: append with optimistic concurrency plus
// stream and global forward reads. It never consults cold storage.
type Store interface {
	// Append writes events in order under a single transaction, assigning
	// contiguous versions starting at expectedVersion+1. expectedVersion 0
	// means "create new". The effective retention mode for a new stream is
	// resolved from the store's policy table.
	Append(ctx context.Context, domain, streamID string, expectedVersion int32, events []Event) (*AppendResult, error)

	// AppendWithRetention is Append with an explicit retention mode,
	// bypassing the policy lookup. The mode only takes effect when the
	// stream header is created by this call.
	AppendWithRetention(ctx context.Context, domain, streamID string, expectedVersion int32, events []Event, mode RetentionMode) (*AppendResult, error)

	// ReadStream returns up to maxCount envelopes in ascending version.
	// namespace filters when non-nil.
	ReadStream(ctx context.Context, domain, streamID string, namespace *string, fromVersion int32, maxCount int) ([]Envelope, error)

	// ReadAllForwards returns a lazily paged cursor over all hot events
	// with GlobalPosition greater than opts.FromPosition.
	ReadAllForwards(opts ReadAllOptions) Cursor

	// GetStreamHeader returns the header, or nil when the stream has never
	// been written.
	GetStreamHeader(ctx context.Context, domain, streamID string) (*StreamHeader, error)
}

// SnapshotStore persists at most one snapshot per stream id.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	// GetLatest returns nil when no snapshot exists.
	GetLatest(ctx context.Context, streamID string) (*Snapshot, error)
}

// CutoffAdvancer is the single monotonic gate on what the archive
// coordinator may evict.
type CutoffAdvancer interface {
	// TryAdvance sets ArchiveCutoffVersion to newCutoff only when it is
	// currently unset or strictly smaller. Returns true iff a row changed.
	TryAdvance(ctx context.Context, domain, streamID string, newCutoff int32) (bool, error)
}

// SegmentCatalog lists active archive segments. Callers may hold the result
// for the duration of one operation but must re-read for the next; a
// background archiver can add segments at any time.
type SegmentCatalog interface {
	GetActiveSegments(ctx context.Context) ([]SegmentRecord, error)
}

// ColdReader reads archived events back out of segment files in global
// position order.
type ColdReader interface {
	ReadAllForwards(fromExclusive int64, batchSize int) Cursor
}

// Clock abstracts time for the store; tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// UTCClock is the production clock: UTC truncated to microseconds, the
// resolution the events table stores.
type UTCClock struct{}

func (UTCClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
