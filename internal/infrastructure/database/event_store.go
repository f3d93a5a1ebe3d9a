package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

const defaultBatchSize = 1000

// EventStore is the hot store: append with per-stream optimistic
// concurrency and engine-assigned global positions, plus stream and global
// forward reads. Retention policy for new streams comes from the policy
// table resolved by domain.
type EventStore struct {
	pool          *pgxpool.Pool
	dialect       Dialect
	prefix        string
	policies      *event.RetentionPolicies
	clock         event.Clock
	logger        *zap.Logger
	candidatePage int
}

var _ event.Store = (*EventStore)(nil)

func NewEventStore(pool *pgxpool.Pool, dialect Dialect, storeName string, policies *event.RetentionPolicies, logger *zap.Logger) (*EventStore, error) {
	if err := event.ValidateStoreName(storeName); err != nil {
		return nil, err
	}
	if policies == nil {
		policies = event.DefaultRetentionPolicies()
	}
	return &EventStore{
		pool:          pool,
		dialect:       dialect,
		prefix:        storeName,
		policies:      policies,
		clock:         event.UTCClock{},
		logger:        logger,
		candidatePage: defaultCandidatePage,
	}, nil
}

// WithClock substitutes the timestamp source; used by tests.
func (s *EventStore) WithClock(clock event.Clock) *EventStore {
	s.clock = clock
	return s
}

// WithCandidatePageSize sets how many stream headers the archive-candidate
// walk fetches per page.
func (s *EventStore) WithCandidatePageSize(n int) *EventStore {
	if n > 0 {
		s.candidatePage = n
	}
	return s
}

func (s *EventStore) Append(ctx context.Context, domain, streamID string, expectedVersion int32, events []event.Event) (*event.AppendResult, error) {
	return s.append(ctx, domain, streamID, expectedVersion, events, s.policies.Resolve(domain))
}

func (s *EventStore) AppendWithRetention(ctx context.Context, domain, streamID string, expectedVersion int32, events []event.Event, mode event.RetentionMode) (*event.AppendResult, error) {
	if !mode.Valid() {
		return nil, errors.NewValidationError("INVALID_RETENTION_MODE", "unknown retention mode")
	}
	return s.append(ctx, domain, streamID, expectedVersion, events, mode)
}

func (s *EventStore) append(ctx context.Context, domain, streamID string, expectedVersion int32, events []event.Event, mode event.RetentionMode) (*event.AppendResult, error) {
	if err := event.ValidateStreamKey(domain, streamID); err != nil {
		return nil, err
	}
	if expectedVersion < 0 {
		return nil, errors.NewValidationError("INVALID_EXPECTED_VERSION", "expected version must not be negative")
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, s.storageErr("append", domain, streamID, err)
	}
	defer tx.Rollback(ctx)

	// Lock the stream header. A missing row means a brand-new stream; the
	// header insert below is then the concurrency guard via the PK.
	var (
		lastVersion  int32
		lastPosition int64
		isDeleted    bool
		headerExists = true
	)
	err = tx.QueryRow(ctx, s.dialect.SelectHeaderForUpdate(s.prefix), domain, streamID).
		Scan(&lastVersion, &lastPosition, &isDeleted)
	if err != nil {
		if !stderrors.Is(err, pgx.ErrNoRows) {
			return nil, s.storageErr("append", domain, streamID, err)
		}
		headerExists = false
	}

	if isDeleted {
		return nil, errors.NewStreamDeletedError(domain, streamID)
	}
	if expectedVersion != lastVersion {
		return nil, errors.NewConcurrencyError(domain, streamID, expectedVersion, lastVersion)
	}

	if len(events) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, s.storageErr("append", domain, streamID, err)
		}
		return &event.AppendResult{LastVersion: lastVersion, LastPosition: lastPosition}, nil
	}

	if !headerExists {
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s_streams (domain, stream_id, last_version, last_position, retention_mode, is_deleted)
			VALUES ($1, $2, 0, 0, $3, FALSE)`, s.prefix),
			domain, streamID, int16(mode))
		if err != nil {
			if isUniqueViolation(err) {
				// Lost the create race. The winner may have committed any
				// number of events, so read its header outside this aborted
				// transaction to report the real version.
				actual := expectedVersion + 1
				if scanErr := s.pool.QueryRow(ctx, fmt.Sprintf(
					`SELECT last_version FROM %s_streams WHERE domain = $1 AND stream_id = $2`, s.prefix),
					domain, streamID).Scan(&actual); scanErr != nil {
					s.logger.Warn("failed to read stream version after create conflict",
						zap.String("domain", domain),
						zap.String("stream_id", streamID),
						zap.Error(scanErr))
				}
				return nil, errors.NewConcurrencyError(domain, streamID, expectedVersion, actual)
			}
			return nil, s.storageErr("append", domain, streamID, err)
		}
	}

	insertSQL := s.dialect.InsertEventReturningPosition(s.prefix)
	createdUtc := s.clock.Now()
	newVersion := lastVersion
	maxPosition := lastPosition
	for i := range events {
		newVersion++
		var pos int64
		err = tx.QueryRow(ctx, insertSQL,
			domain, streamID, newVersion, events[i].Namespace,
			events[i].EventType, events[i].Data, events[i].Metadata, createdUtc).
			Scan(&pos)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, errors.NewConcurrencyError(domain, streamID, expectedVersion, lastVersion)
			}
			return nil, s.storageErr("append", domain, streamID, err)
		}
		if pos > maxPosition {
			maxPosition = pos
		}
	}

	// The update touches only version and position bookkeeping; cutoff,
	// deletion flag and archive stamp belong to the retention pipeline.
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s_streams SET last_version = $3, last_position = $4
		WHERE domain = $1 AND stream_id = $2`, s.prefix),
		domain, streamID, newVersion, maxPosition)
	if err != nil {
		return nil, s.storageErr("append", domain, streamID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, s.storageErr("append", domain, streamID, err)
	}
	return &event.AppendResult{LastVersion: newVersion, LastPosition: maxPosition}, nil
}

func (s *EventStore) ReadStream(ctx context.Context, domain, streamID string, namespace *string, fromVersion int32, maxCount int) ([]event.Envelope, error) {
	if err := event.ValidateStreamKey(domain, streamID); err != nil {
		return nil, err
	}
	if maxCount <= 0 {
		return nil, nil
	}

	var isDeleted bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT is_deleted FROM %s_streams WHERE domain = $1 AND stream_id = $2`, s.prefix),
		domain, streamID).Scan(&isDeleted)
	if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, s.storageErr("read stream", domain, streamID, err)
	}
	if isDeleted {
		return nil, errors.NewStreamDeletedError(domain, streamID)
	}

	query := fmt.Sprintf(`
		SELECT global_position, stream_domain, stream_id, stream_version,
		       stream_namespace, event_type, data, metadata, created_utc
		FROM %s_events
		WHERE stream_domain = $1 AND stream_id = $2 AND stream_version >= $3`, s.prefix)
	args := []interface{}{domain, streamID, fromVersion}
	if namespace != nil {
		args = append(args, *namespace)
		query += fmt.Sprintf(" AND stream_namespace = $%d", len(args))
	}
	args = append(args, maxCount)
	query += fmt.Sprintf(" ORDER BY stream_version LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.storageErr("read stream", domain, streamID, err)
	}
	defer rows.Close()

	var envelopes []event.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, s.storageErr("read stream", domain, streamID, err)
		}
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageErr("read stream", domain, streamID, err)
	}
	return envelopes, nil
}

func (s *EventStore) ReadAllForwards(opts event.ReadAllOptions) event.Cursor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &hotCursor{store: s, opts: opts, lastPos: opts.FromPosition}
}

func (s *EventStore) GetStreamHeader(ctx context.Context, domain, streamID string) (*event.StreamHeader, error) {
	if err := event.ValidateStreamKey(domain, streamID); err != nil {
		return nil, err
	}
	header := event.StreamHeader{Domain: domain, StreamID: streamID}
	var mode int16
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT last_version, last_position, archived_at, archive_cutoff_version, retention_mode, is_deleted
		FROM %s_streams WHERE domain = $1 AND stream_id = $2`, s.prefix),
		domain, streamID).
		Scan(&header.LastVersion, &header.LastPosition, &header.ArchivedAt,
			&header.ArchiveCutoffVersion, &mode, &header.IsDeleted)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, s.storageErr("get stream header", domain, streamID, err)
	}
	header.RetentionMode = event.RetentionMode(mode)
	return &header, nil
}

// MarkDeleted flags a stream for hard deletion; the archive coordinator
// removes the rows on its next run when the retention mode permits.
func (s *EventStore) MarkDeleted(ctx context.Context, domain, streamID string) error {
	if err := event.ValidateStreamKey(domain, streamID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s_streams SET is_deleted = TRUE WHERE domain = $1 AND stream_id = $2`, s.prefix),
		domain, streamID)
	if err != nil {
		return s.storageErr("mark deleted", domain, streamID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("stream")
	}
	return nil
}

func (s *EventStore) storageErr(op, domain, streamID string, cause error) error {
	return errors.NewStorageError(op, "database operation failed").
		WithDetails(map[string]interface{}{"domain": domain, "stream_id": streamID}).
		WithCause(cause)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanEnvelope(rows pgx.Rows) (event.Envelope, error) {
	var env event.Envelope
	var created time.Time
	err := rows.Scan(&env.GlobalPosition, &env.Domain, &env.StreamID, &env.Version,
		&env.Namespace, &env.EventType, &env.Data, &env.Metadata, &created)
	if err != nil {
		return event.Envelope{}, err
	}
	env.CreatedUtc = created.UTC()
	env.Source = event.SourceHot
	return env, nil
}

// hotCursor pages through the events table in global-position order. Each
// page is a fresh query, so appends that commit between pages become
// visible; positions held by in-flight transactions do not.
type hotCursor struct {
	store   *EventStore
	opts    event.ReadAllOptions
	lastPos int64
	buf     []event.Envelope
	idx     int
	cur     *event.Envelope
	err     error
	done    bool
	closed  bool
}

func (c *hotCursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.idx >= len(c.buf) {
		if c.done {
			return false
		}
		if !c.fetch(ctx) {
			return false
		}
	}
	c.cur = &c.buf[c.idx]
	c.idx++
	c.lastPos = c.cur.GlobalPosition
	return true
}

func (c *hotCursor) fetch(ctx context.Context) bool {
	query := fmt.Sprintf(`
		SELECT global_position, stream_domain, stream_id, stream_version,
		       stream_namespace, event_type, data, metadata, created_utc
		FROM %s_events
		WHERE global_position > $1`, c.store.prefix)
	args := []interface{}{c.lastPos}
	if c.opts.Domain != nil {
		args = append(args, *c.opts.Domain)
		query += fmt.Sprintf(" AND stream_domain = $%d", len(args))
	}
	if c.opts.Namespace != nil {
		args = append(args, *c.opts.Namespace)
		query += fmt.Sprintf(" AND stream_namespace = $%d", len(args))
	}
	args = append(args, c.opts.BatchSize)
	query += fmt.Sprintf(" ORDER BY global_position LIMIT $%d", len(args))

	rows, err := c.store.pool.Query(ctx, query, args...)
	if err != nil {
		c.err = errors.NewStorageError("read all forwards", "page query failed").WithCause(err)
		return false
	}
	defer rows.Close()

	c.buf = c.buf[:0]
	c.idx = 0
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			c.err = errors.NewStorageError("read all forwards", "row scan failed").WithCause(err)
			return false
		}
		c.buf = append(c.buf, env)
	}
	if err := rows.Err(); err != nil {
		c.err = errors.NewStorageError("read all forwards", "page iteration failed").WithCause(err)
		return false
	}
	if len(c.buf) < c.opts.BatchSize {
		c.done = true
	}
	return len(c.buf) > 0
}

func (c *hotCursor) Envelope() *event.Envelope { return c.cur }
func (c *hotCursor) Err() error                { return c.err }
func (c *hotCursor) Close()                    { c.closed = true }
