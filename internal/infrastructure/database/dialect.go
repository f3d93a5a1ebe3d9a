package database

import "fmt"

// Dialect isolates the two engine-specific contracts the store depends on:
// select-for-update row locking on the stream header, and engine-assigned
// monotonic global positions on event insert. Everything else the stores
// emit is portable SQL built from the table prefix.
type Dialect interface {
	Name() string

	// SelectHeaderForUpdate returns the statement that reads a stream
	// header under a row lock: args (domain, streamID), columns
	// (last_version, last_position, is_deleted).
	SelectHeaderForUpdate(prefix string) string

	// InsertEventReturningPosition returns the statement that inserts one
	// event row and yields its engine-assigned global position: args
	// (domain, streamID, version, namespace, eventType, data, metadata,
	// createdUtc).
	InsertEventReturningPosition(prefix string) string
}

type postgresDialect struct{}

// NewPostgresDialect returns the dialect adapter for PostgreSQL, which
// backs positions with an identity column and locks headers with
// SELECT ... FOR UPDATE.
func NewPostgresDialect() Dialect {
	return postgresDialect{}
}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) SelectHeaderForUpdate(prefix string) string {
	return fmt.Sprintf(`
		SELECT last_version, last_position, is_deleted
		FROM %s_streams
		WHERE domain = $1 AND stream_id = $2
		FOR UPDATE`, prefix)
}

func (postgresDialect) InsertEventReturningPosition(prefix string) string {
	return fmt.Sprintf(`
		INSERT INTO %s_events (
			stream_domain, stream_id, stream_version, stream_namespace,
			event_type, data, metadata, created_utc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING global_position`, prefix)
}
