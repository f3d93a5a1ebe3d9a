package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

// Archival-side operations on the hot store. The tx-scoped ones run inside
// the archive coordinator's per-stream transaction.

const defaultCandidatePage = 256

// ForEachArchiveCandidate walks stream headers that the retention pipeline
// should look at: archivable streams with a cutoff set, and hard-deletable
// streams flagged deleted. Pages with keyset pagination so the coordinator
// never materializes the full candidate set.
func (s *EventStore) ForEachArchiveCandidate(ctx context.Context, fn func(*event.StreamHeader) error) error {
	query := fmt.Sprintf(`
		SELECT domain, stream_id, last_version, last_position, archived_at,
		       archive_cutoff_version, retention_mode, is_deleted
		FROM %s_streams
		WHERE ((retention_mode IN ($1, $2) AND archive_cutoff_version IS NOT NULL AND is_deleted = FALSE)
		   OR (retention_mode = $3 AND is_deleted = TRUE))
		  AND (domain, stream_id) > ($4, $5)
		ORDER BY domain, stream_id
		LIMIT $6`, s.prefix)

	lastDomain, lastID := "", ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		headers, err := s.fetchCandidatePage(ctx, query, lastDomain, lastID)
		if err != nil {
			return err
		}
		if len(headers) == 0 {
			return nil
		}
		for i := range headers {
			if err := fn(&headers[i]); err != nil {
				return err
			}
		}
		last := headers[len(headers)-1]
		lastDomain, lastID = last.Domain, last.StreamID
		if len(headers) < s.candidatePage {
			return nil
		}
	}
}

func (s *EventStore) fetchCandidatePage(ctx context.Context, query, lastDomain, lastID string) ([]event.StreamHeader, error) {
	rows, err := s.pool.Query(ctx, query,
		int16(event.RetentionColdArchivable), int16(event.RetentionFullHistory),
		int16(event.RetentionHardDeletable), lastDomain, lastID, s.candidatePage)
	if err != nil {
		return nil, errors.NewStorageError("archive candidates", "page query failed").WithCause(err)
	}
	defer rows.Close()

	var headers []event.StreamHeader
	for rows.Next() {
		var h event.StreamHeader
		var mode int16
		if err := rows.Scan(&h.Domain, &h.StreamID, &h.LastVersion, &h.LastPosition,
			&h.ArchivedAt, &h.ArchiveCutoffVersion, &mode, &h.IsDeleted); err != nil {
			return nil, errors.NewStorageError("archive candidates", "row scan failed").WithCause(err)
		}
		h.RetentionMode = event.RetentionMode(mode)
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("archive candidates", "page iteration failed").WithCause(err)
	}
	return headers, nil
}

// ReadForArchive returns the stream's events with version at most
// maxVersion, ordered by global position. This is the segment content.
func (s *EventStore) ReadForArchive(ctx context.Context, domain, streamID string, maxVersion int32) ([]event.Envelope, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT global_position, stream_domain, stream_id, stream_version,
		       stream_namespace, event_type, data, metadata, created_utc
		FROM %s_events
		WHERE stream_domain = $1 AND stream_id = $2 AND stream_version <= $3
		ORDER BY global_position`, s.prefix),
		domain, streamID, maxVersion)
	if err != nil {
		return nil, s.storageErr("read for archive", domain, streamID, err)
	}
	defer rows.Close()

	var envelopes []event.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, s.storageErr("read for archive", domain, streamID, err)
		}
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageErr("read for archive", domain, streamID, err)
	}
	return envelopes, nil
}

// DeleteArchivedRange prunes hot events whose positions were just archived.
// Runs inside the archival transaction.
func (s *EventStore) DeleteArchivedRange(ctx context.Context, tx pgx.Tx, domain, streamID string, minPos, maxPos int64) (int64, error) {
	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s_events
		WHERE stream_domain = $1 AND stream_id = $2 AND global_position BETWEEN $3 AND $4`, s.prefix),
		domain, streamID, minPos, maxPos)
	if err != nil {
		return 0, s.storageErr("delete archived range", domain, streamID, err)
	}
	return tag.RowsAffected(), nil
}

// MarkArchived stamps the header with the archival time. Runs inside the
// archival transaction.
func (s *EventStore) MarkArchived(ctx context.Context, tx pgx.Tx, domain, streamID string, at time.Time) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s_streams SET archived_at = $3 WHERE domain = $1 AND stream_id = $2`, s.prefix),
		domain, streamID, at)
	if err != nil {
		return s.storageErr("mark archived", domain, streamID, err)
	}
	return nil
}

// HardDelete removes every event and the header for a stream. No file is
// written and no segment is recorded; the data is gone.
func (s *EventStore) HardDelete(ctx context.Context, tx pgx.Tx, domain, streamID string) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s_events WHERE stream_domain = $1 AND stream_id = $2`, s.prefix),
		domain, streamID)
	if err != nil {
		return s.storageErr("hard delete", domain, streamID, err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s_streams WHERE domain = $1 AND stream_id = $2`, s.prefix),
		domain, streamID)
	if err != nil {
		return s.storageErr("hard delete", domain, streamID, err)
	}
	return nil
}
