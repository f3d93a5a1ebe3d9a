package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

// SchemaInitializer creates the four store tables and their indexes if they
// do not exist. Safe to run on every startup and from concurrent processes.
type SchemaInitializer struct {
	pool   *pgxpool.Pool
	prefix string
	logger *zap.Logger
}

func NewSchemaInitializer(pool *pgxpool.Pool, storeName string, logger *zap.Logger) (*SchemaInitializer, error) {
	if err := event.ValidateStoreName(storeName); err != nil {
		return nil, err
	}
	return &SchemaInitializer{pool: pool, prefix: storeName, logger: logger}, nil
}

func (s *SchemaInitializer) Initialize(ctx context.Context) error {
	p := s.prefix
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s_events (
				global_position  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
				stream_id        VARCHAR(200) NOT NULL,
				stream_domain    VARCHAR(64) NOT NULL,
				stream_version   INT NOT NULL,
				stream_namespace VARCHAR(200) NOT NULL,
				event_type       VARCHAR(200) NOT NULL,
				data             BYTEA NOT NULL,
				metadata         BYTEA,
				created_utc      TIMESTAMPTZ NOT NULL
			)`, p),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_events_stream_version_uq
			ON %s_events (stream_domain, stream_id, stream_version)`, p, p),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_events_stream_id_ix
			ON %s_events (stream_id)`, p, p),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_events_namespace_ix
			ON %s_events (stream_namespace)`, p, p),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_events_domain_ix
			ON %s_events (stream_domain)`, p, p),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s_streams (
				domain                 VARCHAR(64) NOT NULL,
				stream_id              VARCHAR(200) NOT NULL,
				last_version           INT NOT NULL,
				last_position          BIGINT NOT NULL,
				archived_at            TIMESTAMPTZ,
				archive_cutoff_version INT,
				retention_mode         SMALLINT NOT NULL,
				is_deleted             BOOLEAN NOT NULL DEFAULT FALSE,
				PRIMARY KEY (domain, stream_id)
			)`, p),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_streams_retention_ix
			ON %s_streams (retention_mode, is_deleted, archive_cutoff_version)`, p, p),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s_snapshots (
				stream_id      VARCHAR(200) PRIMARY KEY,
				stream_version INT NOT NULL,
				data           BYTEA NOT NULL,
				created_utc    TIMESTAMPTZ NOT NULL
			)`, p),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s_archive_segments (
				segment_id       BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
				min_position     BIGINT NOT NULL,
				max_position     BIGINT NOT NULL,
				file_name        VARCHAR(512) NOT NULL,
				status           SMALLINT NOT NULL,
				stream_namespace VARCHAR(200)
			)`, p),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_archive_segments_range_uq
			ON %s_archive_segments (min_position, max_position)`, p, p),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.NewStorageError("schema init", "failed to apply DDL").WithCause(err)
		}
	}

	s.logger.Info("schema initialized", zap.String("store", s.prefix))
	return nil
}
