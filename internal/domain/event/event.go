package event

import (
	"regexp"
	"time"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
)

// Field length limits enforced on append and at store construction.
const (
	MaxDomainLength    = 64
	MaxStreamIDLength  = 200
	MaxNamespaceLength = 200
	MaxEventTypeLength = 200
	MaxStoreNameLength = 63
)

var storeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// RetentionMode controls what the archive coordinator does with a stream's
// cold prefix. The numeric values are persisted; never renumber.
type RetentionMode int16

const (
	RetentionDefault        RetentionMode = 0
	RetentionColdArchivable RetentionMode = 1
	RetentionFullHistory    RetentionMode = 2
	RetentionHardDeletable  RetentionMode = 3
)

func (m RetentionMode) String() string {
	switch m {
	case RetentionDefault:
		return "default"
	case RetentionColdArchivable:
		return "cold_archivable"
	case RetentionFullHistory:
		return "full_history"
	case RetentionHardDeletable:
		return "hard_deletable"
	default:
		return "unknown"
	}
}

func (m RetentionMode) Valid() bool {
	return m >= RetentionDefault && m <= RetentionHardDeletable
}

// ParseRetentionMode resolves a configuration string into a mode.
func ParseRetentionMode(s string) (RetentionMode, error) {
	switch s {
	case "default", "":
		return RetentionDefault, nil
	case "cold_archivable":
		return RetentionColdArchivable, nil
	case "full_history":
		return RetentionFullHistory, nil
	case "hard_deletable":
		return RetentionHardDeletable, nil
	default:
		return RetentionDefault, errors.NewValidationError("INVALID_RETENTION_MODE", "unknown retention mode: "+s)
	}
}

// Source marks which storage tier served an envelope.
type Source int8

const (
	SourceHot Source = iota
	SourceCold
)

func (s Source) String() string {
	if s == SourceCold {
		return "cold"
	}
	return "hot"
}

// Event is the write-side shape accepted by Append. Version, position and
// timestamp are assigned by the store.
type Event struct {
	Namespace string
	EventType string
	Data      []byte
	Metadata  []byte
}

// Envelope is the read-side shape: a persisted event with its assigned
// identity. Envelopes read from cold segments carry an empty Domain because
// the segment file format does not record it.
type Envelope struct {
	GlobalPosition int64
	Domain         string
	StreamID       string
	Version        int32
	Namespace      string
	EventType      string
	Data           []byte
	Metadata       []byte
	CreatedUtc     time.Time
	Source         Source
}

// StreamHeader is the per-(Domain, StreamID) bookkeeping row.
type StreamHeader struct {
	Domain               string
	StreamID             string
	LastVersion          int32
	LastPosition         int64
	RetentionMode        RetentionMode
	ArchiveCutoffVersion *int32
	IsDeleted            bool
	ArchivedAt           *time.Time
}

// Snapshot is the latest materialized state of a stream. Keyed by StreamID
// alone; callers running multiple domains must namespace their stream ids.
type Snapshot struct {
	StreamID      string
	StreamVersion int32
	Data          []byte
	CreatedUtc    time.Time
}

// SegmentStatus of an archive segment record. Active=1; other values reserved.
type SegmentStatus int16

const SegmentStatusActive SegmentStatus = 1

// SegmentRecord is the catalog entry for one archived NDJSON file. The set
// of active records has pairwise-disjoint [MinPosition, MaxPosition] ranges.
type SegmentRecord struct {
	SegmentID       int64
	MinPosition     int64
	MaxPosition     int64
	FileName        string
	Status          SegmentStatus
	StreamNamespace *string
}

// Covers reports whether the record's position range contains pos.
func (r SegmentRecord) Covers(pos int64) bool {
	return pos >= r.MinPosition && pos <= r.MaxPosition
}

// ValidateStoreName checks the logical store name used as a table prefix.
func ValidateStoreName(name string) error {
	if name == "" || len(name) > MaxStoreNameLength || !storeNamePattern.MatchString(name) {
		return errors.NewValidationError("INVALID_STORE_NAME",
			"store name must be 1-63 alphanumeric or underscore characters")
	}
	return nil
}

// ValidateStreamKey checks the (domain, streamID) pair used on every
// stream-scoped operation.
func ValidateStreamKey(domain, streamID string) error {
	if domain == "" || len(domain) > MaxDomainLength {
		return errors.NewValidationError("INVALID_DOMAIN",
			"domain must be 1-64 characters")
	}
	if streamID == "" || len(streamID) > MaxStreamIDLength {
		return errors.NewValidationError("INVALID_STREAM_ID",
			"stream id must be 1-200 characters")
	}
	return nil
}

// Validate checks the write-side event shape. Namespace may be empty but
// Data must be present (an empty payload is allowed, a nil one is not).
func (e *Event) Validate() error {
	if len(e.Namespace) > MaxNamespaceLength {
		return errors.NewValidationError("INVALID_NAMESPACE",
			"namespace must be at most 200 characters")
	}
	if e.EventType == "" || len(e.EventType) > MaxEventTypeLength {
		return errors.NewValidationError("INVALID_EVENT_TYPE",
			"event type must be 1-200 characters")
	}
	if e.Data == nil {
		return errors.NewValidationError("MISSING_DATA", "event data must not be nil")
	}
	return nil
}
