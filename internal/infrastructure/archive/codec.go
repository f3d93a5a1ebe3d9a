package archive

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

// createdUtcLayout is RFC 3339 with microseconds and a Z suffix for UTC.
const createdUtcLayout = "2006-01-02T15:04:05.000000Z07:00"

// segmentLine is the wire shape of one NDJSON line in a segment file.
// Field names and encodings are a compatibility contract: camelCase keys,
// standard base64 with padding for payloads, RFC 3339 timestamps.
type segmentLine struct {
	GlobalPosition  int64   `json:"globalPosition"`
	StreamID        string  `json:"streamId"`
	StreamVersion   int32   `json:"streamVersion"`
	StreamNamespace string  `json:"streamNamespace"`
	EventType       string  `json:"eventType"`
	CreatedUtc      string  `json:"createdUtc"`
	Data            *string `json:"data"`
	Metadata        *string `json:"metadata"`
}

// MarshalLine encodes one envelope as a segment-file line (no trailing
// newline).
func MarshalLine(env *event.Envelope) ([]byte, error) {
	line := segmentLine{
		GlobalPosition:  env.GlobalPosition,
		StreamID:        env.StreamID,
		StreamVersion:   env.Version,
		StreamNamespace: env.Namespace,
		EventType:       env.EventType,
		CreatedUtc:      env.CreatedUtc.UTC().Format(createdUtcLayout),
		Data:            encodeBytes(env.Data),
		Metadata:        encodeBytes(env.Metadata),
	}
	data, err := json.Marshal(line)
	if err != nil {
		return nil, errors.NewStorageError("encode segment line", "json marshal failed").WithCause(err)
	}
	return data, nil
}

// UnmarshalLine decodes one segment-file line into a cold envelope. The
// file format carries no domain, so Domain stays empty.
func UnmarshalLine(data []byte) (*event.Envelope, error) {
	var line segmentLine
	if err := json.Unmarshal(data, &line); err != nil {
		return nil, errors.NewStorageError("decode segment line", "json unmarshal failed").WithCause(err)
	}
	created, err := time.Parse(time.RFC3339Nano, line.CreatedUtc)
	if err != nil {
		return nil, errors.NewStorageError("decode segment line", "invalid createdUtc timestamp").WithCause(err)
	}
	payload, err := decodeBytes(line.Data)
	if err != nil {
		return nil, err
	}
	metadata, err := decodeBytes(line.Metadata)
	if err != nil {
		return nil, err
	}
	return &event.Envelope{
		GlobalPosition: line.GlobalPosition,
		StreamID:       line.StreamID,
		Version:        line.StreamVersion,
		Namespace:      line.StreamNamespace,
		EventType:      line.EventType,
		CreatedUtc:     created.UTC(),
		Data:           payload,
		Metadata:       metadata,
		Source:         event.SourceCold,
	}, nil
}

func encodeBytes(b []byte) *string {
	if b == nil {
		return nil
	}
	s := base64.StdEncoding.EncodeToString(b)
	return &s
}

func decodeBytes(s *string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(*s)
	if err != nil {
		return nil, errors.NewStorageError("decode segment line", "invalid base64 payload").WithCause(err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}
