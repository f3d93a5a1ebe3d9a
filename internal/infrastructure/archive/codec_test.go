package archive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

func TestMarshalLine_WireFormat(t *testing.T) {
	env := event.Envelope{
		GlobalPosition: 42,
		StreamID:       "o1",
		Version:        3,
		Namespace:      "ns",
		EventType:      "OrderPlaced",
		Data:           []byte("payload"),
		Metadata:       []byte("meta"),
		CreatedUtc:     time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
	}

	line, err := MarshalLine(&env)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &fields))

	assert.Equal(t, float64(42), fields["globalPosition"])
	assert.Equal(t, "o1", fields["streamId"])
	assert.Equal(t, float64(3), fields["streamVersion"])
	assert.Equal(t, "ns", fields["streamNamespace"])
	assert.Equal(t, "OrderPlaced", fields["eventType"])
	assert.Equal(t, "2026-03-14T09:26:53.589793Z", fields["createdUtc"])
	assert.Equal(t, "cGF5bG9hZA==", fields["data"])
	assert.Equal(t, "bWV0YQ==", fields["metadata"])
}

func TestMarshalLine_NullMetadata(t *testing.T) {
	env := event.Envelope{
		GlobalPosition: 1,
		StreamID:       "o1",
		Version:        1,
		EventType:      "OrderPlaced",
		Data:           []byte{},
		CreatedUtc:     time.Now().UTC(),
	}

	line, err := MarshalLine(&env)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &fields))
	assert.Nil(t, fields["metadata"])
	assert.Equal(t, "", fields["data"])
}

func TestLine_RoundTrip(t *testing.T) {
	created := time.Date(2026, 8, 24, 17, 0, 1, 234567000, time.UTC)
	original := event.Envelope{
		GlobalPosition: 9007199254740993, // above 2^53, must survive as int64
		StreamID:       "stream-1",
		Version:        7,
		Namespace:      "",
		EventType:      "ThingHappened",
		Data:           []byte{0x00, 0xff, 0x10},
		Metadata:       nil,
		CreatedUtc:     created,
	}

	line, err := MarshalLine(&original)
	require.NoError(t, err)

	decoded, err := UnmarshalLine(line)
	require.NoError(t, err)

	assert.Equal(t, original.GlobalPosition, decoded.GlobalPosition)
	assert.Equal(t, original.StreamID, decoded.StreamID)
	assert.Equal(t, original.Version, decoded.Version)
	assert.Equal(t, original.Namespace, decoded.Namespace)
	assert.Equal(t, original.EventType, decoded.EventType)
	assert.Equal(t, original.Data, decoded.Data)
	assert.Nil(t, decoded.Metadata)
	assert.True(t, created.Equal(decoded.CreatedUtc))
	assert.Equal(t, event.SourceCold, decoded.Source)
}

func TestUnmarshalLine_Invalid(t *testing.T) {
	_, err := UnmarshalLine([]byte("not json"))
	assert.Error(t, err)

	_, err = UnmarshalLine([]byte(`{"globalPosition":1,"createdUtc":"not a time"}`))
	assert.Error(t, err)

	bad64 := `{"globalPosition":1,"streamId":"s","streamVersion":1,"eventType":"T","createdUtc":"2026-01-01T00:00:00.000000Z","data":"!!!"}`
	_, err = UnmarshalLine([]byte(bad64))
	assert.Error(t, err)
}
