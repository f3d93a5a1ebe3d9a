package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

func newTestColdStore(t *testing.T) *ColdStore {
	t.Helper()
	store, err := NewColdStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func makeEnvelopes(positions ...int64) []event.Envelope {
	envelopes := make([]event.Envelope, 0, len(positions))
	for i, pos := range positions {
		envelopes = append(envelopes, event.Envelope{
			GlobalPosition: pos,
			StreamID:       "s1",
			Version:        int32(i + 1),
			EventType:      "TestEvent",
			Data:           []byte(`{"n":1}`),
			CreatedUtc:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second),
		})
	}
	return envelopes
}

func TestSegmentFileName_Format(t *testing.T) {
	assert.Equal(t, "events-0000000000000001-0000000000000005.ndjson", SegmentFileName(1, 5))
	assert.Equal(t, "events-0000000000001000-0000000000002000.ndjson", SegmentFileName(1000, 2000))
}

func TestParseSegmentFileName(t *testing.T) {
	minPos, maxPos, ok := ParseSegmentFileName("events-0000000000000001-0000000000000005.ndjson")
	require.True(t, ok)
	assert.Equal(t, int64(1), minPos)
	assert.Equal(t, int64(5), maxPos)

	for _, name := range []string{
		"events-123.ndjson",
		"segment-0000000000000001-0000000000000005.ndjson",
		"events-0000000000000001-0000000000000005.json",
		"events-abc-def.ndjson",
		"random.txt",
	} {
		_, _, ok := ParseSegmentFileName(name)
		assert.False(t, ok, name)
	}
}

func TestWriteSegment(t *testing.T) {
	store := newTestColdStore(t)
	ctx := context.Background()

	fileName, err := store.WriteSegment(ctx, makeEnvelopes(10, 11, 12))
	require.NoError(t, err)
	assert.Equal(t, "events-0000000000000010-0000000000000012.ndjson", fileName)

	content, err := os.ReadFile(filepath.Join(store.Directory(), fileName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	assert.Len(t, lines, 3)

	// No temp files survive a successful write
	entries, err := os.ReadDir(store.Directory())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteSegment_Empty(t *testing.T) {
	store := newTestColdStore(t)
	_, err := store.WriteSegment(context.Background(), nil)
	assert.Error(t, err)
}

func TestReadAllForwards_MergesFilesInOrder(t *testing.T) {
	store := newTestColdStore(t)
	ctx := context.Background()

	_, err := store.WriteSegment(ctx, makeEnvelopes(20, 21))
	require.NoError(t, err)
	_, err = store.WriteSegment(ctx, makeEnvelopes(1, 2, 3))
	require.NoError(t, err)

	cursor := store.ReadAllForwards(0, 100)
	defer cursor.Close()

	var positions []int64
	for cursor.Next(ctx) {
		positions = append(positions, cursor.Envelope().GlobalPosition)
	}
	require.NoError(t, cursor.Err())
	assert.Equal(t, []int64{1, 2, 3, 20, 21}, positions)
}

func TestReadAllForwards_FromExclusive(t *testing.T) {
	store := newTestColdStore(t)
	ctx := context.Background()

	_, err := store.WriteSegment(ctx, makeEnvelopes(1, 2, 3))
	require.NoError(t, err)
	_, err = store.WriteSegment(ctx, makeEnvelopes(4, 5, 6))
	require.NoError(t, err)

	// Whole first file is at or below the watermark and is skipped unopened;
	// the second is filtered line by line.
	cursor := store.ReadAllForwards(4, 100)
	defer cursor.Close()

	var positions []int64
	for cursor.Next(ctx) {
		positions = append(positions, cursor.Envelope().GlobalPosition)
	}
	require.NoError(t, cursor.Err())
	assert.Equal(t, []int64{5, 6}, positions)
}

func TestReadAllForwards_EmptyDirectory(t *testing.T) {
	store := newTestColdStore(t)
	cursor := store.ReadAllForwards(0, 100)
	defer cursor.Close()

	assert.False(t, cursor.Next(context.Background()))
	assert.NoError(t, cursor.Err())
}

func TestReadAllForwards_CorruptLine(t *testing.T) {
	store := newTestColdStore(t)
	ctx := context.Background()

	name := SegmentFileName(1, 2)
	require.NoError(t, os.WriteFile(filepath.Join(store.Directory(), name), []byte("garbage\n"), 0o644))

	cursor := store.ReadAllForwards(0, 100)
	defer cursor.Close()

	assert.False(t, cursor.Next(ctx))
	assert.Error(t, cursor.Err())
}

func TestReadAllForwards_Cancellation(t *testing.T) {
	store := newTestColdStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := store.WriteSegment(ctx, makeEnvelopes(1, 2, 3))
	require.NoError(t, err)

	cursor := store.ReadAllForwards(0, 100)
	defer cursor.Close()

	require.True(t, cursor.Next(ctx))
	cancel()
	assert.False(t, cursor.Next(ctx))
	assert.ErrorIs(t, cursor.Err(), context.Canceled)
}

func TestReadAllForwards_LargePayload(t *testing.T) {
	store := newTestColdStore(t)
	ctx := context.Background()

	// A multi-megabyte payload serializes to one NDJSON line far longer
	// than any default line buffer; it must read back intact.
	big := bytes.Repeat([]byte{0xAB}, 2*1024*1024)
	envelopes := makeEnvelopes(1, 2, 3)
	envelopes[1].Data = big

	_, err := store.WriteSegment(ctx, envelopes)
	require.NoError(t, err)

	cursor := store.ReadAllForwards(0, 100)
	defer cursor.Close()

	var positions []int64
	for cursor.Next(ctx) {
		env := cursor.Envelope()
		positions = append(positions, env.GlobalPosition)
		if env.GlobalPosition == 2 {
			assert.Equal(t, big, env.Data)
		}
	}
	require.NoError(t, cursor.Err())
	assert.Equal(t, []int64{1, 2, 3}, positions)
}

func TestWriteSegment_RoundTripThroughStore(t *testing.T) {
	store := newTestColdStore(t)
	ctx := context.Background()

	original := event.Envelope{
		GlobalPosition: 7,
		StreamID:       "o1",
		Version:        2,
		Namespace:      "ns",
		EventType:      "OrderShipped",
		Data:           []byte{1, 2, 3},
		Metadata:       []byte(`{"who":"me"}`),
		CreatedUtc:     time.Date(2026, 6, 1, 12, 30, 0, 123456000, time.UTC),
	}
	_, err := store.WriteSegment(ctx, []event.Envelope{original})
	require.NoError(t, err)

	cursor := store.ReadAllForwards(0, 10)
	defer cursor.Close()
	require.True(t, cursor.Next(ctx))

	decoded := cursor.Envelope()
	assert.Equal(t, original.GlobalPosition, decoded.GlobalPosition)
	assert.Equal(t, original.StreamID, decoded.StreamID)
	assert.Equal(t, original.Version, decoded.Version)
	assert.Equal(t, original.Namespace, decoded.Namespace)
	assert.Equal(t, original.EventType, decoded.EventType)
	assert.Equal(t, original.Data, decoded.Data)
	assert.Equal(t, original.Metadata, decoded.Metadata)
	assert.True(t, original.CreatedUtc.Equal(decoded.CreatedUtc))
}
