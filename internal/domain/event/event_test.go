package event

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetentionMode(t *testing.T) {
	tests := []struct {
		input   string
		want    RetentionMode
		wantErr bool
	}{
		{"default", RetentionDefault, false},
		{"", RetentionDefault, false},
		{"cold_archivable", RetentionColdArchivable, false},
		{"full_history", RetentionFullHistory, false},
		{"hard_deletable", RetentionHardDeletable, false},
		{"archive", 0, true},
		{"COLD_ARCHIVABLE", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := ParseRetentionMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}
}

func TestRetentionMode_Encoding(t *testing.T) {
	// Persisted values are a contract
	assert.Equal(t, RetentionMode(0), RetentionDefault)
	assert.Equal(t, RetentionMode(1), RetentionColdArchivable)
	assert.Equal(t, RetentionMode(2), RetentionFullHistory)
	assert.Equal(t, RetentionMode(3), RetentionHardDeletable)

	assert.True(t, RetentionColdArchivable.Valid())
	assert.False(t, RetentionMode(4).Valid())
	assert.False(t, RetentionMode(-1).Valid())
}

func TestValidateStoreName(t *testing.T) {
	assert.NoError(t, ValidateStoreName("eventstore"))
	assert.NoError(t, ValidateStoreName("my_store_2"))
	assert.NoError(t, ValidateStoreName(strings.Repeat("a", 63)))

	assert.Error(t, ValidateStoreName(""))
	assert.Error(t, ValidateStoreName(strings.Repeat("a", 64)))
	assert.Error(t, ValidateStoreName("bad-name"))
	assert.Error(t, ValidateStoreName("bad name"))
	assert.Error(t, ValidateStoreName("store;drop"))
}

func TestValidateStreamKey(t *testing.T) {
	assert.NoError(t, ValidateStreamKey("orders", "o1"))

	assert.Error(t, ValidateStreamKey("", "o1"))
	assert.Error(t, ValidateStreamKey("orders", ""))
	assert.Error(t, ValidateStreamKey(strings.Repeat("d", 65), "o1"))
	assert.Error(t, ValidateStreamKey("orders", strings.Repeat("s", 201)))
}

func TestEvent_Validate(t *testing.T) {
	valid := Event{EventType: "OrderPlaced", Data: []byte(`{}`)}
	assert.NoError(t, valid.Validate())

	// Empty namespace and empty payload are both legal
	empty := Event{EventType: "OrderPlaced", Data: []byte{}}
	assert.NoError(t, empty.Validate())

	missingType := Event{Data: []byte(`{}`)}
	assert.Error(t, missingType.Validate())

	nilData := Event{EventType: "OrderPlaced"}
	assert.Error(t, nilData.Validate())

	longNamespace := Event{EventType: "OrderPlaced", Data: []byte{}, Namespace: strings.Repeat("n", 201)}
	assert.Error(t, longNamespace.Validate())

	longType := Event{EventType: strings.Repeat("t", 201), Data: []byte{}}
	assert.Error(t, longType.Validate())
}

func TestRetentionPolicies_Resolve(t *testing.T) {
	policies := NewRetentionPolicies(RetentionDefault, map[string]RetentionMode{
		"orders":   RetentionColdArchivable,
		"payments": RetentionFullHistory,
	})

	assert.Equal(t, RetentionColdArchivable, policies.Resolve("orders"))
	assert.Equal(t, RetentionFullHistory, policies.Resolve("payments"))
	assert.Equal(t, RetentionDefault, policies.Resolve("unknown"))

	assert.Equal(t, RetentionDefault, DefaultRetentionPolicies().Resolve("anything"))
}

func TestSegmentRecord_Covers(t *testing.T) {
	rec := SegmentRecord{MinPosition: 10, MaxPosition: 20}

	assert.True(t, rec.Covers(10))
	assert.True(t, rec.Covers(15))
	assert.True(t, rec.Covers(20))
	assert.False(t, rec.Covers(9))
	assert.False(t, rec.Covers(21))
}
