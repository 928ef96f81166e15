package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fadedreams/roadassist/internal/events"
)

func Test_EncodeDecode_WireFormat(t *testing.T) {
	staff := "staff-1"
	in := &events.RequestEvent{
		EventID:         "e-1",
		EventType:       events.TypeStaffAssigned,
		OccurredAt:      time.UnixMilli(1_700_000_000_000).UTC(),
		RequestDocID:    "doc-1",
		RequestID:       "RR-AB12C",
		RequesterID:     "u-1",
		ProviderID:      "p-1",
		Status:          "Accepted",
		AssignedStaffID: &staff,
		ActorID:         "u-admin",
		ActorRole:       "admin",
	}

	data, err := events.Encode(events.Schema, 42, in)
	require.NoError(t, err)
	assert.Equal(t, byte(0), data[0])

	id, err := events.SchemaID(data)
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	out, err := events.Decode(events.Schema, data)
	require.NoError(t, err)
	assert.Equal(t, in.EventID, out.EventID)
	assert.Equal(t, in.RequestID, out.RequestID)
	assert.True(t, in.OccurredAt.Equal(out.OccurredAt))
	require.NotNil(t, out.AssignedStaffID)
	assert.Equal(t, "staff-1", *out.AssignedStaffID)
}

func Test_Decode_RejectsShortPayload(t *testing.T) {
	_, err := events.Decode(events.Schema, []byte{0, 1})
	assert.ErrorIs(t, err, events.ErrMalformed)

	_, err = events.SchemaID([]byte{1, 0, 0, 0, 1, 2})
	assert.ErrorIs(t, err, events.ErrMalformed)
}
