// Package events defines the lifecycle event published on Kafka and its
// Avro encoding in the Confluent wire format (magic byte, schema id, body).
package events

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hamba/avro/v2"
)

// Event types.
const (
	TypeRequestCreated        = "RequestCreated"
	TypeStatusChanged         = "StatusChanged"
	TypeStaffAssigned         = "StaffAssigned"
	TypeCancellationRequested = "CancellationRequested"
	TypeCancellationResolved  = "CancellationResolved"
)

//go:embed request_event.avsc
var SchemaJSON string

// Schema is the parsed RequestEvent schema.
var Schema = avro.MustParse(SchemaJSON)

const (
	magicByte  = 0
	headerSize = 5
)

var ErrMalformed = errors.New("malformed event payload")

// RequestEvent mirrors the Avro schema.
type RequestEvent struct {
	EventID               string    `avro:"event_id" bson:"eventId"`
	EventType             string    `avro:"event_type" bson:"eventType"`
	OccurredAt            time.Time `avro:"occurred_at" bson:"occurredAt"`
	RequestDocID          string    `avro:"request_doc_id" bson:"requestDocId"`
	RequestID             string    `avro:"request_id" bson:"requestId"`
	RequesterID           string    `avro:"requester_id" bson:"requesterId"`
	ProviderID            string    `avro:"provider_id" bson:"providerId"`
	Status                string    `avro:"status" bson:"status"`
	PreviousStatus        string    `avro:"previous_status" bson:"previousStatus"`
	AssignedStaffID       *string   `avro:"assigned_staff_id" bson:"assignedStaffId"`
	CancellationRequested bool      `avro:"cancellation_requested" bson:"cancellationRequested"`
	Note                  string    `avro:"note" bson:"note"`
	ActorID               string    `avro:"actor_id" bson:"actorId"`
	ActorRole             string    `avro:"actor_role" bson:"actorRole"`
}

// Encode serializes e with schema and frames it with schemaID.
func Encode(schema avro.Schema, schemaID int, e *RequestEvent) ([]byte, error) {
	body, err := avro.Marshal(schema, e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	out := make([]byte, headerSize+len(body))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:headerSize], uint32(schemaID))
	copy(out[headerSize:], body)
	return out, nil
}

// SchemaID extracts the schema id from a framed payload.
func SchemaID(data []byte) (int, error) {
	if len(data) < headerSize || data[0] != magicByte {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	return int(binary.BigEndian.Uint32(data[1:headerSize])), nil
}

// Decode deserializes a framed payload written with schema.
func Decode(schema avro.Schema, data []byte) (*RequestEvent, error) {
	if _, err := SchemaID(data); err != nil {
		return nil, err
	}
	var e RequestEvent
	if err := avro.Unmarshal(schema, data[headerSize:], &e); err != nil {
		return nil, fmt.Errorf("failed to deserialize event: %w", err)
	}
	return &e, nil
}
