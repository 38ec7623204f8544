package pub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// createdAtLayouts are the timestamp layouts accepted for Event.CreatedAt.
// The service emits second precision with a zone designator that may be
// just an hour offset ("+01") or hours and minutes without a colon ("+0530"),
// neither of which RFC3339 alone accepts.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04:05Z0700",
}

// Event is a single message read from a subscription.
// Events are created by the remote service and are read-only to the client.
type Event struct {
	// ID uniquely identifies the event and is what gets committed.
	ID uuid.UUID `json:"id"`
	// Data is the opaque payload, never interpreted by the consumer.
	Data json.RawMessage `json:"data"`
	// CreatedAt is when the service accepted the event.
	CreatedAt time.Time `json:"createdAt"`
}

// UnmarshalJSON decodes an event, accepting every createdAt layout the
// service is known to produce.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID        uuid.UUID       `json:"id"`
		Data      json.RawMessage `json:"data"`
		CreatedAt string          `json:"createdAt"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	e.Data = raw.Data
	e.CreatedAt = time.Time{}
	if raw.CreatedAt == "" {
		return nil
	}

	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, raw.CreatedAt); err == nil {
			e.CreatedAt = t
			return nil
		}
	}

	return fmt.Errorf("invalid createdAt %q for event %s", raw.CreatedAt, raw.ID)
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode data of event %s: %w", e.ID, err)
	}

	return nil
}

// IDs returns the identifiers of events in order.
func IDs(events []Event) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	return ids
}

// PublishRequest wraps a payload to publish. Data is serialized to JSON
// as the "data" member of the request object.
type PublishRequest struct {
	Data any `json:"data"`
}
