package pub

import (
	"context"

	"github.com/google/uuid"
)

// Transport defines the remote calls the consumer and publisher depend on.
// Implementations perform the network round trip and the wire encoding,
// and classify failures into an *Error with a Kind.
type Transport interface {
	// Read fetches up to batchSize pending events for a subscription.
	// An empty slice means no events are available.
	// Fails with KindNotFound if the coordinate does not exist, KindConflict
	// on a concurrent read conflict and KindServerError on a remote fault.
	Read(ctx context.Context, coord Coordinate, batchSize int) ([]Event, error)

	// Commit acknowledges events so they are not redelivered.
	// Returns how many ids the service acknowledged. Fails like Read, and
	// additionally with KindBadRequest on a malformed id list.
	Commit(ctx context.Context, coord Coordinate, ids []uuid.UUID) (int, error)

	// Publish appends events to a topic and returns how many were accepted.
	// Fails with KindBadRequest, KindNotFound or KindServerError.
	Publish(ctx context.Context, organization, topic string, reqs []PublishRequest) (int, error)
}
