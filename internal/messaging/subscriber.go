package messaging

import (
	"context"
	"errors"
)

// ErrDropBatch tells the subscriber a batch can never succeed (for example an
// unknown site slug); the message is dropped instead of redelivered. Handlers
// wrap it: fmt.Errorf("...: %w", ErrDropBatch).
var ErrDropBatch = errors.New("drop extraction batch")

// BatchHandler is called for each extraction batch received. A non-nil error
// makes the subscriber redeliver the batch, unless it wraps ErrDropBatch.
type BatchHandler func(ctx context.Context, batch *ExtractionBatch) error

// Subscriber defines the interface for consuming extraction batches from the
// message broker
//
//go:generate mockgen -source=subscriber.go -destination=../mocks/subscriber.go -package=mocks -mock_names=Subscriber=MockSubscriber
type Subscriber interface {
	// SubscribeBatches consumes batches until ctx is done, invoking handler
	// for each one
	SubscribeBatches(ctx context.Context, handler BatchHandler) error

	// Close closes the connection and cleans up resources
	Close()
}
