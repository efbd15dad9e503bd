package messaging

import (
	"context"
)

// Publisher defines the interface for publishing extraction batches to the
// message broker
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// EnsureStream creates or updates the broker stream the batches go to
	EnsureStream(ctx context.Context) error
	// PublishBatch publishes one extraction batch, assigning its BatchID when
	// the scraper did not
	PublishBatch(ctx context.Context, batch *ExtractionBatch) error
	// Close closes the connection
	Close()
}
