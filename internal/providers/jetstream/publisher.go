// Package jetstream implements the messaging interfaces on NATS JetStream.
package jetstream

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/messaging"
)

type publisher struct {
	nc   adapter.NatsConn
	js   adapter.JetStream
	cfg  config.NATSConfig
	json adapter.JSON
}

// NewPublisher creates a NATS JetStream publisher for extraction batches
func NewPublisher(cfg config.NATSConfig, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	nc, js, err := connect(cfg, natsJS)
	if err != nil {
		return nil, err
	}

	return &publisher{
		nc:   nc,
		js:   js,
		cfg:  cfg,
		json: jsonAdapter,
	}, nil
}

// connect dials NATS with the shared reconnect and logging options
func connect(cfg config.NATSConfig, natsJS adapter.NatsJetStream) (adapter.NatsConn, adapter.JetStream, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the batch stream
func (p *publisher) EnsureStream(ctx context.Context) error {
	err := p.js.CreateOrUpdateStream(ctx, natsjs.StreamConfig{
		Name:      p.cfg.StreamName,
		Subjects:  []string{p.cfg.Subject},
		Retention: natsjs.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", p.cfg.StreamName, err)
	}
	return nil
}

// PublishBatch publishes one extraction batch. The batch id doubles as the
// broker message id so scraper republishes deduplicate.
func (p *publisher) PublishBatch(ctx context.Context, batch *messaging.ExtractionBatch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if batch.BatchID == "" {
		batch.BatchID = uuid.NewString()
	}

	data, err := p.json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction batch: %w", err)
	}

	_, err = p.js.Publish(ctx, p.cfg.Subject, data, natsjs.WithMsgID(batch.BatchID))
	if err != nil {
		return fmt.Errorf("failed to publish extraction batch: %w", err)
	}

	logger.Debug("Published extraction batch",
		zap.String("batch_id", batch.BatchID),
		zap.String("site", batch.SiteSlug),
		zap.Int("items", len(batch.Items)))
	return nil
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}
	p.nc.Close()
}
