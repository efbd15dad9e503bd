package jetstream

import (
	"context"
	"errors"
	"fmt"

	natsjs "github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/messaging"
)

type subscriber struct {
	nc   adapter.NatsConn
	js   adapter.JetStream
	cfg  config.NATSConfig
	json adapter.JSON
}

// NewSubscriber creates a NATS JetStream subscriber for extraction batches
func NewSubscriber(cfg config.NATSConfig, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Subscriber, error) {
	nc, js, err := connect(cfg, natsJS)
	if err != nil {
		return nil, err
	}

	return &subscriber{
		nc:   nc,
		js:   js,
		cfg:  cfg,
		json: jsonAdapter,
	}, nil
}

// SubscribeBatches consumes batches on a durable consumer until ctx is done
func (s *subscriber) SubscribeBatches(ctx context.Context, handler messaging.BatchHandler) error {
	logger.Info("Starting batch subscription",
		zap.String("stream", s.cfg.StreamName),
		zap.String("consumer", s.cfg.ConsumerName))

	consumerConfig := natsjs.ConsumerConfig{
		Durable:       s.cfg.ConsumerName,
		AckPolicy:     natsjs.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		MaxDeliver:    s.cfg.MaxDeliver,
		FilterSubject: s.cfg.Subject,
	}

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	msgChan := make(chan adapter.Message, 16)
	sub, err := consumer.Consume(func(msg adapter.Message) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.Info("Started consuming extraction batches")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping batch subscription")
			return ctx.Err()
		case msg := <-msgChan:
			s.handleMessage(ctx, msg, handler)
		}
	}
}

// handleMessage processes one broker message. Unparseable payloads and
// handler drops are terminated; retryable handler failures are NAKed for
// redelivery.
func (s *subscriber) handleMessage(ctx context.Context, msg adapter.Message, handler messaging.BatchHandler) {
	var batch messaging.ExtractionBatch
	if err := s.json.Unmarshal(msg.Data(), &batch); err != nil {
		logger.Error(err, zap.String("message", "Failed to unmarshal extraction batch"))
		s.term(msg)
		return
	}
	if err := batch.Validate(); err != nil {
		logger.Error(err, zap.String("message", "Invalid extraction batch"))
		s.term(msg)
		return
	}

	if err := handler(ctx, &batch); err != nil {
		logger.Error(err, zap.String("batch_id", batch.BatchID))
		if errors.Is(err, messaging.ErrDropBatch) {
			s.term(msg)
		} else {
			s.nak(msg)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error(err, zap.String("message", "Failed to ACK message"))
	}
}

func (s *subscriber) nak(msg adapter.Message) {
	if err := msg.Nak(); err != nil {
		logger.Error(err, zap.String("message", "Failed to NAK message"))
	}
}

func (s *subscriber) term(msg adapter.Message) {
	if err := msg.Term(); err != nil {
		logger.Error(err, zap.String("message", "Failed to terminate message"))
	}
}

// Close closes the NATS connection
func (s *subscriber) Close() {
	if s.nc == nil {
		return
	}
	s.nc.Close()
}
