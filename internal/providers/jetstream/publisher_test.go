package jetstream_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/messaging"
	"github.com/showgrid/event-indexer/internal/providers/jetstream"
)

type publishCall struct {
	subject string
	data    []byte
	optLen  int
}

type fakeJetStream struct {
	publishes []publishCall
	streams   []natsjs.StreamConfig
	consumer  adapter.Consumer
}

func (j *fakeJetStream) Publish(ctx context.Context, subject string, data []byte, opts ...natsjs.PublishOpt) (*natsjs.PubAck, error) {
	j.publishes = append(j.publishes, publishCall{subject: subject, data: data, optLen: len(opts)})
	return &natsjs.PubAck{Stream: "EXTRACTION_BATCHES"}, nil
}

func (j *fakeJetStream) CreateOrUpdateStream(ctx context.Context, cfg natsjs.StreamConfig) error {
	j.streams = append(j.streams, cfg)
	return nil
}

func (j *fakeJetStream) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg natsjs.ConsumerConfig) (adapter.Consumer, error) {
	return j.consumer, nil
}

type fakeNatsConn struct{ closed bool }

func (c *fakeNatsConn) Close()               { c.closed = true }
func (c *fakeNatsConn) LastError() error     { return nil }
func (c *fakeNatsConn) ConnectedUrl() string { return "nats://fake:4222" }

type fakeNatsJetStream struct {
	nc *fakeNatsConn
	js *fakeJetStream
}

func (f *fakeNatsJetStream) Connect(url string, options ...nats.Option) (adapter.NatsConn, adapter.JetStream, error) {
	return f.nc, f.js, nil
}

func newPublisher(t *testing.T) (messaging.Publisher, *fakeJetStream, *fakeNatsConn) {
	t.Helper()
	nc, js := &fakeNatsConn{}, &fakeJetStream{}
	cfg := config.NATSConfig{
		URL:        "nats://fake:4222",
		StreamName: "EXTRACTION_BATCHES",
		Subject:    "extraction.batches",
	}
	pub, err := jetstream.NewPublisher(cfg, &fakeNatsJetStream{nc: nc, js: js}, adapter.NewJSON())
	require.NoError(t, err)
	return pub, js, nc
}

func TestEnsureStream(t *testing.T) {
	pub, js, _ := newPublisher(t)

	require.NoError(t, pub.EnsureStream(context.Background()))
	require.Len(t, js.streams, 1)
	assert.Equal(t, "EXTRACTION_BATCHES", js.streams[0].Name)
	assert.Equal(t, []string{"extraction.batches"}, js.streams[0].Subjects)
}

func TestPublishBatch(t *testing.T) {
	pub, js, _ := newPublisher(t)

	batch := &messaging.ExtractionBatch{
		SiteSlug:  "charleston",
		SourceURL: "https://musicfarm.example.com/calendar",
		Items:     []domain.RawExtractResult{{Title: "Jazz Night"}},
	}
	require.NoError(t, pub.PublishBatch(context.Background(), batch))

	// The publisher assigns the batch id used for broker-side dedupe
	assert.NotEmpty(t, batch.BatchID)

	require.Len(t, js.publishes, 1)
	call := js.publishes[0]
	assert.Equal(t, "extraction.batches", call.subject)
	assert.Equal(t, 1, call.optLen)

	var sent messaging.ExtractionBatch
	require.NoError(t, json.Unmarshal(call.data, &sent))
	assert.Equal(t, batch.BatchID, sent.BatchID)
	assert.Equal(t, "charleston", sent.SiteSlug)
	require.Len(t, sent.Items, 1)
	assert.Equal(t, "Jazz Night", sent.Items[0].Title)
}

func TestPublishBatchRejectsInvalidEnvelope(t *testing.T) {
	pub, js, _ := newPublisher(t)

	err := pub.PublishBatch(context.Background(), &messaging.ExtractionBatch{SourceURL: "https://x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site_slug")
	assert.Empty(t, js.publishes)
}

func TestClose(t *testing.T) {
	pub, _, nc := newPublisher(t)
	pub.Close()
	assert.True(t, nc.closed)
}
