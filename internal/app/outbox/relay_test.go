package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/app/outbox"
	"estancias/internal/infra/storage/memory"
)

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakePublisher struct {
	sent    []published
	failOn  string
	failErr error
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.failOn != "" && topic == p.failOn {
		return p.failErr
	}
	p.sent = append(p.sent, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func record(id, name, aggregate string, body string) outbox.EventRecord {
	return outbox.EventRecord{
		ID:         id,
		Name:       name,
		Payload:    []byte(body),
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Aggregate:  aggregate,
		Headers:    map[string]string{"traceparent": "00-abc"},
	}
}

func TestRelayOncePublishesCloudEvents(t *testing.T) {
	store := memory.NewOutboxStore()
	require.NoError(t, store.Add(context.Background(), record("ev-1", "booking.confirmed", "bk-1", `{"total":388600}`)))
	pub := &fakePublisher{}
	relay := &outbox.Relay{Source: store, Publisher: pub, TopicPrefix: "test."}

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "test.booking.events.v1", pub.sent[0].topic)
	assert.Equal(t, "bk-1", pub.sent[0].key)
	assert.Equal(t, "application/cloudevents+json", pub.sent[0].headers["content-type"])
	assert.Equal(t, "00-abc", pub.sent[0].headers["traceparent"])

	var evt map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &evt))
	assert.Equal(t, "1.0", evt["specversion"])
	assert.Equal(t, "booking.confirmed.v1", evt["type"])
	assert.Equal(t, "ev-1", evt["id"])
	data, ok := evt["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(388600), data["total"])

	// Acked records are gone; the next pass publishes nothing.
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, pub.sent, 1)
}

func TestRelayOnceStopsBatchOnBrokerError(t *testing.T) {
	store := memory.NewOutboxStore()
	require.NoError(t, store.Add(context.Background(), record("ev-1", "booking.requested", "bk-1", `{}`)))
	require.NoError(t, store.Add(context.Background(), record("ev-2", "payment.refunded", "pay-1", `{}`)))
	pub := &fakePublisher{failOn: "payment.events.v1", failErr: errors.New("broker down")}
	relay := &outbox.Relay{Source: store, Publisher: pub}

	n, err := relay.RelayOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)

	// Only the published record was acked; the failed one is retried later.
	pub.failOn = ""
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.sent, 2)
	assert.Equal(t, "payment.events.v1", pub.sent[1].topic)
}

func TestRelayOnceSkipsCorruptRecord(t *testing.T) {
	store := memory.NewOutboxStore()
	require.NoError(t, store.Add(context.Background(), record("ev-bad", "booking.requested", "bk-1", `not-json`)))
	require.NoError(t, store.Add(context.Background(), record("ev-ok", "booking.requested", "bk-2", `{}`)))
	pub := &fakePublisher{}
	relay := &outbox.Relay{Source: store, Publisher: pub}

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "corrupt record acked so it never wedges the queue")
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "bk-2", pub.sent[0].key)
}
