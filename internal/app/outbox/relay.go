package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// Source is the read side of a persisted outbox: fetch pending records,
// acknowledge published ones.
type Source interface {
	Fetch(ctx context.Context, limit int) ([]EventRecord, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Publisher hands one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Relay drains the outbox to the broker as CloudEvents. Publication is
// at-least-once: a record is only acknowledged after the broker accepted it,
// so consumers must dedupe on event id.
type Relay struct {
	Source      Source
	Publisher   Publisher
	Interval    time.Duration
	BatchSize   int
	TopicPrefix string
	EventSource string
	Logger      *slog.Logger
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger().Error("outbox relay pass failed", slog.Any("error", err))
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many records went out.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.Source.Fetch(ctx, r.batchSize())
	if err != nil {
		return 0, err
	}
	var published []string
	for _, rec := range records {
		payload, headers, err := r.formatCloudEvent(rec)
		if err != nil {
			r.logger().Error("outbox record not encodable, skipping",
				slog.String("event_id", rec.ID), slog.Any("error", err))
			published = append(published, rec.ID)
			continue
		}
		if err := r.Publisher.Publish(ctx, r.topicFor(rec.Name), rec.Aggregate, payload, headers); err != nil {
			// Stop the batch: the broker is down, the rest would fail too.
			if ackErr := r.Source.MarkPublished(ctx, published); ackErr != nil {
				return len(published), ackErr
			}
			return len(published), err
		}
		published = append(published, rec.ID)
	}
	if err := r.Source.MarkPublished(ctx, published); err != nil {
		return len(published), err
	}
	return len(published), nil
}

func (r *Relay) formatCloudEvent(rec EventRecord) ([]byte, map[string]string, error) {
	data := map[string]any{}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &data); err != nil {
			return nil, nil, err
		}
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              rec.ID,
		"type":            rec.Name + ".v1",
		"source":          r.eventSource(),
		"time":            rec.OccurredAt,
		"datacontenttype": "application/json",
		"data":            data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{"content-type": "application/cloudevents+json"}
	for k, v := range rec.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

func (r *Relay) topicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	topic := base + ".events.v1"
	if r.TopicPrefix != "" {
		topic = r.TopicPrefix + topic
	}
	return topic
}

func (r *Relay) interval() time.Duration {
	if r.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return r.Interval
}

func (r *Relay) batchSize() int {
	if r.BatchSize <= 0 {
		return 64
	}
	return r.BatchSize
}

func (r *Relay) eventSource() string {
	if r.EventSource != "" {
		return r.EventSource
	}
	return "app://estancias"
}

func (r *Relay) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
