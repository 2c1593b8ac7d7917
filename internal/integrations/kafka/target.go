// Package kafka streams tracker events to a kafka topic so downstream
// studio services (render farm, review tools, dailies) can react to
// production changes without polling the tracker themselves.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/events"
)

// Target publishes each event as one JSON message, keyed by the entity
// reference so per-entity ordering survives partitioning.
type Target struct {
	config   kafka.ConfigMap
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger

	statsMu   sync.RWMutex
	stats     events.TargetStats
	delivered int64
	dropped   int64
}

// NewTarget parses a kafka://host:port/topic?acks=1 URL. Query
// parameters override the producer config verbatim.
func NewTarget(uri *url.URL, logger *zap.Logger) (*Target, error) {
	topic := strings.TrimPrefix(uri.Path, "/")
	if topic == "" {
		return nil, fmt.Errorf("kafka target needs a topic in the URL path")
	}

	brokers := uri.Host
	config := kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "stagehand-events",

		"acks":             "all",
		"retries":          "3",
		"linger.ms":        "5",
		"compression.type": "snappy",

		"request.timeout.ms":  "5000",
		"delivery.timeout.ms": "10000",
	}
	for key, values := range uri.Query() {
		if len(values) > 0 {
			config[key] = values[0]
		}
	}

	return &Target{
		topic:  topic,
		config: config,
		logger: logger.Named("stagehand.events.kafka"),
		stats: events.TargetStats{
			TargetSpecific: map[string]any{
				"topic":   topic,
				"brokers": brokers,
			},
		},
	}, nil
}

func (t *Target) Connect(ctx context.Context) error {
	producer, err := kafka.NewProducer(&t.config)
	if err != nil {
		t.statsMu.Lock()
		t.stats.ConnectionHealthy = false
		t.stats.LastError = err.Error()
		t.statsMu.Unlock()
		return err
	}
	t.producer = producer

	go func() {
		defer t.logger.Info("producer event loop closed")

		for e := range producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					t.logger.Error("delivery failed", zap.Error(ev.TopicPartition.Error))
					t.statsMu.Lock()
					t.dropped++
					t.stats.LastError = ev.TopicPartition.Error.Error()
					t.statsMu.Unlock()
					continue
				}
				t.statsMu.Lock()
				t.delivered++
				t.statsMu.Unlock()
			case kafka.Error:
				t.logger.Error("producer error", zap.Error(ev))
			}
		}
	}()

	t.statsMu.Lock()
	t.stats.ConnectionHealthy = true
	t.stats.LastError = ""
	t.statsMu.Unlock()

	t.logger.Info("kafka target connected", zap.String("topic", t.topic))
	return nil
}

func (t *Target) Write(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		t.recordFailure(err)
		return err
	}

	key := event.EntityRef.String()
	if event.EntityRef.IsZero() {
		key = strconv.FormatInt(event.ID, 10)
	}

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &t.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: payload,
	}
	if err := t.producer.Produce(message, nil); err != nil {
		t.recordFailure(err)
		return err
	}

	t.statsMu.Lock()
	t.stats.TotalEvents++
	t.stats.LastWriteAt = time.Now()
	t.stats.LastError = ""
	t.statsMu.Unlock()
	return nil
}

// Flush drains the producer's internal queue.
func (t *Target) Flush(ctx context.Context) error {
	if t.producer == nil {
		return nil
	}
	if remaining := t.producer.Flush(5000); remaining > 0 {
		return fmt.Errorf("kafka flush timed out with %d messages in flight", remaining)
	}
	return nil
}

func (t *Target) Close(ctx context.Context) error {
	if t.producer != nil {
		t.producer.Flush(5000)
		t.producer.Close()
	}

	t.statsMu.Lock()
	t.stats.ConnectionHealthy = false
	t.statsMu.Unlock()
	return nil
}

func (t *Target) Stats() events.TargetStats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()

	stats := t.stats
	stats.TargetSpecific = map[string]any{
		"delivered": t.delivered,
		"dropped":   t.dropped,
	}
	for k, v := range t.stats.TargetSpecific {
		stats.TargetSpecific[k] = v
	}
	return stats
}

func (t *Target) recordFailure(err error) {
	t.statsMu.Lock()
	t.stats.FailedEvents++
	t.stats.LastError = err.Error()
	t.statsMu.Unlock()
}
