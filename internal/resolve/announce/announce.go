// Package announce notifies downstream consumers that a new canonical
// generation is live. Consumers hold cached joins against the prior
// generation's person ids; the swap announcement tells them to refresh.
package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"unify/internal/resolve/models"
)

// DefaultTopic carries generation-swap events.
const DefaultTopic = "unify.generation.swapped"

// Publisher emits a generation-swap announcement. Implementations must be
// best-effort safe: a failed announcement never fails the run.
type Publisher interface {
	GenerationSwapped(ctx context.Context, stats *models.RunStats) error
	Close()
}

// Event is the JSON payload downstream consumers receive.
type Event struct {
	RunID       string    `json:"run_id"`
	Persons     int       `json:"persons"`
	Households  int       `json:"households"`
	SourceLinks int       `json:"source_links"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewEvent builds the announcement payload from run stats.
func NewEvent(stats *models.RunStats, completedAt time.Time) Event {
	return Event{
		RunID:       stats.RunID.String(),
		Persons:     stats.Persons,
		Households:  stats.Households,
		SourceLinks: stats.SourceLinks,
		CompletedAt: completedAt,
	}
}

// Kafka publishes swap events with franz-go.
type Kafka struct {
	client *kgo.Client
	topic  string
}

// NewKafka connects to the brokers and ensures the topic exists. Topic
// creation is idempotent; an already-exists response is not an error.
func NewKafka(ctx context.Context, brokers []string, topic string) (*Kafka, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, resp.Err)
	}

	return &Kafka{client: client, topic: topic}, nil
}

// GenerationSwapped publishes one swap event keyed by run id.
func (k *Kafka) GenerationSwapped(ctx context.Context, stats *models.RunStats) error {
	payload, err := json.Marshal(NewEvent(stats, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal swap event: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(stats.RunID.String()),
		Value: payload,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce swap event: %w", err)
	}
	return nil
}

func (k *Kafka) Close() {
	k.client.Close()
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) GenerationSwapped(context.Context, *models.RunStats) error { return nil }
func (Noop) Close()                                                    {}
