package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"bracket_trader/internal/models"

	"github.com/IBM/sarama"
)

// Publisher forwards newly settled transactions downstream.
type Publisher interface {
	Publish(ctx context.Context, sessionDate string, txns []models.Transaction) error
}

// NewProducer creates a SyncProducer with a reliable configuration and a connection
// retry loop that gives up early when ctx is cancelled. brokers is a comma-separated
// address list.
func NewProducer(ctx context.Context, brokers string, attempts int, wait time.Duration) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	// Wait until the message is committed by the leader and all in-sync replicas.
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	// A silent host would otherwise hold each attempt for the 30s default.
	config.Net.DialTimeout = 5 * time.Second

	if attempts < 1 {
		attempts = 1
	}
	addrs := strings.Split(brokers, ",")

	var prod sarama.SyncProducer
	var err error
	for i := 0; i < attempts; i++ {
		prod, err = sarama.NewSyncProducer(addrs, config)
		if err == nil {
			return prod, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("producer connect cancelled after %d attempts: %w", i+1, err)
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("failed to start producer after %d attempts: %w", attempts, err)
}

// ConnectFunc builds the producer on first use.
type ConnectFunc func(ctx context.Context) (sarama.SyncProducer, error)

// Dial returns a ConnectFunc backed by NewProducer.
func Dial(brokers string, attempts int, wait time.Duration) ConnectFunc {
	return func(ctx context.Context) (sarama.SyncProducer, error) {
		return NewProducer(ctx, brokers, attempts, wait)
	}
}

// KafkaPublisher writes one JSON message per transaction, keyed by ticker so a
// ticker's fills stay ordered within a partition. The producer is only connected
// when there is something to publish, so a dead cluster never delays the trading
// steps that run before the ledger.
//
// Delivery is at least once: a commit failure after a successful send makes the
// next run publish the same records again. Each message carries the transaction id
// in a "transaction_id" header for downstream de-duplication.
type KafkaPublisher struct {
	connect ConnectFunc
	topic   string

	mu       sync.Mutex
	producer sarama.SyncProducer
}

func NewKafkaPublisher(connect ConnectFunc, topic string) *KafkaPublisher {
	return &KafkaPublisher{connect: connect, topic: topic}
}

type message struct {
	models.Transaction
	SessionDate string `json:"session_date,omitempty"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, sessionDate string, txns []models.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(txns))
	for _, t := range txns {
		b, err := json.Marshal(message{Transaction: t, SessionDate: sessionDate})
		if err != nil {
			return fmt.Errorf("failed to marshal transaction %s: %w", t.ID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:   p.topic,
			Key:     sarama.StringEncoder(t.Ticker),
			Value:   sarama.ByteEncoder(b),
			Headers: []sarama.RecordHeader{{Key: []byte("transaction_id"), Value: []byte(t.ID)}},
		})
	}

	producer, err := p.ensureProducer(ctx)
	if err != nil {
		return err
	}
	// Blocking; waits for ACKs per the producer config.
	if err := producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("failed to produce %d messages to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) ensureProducer(ctx context.Context) (sarama.SyncProducer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producer != nil {
		return p.producer, nil
	}
	prod, err := p.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("kafka unavailable: %w", err)
	}
	p.producer = prod
	return prod, nil
}

// Close releases the producer if one was ever connected.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producer == nil {
		return nil
	}
	err := p.producer.Close()
	p.producer = nil
	return err
}
