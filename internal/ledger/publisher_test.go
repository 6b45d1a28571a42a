package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"bracket_trader/internal/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connected(prod sarama.SyncProducer) ConnectFunc {
	return func(context.Context) (sarama.SyncProducer, error) { return prod, nil }
}

func TestKafkaPublisher_KeysByTicker(t *testing.T) {
	prod := mocks.NewSyncProducer(t, nil)
	prod.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "TQQQ" {
			return errors.New("unexpected key " + string(key))
		}
		if msg.Topic != "settled-transactions" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "transaction_id" || string(msg.Headers[0].Value) != "a" {
			return errors.New("missing transaction_id header")
		}
		val, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var got map[string]any
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got["id"] != "a" || got["session_date"] != "2025-03-14" || got["price"] != "100" {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	pub := NewKafkaPublisher(connected(prod), "settled-transactions")
	require.NoError(t, pub.Publish(t.Context(), "2025-03-14", []models.Transaction{txn("a", models.Buy, "1", "100", t0)}))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_ConnectsOnlyWhenThereIsSomethingToSend(t *testing.T) {
	calls := 0
	prod := mocks.NewSyncProducer(t, nil)
	pub := NewKafkaPublisher(func(context.Context) (sarama.SyncProducer, error) {
		calls++
		return prod, nil
	}, "settled-transactions")

	require.NoError(t, pub.Publish(t.Context(), "2025-03-14", nil))
	assert.Equal(t, 0, calls)
	require.NoError(t, pub.Close(), "closing an unconnected publisher")

	prod.ExpectSendMessageAndSucceed()
	prod.ExpectSendMessageAndSucceed()
	batch := []models.Transaction{txn("a", models.Buy, "1", "100", t0)}
	require.NoError(t, pub.Publish(t.Context(), "2025-03-14", batch))
	require.NoError(t, pub.Publish(t.Context(), "2025-03-14", batch))
	assert.Equal(t, 1, calls, "producer is reused once connected")
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_ConnectFailureIsRetriedNextPublish(t *testing.T) {
	down := errors.New("no brokers")
	prod := mocks.NewSyncProducer(t, nil)
	attempt := 0
	pub := NewKafkaPublisher(func(context.Context) (sarama.SyncProducer, error) {
		attempt++
		if attempt == 1 {
			return nil, down
		}
		return prod, nil
	}, "settled-transactions")
	batch := []models.Transaction{txn("a", models.Buy, "1", "100", t0)}

	err := pub.Publish(t.Context(), "2025-03-14", batch)
	require.ErrorIs(t, err, down)

	prod.ExpectSendMessageAndSucceed()
	require.NoError(t, pub.Publish(t.Context(), "2025-03-14", batch))
	require.NoError(t, pub.Close())
}

func TestNewProducer_StopsRetryingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	start := time.Now()
	_, err := NewProducer(ctx, "127.0.0.1:1", 10, time.Minute)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestRecorder_PublishFailureLeavesNothingStored(t *testing.T) {
	s := openTestStore(t)
	prod := mocks.NewSyncProducer(t, nil)
	prod.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	rec := NewRecorder(s, NewKafkaPublisher(connected(prod), "settled-transactions"))

	_, err := rec.Append(t.Context(), day("2025-03-14"), []models.Transaction{txn("a", models.Buy, "1", "100", t0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	recs, err := s.Recent(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	require.NoError(t, prod.Close())
}

func TestRecorder_WithoutPublisher(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "l.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	rec := NewRecorder(s, nil)

	n, err := rec.Append(t.Context(), day("2025-03-14"), []models.Transaction{txn("a", models.Buy, "1", "100", t0)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
