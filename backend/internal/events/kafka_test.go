package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/models"
)

func sampleTrade() *models.Trade {
	return &models.Trade{
		ID:             uuid.New(),
		OrderID:        uuid.New(),
		UserID:         uuid.New(),
		Symbol:         "BTC/USDT",
		Side:           models.SideBuy,
		ExecutionPrice: decimal.NewFromInt(49000),
		Quantity:       decimal.RequireFromString("0.01"),
		TotalValue:     decimal.NewFromInt(490),
		CreatedAt:      time.Now().UTC(),
	}
}

func TestKafkaPublisherSendsEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	trade := sampleTrade()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "trades.executed" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != trade.UserID.String() {
			return errors.New("message must be keyed by user id")
		}

		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event TradeExecuted
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event.EventType != TradeExecutedType || event.Trade.ID != trade.ID {
			return errors.New("unexpected event payload")
		}
		if !event.Trade.TotalValue.Equal(trade.TotalValue) {
			return errors.New("total value mismatch")
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer, "", nil, nil)
	require.NoError(t, pub.PublishTrade(context.Background(), trade))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisherReportsFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "trades", nil, nil)
	err := pub.PublishTrade(context.Background(), sampleTrade())
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestTradeExecutedEventIDIsStable(t *testing.T) {
	trade := sampleTrade()
	a, err := NewTradeExecuted(trade)
	require.NoError(t, err)
	b, err := NewTradeExecuted(trade)
	require.NoError(t, err)
	assert.Equal(t, a.EventID, b.EventID)
	assert.Equal(t, TradeExecutedVersion, a.EventVersion)

	_, err = NewTradeExecuted(&models.Trade{})
	assert.Error(t, err)
}
