// Package events publishes settlement events for downstream consumers.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/user/papertrade/backend/internal/models"
)

const (
	TradeExecutedType    = "trade.executed"
	TradeExecutedVersion = 1
)

// Envelope is the common header of every published event.
type Envelope struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion int       `json:"event_version"`
	Timestamp    time.Time `json:"timestamp"`
}

// TradeExecuted is published once per settled trade.
type TradeExecuted struct {
	Envelope
	Trade *models.Trade `json:"trade"`
}

// NewTradeExecuted derives the event id from the trade id, so republishing the same trade yields the same id.
func NewTradeExecuted(trade *models.Trade) (TradeExecuted, error) {
	if trade == nil || trade.ID == uuid.Nil {
		return TradeExecuted{}, fmt.Errorf("trade id is required")
	}
	return TradeExecuted{
		Envelope: Envelope{
			EventID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(TradeExecutedType+"|"+trade.ID.String())).String(),
			EventType:    TradeExecutedType,
			EventVersion: TradeExecutedVersion,
			Timestamp:    time.Now().UTC(),
		},
		Trade: trade,
	}, nil
}

// Publisher delivers trade events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishTrade(ctx context.Context, trade *models.Trade) error
	Close() error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishTrade(context.Context, *models.Trade) error { return nil }
func (NopPublisher) Close() error                                      { return nil }
