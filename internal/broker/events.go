package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"parts-aggregator/internal/models"
	"parts-aggregator/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the write side of a topic
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	writer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// NewBaseEvent stamps a fresh event envelope
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishSearchPerformed publishes SearchPerformed event keyed by the searched article or VIN
func (ep *EventPublisher) PublishSearchPerformed(ctx context.Context, event *models.SearchPerformedEvent) error {
	key := event.Query.VIN
	if key == "" {
		key = models.NormalizeKey(event.Query.Article)
	}
	if key == "" {
		key = event.Query.ResourceID
	}
	return ep.writer.PublishEvent(ctx, "search-"+key, event)
}

// PublishPriceRulesChanged publishes PriceRulesChanged event
func (ep *EventPublisher) PublishPriceRulesChanged(ctx context.Context, event *models.PriceRulesChangedEvent) error {
	return ep.writer.PublishEvent(ctx, "price-rules", event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPriceRulesChanged  func(context.Context, *models.PriceRulesChangedEvent) error
	onWarehouseRestocked func(context.Context, *models.WarehouseRestockedEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPriceRulesChanged registers a handler for PriceRulesChanged events
func (eh *EventHandler) OnPriceRulesChanged(handler func(context.Context, *models.PriceRulesChangedEvent) error) {
	eh.onPriceRulesChanged = handler
}

// OnWarehouseRestocked registers a handler for WarehouseRestocked events
func (eh *EventHandler) OnWarehouseRestocked(handler func(context.Context, *models.WarehouseRestockedEvent) error) {
	eh.onWarehouseRestocked = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID),
	)

	switch baseEvent.EventType {
	case models.EventTypePriceRulesChanged:
		if eh.onPriceRulesChanged != nil {
			var event models.PriceRulesChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PriceRulesChanged event: %w", err)
			}
			return eh.onPriceRulesChanged(ctx, &event)
		}

	case models.EventTypeWarehouseRestocked:
		if eh.onWarehouseRestocked != nil {
			var event models.WarehouseRestockedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal WarehouseRestocked event: %w", err)
			}
			return eh.onWarehouseRestocked(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
