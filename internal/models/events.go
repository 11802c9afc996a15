package models

import "time"

// Event types
const (
	EventTypeSearchPerformed    = "SEARCH_PERFORMED"
	EventTypePriceRulesChanged  = "PRICE_RULES_CHANGED"
	EventTypeWarehouseRestocked = "WAREHOUSE_RESTOCKED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SearchPerformedEvent published after every completed aggregate search
type SearchPerformedEvent struct {
	BaseEvent
	Query          AggregatedQuery `json:"query"`
	OffersReceived int             `json:"offers_received"`
	OffersReturned int             `json:"offers_returned"`
	Warnings       []string        `json:"warnings,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
}

// PriceRulesChangedEvent published by the admin tooling when the markup table is edited
type PriceRulesChangedEvent struct {
	BaseEvent
	RuleIDs []int64 `json:"rule_ids,omitempty"`
}

// WarehouseRestockedEvent published when the own-warehouse stock table is reloaded
type WarehouseRestockedEvent struct {
	BaseEvent
	Articles []string `json:"articles,omitempty"`
}
