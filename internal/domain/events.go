package domain

import "time"

// EventType classifies domain events on the bus.
type EventType string

const (
	EventOpportunityFound   EventType = "opportunity_found"
	EventOpportunityUpdated EventType = "opportunity_updated"
	EventTradeCompleted     EventType = "trade_completed"
	EventTradePartial       EventType = "trade_partial"
	EventTradeFailed        EventType = "trade_failed"
	EventTradeSettled       EventType = "trade_settled"
	EventTradeClosed        EventType = "trade_closed"
	EventTradeStale         EventType = "trade_stale"
	EventJobCompleted       EventType = "job_completed"
)

// Event is one domain occurrence published to the bus and fanned out to
// websocket clients and notification senders.
type Event struct {
	Type   EventType      `json:"type"`
	At     time.Time      `json:"at"`
	Detail map[string]any `json:"detail,omitempty"`
}
