package domain

import (
	"context"
	"encoding/json"
	"time"
)

// LifecycleEventType tags a lifecycle notification.
type LifecycleEventType string

const (
	LifecycleMarketClosed   LifecycleEventType = "market_closed"
	LifecycleMarketResolved LifecycleEventType = "market_resolved"
)

// LifecycleEvent is what the engine emits to the notifier when a market
// closes or settles. Delivery is at-least-once; consumers must be
// idempotent.
type LifecycleEvent struct {
	Type              LifecycleEventType `json:"type"`
	MarketID          string             `json:"market_id"`
	EventID           string             `json:"event_id"`
	MarketTitle       string             `json:"market_title,omitempty"`
	WinningOutcomeIDs []string           `json:"winning_outcome_ids,omitempty"`
	Payload           json.RawMessage    `json:"payload,omitempty"`
	At                time.Time          `json:"at"`
}

// Publisher delivers lifecycle events downstream. Emission is
// fire-and-forget: a publish failure never rolls back the transition that
// produced it.
type Publisher interface {
	Publish(ctx context.Context, ev LifecycleEvent) error
}
