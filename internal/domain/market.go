package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusSuspended MarketStatus = "suspended"
	MarketStatusSettled   MarketStatus = "settled"
)

// MarketType identifies the question a market asks about its event.
type MarketType string

const (
	MarketTypeWinner     MarketType = "winner"
	MarketTypePodium     MarketType = "podium"
	MarketTypeFastestLap MarketType = "fastest_lap"
	MarketTypeBinary     MarketType = "binary"
)

// ParseMarketType validates a market type string from configuration.
func ParseMarketType(s string) (MarketType, bool) {
	switch MarketType(s) {
	case MarketTypeWinner, MarketTypePodium, MarketTypeFastestLap, MarketTypeBinary:
		return MarketType(s), true
	default:
		return "", false
	}
}

// Labels for the fixed outcome set of binary markets.
const (
	OutcomeLabelYes = "Yes"
	OutcomeLabelNo  = "No"
)

// Market represents one wagerable question tied to exactly one event. A
// market is created open, closes when its close time passes, and is settled
// exactly once after its event finishes. Settled is terminal; markets are
// never deleted.
type Market struct {
	ID            string
	EventID       string
	Type          MarketType
	Title         string
	CloseTime     time.Time
	Status        MarketStatus
	FactKey       string // results fact that resolves binary markets; empty otherwise
	SuspendedFrom *MarketStatus
	Resolution    []byte // JSON audit payload, written at settlement
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// ValidTransition reports whether a market may move from one status to
// another. Suspension is reversible; settled is terminal.
func ValidTransition(from, to MarketStatus) bool {
	switch from {
	case MarketStatusOpen:
		return to == MarketStatusClosed || to == MarketStatusSuspended
	case MarketStatusClosed:
		return to == MarketStatusSettled || to == MarketStatusSuspended
	case MarketStatusSuspended:
		return to == MarketStatusOpen || to == MarketStatusClosed
	default:
		return false
	}
}

// Outcome is one selectable answer within a market. ParticipantID is empty
// for non-participant outcomes such as Yes/No. Odds are an opaque decimal
// multiplier recorded at creation; IsWinner is written once, at settlement.
type Outcome struct {
	ID            string
	MarketID      string
	ParticipantID string
	Label         string
	Odds          float64
	IsWinner      bool
}

// Resolution is the result of resolving a market against event results: the
// set of winning outcome ids (possibly empty) plus a JSON payload recording
// the raw facts the decision was based on.
type Resolution struct {
	WinningOutcomeIDs []string
	Payload           []byte
}

// ResolutionPayload is the audit record persisted on a settled market.
type ResolutionPayload struct {
	MarketType        MarketType        `json:"market_type"`
	FinishingOrder    []ResultEntry     `json:"finishing_order,omitempty"`
	Facts             map[string]string `json:"facts,omitempty"`
	WinningOutcomeIDs []string          `json:"winning_outcome_ids"`
}
