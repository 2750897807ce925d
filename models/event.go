package models

import "time"

type EventKind string

const (
	EventInitiated      EventKind = "negotiation_initiated"
	EventBroadcasting   EventKind = "broadcasting_request"
	EventAgentAnalyzing EventKind = "agent_analyzing"
	EventOfferReceived  EventKind = "offer_received"
	EventOfferDeclined  EventKind = "offer_declined"
	EventRoundStarted   EventKind = "negotiation_round_started"
	EventOfferAdjusted  EventKind = "offer_adjusted"
	EventMakingDecision EventKind = "making_decision"
	EventCompleted      EventKind = "negotiation_completed"
	EventError          EventKind = "error"
)

func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventError
}

type Event struct {
	Kind      EventKind      `json:"event"`
	SessionID string         `json:"session_id"`
	Seq       int            `json:"seq"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditMessage is a raw exchange recorded in the session trail, such as an
// agent's judgment or the requester's need analysis.
type AuditMessage struct {
	From      string    `json:"from"`
	Type      string    `json:"type"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
