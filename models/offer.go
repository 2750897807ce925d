package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OfferSourceAgent = "agent"
	OfferSourceStore = "store"
)

type ResourceOffer struct {
	ID             string          `json:"offer_id"`
	PartyID        string          `json:"hospital_id"`
	PartyName      string          `json:"hospital_name"`
	Resource       ResourceKind    `json:"resource_type"`
	Quantity       int             `json:"quantity"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit"`
	AvailableFrom  time.Time       `json:"available_from"`
	AvailableUntil time.Time       `json:"available_until"`
	Conditions     []string        `json:"conditions"`
	Confidence     int             `json:"confidence"`
	Reasoning      string          `json:"reasoning,omitempty"`
	Source         string          `json:"source"`
	ResponseOrder  int             `json:"response_order"`
	ReceivedAt     time.Time       `json:"received_at"`
}

func (o ResourceOffer) TotalPrice() decimal.Decimal {
	return o.PricePerUnit.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

func (o ResourceOffer) Clone() ResourceOffer {
	out := o
	out.Conditions = append([]string(nil), o.Conditions...)
	return out
}

// NegotiationRound is one counter/response exchange on a single offer.
type NegotiationRound struct {
	Number        int             `json:"round"`
	CounterPrice  decimal.Decimal `json:"our_offer"`
	ResponsePrice decimal.Decimal `json:"their_response"`
	Accepted      bool            `json:"accepted"`
	Reasoning     string          `json:"reasoning,omitempty"`
}

// NeedAnalysis is the requester's strategy derived before broadcasting.
type NeedAnalysis struct {
	Priority        string          `json:"priority"`
	Strategy        string          `json:"strategy"`
	TargetPrice     decimal.Decimal `json:"max_acceptable_price_per_unit"`
	Approach        string          `json:"negotiation_approach,omitempty"`
	KeyRequirements []string        `json:"key_requirements,omitempty"`
	Fallbacks       []string        `json:"fallback_options,omitempty"`
	Source          string          `json:"source"`
}
