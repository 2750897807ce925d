package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ContractStatus string

const (
	ContractPendingSignature ContractStatus = "pending_signature"
	ContractActive           ContractStatus = "active"
	ContractExpired          ContractStatus = "expired"
)

// CanTransition reports whether a contract may move from s to next.
// Transitions only go forward.
func (s ContractStatus) CanTransition(next ContractStatus) bool {
	switch s {
	case ContractPendingSignature:
		return next == ContractActive || next == ContractExpired
	case ContractActive:
		return next == ContractExpired
	}
	return false
}

type ContractLine struct {
	OfferID      string          `json:"offer_id"`
	SupplierID   string          `json:"supplier_id"`
	SupplierName string          `json:"supplier_name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

type NegotiationSummary struct {
	OriginalPrice decimal.Decimal `json:"original_price"`
	FinalPrice    decimal.Decimal `json:"final_price"`
	Savings       decimal.Decimal `json:"savings"`
	Rounds        int             `json:"rounds"`
}

// Contract is the finalized agreement of a completed session. Multi-sourced
// agreements carry one line per supplier; SupplierID names the first line.
type Contract struct {
	ID               string             `json:"contract_id"`
	SessionID        string             `json:"session_id"`
	RequesterID      string             `json:"requesting_hospital"`
	SupplierID       string             `json:"supplying_hospital"`
	SupplierName     string             `json:"supplier_name"`
	Resource         ResourceKind       `json:"resource_type"`
	Quantity         int                `json:"quantity"`
	UnitPrice        decimal.Decimal    `json:"unit_price"`
	TotalPrice       decimal.Decimal    `json:"total_price"`
	DeliveryDeadline time.Time          `json:"delivery_deadline"`
	PaymentTerms     string             `json:"payment_terms"`
	Lines            []ContractLine     `json:"lines"`
	Summary          NegotiationSummary `json:"negotiation_summary"`
	Status           ContractStatus     `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
}

// NewContractID formats ids as contract-YYYYMMDD-<suffix>.
func NewContractID(now time.Time, suffix string) string {
	return fmt.Sprintf("contract-%s-%s", now.Format("20060102"), suffix)
}

func (c Contract) Clone() Contract {
	out := c
	out.Lines = append([]ContractLine(nil), c.Lines...)
	return out
}

// WithStatus returns a copy of the contract moved to next.
func (c Contract) WithStatus(next ContractStatus) (Contract, error) {
	if !c.Status.CanTransition(next) {
		return c, fmt.Errorf("%w: contract %s %s -> %s", ErrInvalidTransition, c.ID, c.Status, next)
	}
	out := c.Clone()
	out.Status = next
	return out, nil
}

type SelectedOffer struct {
	OfferID   string          `json:"offer_id"`
	PartyID   string          `json:"hospital_id"`
	PartyName string          `json:"hospital_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price_per_unit"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Reason    string          `json:"reason,omitempty"`
}

const (
	DecisionSourceOracle   = "oracle"
	DecisionSourceFallback = "fallback"
)

// Decision is the outcome of the deciding phase. A failed decision carries a
// reason and remediation recommendations instead of selections.
type Decision struct {
	Success         bool            `json:"success"`
	Selected        []SelectedOffer `json:"selected_offers,omitempty"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	TotalQuantity   int             `json:"total_quantity"`
	Reasoning       string          `json:"reasoning,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	Source          string          `json:"source"`
}

func (d Decision) Clone() Decision {
	out := d
	out.Selected = append([]SelectedOffer(nil), d.Selected...)
	out.Recommendations = append([]string(nil), d.Recommendations...)
	return out
}
