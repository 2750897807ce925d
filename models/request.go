package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ResourceKind string

const (
	ResourceVentilators ResourceKind = "ventilators"
	ResourceICUBeds     ResourceKind = "icu_beds"
	ResourceStaff       ResourceKind = "staff"
	ResourceMedicine    ResourceKind = "medicine"
	ResourceGeneric     ResourceKind = "generic"
)

var resourceKinds = []ResourceKind{
	ResourceVentilators,
	ResourceICUBeds,
	ResourceStaff,
	ResourceMedicine,
	ResourceGeneric,
}

// ResourceKinds lists every supported resource kind in display order.
func ResourceKinds() []ResourceKind {
	out := make([]ResourceKind, len(resourceKinds))
	copy(out, resourceKinds)
	return out
}

func ParseResourceKind(s string) (ResourceKind, error) {
	k := ResourceKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range resourceKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown resource type %q", ErrInvalidRequest, s)
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return u, nil
	}
	return "", fmt.Errorf("%w: unknown urgency %q", ErrInvalidRequest, s)
}

// ResourceRequest is what a requester broadcasts. It is treated as immutable
// once a session has been created from it.
type ResourceRequest struct {
	ID            string          `json:"request_id"`
	RequesterID   string          `json:"requester_id"`
	RequesterName string          `json:"requester_name,omitempty"`
	Resource      ResourceKind    `json:"resource_type"`
	Quantity      int             `json:"quantity"`
	Urgency       Urgency         `json:"urgency"`
	NeededFrom    time.Time       `json:"needed_from"`
	NeededUntil   time.Time       `json:"needed_until"`
	MaxBudget     decimal.Decimal `json:"max_budget"`
	Details       map[string]any  `json:"additional_details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (r ResourceRequest) Validate() error {
	if strings.TrimSpace(r.RequesterID) == "" {
		return fmt.Errorf("%w: requester id is required", ErrInvalidRequest)
	}
	if _, err := ParseResourceKind(string(r.Resource)); err != nil {
		return err
	}
	if _, err := ParseUrgency(string(r.Urgency)); err != nil {
		return err
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidRequest, r.Quantity)
	}
	if !r.NeededFrom.Before(r.NeededUntil) {
		return fmt.Errorf("%w: needed_from must precede needed_until", ErrInvalidRequest)
	}
	if r.MaxBudget.IsNegative() {
		return fmt.Errorf("%w: max budget must not be negative", ErrInvalidRequest)
	}
	return nil
}

// BudgetPerUnit is the highest unit price the budget allows.
func (r ResourceRequest) BudgetPerUnit() decimal.Decimal {
	if r.Quantity <= 0 {
		return decimal.Zero
	}
	return r.MaxBudget.Div(decimal.NewFromInt(int64(r.Quantity))).Round(2)
}

func (r ResourceRequest) Clone() ResourceRequest {
	out := r
	if r.Details != nil {
		out.Details = make(map[string]any, len(r.Details))
		for k, v := range r.Details {
			out.Details[k] = v
		}
	}
	return out
}
