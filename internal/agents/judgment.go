package agents

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/internal/oracle"
)

// Judgment is an agent's answer to a resource request. It is one of
// Helpful, Declined or Malformed.
type Judgment interface {
	isJudgment()
}

type Helpful struct {
	Quantity     int
	PricePerUnit decimal.Decimal
	Conditions   []string
	Confidence   int
	Reasoning    string
}

type Declined struct {
	Reason     string
	Confidence int
}

// Malformed is an oracle answer that could not be used. It is treated as a
// denial with zero confidence.
type Malformed struct {
	Raw string
	Err error
}

func (Helpful) isJudgment()   {}
func (Declined) isJudgment()  {}
func (Malformed) isJudgment() {}

// Reasoning returns the human readable explanation carried by j.
func Reasoning(j Judgment) string {
	switch v := j.(type) {
	case Helpful:
		return v.Reasoning
	case Declined:
		return v.Reason
	case Malformed:
		return "Invalid response format"
	}
	return ""
}

// Confidence returns 0 for malformed judgments.
func Confidence(j Judgment) int {
	switch v := j.(type) {
	case Helpful:
		return v.Confidence
	case Declined:
		return v.Confidence
	}
	return 0
}

type rawJudgment struct {
	CanHelp       *bool        `json:"can_help"`
	Quantity      *json.Number `json:"quantity_available"`
	Price         *json.Number `json:"price_per_unit"`
	ProposedPrice *json.Number `json:"proposed_price_per_unit"`
	Conditions    *[]string    `json:"conditions"`
	Reasoning     string       `json:"reasoning"`
	Confidence    *json.Number `json:"confidence"`
}

// ParseJudgment validates an analyze response. Quantities above requested
// are capped; a helpful answer offering nothing becomes a decline.
func ParseJudgment(raw string, requested int) Judgment {
	var r rawJudgment
	if err := oracle.Decode(raw, &r); err != nil {
		return Malformed{Raw: raw, Err: err}
	}
	if r.CanHelp == nil {
		return malformed(raw, "missing can_help")
	}
	if r.Confidence == nil {
		return malformed(raw, "missing confidence")
	}
	confidence, err := decimal.NewFromString(r.Confidence.String())
	if err != nil || confidence.IsNegative() || confidence.GreaterThan(decimal.NewFromInt(100)) {
		return malformed(raw, "confidence must be between 0 and 100")
	}
	conf := int(confidence.Round(0).IntPart())

	if !*r.CanHelp {
		return Declined{Reason: r.Reasoning, Confidence: conf}
	}

	if r.Quantity == nil {
		return malformed(raw, "missing quantity_available")
	}
	qty, err := decimal.NewFromString(r.Quantity.String())
	if err != nil || qty.IsNegative() || !qty.Equal(qty.Truncate(0)) {
		return malformed(raw, "quantity_available must be a non-negative integer")
	}
	if qty.GreaterThan(maxQuantity) {
		return malformed(raw, "quantity_available is out of range")
	}

	priceField := r.Price
	if priceField == nil {
		priceField = r.ProposedPrice
	}
	if priceField == nil {
		return malformed(raw, "missing price_per_unit")
	}
	price, err := decimal.NewFromString(priceField.String())
	if err != nil || price.IsNegative() {
		return malformed(raw, "price_per_unit must be a non-negative number")
	}
	if r.Conditions == nil {
		return malformed(raw, "missing conditions")
	}

	quantity := int(qty.IntPart())
	if quantity == 0 {
		reason := r.Reasoning
		if reason == "" {
			reason = "No units available"
		}
		return Declined{Reason: reason, Confidence: conf}
	}
	if requested > 0 && quantity > requested {
		quantity = requested
	}
	return Helpful{
		Quantity:     quantity,
		PricePerUnit: price,
		Conditions:   append([]string{}, (*r.Conditions)...),
		Confidence:   conf,
		Reasoning:    r.Reasoning,
	}
}

var maxQuantity = decimal.NewFromInt(math.MaxInt32)

func malformed(raw, reason string) Malformed {
	return Malformed{Raw: raw, Err: fmt.Errorf("%w: %s", oracle.ErrMalformed, reason)}
}

// Adjustment is an agent's answer to competing offers. The zero value means
// the offer stays as it is.
type Adjustment struct {
	Adjust        bool
	NewPrice      decimal.Decimal
	NewConditions []string
	Strategy      string
}

type rawAdjustment struct {
	Adjust        *bool        `json:"adjust_offer"`
	NewPrice      *json.Number `json:"new_price_per_unit"`
	NewPriceAlias *json.Number `json:"new_price"`
	NewConditions []string     `json:"new_conditions"`
	Strategy      string       `json:"strategy"`
}

// ParseAdjustment validates a negotiate response. Anything unusable yields
// no adjustment.
func ParseAdjustment(raw string) (Adjustment, error) {
	var r rawAdjustment
	if err := oracle.Decode(raw, &r); err != nil {
		return Adjustment{}, err
	}
	if r.Adjust == nil {
		return Adjustment{}, fmt.Errorf("%w: missing adjust_offer", oracle.ErrMalformed)
	}
	if !*r.Adjust {
		return Adjustment{Strategy: r.Strategy}, nil
	}
	priceField := r.NewPrice
	if priceField == nil {
		priceField = r.NewPriceAlias
	}
	if priceField == nil {
		return Adjustment{}, fmt.Errorf("%w: adjust_offer without new_price_per_unit", oracle.ErrMalformed)
	}
	price, err := decimal.NewFromString(priceField.String())
	if err != nil || price.IsNegative() {
		return Adjustment{}, fmt.Errorf("%w: invalid new_price_per_unit %q", oracle.ErrMalformed, priceField.String())
	}
	return Adjustment{
		Adjust:        true,
		NewPrice:      price,
		NewConditions: r.NewConditions,
		Strategy:      r.Strategy,
	}, nil
}
