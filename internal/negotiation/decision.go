package negotiation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/models"
)

var remediation = []string{"Try increasing budget", "Reduce quantity", "Extend timeline"}

func noOffersDecision() models.Decision {
	return models.Decision{
		Success:         false,
		Reason:          "No offers received",
		Recommendations: append([]string(nil), remediation...),
		Source:          models.DecisionSourceFallback,
	}
}

// SelectOffers greedily takes units from the ranked offers until the
// requested quantity is covered or the budget runs out.
func SelectOffers(req models.ResourceRequest, ranked []models.ResourceOffer) models.Decision {
	need := req.Quantity
	remaining := req.MaxBudget
	var selected []models.SelectedOffer
	got := 0
	total := decimal.Zero

	for _, o := range ranked {
		if got >= need {
			break
		}
		take := o.Quantity
		if take > need-got {
			take = need - got
		}
		if o.PricePerUnit.IsPositive() {
			affordable := remaining.Div(o.PricePerUnit).Floor()
			if affordable.LessThan(decimal.NewFromInt(int64(take))) {
				take = int(affordable.IntPart())
			}
		}
		if take <= 0 {
			continue
		}
		cost := o.PricePerUnit.Mul(decimal.NewFromInt(int64(take)))
		remaining = remaining.Sub(cost)
		total = total.Add(cost)
		got += take
		selected = append(selected, models.SelectedOffer{
			OfferID:   o.ID,
			PartyID:   o.PartyID,
			PartyName: o.PartyName,
			Quantity:  take,
			UnitPrice: o.PricePerUnit,
			TotalCost: cost,
			Reason:    "lowest remaining total price",
		})
	}

	if len(selected) == 0 {
		return models.Decision{
			Success:         false,
			Reason:          "No offer fits within the budget",
			Recommendations: append([]string(nil), remediation...),
			Source:          models.DecisionSourceFallback,
		}
	}
	return models.Decision{
		Success:       true,
		Selected:      selected,
		TotalCost:     total,
		TotalQuantity: got,
		Reasoning:     selectionReasoning(len(selected), got, need),
		Source:        models.DecisionSourceFallback,
	}
}

type pick struct {
	OfferID  string `json:"offer_id"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

// resolvePicks checks an oracle selection against the offers on the table
// and recomputes its cost. Any pick that does not hold up rejects the whole
// selection.
func resolvePicks(req models.ResourceRequest, offers []models.ResourceOffer, picks []pick, reasoning string) (models.Decision, error) {
	if len(picks) == 0 {
		return models.Decision{}, fmt.Errorf("empty selection")
	}
	byID := make(map[string]models.ResourceOffer, len(offers))
	for _, o := range offers {
		byID[o.ID] = o
	}
	used := make(map[string]bool, len(picks))
	var selected []models.SelectedOffer
	got := 0
	total := decimal.Zero
	for _, p := range picks {
		o, ok := byID[p.OfferID]
		if !ok {
			return models.Decision{}, fmt.Errorf("unknown offer %q", p.OfferID)
		}
		if used[p.OfferID] {
			return models.Decision{}, fmt.Errorf("offer %q selected twice", p.OfferID)
		}
		used[p.OfferID] = true
		qty := p.Quantity
		if qty <= 0 || qty > o.Quantity {
			return models.Decision{}, fmt.Errorf("offer %q: quantity %d outside 1..%d", p.OfferID, qty, o.Quantity)
		}
		cost := o.PricePerUnit.Mul(decimal.NewFromInt(int64(qty)))
		got += qty
		total = total.Add(cost)
		selected = append(selected, models.SelectedOffer{
			OfferID:   o.ID,
			PartyID:   o.PartyID,
			PartyName: o.PartyName,
			Quantity:  qty,
			UnitPrice: o.PricePerUnit,
			TotalCost: cost,
			Reason:    p.Reason,
		})
	}
	if got > req.Quantity {
		return models.Decision{}, fmt.Errorf("selection of %d exceeds requested %d", got, req.Quantity)
	}
	if total.GreaterThan(req.MaxBudget) {
		return models.Decision{}, fmt.Errorf("selection costs %s over budget %s", total, req.MaxBudget)
	}
	if reasoning == "" {
		reasoning = selectionReasoning(len(selected), got, req.Quantity)
	}
	return models.Decision{
		Success:       true,
		Selected:      selected,
		TotalCost:     total,
		TotalQuantity: got,
		Reasoning:     reasoning,
		Source:        models.DecisionSourceOracle,
	}, nil
}

func selectionReasoning(n, got, need int) string {
	if got < need {
		return fmt.Sprintf("Partial fulfilment: %d of %d units from %d offer(s)", got, need, n)
	}
	if n > 1 {
		return fmt.Sprintf("Multi-sourced %d units from %d offers", got, n)
	}
	return fmt.Sprintf("Single supplier covers all %d units", got)
}

// BuildContract turns a successful decision into a contract. originals maps
// offer ids to their unit price at collection, before any negotiation.
func BuildContract(id string, sessionID string, req models.ResourceRequest, d models.Decision, originals map[string]decimal.Decimal, rounds int, terms string, now time.Time) models.Contract {
	lines := make([]models.ContractLine, 0, len(d.Selected))
	qty := 0
	total := decimal.Zero
	original := decimal.Zero
	for _, sel := range d.Selected {
		lines = append(lines, models.ContractLine{
			OfferID:      sel.OfferID,
			SupplierID:   sel.PartyID,
			SupplierName: sel.PartyName,
			Quantity:     sel.Quantity,
			UnitPrice:    sel.UnitPrice,
			TotalPrice:   sel.TotalCost,
		})
		qty += sel.Quantity
		total = total.Add(sel.TotalCost)
		unit, ok := originals[sel.OfferID]
		if !ok {
			unit = sel.UnitPrice
		}
		original = original.Add(unit.Mul(decimal.NewFromInt(int64(sel.Quantity))))
	}
	unitPrice := decimal.Zero
	if qty > 0 {
		unitPrice = total.Div(decimal.NewFromInt(int64(qty))).Round(2)
	}
	c := models.Contract{
		ID:               id,
		SessionID:        sessionID,
		RequesterID:      req.RequesterID,
		Resource:         req.Resource,
		Quantity:         qty,
		UnitPrice:        unitPrice,
		TotalPrice:       total,
		DeliveryDeadline: req.NeededFrom,
		PaymentTerms:     terms,
		Lines:            lines,
		Summary: models.NegotiationSummary{
			OriginalPrice: original,
			FinalPrice:    total,
			Savings:       original.Sub(total),
			Rounds:        rounds,
		},
		Status:    models.ContractPendingSignature,
		CreatedAt: now,
	}
	if len(lines) > 0 {
		c.SupplierID = lines[0].SupplierID
		c.SupplierName = lines[0].SupplierName
	}
	return c
}
