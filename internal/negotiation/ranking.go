package negotiation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/models"
)

// RankOffers orders offers by total price ascending. Ties go to the offer
// that arrived first.
func RankOffers(offers []models.ResourceOffer) []models.ResourceOffer {
	out := make([]models.ResourceOffer, len(offers))
	for i := range offers {
		out[i] = offers[i].Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].TotalPrice(), out[j].TotalPrice()
		if !ti.Equal(tj) {
			return ti.LessThan(tj)
		}
		return out[i].ResponseOrder < out[j].ResponseOrder
	})
	return out
}

// applyRanking reorders offers by ids. It reports false unless ids is a
// permutation of the offer ids.
func applyRanking(offers []models.ResourceOffer, ids []string) ([]models.ResourceOffer, bool) {
	if len(ids) != len(offers) {
		return nil, false
	}
	byID := make(map[string]models.ResourceOffer, len(offers))
	for _, o := range offers {
		byID[o.ID] = o
	}
	out := make([]models.ResourceOffer, 0, len(ids))
	for _, id := range ids {
		o, ok := byID[id]
		if !ok {
			return nil, false
		}
		delete(byID, id)
		out = append(out, o.Clone())
	}
	return out, true
}

func offerIDs(offers []models.ResourceOffer) []string {
	ids := make([]string, len(offers))
	for i, o := range offers {
		ids[i] = o.ID
	}
	return ids
}

func sumTotals(offers []models.ResourceOffer) decimal.Decimal {
	total := decimal.Zero
	for _, o := range offers {
		total = total.Add(o.TotalPrice())
	}
	return total
}
