package negotiation

import (
	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/consts"
	"github.com/dyike/CareMesh/models"
)

var (
	fallbackStep   = decimal.NewFromInt(1).Sub(decimal.RequireFromString(consts.FallbackReduction))
	responseFactor = decimal.RequireFromString(consts.OracleResponseStep)
)

// FallbackRound computes one round without the oracle: the asking price
// drops 5% but never below target, and the final round is always accepted.
func FallbackRound(round, maxRounds int, current, target decimal.Decimal) models.NegotiationRound {
	next := decimal.Max(current.Mul(fallbackStep), target)
	if next.GreaterThan(current) {
		next = current
	}
	return models.NegotiationRound{
		Number:        round,
		CounterPrice:  next,
		ResponsePrice: next,
		Accepted:      round >= maxRounds || next.LessThanOrEqual(target),
		Reasoning:     "fallback reduction",
	}
}

// CounterRound resolves an oracle counter offer. The counter party accepts
// when the counter is within tolerance of target or on the final round;
// otherwise it answers with a 2% concession.
func CounterRound(round, maxRounds int, current, target, counter, tolerance decimal.Decimal, reasoning string) models.NegotiationRound {
	if counter.GreaterThan(current) {
		counter = current
	}
	if counter.IsNegative() {
		counter = decimal.Zero
	}
	floor := target.Mul(decimal.NewFromInt(1).Sub(tolerance))
	accepted := counter.GreaterThanOrEqual(floor) || round >= maxRounds
	response := counter
	if !accepted {
		response = current.Mul(responseFactor)
	}
	return models.NegotiationRound{
		Number:        round,
		CounterPrice:  counter,
		ResponsePrice: response,
		Accepted:      accepted,
		Reasoning:     reasoning,
	}
}

// NarrowPrice plays fallback rounds from start until one is accepted.
func NarrowPrice(start, target decimal.Decimal, maxRounds int) []models.NegotiationRound {
	if maxRounds <= 0 {
		maxRounds = models.MaxNegotiationRounds
	}
	var rounds []models.NegotiationRound
	current := start
	for i := 1; i <= maxRounds; i++ {
		r := FallbackRound(i, maxRounds, current, target)
		rounds = append(rounds, r)
		current = r.ResponsePrice
		if r.Accepted {
			break
		}
	}
	return rounds
}
