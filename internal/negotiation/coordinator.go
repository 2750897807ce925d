package negotiation

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/consts"
	"github.com/dyike/CareMesh/internal/observability"
	"github.com/dyike/CareMesh/internal/oracle"
	"github.com/dyike/CareMesh/internal/utils"
	"github.com/dyike/CareMesh/models"
)

const sourceFallback = "fallback"

// coordinator runs the requester's own oracle steps. Every step has a
// deterministic fallback used when the oracle is missing or misbehaves.
type coordinator struct {
	oracle oracle.Oracle
}

func (c *coordinator) ask(ctx context.Context, step string, req models.ResourceRequest, vars map[string]string, fields map[string]any) (string, bool) {
	if c.oracle == nil {
		return "", false
	}
	log := observability.LoggerFromContext(ctx)
	block, err := oracle.ContextBlock(step, fields)
	if err != nil {
		log.Warn("build oracle context", "step", step, "error", err)
		return "", false
	}
	vars["Context"] = block
	prompt, err := utils.LoadPromptWithContext(step, vars)
	if err != nil {
		log.Warn("load prompt", "step", step, "error", err)
		return "", false
	}
	system, err := utils.LoadPromptWithContext("system/coordinator", map[string]string{
		"HospitalName": requesterName(req),
	})
	if err != nil {
		log.Warn("load prompt", "step", "system/coordinator", "error", err)
		return "", false
	}
	raw, err := c.oracle.Invoke(ctx, system, prompt)
	if err != nil {
		log.Warn("oracle step failed", "step", step, "error", err)
		return "", false
	}
	return raw, true
}

func fallbackNeed(req models.ResourceRequest) models.NeedAnalysis {
	return models.NeedAnalysis{
		Priority:    "high",
		Strategy:    "competitive",
		TargetPrice: req.BudgetPerUnit(),
		Source:      sourceFallback,
	}
}

type rawNeed struct {
	Priority        string       `json:"priority"`
	Strategy        string       `json:"strategy"`
	MaxPrice        *json.Number `json:"max_acceptable_price_per_unit"`
	Approach        string       `json:"negotiation_approach"`
	KeyRequirements []string     `json:"key_requirements"`
	FallbackOptions []string     `json:"fallback_options"`
}

// analyzeNeed derives the requester's strategy and target unit price. The
// target never exceeds the budget per unit.
func (c *coordinator) analyzeNeed(ctx context.Context, req models.ResourceRequest) models.NeedAnalysis {
	raw, ok := c.ask(ctx, consts.AnalyzeNeed, req, map[string]string{
		"Quantity":    strconv.Itoa(req.Quantity),
		"Resource":    string(req.Resource),
		"Urgency":     string(req.Urgency),
		"NeededFrom":  req.NeededFrom.Format(dateLayout),
		"NeededUntil": req.NeededUntil.Format(dateLayout),
		"MaxBudget":   req.MaxBudget.StringFixed(2),
	}, map[string]any{
		"urgency":         req.Urgency,
		"budget_per_unit": req.BudgetPerUnit(),
		"request":         req,
	})
	if !ok {
		return fallbackNeed(req)
	}
	var r rawNeed
	if err := oracle.Decode(raw, &r); err != nil || r.MaxPrice == nil {
		observability.LoggerFromContext(ctx).Warn("malformed need analysis", "raw", truncate(raw, 200))
		return fallbackNeed(req)
	}
	target, err := decimal.NewFromString(r.MaxPrice.String())
	if err != nil || target.IsNegative() {
		return fallbackNeed(req)
	}
	if budget := req.BudgetPerUnit(); target.GreaterThan(budget) {
		target = budget
	}
	a := models.NeedAnalysis{
		Priority:        r.Priority,
		Strategy:        r.Strategy,
		TargetPrice:     target,
		Approach:        r.Approach,
		KeyRequirements: r.KeyRequirements,
		Fallbacks:       r.FallbackOptions,
		Source:          models.DecisionSourceOracle,
	}
	if a.Priority == "" {
		a.Priority = "high"
	}
	if a.Strategy == "" {
		a.Strategy = "competitive"
	}
	return a
}

type rawEvaluation struct {
	RankedOfferIDs []string `json:"ranked_offer_ids"`
	Reasoning      string   `json:"reasoning"`
}

// evaluate ranks offers best first. The oracle's order is used only when
// it names every offer exactly once.
func (c *coordinator) evaluate(ctx context.Context, req models.ResourceRequest, need models.NeedAnalysis, offers []models.ResourceOffer) ([]models.ResourceOffer, string) {
	fallback := RankOffers(offers)
	if len(offers) < 2 {
		return fallback, sourceFallback
	}
	raw, ok := c.ask(ctx, consts.EvaluateOffers, req, map[string]string{
		"Quantity":    strconv.Itoa(req.Quantity),
		"Resource":    string(req.Resource),
		"TargetPrice": need.TargetPrice.StringFixed(2),
		"Strategy":    need.Strategy,
	}, map[string]any{
		"offers":       offers,
		"target_price": need.TargetPrice,
	})
	if !ok {
		return fallback, sourceFallback
	}
	var r rawEvaluation
	if err := oracle.Decode(raw, &r); err != nil {
		observability.LoggerFromContext(ctx).Warn("malformed offer evaluation", "raw", truncate(raw, 200))
		return fallback, sourceFallback
	}
	ranked, ok := applyRanking(offers, r.RankedOfferIDs)
	if !ok {
		observability.LoggerFromContext(ctx).Warn("offer evaluation is not a permutation", "ids", r.RankedOfferIDs)
		return fallback, sourceFallback
	}
	return ranked, models.DecisionSourceOracle
}

type rawCounter struct {
	CounterOffer *json.Number `json:"counter_offer"`
	Reasoning    string       `json:"reasoning"`
}

// counter asks for the requester's counter offer on a total price. ok is
// false when the fallback reduction should be used instead.
func (c *coordinator) counter(ctx context.Context, req models.ResourceRequest, need models.NeedAnalysis, supplier string, round, maxRounds int, current, target decimal.Decimal) (decimal.Decimal, string, bool) {
	raw, ok := c.ask(ctx, consts.CounterOffer, req, map[string]string{
		"Quantity":     strconv.Itoa(req.Quantity),
		"Resource":     string(req.Resource),
		"Supplier":     supplier,
		"CurrentPrice": current.StringFixed(2),
		"TargetPrice":  target.StringFixed(2),
		"Strategy":     need.Strategy,
		"Round":        strconv.Itoa(round),
		"MaxRounds":    strconv.Itoa(maxRounds),
	}, map[string]any{
		"current_price": current,
		"target_price":  target,
		"round":         round,
		"max_rounds":    maxRounds,
	})
	if !ok {
		return decimal.Zero, "", false
	}
	var r rawCounter
	if err := oracle.Decode(raw, &r); err != nil || r.CounterOffer == nil {
		observability.LoggerFromContext(ctx).Warn("malformed counter offer", "raw", truncate(raw, 200))
		return decimal.Zero, "", false
	}
	v, err := decimal.NewFromString(r.CounterOffer.String())
	if err != nil || v.IsNegative() {
		return decimal.Zero, "", false
	}
	return v, r.Reasoning, true
}

type rawDecision struct {
	Success   *bool  `json:"success"`
	Selected  []pick `json:"selected_offers"`
	Reasoning string `json:"reasoning"`
}

// decide picks the offers to contract. Oracle selections are validated
// against the ranked offers; anything invalid falls back to SelectOffers.
func (c *coordinator) decide(ctx context.Context, req models.ResourceRequest, ranked []models.ResourceOffer) models.Decision {
	fallback := SelectOffers(req, ranked)
	raw, ok := c.ask(ctx, consts.MakeDecision, req, map[string]string{
		"Resource":  string(req.Resource),
		"Quantity":  strconv.Itoa(req.Quantity),
		"MaxBudget": req.MaxBudget.StringFixed(2),
		"Urgency":   string(req.Urgency),
	}, map[string]any{
		"requested_quantity": req.Quantity,
		"max_budget":         req.MaxBudget,
		"offers":             ranked,
	})
	if !ok {
		return fallback
	}
	log := observability.LoggerFromContext(ctx)
	var r rawDecision
	if err := oracle.Decode(raw, &r); err != nil || r.Success == nil {
		log.Warn("malformed decision", "raw", truncate(raw, 200))
		return fallback
	}
	if !*r.Success {
		if fallback.Success {
			log.Info("oracle declined every offer, using fallback selection", "reasoning", r.Reasoning)
		}
		return fallback
	}
	d, err := resolvePicks(req, ranked, r.Selected, r.Reasoning)
	if err != nil {
		log.Warn("oracle decision rejected", "error", err)
		return fallback
	}
	return d
}

func requesterName(req models.ResourceRequest) string {
	if req.RequesterName != "" {
		return req.RequesterName
	}
	return req.RequesterID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
