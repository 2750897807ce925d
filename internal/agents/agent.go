package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dyike/CareMesh/consts"
	"github.com/dyike/CareMesh/internal/observability"
	"github.com/dyike/CareMesh/internal/oracle"
	"github.com/dyike/CareMesh/internal/utils"
	"github.com/dyike/CareMesh/models"
)

const dateLayout = "2006-01-02"

// Agent represents one hospital. Its profile is private and only reaches
// the outside world through the judgments it returns.
type Agent struct {
	profile     models.HospitalProfile
	personality string
	oracle      oracle.Oracle
	system      string
}

func New(profile models.HospitalProfile, o oracle.Oracle) (*Agent, error) {
	if strings.TrimSpace(profile.ID) == "" {
		return nil, fmt.Errorf("%w: hospital id is required", models.ErrInvalidRequest)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: agent %s has no oracle", models.ErrInvalidRequest, profile.ID)
	}
	a := &Agent{
		profile:     profile.Clone(),
		personality: Personality(profile.Name, profile.Type),
		oracle:      o,
	}
	hospitalType := profile.Type
	if hospitalType == "" {
		hospitalType = "hospital"
	}
	system, err := utils.LoadPromptWithContext("system/hospital_agent", map[string]string{
		"HospitalName": profile.Name,
		"HospitalType": hospitalType,
		"Personality":  a.personality,
	})
	if err != nil {
		return nil, err
	}
	a.system = system
	return a, nil
}

// Personality classifies a hospital from its name and type.
func Personality(name, hospitalType string) string {
	switch {
	case strings.Contains(strings.ToLower(name), "teaching"):
		return consts.PersonalityAcademic
	case strings.Contains(strings.ToLower(hospitalType), "private"):
		return consts.PersonalityBusiness
	default:
		return consts.PersonalityCommunity
	}
}

func (a *Agent) ID() string          { return a.profile.ID }
func (a *Agent) Name() string        { return a.profile.Name }
func (a *Agent) Personality() string { return a.personality }

func (a *Agent) Summary() models.AgentSummary {
	p := a.profile.Clone()
	return models.AgentSummary{
		ID:              p.ID,
		Name:            p.Name,
		Type:            p.Type,
		Personality:     a.personality,
		Occupancy:       p.Occupancy,
		AvailableStaff:  p.AvailableStaff,
		FinancialHealth: p.FinancialHealth,
		Resources:       p.Resources,
		Location:        p.Location,
	}
}

// Analyze asks the oracle whether this hospital can help with req. It never
// fails: oracle errors and unusable answers come back as Malformed.
func (a *Agent) Analyze(ctx context.Context, req models.ResourceRequest) Judgment {
	ctx = observability.WithPartyID(ctx, a.profile.ID)
	log := observability.LoggerFromContext(ctx)

	available := a.profile.Available(req.Resource)
	block, err := oracle.ContextBlock(consts.AnalyzeRequest, map[string]any{
		"personality":      a.personality,
		"occupancy":        a.profile.Occupancy,
		"available":        available,
		"available_staff":  a.profile.AvailableStaff,
		"financial_health": a.profile.FinancialHealth,
		"inventory":        a.profile.Resources,
		"budget_per_unit":  req.BudgetPerUnit(),
		"request":          req,
	})
	if err != nil {
		return Malformed{Err: err}
	}
	prompt, err := utils.LoadPromptWithContext(consts.AnalyzeRequest, map[string]string{
		"RequesterName":   requesterName(req),
		"Resource":        string(req.Resource),
		"Quantity":        strconv.Itoa(req.Quantity),
		"Urgency":         string(req.Urgency),
		"NeededFrom":      req.NeededFrom.Format(dateLayout),
		"NeededUntil":     req.NeededUntil.Format(dateLayout),
		"MaxBudget":       req.MaxBudget.StringFixed(2),
		"Available":       strconv.Itoa(available),
		"Occupancy":       strconv.Itoa(a.profile.Occupancy),
		"AvailableStaff":  strconv.Itoa(a.profile.AvailableStaff),
		"FinancialHealth": a.profile.FinancialHealth,
		"Context":         block,
	})
	if err != nil {
		return Malformed{Err: err}
	}

	raw, err := a.ask(ctx, prompt)
	if err != nil {
		log.Warn("analyze request failed", "error", err)
		return Malformed{Raw: raw, Err: err}
	}
	j := ParseJudgment(raw, req.Quantity)
	if m, ok := j.(Malformed); ok {
		log.Warn("analyze request returned malformed judgment", "error", m.Err, "raw", truncate(raw, 200))
	}
	return j
}

// Negotiate asks whether own should be adjusted in view of the competing
// offers. Failures mean no adjustment.
func (a *Agent) Negotiate(ctx context.Context, req models.ResourceRequest, own models.ResourceOffer, competing []models.ResourceOffer) Adjustment {
	ctx = observability.WithPartyID(ctx, a.profile.ID)
	log := observability.LoggerFromContext(ctx)

	block, err := oracle.ContextBlock(consts.NegotiateOffer, map[string]any{
		"personality":      a.personality,
		"own_offer":        own,
		"competing_offers": competing,
		"budget_per_unit":  req.BudgetPerUnit(),
	})
	if err != nil {
		return Adjustment{}
	}
	prompt, err := utils.LoadPromptWithContext(consts.NegotiateOffer, map[string]string{
		"Resource":    string(req.Resource),
		"Quantity":    strconv.Itoa(req.Quantity),
		"MaxBudget":   req.MaxBudget.StringFixed(2),
		"OwnQuantity": strconv.Itoa(own.Quantity),
		"OwnPrice":    own.PricePerUnit.StringFixed(2),
		"Context":     block,
	})
	if err != nil {
		return Adjustment{}
	}

	raw, err := a.ask(ctx, prompt)
	if err != nil {
		log.Warn("negotiate offer failed", "error", err)
		return Adjustment{}
	}
	adj, err := ParseAdjustment(raw)
	if err != nil {
		log.Warn("negotiate offer returned malformed adjustment", "error", err, "raw", truncate(raw, 200))
		return Adjustment{}
	}
	return adj
}

// ask invokes the oracle and turns a panic into ErrOracleUnavailable, so a
// misbehaving model only ever costs this agent its answer.
func (a *Agent) ask(ctx context.Context, prompt string) (raw string, err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.LoggerFromContext(ctx).Error("oracle panic", "panic", fmt.Sprint(r))
			raw, err = "", fmt.Errorf("%w: panic: %v", oracle.ErrOracleUnavailable, r)
		}
	}()
	return a.oracle.Invoke(ctx, a.system, prompt)
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
