package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/models"
)

// promptRequest walks the user through a negotiation request.
func promptRequest(agentList []models.AgentSummary) (negotiation.NegotiationRequest, error) {
	var req negotiation.NegotiationRequest

	options := make([]string, len(agentList))
	for i, a := range agentList {
		options[i] = agentOption(a)
	}
	var initiator string
	if err := survey.AskOne(&survey.Select{
		Message: "Which hospital needs resources?",
		Options: options,
	}, &initiator); err != nil {
		return req, err
	}
	req.InitiatorID = strings.Fields(initiator)[0]

	kinds := models.ResourceKinds()
	kindOptions := make([]string, len(kinds))
	for i, k := range kinds {
		kindOptions[i] = string(k)
	}
	var kind string
	if err := survey.AskOne(&survey.Select{
		Message: "Resource type:",
		Options: kindOptions,
		Default: string(models.ResourceVentilators),
	}, &kind); err != nil {
		return req, err
	}
	req.Resource = models.ResourceKind(kind)

	quantity, err := askInt("Quantity needed:", "5")
	if err != nil {
		return req, err
	}
	req.Quantity = quantity

	var urgency string
	if err := survey.AskOne(&survey.Select{
		Message: "Urgency:",
		Options: []string{string(models.UrgencyCritical), string(models.UrgencyHigh), string(models.UrgencyMedium), string(models.UrgencyLow)},
		Default: string(models.UrgencyHigh),
	}, &urgency); err != nil {
		return req, err
	}
	req.Urgency = models.Urgency(urgency)

	days, err := askInt("Duration (days):", "7")
	if err != nil {
		return req, err
	}
	req.DurationDays = days

	var budget string
	if err := survey.AskOne(&survey.Input{
		Message: "Maximum total budget (₹):",
		Default: "500000",
	}, &budget, survey.WithValidator(validateDecimal)); err != nil {
		return req, err
	}
	req.MaxBudget, _ = decimal.NewFromString(strings.TrimSpace(budget))

	confirmed := false
	if err := survey.AskOne(&survey.Confirm{
		Message: fmt.Sprintf("Request %d %s for %s within ₹%s?", req.Quantity, req.Resource, req.InitiatorID, req.MaxBudget.StringFixed(2)),
		Default: true,
	}, &confirmed); err != nil {
		return req, err
	}
	if !confirmed {
		return req, fmt.Errorf("negotiation cancelled")
	}
	return req, nil
}

func agentOption(a models.AgentSummary) string {
	return fmt.Sprintf("%s  %s (%s)", a.ID, a.Name, a.Personality)
}

func askInt(message, def string) (int, error) {
	var raw string
	err := survey.AskOne(&survey.Input{Message: message, Default: def}, &raw, survey.WithValidator(validatePositiveInt))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

func validatePositiveInt(val interface{}) error {
	s, _ := val.(string)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("enter a whole number")
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

func validateDecimal(val interface{}) error {
	s, _ := val.(string)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("enter an amount such as 500000")
	}
	if !d.IsPositive() {
		return fmt.Errorf("budget must be positive")
	}
	return nil
}
