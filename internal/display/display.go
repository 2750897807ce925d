package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	offerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	declineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	roundStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))

	contractStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#10B981")).
			Padding(1, 2).
			Width(72)

	failureStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#EF4444")).
			Padding(1, 2).
			Width(72)
)

// Printer writes styled negotiation output.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Banner() {
	fmt.Fprintln(p.w, titleStyle.Render("CareMesh · inter-hospital resource negotiation"))
}

func (p *Printer) Event(ev models.Event) {
	fmt.Fprintln(p.w, FormatEvent(ev))
}

func (p *Printer) Outcome(snap models.SessionSnapshot) {
	fmt.Fprintln(p.w, FormatOutcome(snap))
}

func (p *Printer) Agents(list []models.AgentSummary) {
	fmt.Fprintln(p.w, FormatAgents(list))
}

func (p *Printer) Sessions(list []models.SessionSummary) {
	fmt.Fprintln(p.w, FormatSessions(list))
}

func (p *Printer) Contracts(list []models.Contract) {
	if len(list) == 0 {
		fmt.Fprintln(p.w, mutedStyle.Render("no contracts"))
		return
	}
	for _, c := range list {
		fmt.Fprintln(p.w, FormatContract(c))
	}
}

// FormatEvent renders one progress line.
func FormatEvent(ev models.Event) string {
	ts := mutedStyle.Render(ev.Timestamp.Format("15:04:05"))
	party := str(ev.Payload, "hospital_name")
	switch ev.Kind {
	case models.EventInitiated, models.EventBroadcasting, models.EventMakingDecision:
		return fmt.Sprintf("%s %s", ts, phaseStyle.Render(str(ev.Payload, "message")))
	case models.EventAgentAnalyzing:
		return fmt.Sprintf("%s   %s is analyzing the request", ts, party)
	case models.EventOfferReceived:
		if o, ok := ev.Payload["offer"].(models.ResourceOffer); ok {
			return fmt.Sprintf("%s   %s", ts, offerStyle.Render(fmt.Sprintf("%s offers %d @ %s/unit (total %s)",
				party, o.Quantity, money(o.PricePerUnit), money(o.TotalPrice()))))
		}
		return fmt.Sprintf("%s   %s", ts, offerStyle.Render(party+" sent an offer"))
	case models.EventOfferDeclined:
		return fmt.Sprintf("%s   %s", ts, declineStyle.Render(fmt.Sprintf("%s declined: %s", party, str(ev.Payload, "reasoning"))))
	case models.EventRoundStarted:
		return fmt.Sprintf("%s %s", ts, phaseStyle.Render(str(ev.Payload, "message")))
	case models.EventOfferAdjusted:
		if round, ok := ev.Payload["round"].(int); ok {
			verdict := "countered"
			if accepted, _ := ev.Payload["accepted"].(bool); accepted {
				verdict = "accepted"
			}
			return fmt.Sprintf("%s   %s", ts, roundStyle.Render(fmt.Sprintf("round %d with %s: we offered %s, %s at %s",
				round, party, moneyOf(ev.Payload["our_offer"]), verdict, moneyOf(ev.Payload["their_response"]))))
		}
		return fmt.Sprintf("%s   %s", ts, roundStyle.Render(fmt.Sprintf("%s adjusted %s -> %s/unit",
			party, moneyOf(ev.Payload["old_price"]), moneyOf(ev.Payload["new_price"]))))
	case models.EventCompleted:
		return fmt.Sprintf("%s %s", ts, phaseStyle.Render("negotiation completed"))
	case models.EventError:
		return fmt.Sprintf("%s %s", ts, errorStyle.Render("error: "+str(ev.Payload, "message")))
	}
	return fmt.Sprintf("%s %s", ts, ev.Kind)
}

// FormatOutcome renders the contract of a completed session, or why there
// is none.
func FormatOutcome(snap models.SessionSnapshot) string {
	if snap.Contract != nil {
		return FormatContract(*snap.Contract)
	}
	var b strings.Builder
	switch {
	case snap.Status == models.StatusFailed:
		fmt.Fprintf(&b, "Negotiation failed: %s\n", snap.Error)
	case snap.Decision != nil:
		fmt.Fprintf(&b, "No agreement: %s\n", snap.Decision.Reason)
		for _, r := range snap.Decision.Recommendations {
			fmt.Fprintf(&b, "  • %s\n", r)
		}
	default:
		fmt.Fprintf(&b, "Session %s is %s\n", snap.ID, snap.Status)
	}
	return failureStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func FormatContract(c models.Contract) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contract %s  [%s]\n\n", c.ID, c.Status)
	fmt.Fprintf(&b, "Requester:   %s\n", c.RequesterID)
	fmt.Fprintf(&b, "Resource:    %d %s\n", c.Quantity, c.Resource)
	for _, l := range c.Lines {
		fmt.Fprintf(&b, "  %-28s %3d × %s = %s\n", l.SupplierName, l.Quantity, money(l.UnitPrice), money(l.TotalPrice))
	}
	fmt.Fprintf(&b, "Total:       %s (%s/unit)\n", money(c.TotalPrice), money(c.UnitPrice))
	fmt.Fprintf(&b, "Savings:     %s over %d round(s)\n", money(c.Summary.Savings), c.Summary.Rounds)
	fmt.Fprintf(&b, "Delivery by: %s\n", c.DeliveryDeadline.Format("2006-01-02"))
	fmt.Fprintf(&b, "Terms:       %s", c.PaymentTerms)
	return contractStyle.Render(b.String())
}

func FormatAgents(list []models.AgentSummary) string {
	var b strings.Builder
	fmt.Fprintln(&b, phaseStyle.Render(fmt.Sprintf("%-8s %-32s %-24s %5s", "ID", "NAME", "PERSONALITY", "OCC%")))
	for _, a := range list {
		fmt.Fprintf(&b, "%-8s %-32s %-24s %5d\n", a.ID, a.Name, a.Personality, a.Occupancy)
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatSessions(list []models.SessionSummary) string {
	if len(list) == 0 {
		return mutedStyle.Render("no sessions")
	}
	var b strings.Builder
	fmt.Fprintln(&b, phaseStyle.Render(fmt.Sprintf("%-36s %-8s %-12s %4s %-21s %s", "SESSION", "FROM", "RESOURCE", "QTY", "STATUS", "CONTRACT")))
	for _, s := range list {
		contract := "-"
		if s.HasContract {
			contract = "yes"
		}
		fmt.Fprintf(&b, "%-36s %-8s %-12s %4d %-21s %s\n", s.ID, s.InitiatorID, s.Resource, s.Quantity, s.Status, contract)
	}
	return strings.TrimRight(b.String(), "\n")
}

func money(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

func moneyOf(v any) string {
	if d, ok := v.(decimal.Decimal); ok {
		return money(d)
	}
	return fmt.Sprint(v)
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
