package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
)

// MockChatModel is a deterministic offline chat model. It reads the context
// block of the last user message and answers each step with a plausible
// JSON judgment wrapped in a markdown fence.
type MockChatModel struct{}

func NewMockChatModel() *MockChatModel {
	return &MockChatModel{}
}

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var userText string
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != nil && input[i].Role == schema.User {
			userText = input[i].Content
			break
		}
	}
	fields, err := ParseContextBlock(userText)
	if err != nil {
		return schema.AssistantMessage("I am not able to assess this request right now.", nil), nil
	}

	step, _ := fields["step"].(string)
	var answer map[string]any
	switch step {
	case "analyze_request":
		answer = mockAnalyzeRequest(fields)
	case "negotiate_offer":
		answer = mockNegotiateOffer(fields)
	case "analyze_need":
		answer = mockAnalyzeNeed(fields)
	case "evaluate_offers":
		answer = mockEvaluateOffers(fields)
	case "counter_offer":
		answer = mockCounterOffer(fields)
	case "make_decision":
		answer = mockMakeDecision(fields)
	default:
		return schema.AssistantMessage(fmt.Sprintf("Unknown step %q.", step), nil), nil
	}

	b, err := json.MarshalIndent(answer, "", "  ")
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage("```json\n"+string(b)+"\n```", nil), nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *MockChatModel) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

var personalityDiscount = map[string]string{
	"academic_collaborative": "0.85",
	"community_focused":      "0.90",
	"business_oriented":      "1.05",
}

var personalityConditions = map[string][]string{
	"academic_collaborative": {"Joint case review after use", "Return within agreed window"},
	"community_focused":      {"Return in working condition"},
	"business_oriented":      {"Payment within 30 days", "Transport at requester's cost"},
}

func mockAnalyzeRequest(f map[string]any) map[string]any {
	personality, _ := f["personality"].(string)
	available := intField(f, "available")
	occupancy := intField(f, "occupancy")
	requested := 0
	if req, ok := f["request"].(map[string]any); ok {
		requested = intField(req, "quantity")
	}

	if available <= 0 || occupancy >= 95 {
		return map[string]any{
			"can_help":   false,
			"confidence": 80,
			"reasoning":  fmt.Sprintf("Only %d units available at %d%% occupancy; we need them ourselves.", available, occupancy),
		}
	}

	qty := available
	if requested > 0 && qty > requested {
		qty = requested
	}
	factor, ok := personalityDiscount[personality]
	if !ok {
		factor = "0.90"
	}
	price := decimalField(f, "budget_per_unit").Mul(decimal.RequireFromString(factor)).Round(2)
	return map[string]any{
		"can_help":           true,
		"quantity_available": qty,
		"price_per_unit":     price.InexactFloat64(),
		"conditions":         personalityConditions[personality],
		"confidence":         75,
		"reasoning":          fmt.Sprintf("We can spare %d units without affecting our own patients.", qty),
	}
}

func mockNegotiateOffer(f map[string]any) map[string]any {
	own, _ := f["own_offer"].(map[string]any)
	ownID, _ := own["offer_id"].(string)
	ownPrice := decimalField(own, "price_per_unit")

	lowest := decimal.Zero
	found := false
	competing, _ := f["competing_offers"].([]any)
	for _, c := range competing {
		offer, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := offer["offer_id"].(string); id == ownID {
			continue
		}
		p := decimalField(offer, "price_per_unit")
		if !found || p.LessThan(lowest) {
			lowest = p
			found = true
		}
	}
	if !found || !ownPrice.GreaterThan(lowest) {
		return map[string]any{"adjust_offer": false, "strategy": "hold"}
	}
	floor := ownPrice.Mul(decimal.RequireFromString("0.90")).Round(2)
	newPrice := decimal.Max(lowest, floor)
	return map[string]any{
		"adjust_offer":       true,
		"new_price_per_unit": newPrice.InexactFloat64(),
		"new_conditions":     []string{"Price matched to competing offer"},
		"strategy":           "match_competition",
	}
}

func mockAnalyzeNeed(f map[string]any) map[string]any {
	urgency, _ := f["urgency"].(string)
	priority, strategy, factor := "medium", "competitive", "0.90"
	if urgency == "high" || urgency == "critical" {
		priority, strategy, factor = "high", "speed_focused", "0.95"
	}
	target := decimalField(f, "budget_per_unit").Mul(decimal.RequireFromString(factor)).Round(2)
	return map[string]any{
		"priority":                      priority,
		"strategy":                      strategy,
		"max_acceptable_price_per_unit": target.InexactFloat64(),
		"negotiation_approach":          "Start below target and concede slowly.",
		"key_requirements":              []string{"Delivery inside the requested window"},
		"fallback_options":              []string{"Split the order across suppliers"},
	}
}

type mockOffer struct {
	id       string
	quantity int
	price    decimal.Decimal
	order    int
}

func mockOffers(f map[string]any) []mockOffer {
	raw, _ := f["offers"].([]any)
	out := make([]mockOffer, 0, len(raw))
	for _, r := range raw {
		o, ok := r.(map[string]any)
		if !ok {
			continue
		}
		id, _ := o["offer_id"].(string)
		out = append(out, mockOffer{
			id:       id,
			quantity: intField(o, "quantity"),
			price:    decimalField(o, "price_per_unit"),
			order:    intField(o, "response_order"),
		})
	}
	return out
}

func mockEvaluateOffers(f map[string]any) map[string]any {
	offers := mockOffers(f)
	sort.SliceStable(offers, func(i, j int) bool {
		ti := offers[i].price.Mul(decimal.NewFromInt(int64(offers[i].quantity)))
		tj := offers[j].price.Mul(decimal.NewFromInt(int64(offers[j].quantity)))
		if !ti.Equal(tj) {
			return ti.LessThan(tj)
		}
		return offers[i].order < offers[j].order
	})
	ids := make([]string, len(offers))
	for i, o := range offers {
		ids[i] = o.id
	}
	return map[string]any{
		"ranked_offer_ids": ids,
		"reasoning":        "Ranked by total cost.",
	}
}

func mockCounterOffer(f map[string]any) map[string]any {
	current := decimalField(f, "current_price")
	target := decimalField(f, "target_price")
	counter := decimal.Max(current.Mul(decimal.RequireFromString("0.95")), target).Round(2)
	return map[string]any{
		"counter_offer":            counter.InexactFloat64(),
		"reasoning":                "Asking for a modest reduction given competing supply.",
		"concession_justification": "Fast confirmation and flexible pickup.",
		"expected_response":        "likely",
	}
}

func mockMakeDecision(f map[string]any) map[string]any {
	need := intField(f, "requested_quantity")
	offers := mockOffers(f)
	selected := make([]map[string]any, 0)
	got := 0
	for _, o := range offers {
		if got >= need {
			break
		}
		take := o.quantity
		if got+take > need {
			take = need - got
		}
		if take <= 0 {
			continue
		}
		got += take
		selected = append(selected, map[string]any{
			"offer_id": o.id,
			"quantity": take,
			"reason":   "Best remaining price",
		})
	}
	if len(selected) == 0 {
		return map[string]any{
			"success":   false,
			"reasoning": "No offer covers any of the request.",
		}
	}
	return map[string]any{
		"success":         true,
		"selected_offers": selected,
		"reasoning":       fmt.Sprintf("Selected %d offer(s) covering %d of %d units.", len(selected), got, need),
	}
}

func intField(m map[string]any, key string) int {
	d := decimalField(m, key)
	return int(d.IntPart())
}

func decimalField(m map[string]any, key string) decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	switch v := m[key].(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err == nil {
			return d
		}
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	}
	return decimal.Zero
}
