package agents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/consts"
	"github.com/dyike/CareMesh/internal/oracle"
	"github.com/dyike/CareMesh/models"
)

func TestPersonality(t *testing.T) {
	cases := []struct {
		name, typ, want string
	}{
		{"City Teaching Hospital", "Private", consts.PersonalityAcademic},
		{"Max Super Specialty", "Private Tertiary Care", consts.PersonalityBusiness},
		{"Fortis Medical Centre", "Private Teaching Hospital", consts.PersonalityBusiness},
		{"District General", "Public", consts.PersonalityCommunity},
	}
	for _, tc := range cases {
		if got := Personality(tc.name, tc.typ); got != tc.want {
			t.Errorf("Personality(%q, %q) = %s, want %s", tc.name, tc.typ, got, tc.want)
		}
	}
}

func TestParseJudgment(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"helpful", `{"can_help":true,"quantity_available":3,"price_per_unit":90000,"conditions":[],"confidence":80}`, "helpful"},
		{"alias price", "```json\n{\"can_help\":true,\"quantity_available\":3,\"proposed_price_per_unit\":9e4,\"conditions\":[\"x\"],\"confidence\":70}\n```", "helpful"},
		{"declined", `{"can_help":false,"reasoning":"busy","confidence":90}`, "declined"},
		{"zero quantity", `{"can_help":true,"quantity_available":0,"price_per_unit":1,"conditions":[],"confidence":50}`, "declined"},
		{"missing can_help", `{"quantity_available":3,"confidence":80}`, "malformed"},
		{"missing confidence", `{"can_help":false}`, "malformed"},
		{"confidence too high", `{"can_help":false,"confidence":101}`, "malformed"},
		{"fractional quantity", `{"can_help":true,"quantity_available":2.5,"price_per_unit":1,"conditions":[],"confidence":50}`, "malformed"},
		{"negative price", `{"can_help":true,"quantity_available":2,"price_per_unit":-1,"conditions":[],"confidence":50}`, "malformed"},
		{"missing conditions", `{"can_help":true,"quantity_available":2,"price_per_unit":1,"confidence":50}`, "malformed"},
		{"string bool", `{"can_help":"yes","confidence":50}`, "malformed"},
		{"prose", `I'd love to help but cannot say.`, "malformed"},
		{"quantity beyond int range", `{"can_help":true,"quantity_available":10000000000000000000,"price_per_unit":1,"conditions":[],"confidence":50}`, "malformed"},
		{"negative quantity", `{"can_help":true,"quantity_available":-3,"price_per_unit":1,"conditions":[],"confidence":50}`, "malformed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			switch ParseJudgment(tc.raw, 5).(type) {
			case Helpful:
				got = "helpful"
			case Declined:
				got = "declined"
			case Malformed:
				got = "malformed"
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseJudgmentCapsQuantity(t *testing.T) {
	j := ParseJudgment(`{"can_help":true,"quantity_available":12,"price_per_unit":"85000.50","conditions":["a"],"confidence":75.4}`, 5)
	h, ok := j.(Helpful)
	if !ok {
		t.Fatalf("expected Helpful, got %#v", j)
	}
	if h.Quantity != 5 {
		t.Fatalf("quantity = %d, want 5", h.Quantity)
	}
	if !h.PricePerUnit.Equal(decimal.RequireFromString("85000.50")) {
		t.Fatalf("price = %s", h.PricePerUnit)
	}
	if h.Confidence != 75 {
		t.Fatalf("confidence = %d", h.Confidence)
	}
}

func TestParseJudgmentHugeQuantityUncapped(t *testing.T) {
	j := ParseJudgment(`{"can_help":true,"quantity_available":10000000000000000000,"price_per_unit":1,"conditions":[],"confidence":50}`, 0)
	if _, ok := j.(Malformed); !ok {
		t.Fatalf("expected Malformed, got %#v", j)
	}
}

func TestMalformedIsZeroConfidenceDenial(t *testing.T) {
	j := ParseJudgment("garbage", 1)
	if Confidence(j) != 0 || Reasoning(j) != "Invalid response format" {
		t.Fatalf("unexpected malformed defaults: %d %q", Confidence(j), Reasoning(j))
	}
}

func TestParseAdjustment(t *testing.T) {
	adj, err := ParseAdjustment(`{"adjust_offer":true,"new_price_per_unit":80000,"new_conditions":["c"],"strategy":"undercut"}`)
	if err != nil || !adj.Adjust || !adj.NewPrice.Equal(decimal.NewFromInt(80000)) {
		t.Fatalf("unexpected adjustment %+v err=%v", adj, err)
	}
	adj, err = ParseAdjustment(`{"adjust_offer":true,"new_price":1}`)
	if err != nil || !adj.NewPrice.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("alias not honoured: %+v err=%v", adj, err)
	}
	if adj, err := ParseAdjustment(`{"adjust_offer":false}`); err != nil || adj.Adjust {
		t.Fatalf("expected no adjustment, got %+v err=%v", adj, err)
	}
	for _, raw := range []string{`{"adjust_offer":true}`, `{"strategy":"x"}`, `nope`, `{"adjust_offer":true,"new_price_per_unit":-5}`} {
		if _, err := ParseAdjustment(raw); !errors.Is(err, oracle.ErrMalformed) {
			t.Errorf("ParseAdjustment(%q) err = %v", raw, err)
		}
	}
}

func testRequest() models.ResourceRequest {
	from := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	return models.ResourceRequest{
		ID:          "req-1",
		RequesterID: "HOSP_A",
		Resource:    models.ResourceVentilators,
		Quantity:    5,
		Urgency:     models.UrgencyHigh,
		NeededFrom:  from,
		NeededUntil: from.Add(6 * 24 * time.Hour),
		MaxBudget:   decimal.NewFromInt(500000),
	}
}

func testProfile() models.HospitalProfile {
	return models.HospitalProfile{
		ID:        "HOSP_B",
		Name:      "Max Super Specialty Hospital",
		Type:      "Private Tertiary Care",
		Occupancy: 82,
		Resources: map[string]models.Inventory{"ventilators": {Total: 15, Available: 8}},
	}
}

func TestAnalyzeOracleFailureIsMalformed(t *testing.T) {
	failing := oracle.Func(func(ctx context.Context, system, prompt string) (string, error) {
		return "", errors.New("connection reset")
	})
	a, err := New(testProfile(), failing)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if _, ok := a.Analyze(context.Background(), testRequest()).(Malformed); !ok {
		t.Fatalf("expected Malformed on oracle failure")
	}
}

func TestPanickingOracleStaysInsideAgent(t *testing.T) {
	boom := oracle.Func(func(ctx context.Context, system, prompt string) (string, error) {
		panic("boom")
	})
	a, err := New(testProfile(), boom)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	j := a.Analyze(context.Background(), testRequest())
	m, ok := j.(Malformed)
	if !ok || !errors.Is(m.Err, oracle.ErrOracleUnavailable) || !strings.Contains(m.Err.Error(), "boom") {
		t.Fatalf("analyze = %#v", j)
	}

	own := models.ResourceOffer{ID: "o1", Resource: models.ResourceVentilators, Quantity: 5, PricePerUnit: decimal.NewFromInt(100000)}
	if adj := a.Negotiate(context.Background(), testRequest(), own, []models.ResourceOffer{own}); adj.Adjust {
		t.Fatalf("expected no adjustment, got %+v", adj)
	}
}

func TestAnalyzePromptCarriesPrivateState(t *testing.T) {
	var gotSystem, gotPrompt string
	o := oracle.Func(func(ctx context.Context, system, prompt string) (string, error) {
		gotSystem, gotPrompt = system, prompt
		return `{"can_help":true,"quantity_available":4,"price_per_unit":95000,"conditions":[],"confidence":60}`, nil
	})
	a, _ := New(testProfile(), o)
	j := a.Analyze(context.Background(), testRequest())
	if h, ok := j.(Helpful); !ok || h.Quantity != 4 {
		t.Fatalf("unexpected judgment %#v", j)
	}
	if !strings.Contains(gotSystem, "Max Super Specialty Hospital") || !strings.Contains(gotSystem, consts.PersonalityBusiness) {
		t.Fatalf("system prompt missing identity: %q", gotSystem)
	}
	if !strings.Contains(gotPrompt, "Available ventilators: 8") || !strings.Contains(gotPrompt, "<context>") {
		t.Fatalf("prompt missing inventory: %q", gotPrompt)
	}
}

func TestAnalyzeWithMockChain(t *testing.T) {
	ctx := context.Background()
	o, err := oracle.NewChainOracle(ctx, "hospital_agent", oracle.NewMockChatModel())
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	a, _ := New(testProfile(), o)
	h, ok := a.Analyze(ctx, testRequest()).(Helpful)
	if !ok {
		t.Fatalf("expected Helpful from mock model")
	}
	if h.Quantity != 5 || !h.PricePerUnit.Equal(decimal.NewFromInt(105000)) {
		t.Fatalf("unexpected offer %d @ %s", h.Quantity, h.PricePerUnit)
	}
}

func TestNegotiateMalformedMeansNoAdjustment(t *testing.T) {
	o := oracle.Func(func(ctx context.Context, system, prompt string) (string, error) {
		return "```json\n{\"adjust_offer\": tru\n```", nil
	})
	a, _ := New(testProfile(), o)
	own := models.ResourceOffer{ID: "o1", Resource: models.ResourceVentilators, Quantity: 5, PricePerUnit: decimal.NewFromInt(100000)}
	if adj := a.Negotiate(context.Background(), testRequest(), own, []models.ResourceOffer{own}); adj.Adjust {
		t.Fatalf("expected no adjustment, got %+v", adj)
	}
}

func TestDefaultRoster(t *testing.T) {
	profiles, err := LoadRoster("")
	if err != nil {
		t.Fatalf("load default roster: %v", err)
	}
	if len(profiles) != 3 || profiles[0].ID != "HOSP_A" {
		t.Fatalf("unexpected roster: %+v", profiles)
	}
	if got := profiles[2].Available(models.ResourceVentilators); got != 15 {
		t.Fatalf("HOSP_C ventilators = %d", got)
	}
	if got := profiles[1].Available(models.ResourceStaff); got != 38 {
		t.Fatalf("HOSP_B staff = %d", got)
	}
}

func TestLoadRosterFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	data := "hospitals:\n  - id: X\n    name: X General\n  - id: X\n    name: Duplicate\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	if _, err := LoadRoster(path); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := LoadRoster(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRegistry(t *testing.T) {
	profiles, _ := LoadRoster("")
	noop := oracle.Func(func(ctx context.Context, system, prompt string) (string, error) { return "", nil })
	reg, err := BuildRegistry(profiles, noop)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	parts := reg.Participants("HOSP_B")
	if len(parts) != 2 || parts[0].ID() != "HOSP_A" || parts[1].ID() != "HOSP_C" {
		t.Fatalf("unexpected participants")
	}
	if _, err := reg.Get("HOSP_Z"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if s := reg.Summaries()["HOSP_C"]; s.Personality != consts.PersonalityBusiness {
		t.Fatalf("HOSP_C personality = %s", s.Personality)
	}
	a, _ := reg.Get("HOSP_A")
	if _, err := NewRegistry(a, a); err == nil {
		t.Fatalf("expected duplicate agent error")
	}
}
