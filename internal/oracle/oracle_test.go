package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "Sure!\n```json\n{\"a\": {\"b\": 2}}\n```\nThanks", `{"a": {"b": 2}}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Here you go: {"a":"}"} hope it helps`, `{"a":"}"}`},
		{"escaped quote", `{"a":"say \"hi\" {"}`, `{"a":"say \"hi\" {"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.raw)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractJSONMalformed(t *testing.T) {
	for _, raw := range []string{"", "no json here", `{"a": 1`} {
		if _, err := ExtractJSON(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("ExtractJSON(%q) err = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestDecodeWrapsSyntaxErrors(t *testing.T) {
	var v map[string]any
	if err := Decode(`{"a": }`, &v); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestGuardTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, system, prompt string) (string, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	start := time.Now()
	_, err := Guard(slow, 20*time.Millisecond).Invoke(context.Background(), "", "")
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("guard did not enforce timeout")
	}
}

func TestGuardRecoversPanics(t *testing.T) {
	boom := Func(func(ctx context.Context, system, prompt string) (string, error) {
		panic("boom")
	})
	_, err := Guard(boom, time.Second).Invoke(context.Background(), "", "")
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
}

func TestGuardWrapsErrors(t *testing.T) {
	sentinel := errors.New("rate limited")
	failing := Func(func(ctx context.Context, system, prompt string) (string, error) {
		return "", sentinel
	})
	_, err := Guard(failing, 0).Invoke(context.Background(), "", "")
	if !errors.Is(err, ErrOracleUnavailable) || !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestContextBlockRoundTrip(t *testing.T) {
	block, err := ContextBlock("counter_offer", map[string]any{"current_price": "100000", "round": 1})
	if err != nil {
		t.Fatalf("context block: %v", err)
	}
	fields, err := ParseContextBlock("Preamble\n" + block + "\nRespond in JSON.")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields["step"] != "counter_offer" {
		t.Fatalf("step = %v", fields["step"])
	}
	if n, ok := fields["round"].(json.Number); !ok || n.String() != "1" {
		t.Fatalf("round = %#v", fields["round"])
	}
}

func TestChainOracleWithMockModel(t *testing.T) {
	ctx := context.Background()
	o, err := NewChainOracle(ctx, "counter_offer", NewMockChatModel())
	if err != nil {
		t.Fatalf("new chain oracle: %v", err)
	}
	block, _ := ContextBlock("counter_offer", map[string]any{
		"current_price": "100000",
		"target_price":  "80000",
		"round":         1,
	})
	out, err := o.Invoke(ctx, "You negotiate for a hospital. Use {braces} freely.", "Counter this.\n"+block)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var move struct {
		CounterOffer float64 `json:"counter_offer"`
	}
	if err := Decode(out, &move); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if move.CounterOffer != 95000 {
		t.Fatalf("counter offer = %v, want 95000", move.CounterOffer)
	}
}

func TestMockWithoutContextIsNotJSON(t *testing.T) {
	o, err := NewChainOracle(context.Background(), "free_text", NewMockChatModel())
	if err != nil {
		t.Fatalf("new chain oracle: %v", err)
	}
	out, err := o.Invoke(context.Background(), "system", "hello")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if strings.Contains(out, "{") {
		t.Fatalf("expected prose, got %q", out)
	}
}

func TestMockAnalyzeRequestDeclinesWithoutStock(t *testing.T) {
	got := mockAnalyzeRequest(map[string]any{
		"available":   json.Number("0"),
		"occupancy":   json.Number("50"),
		"personality": "community_focused",
	})
	if got["can_help"] != false {
		t.Fatalf("expected decline, got %v", got)
	}
}

func TestNewChatModelRequiresKeys(t *testing.T) {
	ctx := context.Background()
	if _, err := NewChatModel(ctx, ProviderConfig{Provider: ProviderOpenAI}); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewChatModel(ctx, ProviderConfig{Provider: "watson"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	cm, err := NewChatModel(ctx, ProviderConfig{Provider: ProviderMock})
	if err != nil || cm == nil {
		t.Fatalf("mock provider: %v", err)
	}
}
