package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/config"
	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/internal/notify"
	"github.com/dyike/CareMesh/internal/storage"
	"github.com/dyike/CareMesh/models"
)

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfigWithRoot(dir)
	cfg.BroadcastDelayMs = 0
	cfg.CollectDelayMs = 0
	cfg.RoundDelayMs = 0
	cfg.LedgerPath = filepath.Join(dir, "ledger.db")
	return cfg
}

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	dir := t.TempDir()
	mgr, err := config.NewManager(config.WithConfigDir(dir), config.WithInitialConfig(testConfig(dir)), config.WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	rt, err := NewRuntime(mgr, opts...)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRuntimeNegotiatesWithMockProvider(t *testing.T) {
	rt := newTestRuntime(t)
	engine := rt.Engine()

	snap, err := rt.Orchestrator().Negotiate(context.Background(), negotiation.NegotiationRequest{
		InitiatorID:  "HOSP_A",
		Resource:     models.ResourceVentilators,
		Quantity:     5,
		Urgency:      models.UrgencyHigh,
		DurationDays: 7,
		MaxBudget:    decimal.NewFromInt(500000),
	}, nil)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if snap.Status != models.StatusCompleted || snap.Contract == nil {
		t.Fatalf("status %s contract %v", snap.Status, snap.Contract)
	}
	if snap.Contract.TotalPrice.GreaterThan(decimal.NewFromInt(500000)) {
		t.Fatalf("contract over budget: %s", snap.Contract.TotalPrice)
	}

	ctx := context.Background()
	stored, err := engine.Ledger.GetContract(ctx, snap.Contract.ID)
	if err != nil || stored == nil {
		t.Fatalf("ledger contract: %v %v", stored, err)
	}
	var n notify.Notification
	ok, err := storage.GetJSON(ctx, engine.Store, storage.NotificationKey("HOSP_A"), &n)
	if err != nil || !ok || n.Type != notify.TypeSuccess {
		t.Fatalf("notification: ok=%v err=%v %+v", ok, err, n)
	}
}

func TestRuntimeReloadKeepsSessions(t *testing.T) {
	var mu sync.Mutex
	var topics []string
	rt := newTestRuntime(t, WithNotifier(func(topic, payload string) {
		mu.Lock()
		topics = append(topics, topic)
		mu.Unlock()
	}))
	first := rt.Engine()

	snap, err := rt.Orchestrator().Negotiate(context.Background(), negotiation.NegotiationRequest{
		InitiatorID:  "HOSP_B",
		Resource:     models.ResourceICUBeds,
		Quantity:     2,
		Urgency:      models.UrgencyMedium,
		DurationDays: 3,
		MaxBudget:    decimal.NewFromInt(60000),
	}, nil)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}

	cfg := rt.Config()
	cfg.RoundDelayMs = 5
	data, _ := json.Marshal(cfg)
	if err := rt.UpdateConfigJSON(string(data)); err != nil {
		t.Fatalf("update: %v", err)
	}

	second := rt.Engine()
	if second.Version <= first.Version {
		t.Fatalf("engine not rebuilt: %d -> %d", first.Version, second.Version)
	}
	if _, err := second.Orchestrator.GetSession(snap.ID); err != nil {
		t.Fatalf("session lost across reload: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(topics) < 2 || topics[len(topics)-1] != "engine.reloaded" {
		t.Fatalf("topics = %v", topics)
	}
}

func TestBuildEngineRejectsBadRoster(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.RosterPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := BuildEngine(*cfg, negotiation.NewSessions()); err == nil {
		t.Fatalf("expected roster error")
	}
}
