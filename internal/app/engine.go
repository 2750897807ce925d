package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dyike/CareMesh/config"
	"github.com/dyike/CareMesh/internal/agents"
	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/internal/notify"
	"github.com/dyike/CareMesh/internal/observability"
	"github.com/dyike/CareMesh/internal/oracle"
	"github.com/dyike/CareMesh/internal/storage"
	"github.com/dyike/CareMesh/internal/storage/sqlite"
)

// Engine is everything built from one config: oracles, the agent registry,
// the stores and the orchestrator that ties them together.
type Engine struct {
	Config       config.Config
	Orchestrator *negotiation.Orchestrator
	Store        storage.Store
	Ledger       *sqlite.Store
	BuiltAt      time.Time
	Version      uint64

	recorder *sqlite.Recorder
}

var engineSeq atomic.Uint64

func BuildEngine(cfg config.Config, sessions *negotiation.Sessions) (*Engine, error) {
	ctx := context.Background()
	log := observability.Logger()

	agentOracle, err := buildOracle(ctx, cfg, "hospital_agent", cfg.AgentModel)
	if err != nil {
		return nil, err
	}
	coordOracle, err := buildOracle(ctx, cfg, "coordinator", cfg.CoordinatorModel)
	if err != nil {
		return nil, err
	}

	profiles, err := agents.LoadRoster(cfg.RosterPath)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	registry, err := agents.BuildRegistry(profiles, oracle.Guard(agentOracle, cfg.OracleTimeout()))
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	e := &Engine{Config: cfg, BuiltAt: time.Now(), Version: engineSeq.Add(1)}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rs, err := storage.OpenRedis(ctx, addr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		e.Store = rs
	} else {
		e.Store = storage.NewMemoryStore()
	}

	opts := []negotiation.Option{
		negotiation.WithOracle(coordOracle),
		negotiation.WithStore(e.Store),
		negotiation.WithSettings(settingsFrom(cfg)),
	}

	if path := strings.TrimSpace(cfg.LedgerPath); path != "" {
		ledger, err := sqlite.Open(path)
		if err != nil {
			_ = e.Store.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		e.Ledger = ledger
		e.recorder = sqlite.NewRecorder(ledger, 0)
		opts = append(opts, negotiation.WithLedger(ledger), negotiation.WithObserver(e.recorder))
	}

	notifiers := notify.Multi{notify.NewStoreNotifier(e.Store, cfg.NotificationTTL())}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		notifiers = append(notifiers, notify.NewWebhook(url, 10*time.Second))
	}
	opts = append(opts, negotiation.WithNotifier(notifiers))

	orc, err := negotiation.New(registry, sessions, opts...)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.Orchestrator = orc

	log.Info("engine built",
		"version", e.Version,
		"provider", cfg.LLMProvider,
		"agents", registry.Len(),
		"redis", cfg.RedisAddr != "",
		"ledger", cfg.LedgerPath,
	)
	return e, nil
}

func buildOracle(ctx context.Context, cfg config.Config, name, modelName string) (*oracle.ChainOracle, error) {
	apiKey := ""
	switch strings.ToLower(cfg.LLMProvider) {
	case oracle.ProviderOpenAI:
		apiKey = cfg.OpenAIAPIKey
	case oracle.ProviderDeepSeek:
		apiKey = cfg.DeepSeekAPIKey
	}
	cm, err := oracle.NewChatModel(ctx, oracle.ProviderConfig{
		Provider:  cfg.LLMProvider,
		BaseURL:   cfg.BackendURL,
		APIKey:    apiKey,
		Model:     modelName,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", name, err)
	}
	return oracle.NewChainOracle(ctx, name, cm)
}

func settingsFrom(cfg config.Config) negotiation.Settings {
	s := negotiation.DefaultSettings()
	s.OracleTimeout = cfg.OracleTimeout()
	s.BroadcastDelay = cfg.BroadcastDelay()
	s.CollectDelay = cfg.CollectDelay()
	s.RoundDelay = cfg.RoundDelay()
	s.MaxRounds = cfg.MaxNegotiationRounds
	s.Tolerance = cfg.Tolerance()
	if cfg.PaymentTerms != "" {
		s.PaymentTerms = cfg.PaymentTerms
	}
	if cfg.ResponseWindowMin > 0 {
		s.ResponseWindow = cfg.ResponseWindow()
	}
	s.BroadcastTTL = cfg.BroadcastTTL()
	s.OfferTTL = cfg.OfferTTL()
	s.ContractTTL = cfg.ContractTTL()
	return s
}

// Close flushes the session recorder and releases the stores.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	if e.recorder != nil {
		e.recorder.Close()
	}
	var errs []error
	if e.Ledger != nil {
		errs = append(errs, e.Ledger.Close())
	}
	if e.Store != nil {
		errs = append(errs, e.Store.Close())
	}
	return errors.Join(errs...)
}
