package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	ProjectDir string `json:"project_dir"`
	DataDir    string `json:"data_dir"`

	LLMProvider      string `json:"llm_provider"`
	AgentModel       string `json:"agent_model"`
	CoordinatorModel string `json:"coordinator_model"`
	BackendURL       string `json:"backend_url"`
	MaxTokens        int    `json:"max_tokens"`
	OracleTimeoutSec int    `json:"oracle_timeout_seconds"`

	// AI Model API Keys
	OpenAIAPIKey   string `json:"openai_api_key"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`

	// Negotiation pacing and limits
	BroadcastDelayMs     int    `json:"broadcast_delay_ms"`
	CollectDelayMs       int    `json:"collect_delay_ms"`
	RoundDelayMs         int    `json:"round_delay_ms"`
	MaxNegotiationRounds int    `json:"max_negotiation_rounds"`
	PriceTolerance       string `json:"price_tolerance"`
	PaymentTerms         string `json:"payment_terms"`
	ResponseWindowMin    int    `json:"response_window_minutes"`

	BroadcastTTLMin    int `json:"broadcast_ttl_minutes"`
	OfferTTLMin        int `json:"offer_ttl_minutes"`
	ContractTTLMin     int `json:"contract_ttl_minutes"`
	NotificationTTLMin int `json:"notification_ttl_minutes"`

	// Ephemeral store; empty address keeps it in memory
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`

	LedgerPath string `json:"ledger_path"`
	WebhookURL string `json:"webhook_url"`
	RosterPath string `json:"roster_path"`
	ListenAddr string `json:"listen_addr"`
	LogLevel   string `json:"log_level"`
	Debug      bool   `json:"debug"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()
	return cfg
}

// DefaultConfigWithRoot returns the built-in defaults with data kept under
// root.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir: root,
		DataDir:    filepath.Join(root, "data"),

		LLMProvider:      "mock",
		AgentModel:       "deepseek-chat",
		CoordinatorModel: "deepseek-chat",
		BackendURL:       "",
		MaxTokens:        1024,
		OracleTimeoutSec: 30,

		BroadcastDelayMs:     500,
		CollectDelayMs:       300,
		RoundDelayMs:         300,
		MaxNegotiationRounds: 3,
		PriceTolerance:       "0.05",
		PaymentTerms:         "Net 30 days",
		ResponseWindowMin:    30,

		BroadcastTTLMin:    30,
		OfferTTLMin:        30,
		ContractTTLMin:     7 * 24 * 60,
		NotificationTTLMin: 24 * 60,

		RedisPrefix: "caremesh:",
		LedgerPath:  filepath.Join(root, "data", "caremesh.db"),
		ListenAddr:  ":8080",
		LogLevel:    "info",

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,
	}
}

func (c *Config) loadFromEnv() {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}

	setString("PROJECT_DIR", &c.ProjectDir)
	setString("DATA_DIR", &c.DataDir)

	setString("LLM_PROVIDER", &c.LLMProvider)
	setString("AGENT_LLM", &c.AgentModel)
	setString("COORDINATOR_LLM", &c.CoordinatorModel)
	setString("BACKEND_URL", &c.BackendURL)
	setInt("LLM_MAX_TOKENS", &c.MaxTokens)
	setInt("ORACLE_TIMEOUT_SECONDS", &c.OracleTimeoutSec)
	setString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	setString("DEEPSEEK_API_KEY", &c.DeepSeekAPIKey)

	setInt("BROADCAST_DELAY_MS", &c.BroadcastDelayMs)
	setInt("COLLECT_DELAY_MS", &c.CollectDelayMs)
	setInt("ROUND_DELAY_MS", &c.RoundDelayMs)
	setInt("MAX_NEGOTIATION_ROUNDS", &c.MaxNegotiationRounds)
	setString("PRICE_TOLERANCE", &c.PriceTolerance)
	setString("PAYMENT_TERMS", &c.PaymentTerms)

	setString("REDIS_ADDR", &c.RedisAddr)
	setString("REDIS_PASSWORD", &c.RedisPassword)
	setInt("REDIS_DB", &c.RedisDB)
	setString("REDIS_PREFIX", &c.RedisPrefix)

	setString("CAREMESH_LEDGER_PATH", &c.LedgerPath)
	setString("CAREMESH_WEBHOOK_URL", &c.WebhookURL)
	setString("CAREMESH_ROSTER", &c.RosterPath)
	setString("CAREMESH_LISTEN_ADDR", &c.ListenAddr)
	setString("CAREMESH_LOG_LEVEL", &c.LogLevel)
	setBool("CAREMESH_DEBUG", &c.Debug)

	setBool("EINO_DEBUG_ENABLED", &c.EinoDebugEnabled)
	setInt("EINO_DEBUG_PORT", &c.EinoDebugPort)
}

// loadConfigFromFile decodes and validates the JSON document at path. A
// missing file is reported as os.ErrNotExist.
func loadConfigFromFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.LLMProvider) {
	case "", "mock":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required for provider openai")
		}
	case "deepseek":
		if c.DeepSeekAPIKey == "" {
			return fmt.Errorf("deepseek_api_key is required for provider deepseek")
		}
	default:
		return fmt.Errorf("unknown llm_provider %q", c.LLMProvider)
	}
	if c.OracleTimeoutSec <= 0 {
		return fmt.Errorf("oracle_timeout_seconds must be positive")
	}
	if c.MaxNegotiationRounds < 1 || c.MaxNegotiationRounds > 3 {
		return fmt.Errorf("max_negotiation_rounds must be between 1 and 3, got %d", c.MaxNegotiationRounds)
	}
	tol, err := decimal.NewFromString(c.PriceTolerance)
	if err != nil {
		return fmt.Errorf("price_tolerance: %w", err)
	}
	if tol.IsNegative() || tol.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("price_tolerance must be in [0, 1), got %s", tol)
	}
	for name, v := range map[string]int{
		"broadcast_delay_ms": c.BroadcastDelayMs,
		"collect_delay_ms":   c.CollectDelayMs,
		"round_delay_ms":     c.RoundDelayMs,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, v := range map[string]int{
		"broadcast_ttl_minutes":    c.BroadcastTTLMin,
		"offer_ttl_minutes":        c.OfferTTLMin,
		"contract_ttl_minutes":     c.ContractTTLMin,
		"notification_ttl_minutes": c.NotificationTTLMin,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.EinoDebugEnabled && (c.EinoDebugPort <= 0 || c.EinoDebugPort > 65535) {
		return fmt.Errorf("invalid eino_debug_port %d", c.EinoDebugPort)
	}
	return nil
}

// Tolerance returns the parsed price tolerance. Validate guarantees it
// parses.
func (c Config) Tolerance() decimal.Decimal {
	tol, err := decimal.NewFromString(c.PriceTolerance)
	if err != nil {
		return decimal.RequireFromString("0.05")
	}
	return tol
}

func (c Config) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutSec) * time.Second
}

func millis(v int) time.Duration  { return time.Duration(v) * time.Millisecond }
func minutes(v int) time.Duration { return time.Duration(v) * time.Minute }

func (c Config) BroadcastDelay() time.Duration  { return millis(c.BroadcastDelayMs) }
func (c Config) CollectDelay() time.Duration    { return millis(c.CollectDelayMs) }
func (c Config) RoundDelay() time.Duration      { return millis(c.RoundDelayMs) }
func (c Config) ResponseWindow() time.Duration  { return minutes(c.ResponseWindowMin) }
func (c Config) BroadcastTTL() time.Duration    { return minutes(c.BroadcastTTLMin) }
func (c Config) OfferTTL() time.Duration        { return minutes(c.OfferTTLMin) }
func (c Config) ContractTTL() time.Duration     { return minutes(c.ContractTTLMin) }
func (c Config) NotificationTTL() time.Duration { return minutes(c.NotificationTTLMin) }

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.DataDir}
	if c.LedgerPath != "" {
		dirs = append(dirs, filepath.Dir(c.LedgerPath))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		if len(s) <= 4 {
			return "****"
		}
		return s[:2] + "****" + s[len(s)-2:]
	}
	c.OpenAIAPIKey = mask(c.OpenAIAPIKey)
	c.DeepSeekAPIKey = mask(c.DeepSeekAPIKey)
	c.RedisPassword = mask(c.RedisPassword)
	return c
}
