package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dyike/CareMesh/config"
	"github.com/dyike/CareMesh/models"
)

func seedConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfigWithRoot(dir)
	cfg.BroadcastDelayMs = 0
	cfg.CollectDelayMs = 0
	cfg.RoundDelayMs = 0
	cfg.LogLevel = "error"
	cfg.LedgerPath = filepath.Join(dir, "ledger.db")
	if _, err := config.NewManager(config.WithConfigDir(dir), config.WithInitialConfig(cfg), config.WithDebounce(10*time.Millisecond)); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return dir
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config-dir", dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestNegotiateDemoRecordsContract(t *testing.T) {
	dir := seedConfig(t)

	out, err := execute(t, dir, "negotiate", "--demo")
	if err != nil {
		t.Fatalf("negotiate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "negotiation completed") {
		t.Fatalf("expected completion in output:\n%s", out)
	}

	out, err = execute(t, dir, "contracts", "list", "--requester", "HOSP_A")
	if err != nil {
		t.Fatalf("contracts list: %v", err)
	}
	if !strings.Contains(out, "contract-") {
		t.Fatalf("expected a contract:\n%s", out)
	}

	out, err = execute(t, dir, "sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, "HOSP_A") {
		t.Fatalf("expected archived session:\n%s", out)
	}
}

func TestNegotiateJSONFromFlags(t *testing.T) {
	dir := seedConfig(t)

	out, err := execute(t, dir, "negotiate", "--from", "HOSP_A", "--resource", "ventilators",
		"--quantity", "5", "--urgency", "high", "--days", "7", "--budget", "500000", "--json")
	if err != nil {
		t.Fatalf("negotiate: %v\n%s", err, out)
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode snapshot: %v\n%s", err, out)
	}
	if snap.Status != models.StatusCompleted {
		t.Fatalf("status = %s", snap.Status)
	}
	if len(snap.Events) == 0 || !snap.Events[len(snap.Events)-1].Kind.Terminal() {
		t.Fatalf("events = %+v", snap.Events)
	}
}

func TestNegotiateValidatesFlags(t *testing.T) {
	dir := seedConfig(t)

	cases := map[string][]string{
		"missing from":   {"negotiate", "--budget", "100"},
		"bad resource":   {"negotiate", "--from", "HOSP_A", "--resource", "helicopters", "--budget", "100"},
		"bad budget":     {"negotiate", "--from", "HOSP_A", "--budget", "lots"},
		"unknown origin": {"negotiate", "--from", "NOPE", "--budget", "100"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := execute(t, dir, args...); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestContractStatusCommands(t *testing.T) {
	dir := seedConfig(t)
	if _, err := execute(t, dir, "negotiate", "--demo"); err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	out, err := execute(t, dir, "contracts", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var id string
	for _, field := range strings.Fields(out) {
		if strings.HasPrefix(field, "contract-") {
			id = field
			break
		}
	}
	if id == "" {
		t.Fatalf("no contract id in:\n%s", out)
	}

	if _, err := execute(t, dir, "contracts", "activate", id); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := execute(t, dir, "contracts", "activate", id); err == nil {
		t.Fatalf("activating twice should fail")
	}
	if _, err := execute(t, dir, "contracts", "expire", id); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, err := execute(t, dir, "contracts", "expire", "contract-missing"); err == nil {
		t.Fatalf("unknown contract should fail")
	}
}

func TestAgentsCommand(t *testing.T) {
	dir := seedConfig(t)

	out, err := execute(t, dir, "agents")
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	if !strings.Contains(out, "HOSP_A") || !strings.Contains(out, "HOSP_B") {
		t.Fatalf("agents output:\n%s", out)
	}

	out, err = execute(t, dir, "agents", "HOSP_B")
	if err != nil {
		t.Fatalf("agents HOSP_B: %v", err)
	}
	var agent models.AgentSummary
	if err := json.Unmarshal([]byte(out), &agent); err != nil || agent.ID != "HOSP_B" {
		t.Fatalf("agent = %+v err=%v", agent, err)
	}
}

func TestConfigCommands(t *testing.T) {
	dir := seedConfig(t)

	if _, err := execute(t, dir, "config", "set", `{"openai_api_key":"sk-secret-value","round_delay_ms":5}`); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := execute(t, dir, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	body := out[strings.Index(out, "\n")+1:]
	var cfg config.Config
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if cfg.RoundDelayMs != 5 {
		t.Fatalf("round delay = %d", cfg.RoundDelayMs)
	}
	if cfg.OpenAIAPIKey != "sk****ue" {
		t.Fatalf("key not masked: %q", cfg.OpenAIAPIKey)
	}
	if cfg.LedgerPath != filepath.Join(dir, "ledger.db") {
		t.Fatalf("set must merge, ledger = %q", cfg.LedgerPath)
	}

	out, err = execute(t, dir, "config", "validate")
	if err != nil || !strings.Contains(out, "configuration OK") {
		t.Fatalf("validate: %v\n%s", err, out)
	}

	if _, err := execute(t, dir, "config", "set", `{"max_negotiation_rounds":9}`); err == nil {
		t.Fatalf("invalid config should be rejected")
	}
}

func TestConfigFlagOverridesDir(t *testing.T) {
	dir := seedConfig(t)
	altDir := t.TempDir()
	explicit := filepath.Join(altDir, "alt.json")
	alt := config.DefaultConfigWithRoot(altDir)
	alt.LogLevel = "error"
	if _, err := config.NewManager(config.WithConfigPath(explicit), config.WithInitialConfig(alt)); err != nil {
		t.Fatalf("seed alt config: %v", err)
	}

	out, err := execute(t, dir, "--config", explicit, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.HasPrefix(out, "# "+explicit+"\n") {
		t.Fatalf("expected %s to be used:\n%s", explicit, out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	if err != nil || !strings.Contains(out, "CareMesh") {
		t.Fatalf("version: %v %q", err, out)
	}
}
