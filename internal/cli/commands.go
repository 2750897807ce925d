package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dyike/CareMesh/internal/app"
	"github.com/dyike/CareMesh/internal/debug"
	"github.com/dyike/CareMesh/internal/display"
	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/internal/observability"
	"github.com/dyike/CareMesh/internal/server"
	"github.com/dyike/CareMesh/models"
)

// demoRequest is the respiratory-surge scenario: Apollo City Hospital asks its
// peers for five ventilators.
func demoRequest() negotiation.NegotiationRequest {
	return negotiation.NegotiationRequest{
		InitiatorID:  "HOSP_A",
		Resource:     models.ResourceVentilators,
		Quantity:     5,
		Urgency:      models.UrgencyHigh,
		DurationDays: 7,
		MaxBudget:    decimal.NewFromInt(500000),
		Details:      map[string]any{"reason": "respiratory outbreak surge"},
	}
}

type negotiateFlags struct {
	from        string
	resource    string
	quantity    int
	urgency     string
	days        int
	budget      string
	demo        bool
	interactive bool
	asJSON      bool
}

func (f negotiateFlags) request() (negotiation.NegotiationRequest, error) {
	var req negotiation.NegotiationRequest
	if strings.TrimSpace(f.from) == "" {
		return req, fmt.Errorf("--from is required (or use --demo / --interactive)")
	}
	kind, err := models.ParseResourceKind(f.resource)
	if err != nil {
		return req, err
	}
	urgency, err := models.ParseUrgency(f.urgency)
	if err != nil {
		return req, err
	}
	budget, err := decimal.NewFromString(strings.TrimSpace(f.budget))
	if err != nil {
		return req, fmt.Errorf("%w: budget %q is not a number", models.ErrInvalidRequest, f.budget)
	}
	return negotiation.NegotiationRequest{
		InitiatorID:  strings.TrimSpace(f.from),
		Resource:     kind,
		Quantity:     f.quantity,
		Urgency:      urgency,
		DurationDays: f.days,
		MaxBudget:    budget,
	}, nil
}

func newNegotiateCmd(state *rootState) *cobra.Command {
	var flags negotiateFlags
	cmd := &cobra.Command{
		Use:   "negotiate",
		Short: "Run one negotiation and stream its progress",
		Long: `Run a negotiation session to completion, printing each event as it happens.
Example: caremesh negotiate --from HOSP_A --resource ventilators --quantity 5 --budget 500000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := state.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			var req negotiation.NegotiationRequest
			switch {
			case flags.demo:
				req = demoRequest()
			case flags.interactive:
				req, err = promptRequest(engine.Orchestrator.ListAgents())
			default:
				req, err = flags.request()
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNegotiation(ctx, cmd.OutOrStdout(), engine, req, flags.asJSON)
		},
	}

	cmd.Flags().StringVar(&flags.from, "from", "", "Requesting hospital id")
	cmd.Flags().StringVar(&flags.resource, "resource", string(models.ResourceVentilators), "Resource type")
	cmd.Flags().IntVar(&flags.quantity, "quantity", 1, "Units needed")
	cmd.Flags().StringVar(&flags.urgency, "urgency", string(models.UrgencyHigh), "critical, high, medium or low")
	cmd.Flags().IntVar(&flags.days, "days", 7, "How many days the resources are needed")
	cmd.Flags().StringVar(&flags.budget, "budget", "", "Maximum total budget")
	cmd.Flags().BoolVar(&flags.demo, "demo", false, "Run the ventilator surge demo")
	cmd.Flags().BoolVarP(&flags.interactive, "interactive", "i", false, "Prompt for the request")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Print the final session as JSON")
	return cmd
}

func runNegotiation(ctx context.Context, out io.Writer, engine *app.Engine, req negotiation.NegotiationRequest, asJSON bool) error {
	p := display.NewPrinter(out)
	if !asJSON {
		p.Banner()
	}
	snap, err := engine.Orchestrator.Negotiate(ctx, req, func(ev models.Event) {
		if !asJSON {
			p.Event(ev)
		}
	})
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(out, snap)
	}
	p.Outcome(snap)
	if snap.Status == models.StatusFailed {
		return fmt.Errorf("negotiation failed: %s", snap.Error)
	}
	return nil
}

func newAgentsCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "agents [ID]",
		Short: "List hospital agents, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := state.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if len(args) == 1 {
				agent, err := engine.Orchestrator.GetAgent(args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), agent)
			}
			display.NewPrinter(cmd.OutOrStdout()).Agents(engine.Orchestrator.ListAgents())
			return nil
		},
	}
}

func newSessionsCmd(state *rootState) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions [ID]",
		Short: "List archived sessions, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ledgerEngine(state)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			if len(args) == 1 {
				snap, err := engine.Ledger.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				if snap == nil {
					return fmt.Errorf("%w: session %s", models.ErrNotFound, args[0])
				}
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			list, err := engine.Ledger.ListSessions(ctx, limit)
			if err != nil {
				return err
			}
			display.NewPrinter(cmd.OutOrStdout()).Sessions(list)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum sessions to list")
	return cmd
}

func newContractsCmd(state *rootState) *cobra.Command {
	contractsCmd := &cobra.Command{
		Use:   "contracts",
		Short: "Inspect and advance contracts in the ledger",
	}

	var requester string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ledgerEngine(state)
			if err != nil {
				return err
			}
			defer engine.Close()
			list, err := engine.Ledger.ListContracts(cmd.Context(), requester, limit)
			if err != nil {
				return err
			}
			display.NewPrinter(cmd.OutOrStdout()).Contracts(list)
			return nil
		},
	}
	listCmd.Flags().StringVar(&requester, "requester", "", "Only contracts requested by this hospital")
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum contracts to list")

	contractsCmd.AddCommand(listCmd)
	contractsCmd.AddCommand(newContractStatusCmd(state, "activate", models.ContractActive))
	contractsCmd.AddCommand(newContractStatusCmd(state, "expire", models.ContractExpired))
	return contractsCmd
}

func newContractStatusCmd(state *rootState, use string, next models.ContractStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " CONTRACT_ID",
		Short: fmt.Sprintf("Mark a contract %s", next),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ledgerEngine(state)
			if err != nil {
				return err
			}
			defer engine.Close()
			c, err := engine.Ledger.UpdateContractStatus(cmd.Context(), args[0], next)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), display.FormatContract(*c))
			return nil
		},
	}
}

func ledgerEngine(state *rootState) (*app.Engine, error) {
	engine, err := state.engine()
	if err != nil {
		return nil, err
	}
	if engine.Ledger == nil {
		_ = engine.Close()
		return nil, fmt.Errorf("ledger is not configured (set ledger_path)")
	}
	return engine, nil
}

func newServeCmd(state *rootState) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the negotiation API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := observability.Logger()
			rt, err := app.NewRuntime(state.mgr, app.WithNotifier(func(topic, payload string) {
				log.Info("runtime event", "topic", topic, "payload", payload)
			}))
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dbg := debug.NewEinoDebugger(rt.Config())
			if err := dbg.Initialize(ctx); err != nil {
				log.Warn("eino debugger unavailable", "error", err)
			}

			srv := server.New(rt.Orchestrator, func() server.Ledger {
				if e := rt.Engine(); e != nil && e.Ledger != nil {
					return e.Ledger
				}
				return nil
			})
			if addr == "" {
				addr = rt.Config().ListenAddr
			}
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to listen_addr from config)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "CareMesh %s\n", Version)
		},
	}
}

func newConfigCmd(state *rootState) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", state.mgr.Path())
			return writeJSON(cmd.OutOrStdout(), state.config().Redacted())
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and build the engine once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := state.config()
			if err := cfg.Validate(); err != nil {
				return err
			}
			engine, err := app.BuildEngine(cfg, negotiation.NewSessions())
			if err != nil {
				return err
			}
			defer engine.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: provider=%s agents=%d\n",
				cfg.LLMProvider, len(engine.Orchestrator.ListAgents()))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "set JSON",
		Short: "Merge a JSON object into the configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := state.config()
			if err := json.Unmarshal([]byte(args[0]), &cfg); err != nil {
				return fmt.Errorf("parse config json: %w", err)
			}
			if err := state.mgr.Update(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration updated")
			return nil
		},
	})

	return configCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
