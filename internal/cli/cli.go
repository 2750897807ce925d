// Package cli provides the command-line interface for CareMesh.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyike/CareMesh/config"
	"github.com/dyike/CareMesh/internal/app"
	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/internal/observability"
)

// Version is stamped at build time.
var Version = "dev"

// Run starts the CLI application
func Run() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootState struct {
	configDir  string
	configPath string
	debug      bool
	mgr        *config.Manager
}

func (s *rootState) load() error {
	if s.mgr != nil {
		return nil
	}
	opts := []config.ManagerOption{config.WithInitialConfig(config.DefaultConfig())}
	opts = append(opts,
		config.WithConfigDir(strings.TrimSpace(s.configDir)),
		config.WithConfigPath(strings.TrimSpace(s.configPath)),
	)
	mgr, err := config.NewManager(opts...)
	if err != nil {
		return err
	}
	s.mgr = mgr

	cfg := mgr.Get()
	level := cfg.LogLevel
	if s.debug || cfg.Debug {
		level = "debug"
	}
	observability.Setup(os.Stderr, level)
	return cfg.EnsureDirectories()
}

func (s *rootState) config() config.Config {
	return s.mgr.Get()
}

// engine builds a one-shot engine for commands that do not serve.
func (s *rootState) engine() (*app.Engine, error) {
	return app.BuildEngine(s.config(), negotiation.NewSessions())
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	state := &rootState{}

	rootCmd := &cobra.Command{
		Use:   "caremesh",
		Short: "CareMesh - autonomous inter-hospital resource negotiation",
		Long: `CareMesh lets hospitals that are short on ventilators, ICU beds, staff or
medicine negotiate with peer hospitals. Each hospital is represented by an
agent that reasons over its own private state; a coordinator ranks offers,
counters the best one and turns the outcome into a contract.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return state.load()
		},
	}

	rootCmd.AddCommand(newNegotiateCmd(state))
	rootCmd.AddCommand(newAgentsCmd(state))
	rootCmd.AddCommand(newSessionsCmd(state))
	rootCmd.AddCommand(newContractsCmd(state))
	rootCmd.AddCommand(newServeCmd(state))
	rootCmd.AddCommand(newConfigCmd(state))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().BoolVar(&state.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&state.configDir, "config-dir", "", "Directory holding config.json")
	rootCmd.PersistentFlags().StringVar(&state.configPath, "config", "", "Path to a config file (overrides --config-dir)")

	return rootCmd
}
