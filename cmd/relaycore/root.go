package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/observability"
)

// rootState carries the resolved configuration and logger shared by all
// subcommands.
type rootState struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	state := &rootState{}

	root := &cobra.Command{
		Use:           "relaycore",
		Short:         "Agent orchestration core: subagent dispatch, credential rotation, line editor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(state.configPath)
			if err != nil {
				return err
			}
			if state.logLevel != "" {
				cfg.LogLevel = state.logLevel
			}
			state.cfg = cfg
			state.logger = observability.NewLogger(parseLevel(cfg.LogLevel))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&state.configPath, "config", "", "path to relaycore.yaml")
	root.PersistentFlags().StringVar(&state.logLevel, "log-level", "", "debug|info|warn|error")

	root.AddCommand(newCredentialCommand(state))
	root.AddCommand(newDispatchCommand(state))
	root.AddCommand(newEditorDemoCommand(state))
	return root
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// mustLogger returns the resolved logger, falling back to a default for
// early startup paths.
func (s *rootState) mustLogger() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
