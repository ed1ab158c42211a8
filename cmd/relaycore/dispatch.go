package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaycore/relaycore/internal/agent"
	"github.com/relaycore/relaycore/internal/dispatch"
	"github.com/relaycore/relaycore/pkg/models"
)

// agentsFile is the JSON shape of --agents: a list of agent definitions.
type agentsFile struct {
	Agents []agent.Definition `json:"agents"`
}

func newDispatchCommand(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run subagent task batches",
	}
	cmd.AddCommand(newDispatchRunCommand(state))
	return cmd
}

func newDispatchRunCommand(state *rootState) *cobra.Command {
	var (
		batchPath  string
		agentsPath string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a task batch described by a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(batchPath)
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}
			var batch dispatch.Batch
			if err := json.Unmarshal(raw, &batch); err != nil {
				return fmt.Errorf("parse batch: %w", err)
			}

			registry := agent.NewRegistry()
			if agentsPath != "" {
				rawAgents, err := os.ReadFile(agentsPath)
				if err != nil {
					return fmt.Errorf("read agents: %w", err)
				}
				var file agentsFile
				if err := json.Unmarshal(rawAgents, &file); err != nil {
					return fmt.Errorf("parse agents: %w", err)
				}
				for i := range file.Agents {
					if err := registry.Register(&file.Agents[i]); err != nil {
						return err
					}
				}
			}

			d, err := dispatch.New(dispatch.Config{
				Registry: registry,
				// The CLI has no provider transport; the loopback factory
				// exercises the full pipeline with echo workers.
				Factory:        loopbackFactory{},
				SessionDir:     state.cfg.Task.SessionDir,
				PythonToolMode: dispatch.PythonToolMode(state.cfg.Task.PythonToolMode),
				MaxConcurrency: state.cfg.Task.MaxConcurrency,
				MaxDepth:       state.cfg.Task.MaxDepth,
				Logger:         state.mustLogger(),
				OnProgress: func(snapshots []dispatch.Progress) {
					for _, p := range snapshots {
						if p.Status == dispatch.StatusRunning && p.CurrentTool != "" {
							fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s %s\n", p.ID, p.Status, p.CurrentTool)
						}
					}
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, details, err := d.Execute(ctx, &batch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			if details.Totals.TotalTokens() > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "total tokens: %d\n", details.Totals.TotalTokens())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&batchPath, "batch", "batch.json", "path to the task batch JSON")
	cmd.Flags().StringVar(&agentsPath, "agents", "", "path to an agent definitions JSON")
	return cmd
}

// loopbackFactory spawns echo workers: each session immediately calls
// submit_result with its assignment text. It lets the CLI drive the
// whole dispatch pipeline without an upstream provider.
type loopbackFactory struct{}

func (loopbackFactory) New(ctx context.Context, cfg dispatch.SessionConfig) (dispatch.Session, error) {
	return &loopbackSession{onEvent: cfg.OnEvent}, nil
}

type loopbackSession struct {
	onEvent func(models.SessionEvent)
}

func (s *loopbackSession) Prompt(ctx context.Context, text string, opts dispatch.PromptOptions) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.onEvent == nil {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{"data": map[string]string{"echo": text}})
	s.onEvent(models.SessionEvent{
		Type:    models.EventMessageStart,
		Message: &models.MessagePayload{Role: models.RoleAssistant},
	})
	s.onEvent(models.SessionEvent{
		Type:    models.EventMessageEnd,
		Message: &models.MessagePayload{Role: models.RoleAssistant, Text: "echoing assignment"},
		Usage:   &models.Usage{},
	})
	s.onEvent(models.SessionEvent{
		Type: models.EventToolExecutionEnd,
		Tool: &models.ToolPayload{Name: dispatch.SubmitResultTool, Args: payload},
	})
	return nil
}

func (s *loopbackSession) SetActiveTools([]string) {}
func (s *loopbackSession) Abort(string)            {}
func (s *loopbackSession) Close() error            { return nil }
