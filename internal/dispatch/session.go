package dispatch

import (
	"context"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/relaycore/relaycore/internal/agent"
	"github.com/relaycore/relaycore/pkg/models"
)

// PythonToolMode controls how the abstract "exec" capability expands in a
// worker's tool set.
type PythonToolMode string

const (
	PythonToolModeBash   PythonToolMode = "bash"
	PythonToolModePython PythonToolMode = "python"
	PythonToolModeBoth   PythonToolMode = "both"
)

// SessionConfig describes one worker session to the session factory.
type SessionConfig struct {
	// TaskID identifies the task this session serves.
	TaskID string

	// Agent is the resolved persona.
	Agent *agent.Definition

	// Tools is the effective tool allowlist after policy resolution,
	// exec expansion, and recursion-depth stripping.
	Tools []string

	// Model is the effective model: agent's preferred model, then the
	// batch's, then the parent's active model.
	Model string

	// Thinking is the effective thinking level: agent's, then caller's.
	Thinking agent.ThinkingLevel

	// OutputSchema validates submit_result payloads when non-nil.
	OutputSchema map[string]any

	// ArtifactDir is where the worker may write its own artifacts.
	ArtifactDir string

	// WorktreeDir is the ephemeral git worktree root in isolated mode,
	// empty otherwise.
	WorktreeDir string

	// PythonToolMode is the exec expansion for this session.
	PythonToolMode PythonToolMode

	// Depth is the recursion depth of this spawn.
	Depth int

	// OnEvent receives every session event, synchronously: a Prompt call
	// does not return until the events of its turn have been delivered
	// through this callback.
	OnEvent func(models.SessionEvent)
}

// ToolChoiceStyle selects the forced-tool-choice dialect for a model.
type ToolChoiceStyle string

const (
	ToolChoiceOpenAI    ToolChoiceStyle = "openai"
	ToolChoiceAnthropic ToolChoiceStyle = "anthropic"
	ToolChoiceNone      ToolChoiceStyle = "none"
)

// ForcedTool is a model-dialect-neutral forced tool choice. The session
// implementation renders it into whichever wire shape its provider
// expects.
type ForcedTool struct {
	Name string
}

// OpenAI renders the OpenAI-style forced choice.
func (f ForcedTool) OpenAI() openai.ToolChoice {
	return openai.ToolChoice{
		Type:     openai.ToolTypeFunction,
		Function: openai.ToolFunction{Name: f.Name},
	}
}

// Anthropic renders the Anthropic-style forced choice.
func (f ForcedTool) Anthropic() anthropic.ToolChoiceUnionParam {
	return anthropic.ToolChoiceParamOfTool(f.Name)
}

// PromptOptions modifies a single Prompt call.
type PromptOptions struct {
	// ForceTool, when non-nil, asks the model to call exactly this tool.
	ForceTool *ForcedTool

	// Style picks the dialect for the forced choice. Sessions ignore the
	// hint entirely when ToolChoiceNone.
	Style ToolChoiceStyle
}

// Session is one in-process subagent worker. Implementations deliver
// every event of a prompt turn through the config's OnEvent callback
// before Prompt returns. Abort is safe from any goroutine, including
// from inside the callback.
type Session interface {
	// Prompt runs one turn. It blocks until the turn's events have all
	// been delivered.
	Prompt(ctx context.Context, text string, opts PromptOptions) error

	// SetActiveTools replaces the session's active tool set.
	SetActiveTools(names []string)

	// Abort requests cooperative termination of the in-flight turn.
	Abort(reason string)

	// Close releases session resources.
	Close() error
}

// SessionFactory creates worker sessions. The LLM transport behind a
// session is out of scope for this package; tests supply scripted fakes.
type SessionFactory interface {
	New(ctx context.Context, cfg SessionConfig) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context, cfg SessionConfig) (Session, error)

func (f SessionFactoryFunc) New(ctx context.Context, cfg SessionConfig) (Session, error) {
	return f(ctx, cfg)
}

// toolChoiceStyleForModel picks the reminder dialect from the model name.
func toolChoiceStyleForModel(model string) ToolChoiceStyle {
	switch {
	case model == "":
		return ToolChoiceNone
	case hasAnyPrefix(model, "gpt-", "o1", "o3", "o4", "codex"):
		return ToolChoiceOpenAI
	case hasAnyPrefix(model, "claude"):
		return ToolChoiceAnthropic
	default:
		return ToolChoiceNone
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}
