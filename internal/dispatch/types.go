// Package dispatch fans a batch of independent subtasks out across a
// bounded pool of concurrent subagent worker sessions, reduces each
// session's event stream into live progress, enforces the submit-result
// contract, and aggregates ordered results even under cancellation.
package dispatch

import (
	"time"

	"github.com/relaycore/relaycore/pkg/models"
)

// MaxTaskIDLength bounds task ids within a batch.
const MaxTaskIDLength = 32

// TaskItem is one unit of work within a batch.
type TaskItem struct {
	// ID is unique case-insensitively within the batch, at most 32 chars.
	ID string `json:"id"`

	// Description is the human-visible label shown in progress output.
	Description string `json:"description"`

	// Assignment is the prompt text handed to the worker.
	Assignment string `json:"assignment"`

	// Skills names capabilities the worker should load. Every entry must
	// exist in the parent's skill registry.
	Skills []string `json:"skills,omitempty"`
}

// Batch is the caller's unit of dispatch.
type Batch struct {
	// Agent names the persona every worker in this batch runs as.
	Agent string `json:"agent"`

	// Context is optional compacted parent context shared across workers.
	Context string `json:"context,omitempty"`

	// Isolated runs each worker in its own ephemeral git worktree and
	// reconciles the deltas as patches afterwards.
	Isolated bool `json:"isolated,omitempty"`

	// Schema, when set, overrides the agent's output schema for
	// submit_result validation.
	Schema map[string]any `json:"schema,omitempty"`

	// Model overrides the parent's active model for every worker unless
	// the agent itself declares a preferred model.
	Model string `json:"model,omitempty"`

	Tasks []TaskItem `json:"tasks"`
}

// Status is a task's live state. Transitions are monotonic:
// pending → running → {completed | failed | aborted}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// recentToolLimit bounds the per-task tool history ring.
const recentToolLimit = 5

// ToolRecord is one entry of a task's bounded tool history.
type ToolRecord struct {
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
}

// Progress is the live per-task state the dispatcher emits.
type Progress struct {
	Index int    `json:"index"`
	ID    string `json:"id"`

	Status    Status `json:"status"`
	ToolCount int    `json:"tool_count"`
	Tokens    int64  `json:"tokens"`

	CurrentTool        string    `json:"current_tool,omitempty"`
	CurrentToolArgs    string    `json:"current_tool_args,omitempty"`
	CurrentToolStarted time.Time `json:"current_tool_started,omitempty"`

	// RecentTools holds at most the last 5 finished tools.
	RecentTools []ToolRecord `json:"recent_tools,omitempty"`

	// RecentOutput is the tail of the current assistant message: the last
	// non-empty lines of streamed deltas, bounded by an 8 KiB ring.
	RecentOutput []string `json:"recent_output,omitempty"`

	// ExtractedToolData collects extractor payloads keyed by tool name.
	ExtractedToolData map[string][]any `json:"extracted_tool_data,omitempty"`
}

// clone returns a snapshot safe to hand to emit callbacks while the
// observer keeps mutating the live struct.
func (p *Progress) clone() Progress {
	out := *p
	out.RecentTools = append([]ToolRecord(nil), p.RecentTools...)
	out.RecentOutput = append([]string(nil), p.RecentOutput...)
	if p.ExtractedToolData != nil {
		out.ExtractedToolData = make(map[string][]any, len(p.ExtractedToolData))
		for k, v := range p.ExtractedToolData {
			out.ExtractedToolData[k] = append([]any(nil), v...)
		}
	}
	return out
}

// Result is a task's terminal state.
type Result struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Agent string `json:"agent"`

	ExitCode  int    `json:"exit_code"`
	Output    string `json:"output"`
	Stderr    string `json:"stderr,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`

	Duration time.Duration `json:"duration"`
	Tokens   int64         `json:"tokens"`
	Usage    *models.Usage `json:"usage,omitempty"`

	OutputPath string `json:"output_path,omitempty"`
	PatchPath  string `json:"patch_path,omitempty"`

	ExtractedToolData map[string][]any `json:"extracted_tool_data,omitempty"`

	Aborted bool `json:"aborted,omitempty"`
}

// BatchStats is an aggregated summary derived from the per-task results.
type BatchStats struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	WallTime  time.Duration `json:"wall_time"`
}

// Details is the structured half of Execute's return value.
type Details struct {
	Results  []Result     `json:"results"`
	Totals   models.Usage `json:"totals"`
	Progress []Progress   `json:"progress"`
	Stats    BatchStats   `json:"stats"`

	// UnreconciledPatches lists patch artifacts left behind when an
	// isolated batch's combined patch failed git apply --check.
	UnreconciledPatches []string `json:"unreconciled_patches,omitempty"`
}

// ProgressFunc receives coalesced progress snapshots during execution.
type ProgressFunc func(snapshots []Progress)
