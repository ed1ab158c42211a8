package dispatch

import (
	"reflect"
	"strings"
	"testing"

	"github.com/relaycore/relaycore/internal/agent"
)

func TestValidateTasks(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []TaskItem
		wantSub string
	}{
		{"empty list", nil, "no tasks"},
		{"blank id", []TaskItem{{ID: "  "}}, "empty id"},
		{"duplicate after folding", []TaskItem{{ID: "One"}, {ID: "ONE"}}, "collide"},
		{"ok", []TaskItem{{ID: "one"}, {ID: "two"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validateTasks(tt.tasks)
			if tt.wantSub == "" {
				if got != "" {
					t.Errorf("validateTasks = %q, want ok", got)
				}
				return
			}
			if !strings.Contains(got, tt.wantSub) {
				t.Errorf("validateTasks = %q, want substring %q", got, tt.wantSub)
			}
		})
	}
}

func TestEffectiveTools(t *testing.T) {
	def := &agent.Definition{Name: "x", AllowedTools: []string{"read_file", "exec", "task"}}

	tests := []struct {
		name     string
		mode     PythonToolMode
		depth    int
		maxDepth int
		want     []string
	}{
		{
			name: "bash expansion, depth ok",
			mode: PythonToolModeBash, depth: 0, maxDepth: 3,
			want: []string{"read_file", "bash", "task", SubmitResultTool},
		},
		{
			name: "both expansion",
			mode: PythonToolModeBoth, depth: 0, maxDepth: 3,
			want: []string{"read_file", "bash", "python", "task", SubmitResultTool},
		},
		{
			name: "task stripped at recursion ceiling",
			mode: PythonToolModePython, depth: 2, maxDepth: 3,
			want: []string{"read_file", "python", SubmitResultTool},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectiveTools(def, nil, tt.mode, tt.depth, tt.maxDepth)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("effectiveTools = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectiveToolsInheritsParent(t *testing.T) {
	def := &agent.Definition{Name: "x"}
	got := effectiveTools(def, []string{"grep", "exec"}, PythonToolModeBash, 0, 3)
	want := []string{"grep", "bash", SubmitResultTool}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("effectiveTools = %v, want %v", got, want)
	}
}

func TestToolChoiceStyleForModel(t *testing.T) {
	tests := []struct {
		model string
		want  ToolChoiceStyle
	}{
		{"gpt-5", ToolChoiceOpenAI},
		{"o3-mini", ToolChoiceOpenAI},
		{"codex-latest", ToolChoiceOpenAI},
		{"claude-sonnet-4", ToolChoiceAnthropic},
		{"", ToolChoiceNone},
		{"llama-3", ToolChoiceNone},
	}
	for _, tt := range tests {
		if got := toolChoiceStyleForModel(tt.model); got != tt.want {
			t.Errorf("toolChoiceStyleForModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}
