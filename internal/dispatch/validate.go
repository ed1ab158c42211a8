package dispatch

import (
	"fmt"
	"strings"

	"github.com/relaycore/relaycore/internal/agent"
	"github.com/relaycore/relaycore/internal/exec"
	"github.com/relaycore/relaycore/internal/tools/policy"
)

// TaskTool is the tool name that lets an agent spawn children. It is
// stripped from a worker's tool set when the spawn would reach the
// configured recursion ceiling.
const TaskTool = "task"

// admit runs the fail-fast admission checks and resolves the batch's
// agent definition. A non-empty reject string means the batch must be
// returned as a single textual result without starting any work.
func (d *Dispatcher) admit(batch *Batch) (def *agent.Definition, reject string) {
	if batch == nil {
		return nil, "no batch provided"
	}

	def, err := d.registry.Get(batch.Agent)
	if err != nil {
		return nil, fmt.Sprintf("unknown agent %q; known agents: %s", batch.Agent, strings.Join(d.registry.Names(), ", "))
	}

	if d.parent != nil && !d.parent.CanSpawn(def.Name) {
		rule := strings.TrimSpace(d.parent.SpawnableChildren)
		if rule == "" {
			return nil, fmt.Sprintf("agent %q may not spawn subagents", d.parent.Name)
		}
		return nil, fmt.Sprintf("agent %q may not spawn %q (allowed: %s)", d.parent.Name, def.Name, rule)
	}

	if blocked := BlockedAgent(); blocked != "" && strings.EqualFold(blocked, def.Name) {
		return nil, fmt.Sprintf("agent %q is blocked from spawning itself", def.Name)
	}

	if msg := validateTasks(batch.Tasks); msg != "" {
		return nil, msg
	}

	for _, task := range batch.Tasks {
		if missing := d.registry.MissingSkills(task.Skills); len(missing) > 0 {
			return nil, fmt.Sprintf("task %q requests unknown skills: %s", task.ID, strings.Join(missing, ", "))
		}
	}

	return def, ""
}

// validateTasks enforces the task-list shape: non-empty, ids present,
// bounded, and unique under case-folding.
func validateTasks(tasks []TaskItem) string {
	if len(tasks) == 0 {
		return "batch contains no tasks"
	}
	seen := make(map[string]int, len(tasks))
	for i, task := range tasks {
		id := strings.TrimSpace(task.ID)
		if id == "" {
			return fmt.Sprintf("task %d has an empty id", i)
		}
		if len(id) > MaxTaskIDLength {
			return fmt.Sprintf("task id %q exceeds %d characters", id, MaxTaskIDLength)
		}
		// Task ids become artifact filenames and worktree paths.
		if !exec.IsSafeArgument(id) || strings.ContainsAny(id, "/\\") {
			return fmt.Sprintf("task id %q contains unsafe characters", id)
		}
		folded := strings.ToLower(id)
		if prev, dup := seen[folded]; dup {
			return fmt.Sprintf("task ids %q (index %d) and %q (index %d) collide case-insensitively", tasks[prev].ID, prev, task.ID, i)
		}
		seen[folded] = i
	}
	return ""
}

// effectiveTools resolves a worker's tool set: the agent's allowlist (or
// the parent's full set) with group references expanded, the exec
// capability expanded per the Python tool mode, and the task tool
// stripped at the recursion ceiling.
func effectiveTools(def *agent.Definition, parentTools []string, mode PythonToolMode, depth, maxDepth int) []string {
	base := def.AllowedTools
	if len(base) == 0 {
		base = parentTools
	}
	base = policy.ExpandGroups(base)

	out := make([]string, 0, len(base)+1)
	for _, name := range base {
		if name == "exec" {
			out = append(out, expandExecTool(mode)...)
			continue
		}
		out = append(out, name)
	}

	if depth+1 >= maxDepth {
		filtered := out[:0]
		for _, name := range out {
			if name != TaskTool {
				filtered = append(filtered, name)
			}
		}
		out = filtered
	}

	if !containsString(out, SubmitResultTool) {
		out = append(out, SubmitResultTool)
	}
	return out
}

// expandExecTool maps the abstract exec capability onto concrete tools.
func expandExecTool(mode PythonToolMode) []string {
	switch mode {
	case PythonToolModePython:
		return []string{"python"}
	case PythonToolModeBoth:
		return []string{"bash", "python"}
	default:
		return []string{"bash"}
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
