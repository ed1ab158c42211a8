package policy

import "sort"

// ToolGroups names bundles of tools for bulk policy grants. Group names
// carry the "group:" prefix so they never collide with tool names.
var ToolGroups = map[string][]string{
	// Filesystem tools
	"group:fs": {"read_file", "write_file", "edit_file", "apply_patch"},

	// Search and navigation tools
	"group:search": {"grep", "glob", "list_dir"},

	// Execution tools; "exec" is the abstract capability the dispatcher
	// expands per the Python tool mode.
	"group:exec": {"exec"},

	// Subagent spawning
	"group:task": {"task"},

	// Read-only tools safe for reviewer/explorer agents
	"group:readonly": {"read_file", "grep", "glob", "list_dir"},
}

// ProfileGrants maps profiles to their base tool grant.
var ProfileGrants = map[Profile][]string{
	ProfileMinimal:  {"submit_result", "status"},
	ProfileExplorer: {"group:readonly"},
	ProfileCoding:   {"group:fs", "group:search", "group:exec", "group:task"},
}

// ExpandGroups expands group references into their constituent tools,
// passing plain tool names through and deduplicating while preserving
// first-seen order.
func ExpandGroups(items []string) []string {
	var result []string
	seen := make(map[string]bool)

	add := func(name string) {
		name = NormalizeTool(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		result = append(result, name)
	}

	for _, item := range items {
		if tools, ok := ToolGroups[NormalizeTool(item)]; ok {
			for _, tool := range tools {
				add(tool)
			}
			continue
		}
		add(item)
	}
	return result
}

// IsGroup reports whether name is a known group reference.
func IsGroup(name string) bool {
	_, ok := ToolGroups[NormalizeTool(name)]
	return ok
}

// ListGroups returns the known group names, sorted.
func ListGroups() []string {
	out := make([]string, 0, len(ToolGroups))
	for name := range ToolGroups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GroupTools returns a copy of a group's tool list.
func GroupTools(name string) []string {
	tools, ok := ToolGroups[NormalizeTool(name)]
	if !ok {
		return nil
	}
	return append([]string(nil), tools...)
}
