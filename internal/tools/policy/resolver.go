package policy

// Resolver evaluates policies against tool names. It is stateless beyond
// the built-in group table; construction exists so future callers can
// register extra groups without mutating globals.
type Resolver struct {
	groups map[string][]string
}

// NewResolver builds a resolver over the built-in groups.
func NewResolver() *Resolver {
	groups := make(map[string][]string, len(ToolGroups))
	for name, tools := range ToolGroups {
		groups[name] = append([]string(nil), tools...)
	}
	return &Resolver{groups: groups}
}

// AddGroup registers or replaces a named group on this resolver.
func (r *Resolver) AddGroup(name string, tools []string) {
	r.groups["group:"+NormalizeTool(name)] = NormalizeTools(tools)
}

// expand resolves group references against this resolver's table.
func (r *Resolver) expand(items []string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, item := range items {
		norm := NormalizeTool(item)
		tools, ok := r.groups[norm]
		if !ok {
			tools = []string{norm}
		}
		for _, tool := range tools {
			tool = NormalizeTool(tool)
			if tool == "" || seen[tool] {
				continue
			}
			seen[tool] = true
			result = append(result, tool)
		}
	}
	return result
}

// IsAllowed decides whether a policy permits a tool. Deny entries win;
// a full profile or an empty policy with no allow list permits
// everything else; otherwise the tool must appear in the profile grant
// or the allow list.
func (r *Resolver) IsAllowed(p *Policy, toolName string) bool {
	if p == nil {
		return true
	}
	name := NormalizeTool(toolName)

	for _, denied := range r.expand(p.Deny) {
		if denied == name {
			return false
		}
	}

	allowed := r.expand(append(append([]string(nil), ProfileGrants[p.Profile]...), p.Allow...))
	if len(allowed) == 0 {
		// No explicit grant: full profile and unconstrained policies
		// permit everything not denied.
		return p.Profile == ProfileFull || p.Profile == ""
	}
	for _, tool := range allowed {
		if tool == name {
			return true
		}
	}
	return p.Profile == ProfileFull
}

// FilterAllowed returns the subset of tools the policy permits,
// preserving order.
func (r *Resolver) FilterAllowed(p *Policy, tools []string) []string {
	out := make([]string, 0, len(tools))
	for _, tool := range tools {
		if r.IsAllowed(p, tool) {
			out = append(out, tool)
		}
	}
	return out
}

// Merge combines policies left to right: the most specific profile wins,
// allows union, denies union.
func Merge(policies ...*Policy) *Policy {
	merged := &Policy{}
	for _, p := range policies {
		if p == nil {
			continue
		}
		if p.Profile != "" {
			merged.Profile = p.Profile
		}
		merged.Allow = append(merged.Allow, p.Allow...)
		merged.Deny = append(merged.Deny, p.Deny...)
	}
	return merged
}
