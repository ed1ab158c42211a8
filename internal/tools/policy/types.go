// Package policy resolves which tools a worker session may use: named
// groups for bulk grants, per-agent allow/deny lists, and profiles with
// sensible defaults. Deny always wins over allow.
package policy

import "strings"

// Profile is a pre-configured tool access level.
type Profile string

const (
	// ProfileMinimal allows only the submit tool and status checks.
	ProfileMinimal Profile = "minimal"

	// ProfileExplorer allows read-only inspection tools.
	ProfileExplorer Profile = "explorer"

	// ProfileCoding allows filesystem, exec, and search tools.
	ProfileCoding Profile = "coding"

	// ProfileFull allows every tool not explicitly denied.
	ProfileFull Profile = "full"
)

// Policy is one agent's tool access rule set.
type Policy struct {
	// Profile supplies the base grant.
	Profile Profile `json:"profile,omitempty" yaml:"profile"`

	// Allow grants tools or groups beyond the profile.
	Allow []string `json:"allow,omitempty" yaml:"allow"`

	// Deny revokes tools or groups, overriding every allow.
	Deny []string `json:"deny,omitempty" yaml:"deny"`
}

// NormalizeTool canonicalizes a tool name for comparison.
func NormalizeTool(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeTools canonicalizes a list, dropping empties.
func NormalizeTools(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = NormalizeTool(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// NewPolicy builds a policy from a profile.
func NewPolicy(profile Profile) *Policy {
	return &Policy{Profile: profile}
}

// WithAllow adds allow entries, returning the policy for chaining.
func (p *Policy) WithAllow(tools ...string) *Policy {
	p.Allow = append(p.Allow, tools...)
	return p
}

// WithDeny adds deny entries, returning the policy for chaining.
func (p *Policy) WithDeny(tools ...string) *Policy {
	p.Deny = append(p.Deny, tools...)
	return p
}
