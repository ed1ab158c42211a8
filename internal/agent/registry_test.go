package agent

import (
	"errors"
	"testing"
)

func TestSpawnRuleAllows(t *testing.T) {
	tests := []struct {
		name  string
		rule  SpawnRule
		child string
		want  bool
	}{
		{"empty rule denies all", "", "explorer", false},
		{"whitespace rule denies all", "   ", "explorer", false},
		{"star allows all", "*", "anything", true},
		{"whitelist hit", "explorer,reviewer", "reviewer", true},
		{"whitelist miss", "explorer,reviewer", "builder", false},
		{"whitelist is case-insensitive", "Explorer", "explorer", true},
		{"whitelist trims spaces", "explorer, reviewer", "reviewer", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Allows(tt.child); got != tt.want {
				t.Errorf("SpawnRule(%q).Allows(%q) = %v, want %v", tt.rule, tt.child, got, tt.want)
			}
		})
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Definition{Name: "Explorer", Description: "reads code"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	def, err := r.Get("explorer")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if def.Description != "reads code" {
		t.Errorf("Description = %q", def.Description)
	}

	// Get returns a copy: mutating it must not affect the registry.
	def.Description = "mutated"
	again, _ := r.Get("explorer")
	if again.Description != "reads code" {
		t.Error("Get returned a shared definition instead of a clone")
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryRejectsUnnamed(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Definition{}); err == nil {
		t.Error("Register of unnamed definition should fail")
	}
	if err := r.Register(nil); err == nil {
		t.Error("Register(nil) should fail")
	}
}

func TestRegistrySkills(t *testing.T) {
	r := NewRegistry()
	r.RegisterSkill(Skill{Name: "git-bisect"})
	r.RegisterSkill(Skill{Name: ""}) // ignored

	if !r.HasSkill("Git-Bisect") {
		t.Error("HasSkill should be case-insensitive")
	}
	missing := r.MissingSkills([]string{"git-bisect", "profiling", "fuzzing"})
	if len(missing) != 2 || missing[0] != "profiling" || missing[1] != "fuzzing" {
		t.Errorf("MissingSkills = %v", missing)
	}
}

func TestDefinitionClone(t *testing.T) {
	def := &Definition{
		Name:         "reviewer",
		AllowedTools: []string{"read_file", "grep"},
		OutputSchema: map[string]any{"type": "object"},
	}
	clone := def.Clone()
	clone.AllowedTools[0] = "write_file"
	clone.OutputSchema["type"] = "array"

	if def.AllowedTools[0] != "read_file" {
		t.Error("Clone shares AllowedTools backing array")
	}
	if def.OutputSchema["type"] != "object" {
		t.Error("Clone shares OutputSchema map")
	}
}
