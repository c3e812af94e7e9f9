package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/promptdeck/agentgate/pkg/policy"
	"github.com/promptdeck/agentgate/pkg/preview"
)

// RulesProfile is a YAML bundle of auto-approval rules shipped with a
// deployment and seeded into preferences on first boot.
type RulesProfile struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	SkipAll     bool          `yaml:"skip_all,omitempty" json:"skip_all,omitempty"`
	Rules       []ProfileRule `yaml:"rules" json:"rules"`
}

// ProfileRule mirrors policy.Rule with YAML tags.
type ProfileRule struct {
	Kind            string   `yaml:"kind" json:"kind"`
	Tool            string   `yaml:"tool,omitempty" json:"tool,omitempty"`
	Actions         []string `yaml:"actions,omitempty" json:"actions,omitempty"`
	PathPattern     string   `yaml:"path_pattern,omitempty" json:"path_pattern,omitempty"`
	CommandIncludes string   `yaml:"command_includes,omitempty" json:"command_includes,omitempty"`
	Expr            string   `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// LoadRulesProfile reads and parses a profile YAML.
func LoadRulesProfile(path string) (*RulesProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var profile RulesProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	return &profile, nil
}

// PolicyRules converts the profile's rules to engine rules, rejecting
// entries with unknown kinds or tools.
func (p *RulesProfile) PolicyRules() ([]policy.Rule, error) {
	rules := make([]policy.Rule, 0, len(p.Rules))
	for i, pr := range p.Rules {
		r := policy.Rule{
			Kind:            policy.RuleKind(pr.Kind),
			Tool:            preview.Tool(pr.Tool),
			Actions:         pr.Actions,
			PathPattern:     pr.PathPattern,
			CommandIncludes: pr.CommandIncludes,
			Expr:            pr.Expr,
		}

		switch r.Kind {
		case policy.RuleTool:
			if !r.Tool.Valid() {
				return nil, fmt.Errorf("profile rule %d: unknown tool %q", i, pr.Tool)
			}
		case policy.RulePath:
			if r.PathPattern == "" {
				return nil, fmt.Errorf("profile rule %d: path rule needs path_pattern", i)
			}
			if r.Tool != "" && !r.Tool.Valid() {
				return nil, fmt.Errorf("profile rule %d: unknown tool %q", i, pr.Tool)
			}
		case policy.RuleTerminal:
			if r.CommandIncludes == "" {
				return nil, fmt.Errorf("profile rule %d: terminal rule needs command_includes", i)
			}
		case policy.RuleExpr:
			if r.Expr == "" {
				return nil, fmt.Errorf("profile rule %d: expr rule needs expr", i)
			}
		default:
			return nil, fmt.Errorf("profile rule %d: unknown kind %q", i, pr.Kind)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// SeedPreferences writes the profile into the global preference scope,
// but only when no rules are stored yet. Operator edits made through
// the rules endpoint survive restarts.
func SeedPreferences(ctx context.Context, prefs policy.PreferenceStore, profile *RulesProfile) (bool, error) {
	if profile == nil {
		return false, nil
	}

	_, exists, err := prefs.GetPreference(ctx, "", policy.KeyAutoRules)
	if err != nil {
		return false, fmt.Errorf("seed profile: reading rules: %w", err)
	}
	if exists {
		return false, nil
	}

	rules, err := profile.PolicyRules()
	if err != nil {
		return false, err
	}
	encoded, err := policy.EncodeRules(rules)
	if err != nil {
		return false, fmt.Errorf("seed profile: encoding rules: %w", err)
	}
	if err := prefs.SetPreference(ctx, "", policy.KeyAutoRules, encoded); err != nil {
		return false, fmt.Errorf("seed profile: writing rules: %w", err)
	}

	if profile.SkipAll {
		if err := prefs.SetPreference(ctx, "", policy.KeySkipAll, []byte(`true`)); err != nil {
			return false, fmt.Errorf("seed profile: writing skip-all: %w", err)
		}
	}
	return true, nil
}
