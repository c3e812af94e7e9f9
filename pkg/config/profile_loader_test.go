package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdeck/agentgate/pkg/config"
	"github.com/promptdeck/agentgate/pkg/policy"
	"github.com/promptdeck/agentgate/pkg/preview"
	"github.com/promptdeck/agentgate/pkg/store"
)

const sampleProfile = `name: Relaxed local development
description: Auto-approve the safe read-mostly operations.
rules:
  - kind: terminal
    command_includes: "git status"
  - kind: tool
    tool: search
  - kind: path
    tool: file
    path_pattern: "/tmp/"
  - kind: expr
    expr: 'tool == "context"'
`

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRulesProfile(t *testing.T) {
	profile, err := config.LoadRulesProfile(writeProfile(t, sampleProfile))
	require.NoError(t, err)

	assert.Equal(t, "Relaxed local development", profile.Name)
	assert.False(t, profile.SkipAll)
	require.Len(t, profile.Rules, 4)

	rules, err := profile.PolicyRules()
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.Equal(t, policy.RuleTerminal, rules[0].Kind)
	assert.Equal(t, "git status", rules[0].CommandIncludes)
	assert.Equal(t, preview.ToolSearch, rules[1].Tool)
	assert.Equal(t, "/tmp/", rules[2].PathPattern)
	assert.Equal(t, policy.RuleExpr, rules[3].Kind)
}

func TestLoadRulesProfile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadRulesProfile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("broken yaml", func(t *testing.T) {
		_, err := config.LoadRulesProfile(writeProfile(t, "rules: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("unknown tool", func(t *testing.T) {
		profile, err := config.LoadRulesProfile(writeProfile(t, "rules:\n  - kind: tool\n    tool: browser\n"))
		require.NoError(t, err)
		_, err = profile.PolicyRules()
		assert.ErrorContains(t, err, "unknown tool")
	})

	t.Run("unknown kind", func(t *testing.T) {
		profile, err := config.LoadRulesProfile(writeProfile(t, "rules:\n  - kind: regex\n    expr: x\n"))
		require.NoError(t, err)
		_, err = profile.PolicyRules()
		assert.ErrorContains(t, err, "unknown kind")
	})
}

func TestSeedPreferences(t *testing.T) {
	ctx := context.Background()

	t.Run("first boot seeds", func(t *testing.T) {
		mem := store.NewMemoryStore()
		profile, err := config.LoadRulesProfile(writeProfile(t, sampleProfile))
		require.NoError(t, err)

		seeded, err := config.SeedPreferences(ctx, mem, profile)
		require.NoError(t, err)
		assert.True(t, seeded)

		raw, ok, err := mem.GetPreference(ctx, "", policy.KeyAutoRules)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, policy.DecodeRules(raw), 4)
	})

	t.Run("existing rules are not clobbered", func(t *testing.T) {
		mem := store.NewMemoryStore()
		existing, err := policy.EncodeRules([]policy.Rule{{Kind: policy.RuleTerminal, CommandIncludes: "ls"}})
		require.NoError(t, err)
		require.NoError(t, mem.SetPreference(ctx, "", policy.KeyAutoRules, existing))

		profile, err := config.LoadRulesProfile(writeProfile(t, sampleProfile))
		require.NoError(t, err)

		seeded, err := config.SeedPreferences(ctx, mem, profile)
		require.NoError(t, err)
		assert.False(t, seeded)

		raw, _, err := mem.GetPreference(ctx, "", policy.KeyAutoRules)
		require.NoError(t, err)
		rules := policy.DecodeRules(raw)
		require.Len(t, rules, 1)
		assert.Equal(t, "ls", rules[0].CommandIncludes)
	})

	t.Run("skip-all flag is seeded", func(t *testing.T) {
		mem := store.NewMemoryStore()
		profile := &config.RulesProfile{
			SkipAll: true,
			Rules:   []config.ProfileRule{{Kind: "terminal", CommandIncludes: "pwd"}},
		}

		seeded, err := config.SeedPreferences(ctx, mem, profile)
		require.NoError(t, err)
		require.True(t, seeded)

		raw, ok, err := mem.GetPreference(ctx, "", policy.KeySkipAll)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte(`true`), raw)
	})

	t.Run("nil profile is a no-op", func(t *testing.T) {
		seeded, err := config.SeedPreferences(ctx, store.NewMemoryStore(), nil)
		require.NoError(t, err)
		assert.False(t, seeded)
	})
}
