package security_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/promptdeck/agentgate/pkg/preview"
	"github.com/promptdeck/agentgate/pkg/security"
)

func TestGateCheck(t *testing.T) {
	t.Run("zero value denies mutating tools", func(t *testing.T) {
		g := security.NewGate(security.Capabilities{})

		reason, ok := g.Check(preview.ToolFile)
		assert.False(t, ok)
		assert.Equal(t, security.ReasonFileWriteDisabled, reason)

		reason, ok = g.Check(preview.ToolEdit)
		assert.False(t, ok)
		assert.Equal(t, security.ReasonFileWriteDisabled, reason)

		reason, ok = g.Check(preview.ToolTerminal)
		assert.False(t, ok)
		assert.Equal(t, security.ReasonCodeExecutionDisabled, reason)
	})

	t.Run("read-only tools always pass", func(t *testing.T) {
		g := security.NewGate(security.Capabilities{})

		for _, tool := range []preview.Tool{preview.ToolSearch, preview.ToolContext} {
			reason, ok := g.Check(tool)
			assert.True(t, ok, "tool %s", tool)
			assert.Empty(t, reason)
		}
	})

	t.Run("file write grant covers file and edit only", func(t *testing.T) {
		g := security.NewGate(security.Capabilities{FileWrite: true})

		_, ok := g.Check(preview.ToolFile)
		assert.True(t, ok)
		_, ok = g.Check(preview.ToolEdit)
		assert.True(t, ok)

		reason, ok := g.Check(preview.ToolTerminal)
		assert.False(t, ok)
		assert.Equal(t, security.ReasonCodeExecutionDisabled, reason)
	})

	t.Run("code execution grant covers terminal only", func(t *testing.T) {
		g := security.NewGate(security.Capabilities{CodeExecution: true})

		_, ok := g.Check(preview.ToolTerminal)
		assert.True(t, ok)

		reason, ok := g.Check(preview.ToolFile)
		assert.False(t, ok)
		assert.Equal(t, security.ReasonFileWriteDisabled, reason)
	})
}

func TestFromEnv(t *testing.T) {
	t.Run("unset means denied", func(t *testing.T) {
		t.Setenv(security.EnvFileWrite, "")
		t.Setenv(security.EnvCodeExecution, "")

		caps := security.FromEnv()
		assert.False(t, caps.FileWrite)
		assert.False(t, caps.CodeExecution)
	})

	t.Run("accepts boolean spellings", func(t *testing.T) {
		t.Setenv(security.EnvFileWrite, "true")
		t.Setenv(security.EnvCodeExecution, "1")

		caps := security.FromEnv()
		assert.True(t, caps.FileWrite)
		assert.True(t, caps.CodeExecution)
	})

	t.Run("garbage means denied", func(t *testing.T) {
		t.Setenv(security.EnvFileWrite, "yes please")

		caps := security.FromEnv()
		assert.False(t, caps.FileWrite)
	})
}
