package preview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTool(t *testing.T) {
	t.Run("accepts known tools", func(t *testing.T) {
		for _, name := range []string{"file", "edit", "terminal", "search", "context"} {
			tool, err := ParseTool(name)
			require.NoError(t, err)
			assert.Equal(t, Tool(name), tool)
		}
	})

	t.Run("rejects unknown tool", func(t *testing.T) {
		_, err := ParseTool("browser")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser")
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ParseTool("")
		require.Error(t, err)
	})
}

func TestToolMutating(t *testing.T) {
	assert.True(t, ToolFile.Mutating())
	assert.True(t, ToolEdit.Mutating())
	assert.True(t, ToolTerminal.Mutating())
	assert.False(t, ToolSearch.Mutating())
	assert.False(t, ToolContext.Mutating())
}

func TestNewEnvelope(t *testing.T) {
	args := map[string]interface{}{"path": "/tmp/notes.md", "content": "hello"}
	detail := map[string]interface{}{"path": "/tmp/notes.md"}

	env, err := NewEnvelope("sess-1", ToolFile, "write", "Write /tmp/notes.md", args, detail)
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "sess-1", env.SessionID)
	assert.Equal(t, ToolFile, env.Tool)
	assert.Equal(t, "write", env.Action)
	assert.False(t, env.CreatedAt.IsZero())
	assert.True(t, strings.HasPrefix(env.Hash, "sha256:"), "hash %q missing prefix", env.Hash)

	t.Run("distinct ids per envelope", func(t *testing.T) {
		other, err := NewEnvelope("sess-1", ToolFile, "write", "Write /tmp/notes.md", args, detail)
		require.NoError(t, err)
		assert.NotEqual(t, env.ID, other.ID)
		// Same semantic content fingerprints identically.
		assert.Equal(t, env.Hash, other.Hash)
	})

	t.Run("rejects unknown tool", func(t *testing.T) {
		_, err := NewEnvelope("sess-1", Tool("browser"), "open", "", nil, nil)
		require.Error(t, err)
	})

	t.Run("rejects missing session", func(t *testing.T) {
		_, err := NewEnvelope("", ToolFile, "write", "", nil, nil)
		require.Error(t, err)
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("key order does not matter", func(t *testing.T) {
		h1, err := Fingerprint(ToolTerminal, "run",
			map[string]interface{}{"command": "ls", "cwd": "/srv"},
			map[string]interface{}{"command": "ls"})
		require.NoError(t, err)

		h2, err := Fingerprint(ToolTerminal, "run",
			map[string]interface{}{"cwd": "/srv", "command": "ls"},
			map[string]interface{}{"command": "ls"})
		require.NoError(t, err)

		assert.Equal(t, h1, h2)
	})

	t.Run("semantic fields change the hash", func(t *testing.T) {
		base, err := Fingerprint(ToolFile, "write", map[string]interface{}{"path": "/a"}, nil)
		require.NoError(t, err)

		otherAction, err := Fingerprint(ToolFile, "create", map[string]interface{}{"path": "/a"}, nil)
		require.NoError(t, err)
		assert.NotEqual(t, base, otherAction)

		otherArgs, err := Fingerprint(ToolFile, "write", map[string]interface{}{"path": "/b"}, nil)
		require.NoError(t, err)
		assert.NotEqual(t, base, otherArgs)

		otherTool, err := Fingerprint(ToolEdit, "write", map[string]interface{}{"path": "/a"}, nil)
		require.NoError(t, err)
		assert.NotEqual(t, base, otherTool)
	})

	t.Run("unicode forms converge", func(t *testing.T) {
		h1, err := Fingerprint(ToolFile, "write", map[string]interface{}{"path": "/tmp/café"}, nil)
		require.NoError(t, err)
		h2, err := Fingerprint(ToolFile, "write", map[string]interface{}{"path": "/tmp/café"}, nil)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("nil and empty detail are distinct from populated", func(t *testing.T) {
		empty, err := Fingerprint(ToolSearch, "grep", map[string]interface{}{"q": "x"}, nil)
		require.NoError(t, err)
		populated, err := Fingerprint(ToolSearch, "grep", map[string]interface{}{"q": "x"},
			map[string]interface{}{"scope": "repo"})
		require.NoError(t, err)
		assert.NotEqual(t, empty, populated)
	})
}

func TestEnvelopeClone(t *testing.T) {
	env, err := NewEnvelope("sess-1", ToolEdit, "patch", "Edit main.go",
		map[string]interface{}{
			"path":  "main.go",
			"edits": []interface{}{map[string]interface{}{"old": "a", "new": "b"}},
		},
		map[string]interface{}{"path": "main.go"})
	require.NoError(t, err)

	cp := env.Clone()
	require.NotNil(t, cp)

	// Mutating the clone must not leak into the original.
	cp.Detail["path"] = "other.go"
	cp.OriginalArgs["edits"].([]interface{})[0].(map[string]interface{})["old"] = "z"

	assert.Equal(t, "main.go", env.Detail["path"])
	assert.Equal(t, "a", env.OriginalArgs["edits"].([]interface{})[0].(map[string]interface{})["old"])

	var nilEnv *Envelope
	assert.Nil(t, nilEnv.Clone())
}
