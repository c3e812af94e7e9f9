package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdeck/agentgate/pkg/api"
	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/export"
	"github.com/promptdeck/agentgate/pkg/preview"
	"github.com/promptdeck/agentgate/pkg/store"
)

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"agentgated", "help"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "USAGE:")
	assert.Contains(t, stdout.String(), "export")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"agentgated", "frobnicate"}, &stdout, &stderr)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "Unknown command")
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("AGENTGATE_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("AGENTGATE_TOKEN_TTL", "1h")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"agentgated", "token", "--surface", "settings"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	token := strings.TrimSpace(stdout.String())
	require.NotEmpty(t, token)

	issuer, err := api.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "settings", claims.Subject)
}

func TestTokenCmd_NoSecret(t *testing.T) {
	t.Setenv("AGENTGATE_SECRET", "")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"agentgated", "token"}, &stdout, &stderr)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "AGENTGATE_SECRET")
}

func TestExportCmd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agentgate.db")
	t.Setenv("AGENTGATE_DB", dbPath)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("EXPORT_SINK", "")

	seedApproval(t, dbPath)

	outDir := filepath.Join(dir, "bundles")
	var stdout, stderr bytes.Buffer
	code := Run([]string{"agentgated", "export", "--out", outDir, "--json"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var result struct {
		Location string `json:"location"`
		Checksum string `json:"checksum"`
		Format   string `json:"format"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, export.FormatVersion, result.Format)
	assert.Len(t, result.Checksum, 64)

	data, err := os.ReadFile(result.Location)
	require.NoError(t, err)

	manifest, err := export.VerifyBundle(data)
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.RowCount)
}

func TestExportCmd_BadWindow(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"agentgated", "export", "--since", "yesterday"}, &stdout, &stderr)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--since")
}

func seedApproval(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close()

	env, err := preview.NewEnvelope("sess-1", preview.ToolFile, "write", "Write a.txt",
		map[string]interface{}{"path": "a.txt"}, nil)
	require.NoError(t, err)
	require.NoError(t, st.InsertPreview(ctx, env))
	require.NoError(t, st.InsertApproval(ctx, &approvals.Approval{
		ID:        env.ID,
		SessionID: "sess-1",
		Status:    approvals.StatusPending,
		CreatedAt: time.Now().UTC(),
	}))
}
