// Package preview defines the immutable preview envelope: a structured
// description of a tool action an agent wants to perform, captured before
// the action runs so a human (or an auto-approval rule) can decide on it.
//
// Envelopes are content-addressed. The fingerprint covers the semantic
// fields only (tool, action, arguments, detail), never the identity or
// timestamp fields, so two proposals of the same action hash identically
// across sessions and processes.
package preview

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/agentgate/pkg/canonicalize"
)

// Tool identifies the executor family a preview targets.
type Tool string

const (
	// ToolFile writes or creates files.
	ToolFile Tool = "file"
	// ToolEdit applies targeted edits to existing files.
	ToolEdit Tool = "edit"
	// ToolTerminal runs shell commands.
	ToolTerminal Tool = "terminal"
	// ToolSearch performs read-only workspace searches.
	ToolSearch Tool = "search"
	// ToolContext reads files or other context into the agent.
	ToolContext Tool = "context"
)

// ParseTool validates a wire-format tool name.
func ParseTool(s string) (Tool, error) {
	t := Tool(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tool %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known tool families.
func (t Tool) Valid() bool {
	switch t {
	case ToolFile, ToolEdit, ToolTerminal, ToolSearch, ToolContext:
		return true
	}
	return false
}

// Mutating reports whether the tool family has side effects outside the
// agent's own context. Search and context reads are the only passive
// families.
func (t Tool) Mutating() bool {
	switch t {
	case ToolFile, ToolEdit, ToolTerminal:
		return true
	}
	return false
}

// Envelope is a single proposed tool action awaiting a decision.
//
// Envelopes are immutable once recorded; approved-time modifications
// (for example an edited file body) travel as apply-time argument
// overrides, never as changes to the stored envelope.
type Envelope struct {
	// ID uniquely identifies the preview and its paired approval record.
	ID string `json:"id"`

	// SessionID scopes the preview to one agent conversation.
	SessionID string `json:"session_id"`

	// ToolExecutionID links back to the originating execution journal
	// entry when the proposing runtime supplies one.
	ToolExecutionID string `json:"tool_execution_id,omitempty"`

	// Tool is the executor family this action targets.
	Tool Tool `json:"tool"`

	// Action is the tool-specific verb, e.g. "write" or "run".
	Action string `json:"action"`

	// Summary is a one-line human-readable description for list views.
	Summary string `json:"summary"`

	// Detail carries tool-specific presentation data: file paths, diffs,
	// command strings, streaming-state markers.
	Detail map[string]interface{} `json:"detail,omitempty"`

	// OriginalArgs are the exact arguments the agent proposed. Apply
	// merges caller overrides on top of these.
	OriginalArgs map[string]interface{} `json:"original_args"`

	// CreatedAt is when the preview was minted, UTC.
	CreatedAt time.Time `json:"created_at"`

	// Hash is the content fingerprint ("sha256:" + hex digest) over the
	// semantic fields.
	Hash string `json:"hash"`
}

// NewEnvelope mints a preview with a fresh ID, a UTC timestamp, and a
// content fingerprint. The tool name must be one of the known families.
func NewEnvelope(sessionID string, tool Tool, action, summary string, args, detail map[string]interface{}) (*Envelope, error) {
	if !tool.Valid() {
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	hash, err := Fingerprint(tool, action, args, detail)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		Tool:         tool,
		Action:       action,
		Summary:      summary,
		Detail:       detail,
		OriginalArgs: args,
		CreatedAt:    time.Now().UTC(),
		Hash:         hash,
	}, nil
}

// Fingerprint computes the content hash of a proposed action: the RFC 8785
// canonical JSON of {tool, action, args, detail} with all strings NFC
// normalized, digested with SHA-256.
//
// Key order and Unicode composition of the inputs never affect the result.
func Fingerprint(tool Tool, action string, args, detail map[string]interface{}) (string, error) {
	payload := map[string]interface{}{
		"tool":   string(tool),
		"action": action,
		"args":   args,
		"detail": detail,
	}

	digest, err := canonicalize.CanonicalHash(canonicalize.NormalizeNFC(payload))
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return "sha256:" + digest, nil
}

// Clone returns a deep copy of the envelope. Detail and OriginalArgs maps
// are copied one level deep plus nested maps and slices, which covers
// decoded JSON payloads.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e
	out.Detail = cloneMap(e.Detail)
	out.OriginalArgs = cloneMap(e.OriginalArgs)
	return &out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
