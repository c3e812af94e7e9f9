// Package security gates side-effecting tool families behind explicit
// process-level grants. The gate runs at apply time, after a human or
// policy decision, so a stolen approval can never reach an executor the
// process was not granted.
package security

import (
	"os"
	"strconv"

	"github.com/promptdeck/agentgate/pkg/preview"
)

// Environment variables that grant effect classes. Unset means denied.
const (
	EnvFileWrite     = "AGENTGATE_ENABLE_FILE_WRITE"
	EnvCodeExecution = "AGENTGATE_ENABLE_CODE_EXECUTION"
)

// Stable block reasons surfaced to callers and audit trails.
const (
	ReasonFileWriteDisabled     = "FILE_WRITE_DISABLED"
	ReasonCodeExecutionDisabled = "CODE_EXECUTION_DISABLED"
)

// Capabilities is a snapshot of the effect grants the process holds.
// The zero value denies everything.
type Capabilities struct {
	// FileWrite permits the file and edit tool families.
	FileWrite bool

	// CodeExecution permits the terminal tool family.
	CodeExecution bool
}

// FromEnv reads the grant variables. Anything that does not parse as a
// boolean counts as false.
func FromEnv() Capabilities {
	return Capabilities{
		FileWrite:     envBool(EnvFileWrite),
		CodeExecution: envBool(EnvCodeExecution),
	}
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

// Gate checks tool families against the capability snapshot.
type Gate struct {
	caps Capabilities
}

// NewGate builds a gate over a fixed capability snapshot. Grants are read
// once at startup; changing them requires a restart.
func NewGate(caps Capabilities) *Gate {
	return &Gate{caps: caps}
}

// Check reports whether the tool family may execute. When it may not, the
// returned reason is one of the stable block reason constants.
//
// Read-only families (search, context) always pass.
func (g *Gate) Check(tool preview.Tool) (reason string, ok bool) {
	switch tool {
	case preview.ToolFile, preview.ToolEdit:
		if !g.caps.FileWrite {
			return ReasonFileWriteDisabled, false
		}
	case preview.ToolTerminal:
		if !g.caps.CodeExecution {
			return ReasonCodeExecutionDisabled, false
		}
	}
	return "", true
}
