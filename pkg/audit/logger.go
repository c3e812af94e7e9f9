// Package audit emits a JSON-line trail of everything that crosses the
// approval boundary: previews arriving, decisions being made, and tools
// actually executing.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventPreview   EventType = "PREVIEW"
	EventDecision  EventType = "DECISION"
	EventExecution EventType = "EXECUTION"
	EventPolicy    EventType = "POLICY"
)

// Event represents a structured audit record.
type Event struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Actor     string                 `json:"actor"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, sessionID, actor, action, resource string, metadata map[string]interface{}) error
}

// logger implements Logger, writing structured JSON to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(_ context.Context, eventType EventType, sessionID, actor, action, resource string, metadata map[string]interface{}) error {
	if sessionID == "" {
		sessionID = "global"
	}
	if actor == "" {
		actor = "system"
	}

	event := Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Actor:     actor,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// NopLogger discards every record. Useful default for surfaces that do
// not audit.
type NopLogger struct{}

func (NopLogger) Record(context.Context, EventType, string, string, string, string, map[string]interface{}) error {
	return nil
}
