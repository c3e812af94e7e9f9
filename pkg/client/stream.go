package client

import "strings"

// StreamState is the renderer's view of whether a preview's content is
// still being produced.
type StreamState string

const (
	StreamPending StreamState = "pending"
	StreamRunning StreamState = "running"
	StreamReady   StreamState = "ready"
	StreamFailed  StreamState = "failed"
)

// ApproveEnabled reports whether the approve affordance is active.
// Only fully-produced content may be approved.
func (s StreamState) ApproveEnabled() bool {
	return s == StreamReady
}

// RejectEnabled reports whether the reject affordance is active.
// Rejection is allowed in every state: a reviewer can always say no.
func (s StreamState) RejectEnabled() bool {
	return true
}

// CancelEnabled reports whether the cancel affordance is active.
// Cancellation is allowed in every state.
func (s StreamState) CancelEnabled() bool {
	return true
}

// DeriveStreamState decodes a preview's detail payload into a stream
// state. Producers have emitted several generations of shape, so the
// decoder tries them in a fixed order:
//
//  1. an explicit state string,
//  2. boolean streaming / in-progress flags,
//  3. an open terminal session without a recorded exit code,
//
// and anything unrecognized, including legacy payloads with none of the
// markers, reads as ready so old previews stay approvable.
func DeriveStreamState(detail map[string]interface{}) StreamState {
	if len(detail) == 0 {
		return StreamReady
	}

	if s, ok := detailString(detail, "state", "stream_state", "streamState"); ok {
		switch strings.ToLower(s) {
		case "pending", "queued":
			return StreamPending
		case "running", "streaming", "in_progress":
			return StreamRunning
		case "ready", "complete", "done":
			return StreamReady
		case "failed", "error":
			return StreamFailed
		}
		return StreamReady
	}

	if b, ok := detailBool(detail, "streaming", "in_progress", "inProgress"); ok {
		if b {
			return StreamRunning
		}
		return StreamReady
	}

	if _, open := detailString(detail, "terminal_session_id", "terminalSessionId"); open {
		code, done := detailNumber(detail, "exit_code", "exitCode")
		if !done {
			return StreamRunning
		}
		if code == 0 {
			return StreamReady
		}
		return StreamFailed
	}

	return StreamReady
}

func detailString(detail map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := detail[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func detailBool(detail map[string]interface{}, keys ...string) (bool, bool) {
	for _, k := range keys {
		if b, ok := detail[k].(bool); ok {
			return b, true
		}
	}
	return false, false
}

// detailNumber tolerates both json.Unmarshal's float64 and the ints
// produced by in-process callers.
func detailNumber(detail map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := detail[k].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	}
	return 0, false
}
