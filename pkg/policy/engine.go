package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/promptdeck/agentgate/pkg/preview"
)

// Preference keys the engine reads. The skip-all switch is session-scoped.
// Rule lists are looked up for the session first, then fall back to the
// global list stored under the empty session.
const (
	KeySkipAll   = "approvals.skipAll"
	KeyAutoRules = "approvals.autoRules"
)

// ReasonSkipAll is the match reason when the session-wide switch fired.
const ReasonSkipAll = "skipAll"

// Match describes why a preview qualified for automatic approval.
type Match struct {
	// Reason is a stable audit string: "skipAll" or "rule:<kind>".
	Reason string `json:"reason"`

	// RuleIndex is the position of the matched rule in the list, -1 when
	// the skip-all switch fired.
	RuleIndex int `json:"rule_index"`

	// Rule is a copy of the matched rule, nil for skip-all.
	Rule *Rule `json:"rule,omitempty"`
}

// PreferenceSource reads stored preference values. The boolean reports
// whether the key was present at all.
type PreferenceSource interface {
	GetPreference(ctx context.Context, sessionID, key string) ([]byte, bool, error)
}

// PreferenceStore extends PreferenceSource with writes. Surfaces that
// manage rules and the skip-all switch depend on this.
type PreferenceStore interface {
	PreferenceSource
	SetPreference(ctx context.Context, sessionID, key string, value []byte) error
}

// Engine evaluates previews against stored auto-approval preferences.
type Engine struct {
	prefs  PreferenceSource
	exprs  *exprCache
	logger *slog.Logger
}

// NewEngine builds an engine over a preference source. Constructing the
// expression environment can fail, so rule lists that never use expr
// rules still pay for it up front rather than at evaluation time.
func NewEngine(prefs PreferenceSource, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	exprs, err := newExprCache()
	if err != nil {
		return nil, err
	}
	return &Engine{prefs: prefs, exprs: exprs, logger: logger}, nil
}

// Evaluate returns the first applicable match for a preview, or nil when
// manual review is required.
//
// Order: session skip-all switch, then the rule list first-match-wins.
// Evaluation never fails: unreadable or malformed preferences log a
// warning and behave as if no policy were configured.
func (e *Engine) Evaluate(ctx context.Context, pv *preview.Envelope) *Match {
	if pv == nil {
		return nil
	}

	if e.skipAll(ctx, pv.SessionID) {
		return &Match{Reason: ReasonSkipAll, RuleIndex: -1}
	}

	rules := e.sessionRules(ctx, pv.SessionID)
	for i := range rules {
		if e.ruleMatches(&rules[i], pv) {
			r := rules[i]
			return &Match{
				Reason:    "rule:" + string(r.Kind),
				RuleIndex: i,
				Rule:      &r,
			}
		}
	}
	return nil
}

func (e *Engine) skipAll(ctx context.Context, sessionID string) bool {
	raw, ok, err := e.prefs.GetPreference(ctx, sessionID, KeySkipAll)
	if err != nil {
		e.logger.Warn("preference read failed, treating as no policy",
			"key", KeySkipAll, "session_id", sessionID, "error", err)
		return false
	}
	if !ok {
		return false
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	// Legacy clients stored the bare string.
	return strings.TrimSpace(string(raw)) == "true"
}

func (e *Engine) sessionRules(ctx context.Context, sessionID string) []Rule {
	for _, scope := range []string{sessionID, ""} {
		raw, ok, err := e.prefs.GetPreference(ctx, scope, KeyAutoRules)
		if err != nil {
			e.logger.Warn("preference read failed, treating as no policy",
				"key", KeyAutoRules, "session_id", scope, "error", err)
			return nil
		}
		if !ok {
			continue
		}
		rules := DecodeRules(raw)
		if rules == nil {
			e.logger.Warn("malformed auto-approval rules, treating as no policy",
				"session_id", scope)
		}
		// A present key settles the lookup even when it decodes empty;
		// a session-scoped list deliberately shadows the global one.
		return rules
	}
	return nil
}

func (e *Engine) ruleMatches(r *Rule, pv *preview.Envelope) bool {
	switch r.Kind {
	case RuleTool:
		if r.Tool != pv.Tool {
			return false
		}
		if len(r.Actions) == 0 {
			return true
		}
		for _, a := range r.Actions {
			if a == pv.Action {
				return true
			}
		}
		return false

	case RulePath:
		if r.Tool != "" && r.Tool != pv.Tool {
			return false
		}
		path := detailString(pv, "path")
		return path != "" && strings.Contains(path, r.PathPattern)

	case RuleTerminal:
		if pv.Tool != preview.ToolTerminal {
			return false
		}
		cmd := detailString(pv, "command")
		if cmd == "" {
			// Older proposers abbreviated the key.
			cmd = detailString(pv, "cmd")
		}
		return cmd != "" && strings.Contains(cmd, r.CommandIncludes)

	case RuleExpr:
		ok, err := e.exprs.eval(pv, r.Expr)
		if err != nil {
			// A broken predicate falls back to manual review.
			e.logger.Warn("expr rule evaluation failed", "error", err)
			return false
		}
		return ok

	default:
		return false
	}
}

// detailString pulls a string field from the preview detail, falling back
// to the original arguments when the detail omits it.
func detailString(pv *preview.Envelope, key string) string {
	if s, ok := pv.Detail[key].(string); ok {
		return s
	}
	if s, ok := pv.OriginalArgs[key].(string); ok {
		return s
	}
	return ""
}
