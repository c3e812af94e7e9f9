// Package policy decides whether a preview may be approved automatically.
//
// Decisions come from per-session preferences: a skip-all switch that
// approves everything for a session, and an ordered list of auto-approval
// rules evaluated first-match-wins. The engine only ever widens what is
// auto-approved; it never blocks anything, and any malformed or unreadable
// preference degrades to "no policy" so manual review remains the default.
package policy

import (
	"encoding/json"

	"github.com/promptdeck/agentgate/pkg/preview"
)

// RuleKind discriminates the rule union.
type RuleKind string

const (
	// RuleTool matches a tool family, optionally restricted to actions.
	RuleTool RuleKind = "tool"
	// RulePath matches a substring of the preview's path detail.
	RulePath RuleKind = "path"
	// RuleTerminal matches a substring of a proposed shell command.
	RuleTerminal RuleKind = "terminal"
	// RuleExpr evaluates a CEL predicate over the preview.
	RuleExpr RuleKind = "expr"
)

// Rule is one entry in the ordered auto-approval list. Kind selects which
// of the remaining fields are meaningful.
type Rule struct {
	Kind RuleKind `json:"kind"`

	// Tool names the tool family for RuleTool, and optionally narrows
	// RulePath to one family.
	Tool preview.Tool `json:"tool,omitempty"`

	// Actions narrows RuleTool to specific verbs. Empty means any action.
	Actions []string `json:"actions,omitempty"`

	// PathPattern is the substring a path must contain for RulePath.
	PathPattern string `json:"path_pattern,omitempty"`

	// CommandIncludes is the substring a command must contain for
	// RuleTerminal.
	CommandIncludes string `json:"command_includes,omitempty"`

	// Expr is the CEL source for RuleExpr. The predicate sees tool,
	// action, session as strings and args, detail as maps.
	Expr string `json:"expr,omitempty"`
}

// DecodeRules parses a stored rule list. The input must be a JSON array;
// anything else yields nil. Entries that are not objects, or that name no
// recognizable rule shape, are skipped rather than failing the whole list.
//
// Older clients stored rules without a kind discriminator and with
// camelCase keys; both forms are still accepted.
func DecodeRules(raw []byte) []Rule {
	if len(raw) == 0 {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	rules := make([]Rule, 0, len(entries))
	for _, entry := range entries {
		var obj map[string]interface{}
		if err := json.Unmarshal(entry, &obj); err != nil {
			continue
		}
		if r, ok := decodeRule(obj); ok {
			rules = append(rules, r)
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return rules
}

// EncodeRules serializes a rule list for preference storage.
func EncodeRules(rules []Rule) ([]byte, error) {
	if rules == nil {
		rules = []Rule{}
	}
	return json.Marshal(rules)
}

func decodeRule(obj map[string]interface{}) (Rule, bool) {
	r := Rule{
		Kind:            RuleKind(stringField(obj, "kind")),
		Tool:            preview.Tool(stringField(obj, "tool")),
		PathPattern:     stringField(obj, "path_pattern", "pathPattern"),
		CommandIncludes: stringField(obj, "command_includes", "commandIncludes", "terminalCommandIncludes"),
		Expr:            stringField(obj, "expr"),
	}

	if list, ok := obj["actions"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				r.Actions = append(r.Actions, s)
			}
		}
	}
	// Legacy singular form.
	if s := stringField(obj, "action"); s != "" && len(r.Actions) == 0 {
		r.Actions = []string{s}
	}

	if r.Kind == "" {
		switch {
		case r.CommandIncludes != "":
			r.Kind = RuleTerminal
		case r.PathPattern != "":
			r.Kind = RulePath
		case r.Expr != "":
			r.Kind = RuleExpr
		case r.Tool != "":
			r.Kind = RuleTool
		default:
			return Rule{}, false
		}
	}

	switch r.Kind {
	case RuleTool:
		if !r.Tool.Valid() {
			return Rule{}, false
		}
	case RulePath:
		if r.PathPattern == "" {
			return Rule{}, false
		}
		if r.Tool != "" && !r.Tool.Valid() {
			return Rule{}, false
		}
	case RuleTerminal:
		if r.CommandIncludes == "" {
			return Rule{}, false
		}
	case RuleExpr:
		if r.Expr == "" {
			return Rule{}, false
		}
	default:
		return Rule{}, false
	}

	return r, true
}

func stringField(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
