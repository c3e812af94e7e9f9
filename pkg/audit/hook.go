package audit

import (
	"context"
	"sort"

	"github.com/promptdeck/agentgate/pkg/preview"
	"github.com/promptdeck/agentgate/pkg/tools"
)

// ExecutionHook adapts a Logger into the executor registry's callback,
// so every committed tool invocation leaves a trail, including the ones
// that fail.
//
// Argument values never reach the log: they can carry whole file
// contents. Only the key names and the commit marker are recorded.
func ExecutionHook(log Logger) tools.ExecuteHook {
	return func(ctx context.Context, tool preview.Tool, args map[string]interface{}, _ interface{}, err error) {
		meta := map[string]interface{}{
			"arg_keys":  argKeys(args),
			"committed": args[tools.CommitKey] == true,
		}
		outcome := "succeeded"
		if err != nil {
			outcome = "failed"
			meta["error"] = err.Error()
		}

		session, _ := args["session_id"].(string)
		_ = log.Record(ctx, EventExecution, session, "executor", outcome, "tool:"+string(tool), meta)
	}
}

func argKeys(args map[string]interface{}) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		if k == tools.CommitKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
