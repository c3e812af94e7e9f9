package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attributes for the approval domain.
var (
	AttrSessionID  = attribute.Key("agentgate.session.id")
	AttrApprovalID = attribute.Key("agentgate.approval.id")
	AttrTool       = attribute.Key("agentgate.tool")
	AttrAction     = attribute.Key("agentgate.action")

	AttrStatus      = attribute.Key("agentgate.approval.status")
	AttrResolvedBy  = attribute.Key("agentgate.approval.resolved_by")
	AttrBlockReason = attribute.Key("agentgate.apply.block_reason")
	AttrOutcome     = attribute.Key("agentgate.apply.outcome")
)

// ApprovalOperation creates attributes for approval lifecycle spans.
func ApprovalOperation(sessionID, approvalID, tool, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrApprovalID.String(approvalID),
		AttrTool.String(tool),
		AttrAction.String(action),
	}
}

// DecisionAttrs creates attributes for a resolution.
func DecisionAttrs(status, resolvedBy string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStatus.String(status),
		AttrResolvedBy.String(resolvedBy),
	}
}
