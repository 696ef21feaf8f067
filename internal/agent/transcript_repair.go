package agent

import "github.com/haasonsaas/nexus-runtime/pkg/models"

// repairTranscript drops any tool message whose tool_call_id does not
// match a pending call from the most recent assistant message, preserving
// the invariant (§4.5, §4.7) that every tool message is preceded, within
// the same context, by an assistant message carrying a matching call.
// Orphaned tool messages (e.g. left over from a truncated compression
// prefix) are silently dropped rather than sent to the provider, which
// would otherwise reject the whole request.
func repairTranscript(history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}

	pending := make(map[string]struct{})
	repaired := make([]models.Message, 0, len(history))

	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			pending = make(map[string]struct{}, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				if call.ID != "" {
					pending[call.ID] = struct{}{}
				}
			}
			repaired = append(repaired, msg)
		case models.RoleTool:
			if _, ok := pending[msg.ToolCallID]; !ok {
				continue
			}
			delete(pending, msg.ToolCallID)
			repaired = append(repaired, msg)
		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}
