package session

import "strings"

// missingToolResult stands in for a result the log never recorded, usually
// after a crash between tool execution and persistence.
const missingToolResult = "Tool result was not recorded. Treat this call as failed."

// RepairMessages makes a rebuilt transcript legal for providers that
// validate tool_use/tool_result pairing: results with no matching call are
// dropped, and calls with no result get a synthesized error result. Calls
// still awaiting an approval decision are left open.
func RepairMessages(msgs []Message, pending []PendingToolCall) []Message {
	pendingSet := make(map[string]bool, len(pending))
	for _, pc := range pending {
		pendingSet[pc.CallID] = true
	}

	out := make([]Message, 0, len(msgs))
	open := make(map[string]bool)
	var openOrder []string

	// flush synthesizes results for calls left unanswered before the
	// conversation moved on.
	flush := func() {
		for _, id := range openOrder {
			if open[id] && !pendingSet[id] {
				out = append(out, ToolResultMessage(id, missingToolResult, true))
				delete(open, id)
			}
		}
		openOrder = openOrder[:0]
	}

	for _, m := range msgs {
		switch m.Type {
		case MessageToolResult:
			if !open[m.CallID] {
				continue
			}
			delete(open, m.CallID)
			out = append(out, m)
		case MessageAssistant:
			flush()
			if m.Content == "" && strings.TrimSpace(m.Reasoning) == "" && len(m.ToolCalls) == 0 {
				continue
			}
			out = append(out, m)
			for _, tc := range m.ToolCalls {
				open[tc.CallID] = true
				openOrder = append(openOrder, tc.CallID)
			}
		default:
			flush()
			out = append(out, m)
		}
	}
	flush()
	return out
}
