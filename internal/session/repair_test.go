package session

import "testing"

func TestRepairMessagesDropsOrphanedResults(t *testing.T) {
	msgs := []Message{
		UserMessage("hi"),
		ToolResultMessage("ghost", "never asked for", false),
		{Type: MessageAssistant, Content: "hello"},
	}
	got := RepairMessages(msgs, nil)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(got), got)
	}
	for _, m := range got {
		if m.Type == MessageToolResult {
			t.Fatalf("orphaned result survived: %+v", m)
		}
	}
}

func TestRepairMessagesSynthesizesMissingResults(t *testing.T) {
	msgs := []Message{
		UserMessage("do it"),
		{Type: MessageAssistant, ToolCalls: []ToolCall{{CallID: "c1", Name: "echo"}}},
		UserMessage("still there?"),
	}
	got := RepairMessages(msgs, nil)
	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4: %+v", len(got), got)
	}
	synth := got[2]
	if synth.Type != MessageToolResult || synth.CallID != "c1" || !synth.IsError {
		t.Fatalf("synthesized result wrong: %+v", synth)
	}
	if got[3].Content != "still there?" {
		t.Fatalf("result not inserted before the next user message: %+v", got)
	}
}

func TestRepairMessagesLeavesPendingCallsOpen(t *testing.T) {
	msgs := []Message{
		UserMessage("wipe it"),
		{Type: MessageAssistant, ToolCalls: []ToolCall{{CallID: "c1", Name: "wipe"}}},
	}
	got := RepairMessages(msgs, []PendingToolCall{{CallID: "c1", Name: "wipe"}})
	if len(got) != 2 {
		t.Fatalf("pending call was answered: %+v", got)
	}
}

func TestRepairMessagesKeepsLegalTranscripts(t *testing.T) {
	msgs := []Message{
		UserMessage("do it"),
		{Type: MessageAssistant, ToolCalls: []ToolCall{{CallID: "c1", Name: "echo"}}},
		ToolResultMessage("c1", "done", false),
		{Type: MessageAssistant, Content: "all set"},
	}
	got := RepairMessages(msgs, nil)
	if len(got) != len(msgs) {
		t.Fatalf("legal transcript changed: %+v", got)
	}
	for i := range msgs {
		if got[i].Type != msgs[i].Type || got[i].Content != msgs[i].Content {
			t.Fatalf("message %d changed: %+v", i, got[i])
		}
	}
}

func TestRepairMessagesDropsEmptyAssistantMessages(t *testing.T) {
	msgs := []Message{
		UserMessage("hi"),
		{Type: MessageAssistant},
		{Type: MessageAssistant, Content: "hello"},
	}
	got := RepairMessages(msgs, nil)
	if len(got) != 2 {
		t.Fatalf("empty assistant message survived: %+v", got)
	}
}
