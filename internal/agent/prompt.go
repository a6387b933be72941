package agent

import (
	"fmt"
	"strings"
)

// promptSections assembles the system prompt in a fixed order: base
// persona, skills, group-chat policy, retrieved memories, bridge context
// from a rotated session, then the trigger prompt last.
type promptSections struct {
	Base     string
	Skills   string
	IsGroup  bool
	BotName  string
	Memories string
	Bridge   string
	Trigger  string
}

func buildSystemPrompt(p promptSections) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(p.Base)
	add(p.Skills)
	if p.IsGroup {
		add(groupPolicy(p.BotName))
	}
	add(p.Memories)
	if p.Bridge != "" {
		add("## Previous Session Context\n\n" + p.Bridge)
	}
	if p.Trigger != "" {
		add("## Trigger\n\n" + p.Trigger)
	}
	return strings.Join(parts, "\n\n")
}

func groupPolicy(botName string) string {
	var b strings.Builder
	b.WriteString("## Group Chat\n\n")
	b.WriteString("You are in a multi-party conversation. Reply only when you are addressed or can clearly help. ")
	b.WriteString("To stay silent, respond with exactly NO_REPLY and nothing else.")
	if botName != "" {
		fmt.Fprintf(&b, " You are %q; always respond when mentioned by name.", botName)
	}
	return b.String()
}
