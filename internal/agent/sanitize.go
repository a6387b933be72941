package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeAssistantContent cleans assistant text before it is saved and
// delivered: reasoning tags some models leak into content, echoed system
// blocks, duplicated paragraphs, leading blank lines.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}
	original := content

	content = stripThinkingTags(content)
	content = stripEchoedSystemMessages(content)
	content = collapseConsecutiveDuplicateBlocks(content)
	content = leadingBlankLinesPattern.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized assistant content",
			"original_len", len(original),
			"cleaned_len", len(content),
		)
	}
	return content
}

// Go regexp has no backreferences, so each tag gets its own pattern.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	result := content
	for _, pat := range thinkingTagPatterns {
		result = pat.ReplaceAllString(result, "")
	}
	return strings.TrimSpace(result)
}

// stripEchoedSystemMessages removes "[System Message] ..." blocks that
// models sometimes echo back as response text. Line-based scanning; Go
// regexp has no lookahead.
func stripEchoedSystemMessages(content string) string {
	if !strings.Contains(content, "[System Message]") {
		return content
	}

	lines := strings.Split(content, "\n")
	var result []string
	skipping := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[System Message]") {
			skipping = true
			continue
		}
		if skipping {
			// Empty line ends the echoed block.
			if strings.TrimSpace(line) == "" {
				skipping = false
			}
			continue
		}
		result = append(result, line)
	}
	return strings.TrimSpace(strings.Join(result, "\n"))
}

func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}

	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

// silenceTokens are the literal responses that suppress group-chat
// delivery. Both spellings are accepted, case-sensitively.
var silenceTokens = []string{"∅", "NO_REPLY"}

// IsSilentReply reports whether text is a silence token: an exact match,
// the token followed by a non-word character, or the token at the end
// preceded by a non-word character.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, token := range silenceTokens {
		if trimmed == token {
			return true
		}
		if strings.HasPrefix(trimmed, token) {
			rest := trimmed[len(token):]
			if rest == "" || !isWordChar(rune(rest[0])) {
				return true
			}
		}
		if strings.HasSuffix(trimmed, token) {
			before := trimmed[:len(trimmed)-len(token)]
			if before == "" || !isWordChar(rune(before[len(before)-1])) {
				return true
			}
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

// MentionsBot reports whether the input text addresses the bot by name,
// case-insensitively. A direct mention overrides the silence token.
func MentionsBot(input, botName string) bool {
	if botName == "" || input == "" {
		return false
	}
	return strings.Contains(strings.ToLower(input), strings.ToLower(botName))
}
