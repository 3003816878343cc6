package replay

import "strings"

// Kind tags a record's content variant for downstream formatting. The
// classification is a pure text inspection; it never feeds back into the
// hub's delivery path.
type Kind int

const (
	KindChat Kind = iota
	KindThinking
	KindToolCall
	KindToolResponse
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindThinking:
		return "thinking"
	case KindToolCall:
		return "tool-call"
	case KindToolResponse:
		return "tool-response"
	case KindSystem:
		return "system"
	default:
		return "chat"
	}
}

// Summarize counts records per kind, for a loader-time breakdown of what
// a log contains.
func Summarize(records []Record) map[Kind]int {
	counts := make(map[Kind]int)
	for _, rec := range records {
		counts[Classify(rec)]++
	}
	return counts
}

// Classify tags one record by its role field first and its content
// markers second. Plain speech falls through to KindChat.
func Classify(rec Record) Kind {
	switch strings.ToLower(rec.Role) {
	case "system":
		return KindSystem
	case "tool":
		return KindToolResponse
	}
	if len(rec.ToolCalls) > 0 && string(rec.ToolCalls) != "null" {
		return KindToolCall
	}
	return classifyContent(rec.Content)
}

func classifyContent(content string) Kind {
	trimmed := strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(trimmed, "[system]"):
		return KindSystem
	case strings.HasPrefix(trimmed, "<thinking>") || strings.HasPrefix(trimmed, "[thinking]"):
		return KindThinking
	case strings.HasPrefix(trimmed, "[tool_call") || strings.HasPrefix(trimmed, "Tool call:"):
		return KindToolCall
	case strings.HasPrefix(trimmed, "[tool_response") || strings.HasPrefix(trimmed, "Tool response:"):
		return KindToolResponse
	default:
		return KindChat
	}
}
