package chat

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// PartType discriminates the payload carried by a Part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one piece of message content: plain text, a tool call descriptor
// or a tool result descriptor.
type Part struct {
	Type       PartType       `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
}

// Message is a single entry of the conversation history. Messages are
// immutable once appended to a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewTextMessage builds a plain text message for the given role.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:  role,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

// NewToolCallMessage records the assistant's decision to invoke a tool.
func NewToolCallMessage(toolCallID, toolName string, args map[string]any) Message {
	return Message{
		Role: RoleAssistant,
		Parts: []Part{{
			Type:       PartToolCall,
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Args:       args,
		}},
	}
}

// NewToolResultMessage records the outcome handed back for a tool call.
func NewToolResultMessage(toolCallID, toolName, result string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type:       PartToolResult,
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Result:     result,
		}},
	}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	if len(m.Parts) == 1 {
		return m.Parts[0].Text
	}
	var builder strings.Builder
	for _, part := range m.Parts {
		builder.WriteString(part.Text)
	}
	return builder.String()
}

// ToolCall returns the first tool-call part, if any.
func (m Message) ToolCall() (Part, bool) {
	return m.firstPart(PartToolCall)
}

// ToolResult returns the first tool-result part, if any.
func (m Message) ToolResult() (Part, bool) {
	return m.firstPart(PartToolResult)
}

func (m Message) firstPart(kind PartType) (Part, bool) {
	for _, part := range m.Parts {
		if part.Type == kind {
			return part, true
		}
	}
	return Part{}, false
}

// Clone returns a deep copy so callers never share part slices or argument maps.
func (m Message) Clone() Message {
	if m.Parts == nil {
		return m
	}
	parts := make([]Part, len(m.Parts))
	for i, part := range m.Parts {
		if part.Args != nil {
			args := make(map[string]any, len(part.Args))
			for k, v := range part.Args {
				args[k] = v
			}
			part.Args = args
		}
		parts[i] = part
	}
	m.Parts = parts
	return m
}
