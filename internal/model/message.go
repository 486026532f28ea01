package model

// ChatMessage is the minimal chat transcript entry carried inside
// execution state. Node implementations append these to message slices;
// the sanitizer reduces them to {type, content, tool_calls} when taking
// debug snapshots.
type ChatMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ToolCalls []any  `json:"tool_calls,omitempty"`
}

// MessageType returns the type discriminator. The sanitizer detects
// message-like values through this accessor rather than by concrete type.
func (m ChatMessage) MessageType() string { return m.Type }
