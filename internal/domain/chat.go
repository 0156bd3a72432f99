package domain

// Chat roles shared by stored messages and provider requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic shape sent to the reply generator.
// It has no timestamp and is never persisted.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
